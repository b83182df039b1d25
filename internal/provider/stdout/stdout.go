// Package stdout implements a Provider that prints emails instead of sending
// them. It is the default in development.
package stdout

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chunkmail/internal/provider"
)

type Provider struct {
	writer io.Writer
}

func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a Provider that writes to w, used in tests.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints msg. It only fails if the writer does.
func (p *Provider) Send(_ context.Context, msg *provider.Message) error {
	var b strings.Builder

	b.WriteString("=== EMAIL WOULD BE SENT ===\n")
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")
	b.WriteString(msg.Text + "\n")

	if len(msg.Attachments) > 0 {
		names := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			size := base64.StdEncoding.DecodedLen(len(att.Content))
			names = append(names, fmt.Sprintf("%s (%s, %s)", att.Filename, att.Type, formatSize(size)))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(names, ", "))
	}

	b.WriteString("=== END EMAIL ===\n")

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("stdout: %w", err)
	}
	return nil
}

func (p *Provider) Name() string {
	return "stdout"
}

func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
