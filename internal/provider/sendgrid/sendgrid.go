// Package sendgrid implements a Provider for the SendGrid v3 mail send API.
package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chunkmail/internal/provider"
)

const DefaultBaseURL = "https://api.sendgrid.com"

type Config struct {
	APIKey  string
	BaseURL string
}

type Provider struct {
	apiKey     string
	sendURL    string
	httpClient *http.Client
}

func New(cfg Config) *Provider {
	return NewWithClient(cfg, &http.Client{Timeout: 60 * time.Second})
}

// NewWithClient creates a Provider with a custom HTTP client, used for
// testing.
func NewWithClient(cfg Config, client *http.Client) *Provider {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Provider{
		apiKey:     cfg.APIKey,
		sendURL:    strings.TrimRight(base, "/") + "/v3/mail/send",
		httpClient: client,
	}
}

type address struct {
	Email string `json:"email"`
}

type personalization struct {
	To []address `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendRequest struct {
	Personalizations []personalization     `json:"personalizations"`
	From             address               `json:"from"`
	Subject          string                `json:"subject"`
	Content          []content             `json:"content"`
	Attachments      []provider.Attachment `json:"attachments,omitempty"`
}

type errorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func (p *Provider) Send(ctx context.Context, msg *provider.Message) error {
	body, err := json.Marshal(buildRequest(msg))
	if err != nil {
		return fmt.Errorf("sendgrid: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, errorDetail(resp.Body))
}

func (p *Provider) Name() string {
	return "sendgrid"
}

func buildRequest(msg *provider.Message) sendRequest {
	to := make([]address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, address{Email: addr})
	}

	contents := []content{{Type: "text/plain", Value: msg.Text}}
	if msg.HTML != "" {
		contents = append(contents, content{Type: "text/html", Value: msg.HTML})
	}

	return sendRequest{
		Personalizations: []personalization{{To: to}},
		From:             address{Email: msg.From},
		Subject:          msg.Subject,
		Content:          contents,
		Attachments:      msg.Attachments,
	}
}

// errorDetail extracts the messages from a SendGrid error body, falling
// back to the raw text.
func errorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "unreadable response body"
	}

	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			if e.Field != "" {
				msgs = append(msgs, e.Field+": "+e.Message)
			} else {
				msgs = append(msgs, e.Message)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return strings.TrimSpace(string(raw))
}
