// Package provider defines the contract for email delivery backends.
package provider

import (
	"context"
	"encoding/base64"
)

// DispositionAttachment is the only disposition the relay produces.
const DispositionAttachment = "attachment"

// Message is the composed email handed to a delivery backend.
type Message struct {
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	Text        string       `json:"text"`
	HTML        string       `json:"html"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment carries file content already base64 encoded.
type Attachment struct {
	Content     string `json:"content"`
	Filename    string `json:"filename"`
	Type        string `json:"type"`
	Disposition string `json:"disposition"`
}

// NewAttachment encodes data into an attachment descriptor.
func NewAttachment(filename, contentType string, data []byte) Attachment {
	return Attachment{
		Content:     base64.StdEncoding.EncodeToString(data),
		Filename:    filename,
		Type:        contentType,
		Disposition: DispositionAttachment,
	}
}

// Provider delivers composed messages. Send returns an error carrying the
// backend's detail when delivery is rejected or fails.
type Provider interface {
	Send(ctx context.Context, msg *Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}
