// Package mailer composes outbound emails, hands them to a delivery provider
// and records the outcome of each send attempt.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/chunkmail/internal/attachment"
	"github.com/chunkmail/internal/media"
	"github.com/chunkmail/internal/model"
	"github.com/chunkmail/internal/provider"
	"github.com/chunkmail/internal/upload"
)

type emailStore interface {
	Create(ctx context.Context, e *model.Email) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status model.EmailStatus) error
}

type attachmentStore interface {
	Create(ctx context.Context, a *model.Attachment) (int64, error)
	DeleteByEmail(ctx context.Context, emailID int64) (int64, error)
}

// Request describes one send attempt. Attachments are paths of artifact
// files; they are deleted once the attempt resolves, whatever the outcome.
type Request struct {
	Sender      string
	Recipients  []string
	Subject     string
	Body        string
	Attachments []string
}

type Pipeline struct {
	emails      emailStore
	attachments attachmentStore
	provider    provider.Provider
	logger      *slog.Logger
	stripImages bool
}

type Option func(*Pipeline)

// WithImageMetadataStripping re-encodes JPEG, PNG and GIF attachments so
// EXIF and similar metadata never reach the provider.
func WithImageMetadataStripping() Option {
	return func(p *Pipeline) { p.stripImages = true }
}

func New(emails emailStore, attachments attachmentStore, p provider.Provider, logger *slog.Logger, opts ...Option) *Pipeline {
	pl := &Pipeline{emails: emails, attachments: attachments, provider: p, logger: logger}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// Send validates req, records a pending email, delivers it and moves the
// record to sent or failed. It returns the record id whenever a record was
// created, including on delivery failure.
//
// Once the record exists the attempt runs to completion even if ctx is
// cancelled, so the record is never left pending by a client disconnect.
func (p *Pipeline) Send(ctx context.Context, req Request) (int64, error) {
	recipients := cleanRecipients(req.Recipients)
	if err := validate(req, recipients); err != nil {
		return 0, err
	}

	email := &model.Email{
		Sender:     strings.TrimSpace(req.Sender),
		Recipients: recipients,
		Subject:    req.Subject,
		Body:       req.Body,
	}
	id, err := p.emails.Create(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("create email record: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	defer p.cleanup(ctx, id, req.Attachments)

	msg := &provider.Message{
		From:    email.Sender,
		To:      recipients,
		Subject: email.Subject,
		Text:    email.Body,
		HTML:    email.Body,
	}

	for _, path := range req.Attachments {
		att, err := p.attach(ctx, id, path)
		if err != nil {
			p.markFailed(ctx, id)
			return id, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	if err := p.provider.Send(ctx, msg); err != nil {
		p.logger.Error("email delivery failed",
			"email_id", id,
			"provider", p.provider.Name(),
			"err", err,
		)
		p.markFailed(ctx, id)
		return id, &DeliveryError{EmailID: id, Provider: p.provider.Name(), Err: err}
	}

	if err := p.emails.UpdateStatus(ctx, id, model.StatusSent); err != nil {
		return id, fmt.Errorf("mark email %d sent: %w", id, err)
	}

	p.logger.Info("email sent",
		"email_id", id,
		"provider", p.provider.Name(),
		"recipients", len(recipients),
		"attachments", len(msg.Attachments),
	)
	return id, nil
}

// attach reads one artifact, records its metadata and returns the encoded
// descriptor for the outbound message.
func (p *Pipeline) attach(ctx context.Context, emailID int64, path string) (provider.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return provider.Attachment{}, &upload.StorageError{Op: "read", Path: path, Err: err}
	}

	name, contentType := attachment.Resolve(path)
	if p.stripImages && media.Strippable(contentType) {
		stripped, err := media.StripMetadata(data, contentType)
		if err != nil {
			// undecodable images go out as uploaded
			p.logger.Warn("strip image metadata failed", "email_id", emailID, "file", name, "err", err)
		} else {
			data = stripped
		}
	}

	if _, err := p.attachments.Create(ctx, &model.Attachment{
		EmailID:     emailID,
		Filename:    name,
		ContentType: contentType,
	}); err != nil {
		return provider.Attachment{}, fmt.Errorf("create attachment record: %w", err)
	}

	return provider.NewAttachment(name, contentType, data), nil
}

func (p *Pipeline) markFailed(ctx context.Context, id int64) {
	if err := p.emails.UpdateStatus(ctx, id, model.StatusFailed); err != nil {
		p.logger.Error("mark email failed", "email_id", id, "err", err)
	}
}

// cleanup never returns an error: failures here must not mask the outcome
// of the send attempt.
func (p *Pipeline) cleanup(ctx context.Context, emailID int64, paths []string) {
	for _, path := range paths {
		err := os.Remove(path)
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist):
			p.logger.Debug("artifact already removed", "email_id", emailID, "path", path)
		default:
			p.logger.Warn("artifact cleanup failed", "email_id", emailID, "path", path, "err", err)
		}
	}

	if _, err := p.attachments.DeleteByEmail(ctx, emailID); err != nil {
		p.logger.Warn("attachment record cleanup failed", "email_id", emailID, "err", err)
	}
}

func cleanRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func validate(req Request, recipients []string) error {
	var missing []string
	if strings.TrimSpace(req.Sender) == "" {
		missing = append(missing, "sender")
	}
	if len(recipients) == 0 {
		missing = append(missing, "recipients")
	}
	if strings.TrimSpace(req.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(req.Body) == "" {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}
