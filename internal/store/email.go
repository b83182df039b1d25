package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chunkmail/internal/model"
)

type EmailStore struct {
	db *DB
}

func NewEmailStore(db *DB) *EmailStore {
	return &EmailStore{db: db}
}

// Create inserts a new email in the pending state and returns its ID.
func (s *EmailStore) Create(ctx context.Context, e *model.Email) (int64, error) {
	recipients, err := json.Marshal(e.Recipients)
	if err != nil {
		return 0, fmt.Errorf("encode recipients: %w", err)
	}

	createdAt := time.Now().UTC()
	var id int64
	err = s.db.QueryRowContext(ctx, s.db.rebind(`
		INSERT INTO emails (sender, recipients, subject, body, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		e.Sender, string(recipients), e.Subject, e.Body, string(model.StatusPending), createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert email: %w", err)
	}

	e.ID = id
	e.Status = model.StatusPending
	e.CreatedAt = createdAt
	e.SentAt = nil
	return id, nil
}

func (s *EmailStore) GetByID(ctx context.Context, id int64) (*model.Email, error) {
	row := s.db.QueryRowContext(ctx, s.db.rebind(`
		SELECT id, sender, recipients, subject, body, status, created_at, sent_at
		FROM emails WHERE id = ?`), id)

	e, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListAll returns every email, most recent first.
func (s *EmailStore) ListAll(ctx context.Context) ([]model.Email, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, recipients, subject, body, status, created_at, sent_at
		FROM emails ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emails := []model.Email{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

// UpdateStatus moves a pending email into a terminal state. Records that are
// already terminal are left untouched and ErrInvalidTransition is returned.
func (s *EmailStore) UpdateStatus(ctx context.Context, id int64, status model.EmailStatus) error {
	if !status.Terminal() {
		return ErrInvalidTransition
	}

	var sentAt any
	if status == model.StatusSent {
		sentAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE emails SET status = ?, sent_at = ?
		WHERE id = ? AND status = ?`),
		string(status), sentAt, id, string(model.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("update email status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

func (s *EmailStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`DELETE FROM emails WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailStalePending marks emails still pending since before cutoff as failed.
// Such records belong to send attempts interrupted by a crash.
func (s *EmailStore) FailStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE emails SET status = ?
		WHERE status = ? AND created_at < ?`),
		string(model.StatusFailed), string(model.StatusPending), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale pending emails: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(row rowScanner) (*model.Email, error) {
	var (
		e          model.Email
		recipients string
		status     string
		sentAt     sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.Sender, &recipients, &e.Subject, &e.Body, &status, &e.CreatedAt, &sentAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(recipients), &e.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients of email %d: %w", e.ID, err)
	}
	e.Status = model.EmailStatus(status)
	if sentAt.Valid {
		t := sentAt.Time
		e.SentAt = &t
	}
	return &e, nil
}
