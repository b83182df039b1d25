package store

import (
	"context"
	"fmt"

	"github.com/chunkmail/internal/model"
)

// AttachmentStore keeps attachment metadata only. The content column is a
// placeholder and always written empty.
type AttachmentStore struct {
	db *DB
}

func NewAttachmentStore(db *DB) *AttachmentStore {
	return &AttachmentStore{db: db}
}

func (s *AttachmentStore) Create(ctx context.Context, a *model.Attachment) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.db.rebind(`
		INSERT INTO attachments (email_id, filename, content, content_type)
		VALUES (?, ?, '', ?)
		RETURNING id`),
		a.EmailID, a.Filename, a.ContentType,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert attachment: %w", err)
	}
	a.ID = id
	return id, nil
}

func (s *AttachmentStore) ListByEmail(ctx context.Context, emailID int64) ([]model.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, s.db.rebind(`
		SELECT id, email_id, filename, content_type
		FROM attachments WHERE email_id = ? ORDER BY id`), emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attachments := []model.Attachment{}
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.EmailID, &a.Filename, &a.ContentType); err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

// DeleteByEmail removes every attachment row for an email and reports how
// many were removed.
func (s *AttachmentStore) DeleteByEmail(ctx context.Context, emailID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`DELETE FROM attachments WHERE email_id = ?`), emailID)
	if err != nil {
		return 0, fmt.Errorf("delete attachments: %w", err)
	}
	return res.RowsAffected()
}
