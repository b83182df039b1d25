package model

import "time"

type EmailStatus string

const (
	StatusPending EmailStatus = "pending"
	StatusSent    EmailStatus = "sent"
	StatusFailed  EmailStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s EmailStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Email is the durable record of one send attempt.
type Email struct {
	ID         int64       `json:"id"`
	Sender     string      `json:"sender"`
	Recipients []string    `json:"recipients"`
	Subject    string      `json:"subject"`
	Body       string      `json:"body"`
	Status     EmailStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	SentAt     *time.Time  `json:"sentAt,omitempty"`
}

// Attachment holds metadata for a file sent with an email. The content
// itself is never persisted.
type Attachment struct {
	ID          int64  `json:"id"`
	EmailID     int64  `json:"emailId"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}
