package mailer

import (
	"fmt"
	"strings"
)

// ValidationError lists the required send fields that were missing. No
// record is created when it is returned.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// DeliveryError wraps a provider failure. The email record it refers to has
// been marked failed.
type DeliveryError struct {
	EmailID  int64
	Provider string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s failed for email %d: %v", e.Provider, e.EmailID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Detail is the provider-supplied failure text.
func (e *DeliveryError) Detail() string {
	return e.Err.Error()
}
