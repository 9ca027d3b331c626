package storage

import (
	"context"
	"errors"
	"time"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/message"
)

// ErrNoRecord indicates the record store has no email with the requested message id.
var ErrNoRecord = errors.New("email not recorded")

// Files lists the blob paths written for one email.  Empty paths were not saved.
type Files struct {
	Raw         string
	HTML        string
	Attachments []string // Parallel to Email.Attachments.
}

// Record is a stored email, as listed for export.
type Record struct {
	MessageID string
	Date      time.Time
	Subject   string
	RawPath   string
}

// Persister receives canonical emails.  It deduplicates on (message id, mailbox), and resolves
// In-Reply-To and References into links between emails of the same account.
type Persister interface {
	// Exists reports whether the mailbox already holds an email with messageID.
	Exists(ctx context.Context, mb *account.Mailbox, messageID string) (bool, error)
	// Store records the email with its blob paths.  It returns false if the email was already
	// present, which is not an error.
	Store(ctx context.Context, mb *account.Mailbox, email *message.Email, files Files) (bool, error)
	// Emails lists the emails of a mailbox in date order.
	Emails(ctx context.Context, mb *account.Mailbox) ([]Record, error)
	// RawPath returns the raw blob path of an email, ErrNoRecord if unknown.
	RawPath(ctx context.Context, mb *account.Mailbox, messageID string) (string, error)
}

// Health is the last known state of an account or mailbox.
type Health struct {
	Scope       string    `json:"scope"`
	Key         string    `json:"key"`
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"lastError,omitempty"`
	LastErrorAt time.Time `json:"lastErrorAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Health scopes.
const (
	ScopeAccount = "account"
	ScopeMailbox = "mailbox"
)

// HealthRecorder persists account and mailbox health after each cycle.
type HealthRecorder interface {
	ReportAccount(ctx context.Context, acct *account.Account, err error) error
	ReportMailbox(ctx context.Context, mb *account.Mailbox, err error) error
	Health(ctx context.Context) ([]Health, error)
}
