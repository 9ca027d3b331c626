// Package fetcher defines the contract shared by all mail retrieval protocols, along with the
// error taxonomy and the argument guards every implementation runs before touching the network.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/criterion"
)

// DefaultBatchSize is the number of messages requested per IMAP FETCH command.
const DefaultBatchSize = 100

// InboxName is the mailbox name used for protocols without folders.
const InboxName = "INBOX"

// Fetcher retrieves messages from one account over one live connection.  A Fetcher is not safe
// for concurrent use; callers must Close it on every exit path.
type Fetcher interface {
	// Protocol returns the protocol the fetcher speaks.
	Protocol() account.Protocol
	// Criteria returns the criterion tags the fetcher can translate.
	Criteria() criterion.Set
	// Connect opens the connection and authenticates.
	Connect(ctx context.Context) error
	// Test checks the account, and the mailbox when mb is not nil.
	Test(ctx context.Context, mb *account.Mailbox) error
	// FetchMailboxes lists the names of the account's mail folders.
	FetchMailboxes(ctx context.Context) ([]string, error)
	// FetchEmails returns the raw bytes of every message in mb matching c.
	FetchEmails(ctx context.Context, mb *account.Mailbox, c criterion.Criterion) ([][]byte, error)
	// Restore uploads a previously archived message into mb.
	Restore(ctx context.Context, mb *account.Mailbox, raw []byte) error
	// Close releases the connection.  Close is safe to call more than once.
	Close() error
}

// Options tune fetcher construction.  The zero value is usable.
type Options struct {
	// BatchSize bounds the messages per FETCH command; zero means DefaultBatchSize.
	BatchSize int
	// HTTPClient is used by the HTTP based protocols; nil builds one from the account.
	HTTPClient *http.Client
	// Now returns the current time for time-window criteria; nil means time.Now.
	Now func() time.Time
}

// Batch returns the effective IMAP batch size.
func (o Options) Batch() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

// Clock returns the effective time source.
func (o Options) Clock() func() time.Time {
	if o.Now == nil {
		return time.Now
	}
	return o.Now
}

// Guard holds the checks performed before any network call.
type Guard struct {
	Account  *account.Account
	Criteria criterion.Set
}

// NewGuard verifies acct speaks one of protos and returns a Guard for it.  A mismatch is
// reported as an AccountError.
func NewGuard(acct *account.Account, criteria criterion.Set, protos ...account.Protocol) (Guard,
	error) {
	if acct == nil {
		return Guard{}, &AccountError{Op: "init", Err: fmt.Errorf("%w: no account", ErrProtocolMismatch)}
	}
	for _, p := range protos {
		if acct.Protocol == p {
			return Guard{Account: acct, Criteria: criteria}, nil
		}
	}
	return Guard{}, &AccountError{
		Op:  "init",
		Err: fmt.Errorf("%w: account %s uses %s, want %v", ErrProtocolMismatch, acct.ID, acct.Protocol, protos),
	}
}

// Mailbox rejects a mailbox owned by another account.  A nil mailbox is allowed when optional
// is true.
func (g Guard) Mailbox(mb *account.Mailbox, optional bool) error {
	if mb == nil {
		if optional {
			return nil
		}
		return fmt.Errorf("%w: no mailbox given", ErrForeignMailbox)
	}
	if !mb.BelongsTo(g.Account) {
		return fmt.Errorf("%w: %s is not part of %s", ErrForeignMailbox, mb, g.Account.ID)
	}
	return nil
}

// Criterion rejects invalid criteria and tags the protocol cannot translate.
func (g Guard) Criterion(c criterion.Criterion) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !g.Criteria.Has(c.Tag) {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedCriterion, c.Tag, g.Account.Protocol)
	}
	return nil
}

// Fetch runs both checks made before FetchEmails.
func (g Guard) Fetch(mb *account.Mailbox, c criterion.Criterion) error {
	if err := g.Mailbox(mb, false); err != nil {
		return err
	}
	return g.Criterion(c)
}

// WithTimeout bounds ctx by the account's per-operation timeout.
func WithTimeout(ctx context.Context, acct *account.Account) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, acct.OperationTimeout())
}
