// Package pop3 retrieves mail over POP3, in plain text or over TLS.  POP3 has no folders and no
// search, so the only mailbox is INBOX and the only criterion is ALL.
package pop3

import (
	"context"
	"fmt"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/criterion"
	"github.com/inbucket/mailvault/pkg/fetcher"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Criteria holds the tags POP3 supports.
var Criteria = criterion.NewSet(criterion.All)

// Fetcher speaks POP3 to one account.
type Fetcher struct {
	guard  fetcher.Guard
	useTLS bool
	dial   dialFunc
	client *client
	logger zerolog.Logger
}

var _ fetcher.Fetcher = &Fetcher{}

// New creates a Fetcher for a POP3 or POP3_SSL account.  No connection is made.
func New(acct *account.Account, _ fetcher.Options) (*Fetcher, error) {
	guard, err := fetcher.NewGuard(acct, Criteria, account.POP3, account.POP3TLS)
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		guard:  guard,
		useTLS: acct.Protocol == account.POP3TLS,
		dial:   dialConn,
		logger: log.With().Str("module", "fetcher").Str("proto", string(acct.Protocol)).
			Str("account", acct.ID).Logger(),
	}, nil
}

// Protocol implements fetcher.Fetcher.
func (f *Fetcher) Protocol() account.Protocol {
	return f.guard.Account.Protocol
}

// Criteria implements fetcher.Fetcher.
func (f *Fetcher) Criteria() criterion.Set {
	return Criteria
}

// Connect dials the server and authenticates with USER and PASS.
func (f *Fetcher) Connect(ctx context.Context) error {
	if f.client != nil {
		return nil
	}
	acct := f.guard.Account
	ctx, cancel := fetcher.WithTimeout(ctx, acct)
	defer cancel()

	conn, err := f.dial(ctx, acct, f.useTLS)
	if err != nil {
		return &fetcher.AccountError{Op: "connect", Err: err}
	}
	c, err := newClient(ctx, conn, acct.OperationTimeout())
	if err != nil {
		_ = conn.Close()
		return &fetcher.AccountError{Op: "connect", Err: err}
	}
	if err := c.login(ctx, acct.Address, acct.Password); err != nil {
		_ = c.quit()
		return &fetcher.AccountError{Op: "login", Err: err}
	}
	f.client = c
	f.logger.Debug().Msg("Connected")
	return nil
}

// Test issues a NOOP.  A given mailbox must be INBOX.
func (f *Fetcher) Test(ctx context.Context, mb *account.Mailbox) error {
	if err := f.guard.Mailbox(mb, true); err != nil {
		return err
	}
	if f.client == nil {
		return &fetcher.AccountError{Op: "test", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	if err := f.client.noop(ctx); err != nil {
		return &fetcher.AccountError{Op: "noop", Err: err}
	}
	if mb != nil && mb.Name != fetcher.InboxName {
		return &fetcher.MailboxError{Op: "test", Mailbox: mb.Name,
			Err: fmt.Errorf("POP3 only serves %s", fetcher.InboxName)}
	}
	return nil
}

// FetchMailboxes returns the single synthetic INBOX.
func (f *Fetcher) FetchMailboxes(context.Context) ([]string, error) {
	return []string{fetcher.InboxName}, nil
}

// FetchEmails lists the maildrop and retrieves every message.
func (f *Fetcher) FetchEmails(ctx context.Context, mb *account.Mailbox, c criterion.Criterion) (
	[][]byte, error) {
	if err := f.guard.Fetch(mb, c); err != nil {
		return nil, err
	}
	if f.client == nil {
		return nil, &fetcher.AccountError{Op: "fetch", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	entries, err := f.client.list(ctx)
	if err != nil {
		return nil, &fetcher.MailboxError{Op: "list", Mailbox: mb.Name, Err: err}
	}
	raws := make([][]byte, 0, len(entries))
	for _, e := range entries {
		raw, err := f.client.retr(ctx, e.num)
		if err != nil {
			return nil, &fetcher.MailboxError{Op: "retrieve", Mailbox: mb.Name, Err: err}
		}
		raws = append(raws, raw)
	}
	f.logger.Debug().Int("count", len(raws)).Msg("Retrieved maildrop")
	return raws, nil
}

// Restore is not possible over POP3.
func (f *Fetcher) Restore(_ context.Context, mb *account.Mailbox, _ []byte) error {
	if err := f.guard.Mailbox(mb, false); err != nil {
		return err
	}
	return fmt.Errorf("%w: POP3 cannot upload messages", fetcher.ErrNotSupported)
}

// Close sends QUIT.
func (f *Fetcher) Close() error {
	if f.client == nil {
		return nil
	}
	err := f.client.quit()
	f.client = nil
	if err != nil {
		return &fetcher.AccountError{Op: "quit", Err: err}
	}
	return nil
}
