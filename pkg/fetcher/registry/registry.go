// Package registry selects the Fetcher implementation for an account's protocol.
package registry

import (
	"context"
	"fmt"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/criterion"
	"github.com/inbucket/mailvault/pkg/fetcher"
	"github.com/inbucket/mailvault/pkg/fetcher/ews"
	"github.com/inbucket/mailvault/pkg/fetcher/imap"
	"github.com/inbucket/mailvault/pkg/fetcher/jmap"
	"github.com/inbucket/mailvault/pkg/fetcher/pop3"
)

// Constructor builds an unconnected Fetcher.
type Constructor func(acct *account.Account, opts fetcher.Options) (fetcher.Fetcher, error)

// entry describes one protocol variant.
type entry struct {
	construct  Constructor
	criteria   criterion.Set
	canRestore bool
}

var protocols = map[account.Protocol]entry{
	account.IMAP:     {wrap(imap.New), imap.Criteria, true},
	account.IMAPTLS:  {wrap(imap.New), imap.Criteria, true},
	account.POP3:     {wrap(pop3.New), pop3.Criteria, false},
	account.POP3TLS:  {wrap(pop3.New), pop3.Criteria, false},
	account.Exchange: {wrap(ews.New), ews.Criteria, true},
	account.JMAP:     {wrap(jmap.New), jmap.Criteria, true},
}

// wrap adapts a constructor returning a concrete type.
func wrap[F fetcher.Fetcher](fn func(*account.Account, fetcher.Options) (F, error)) Constructor {
	return func(acct *account.Account, opts fetcher.Options) (fetcher.Fetcher, error) {
		f, err := fn(acct, opts)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// New builds the Fetcher for acct without connecting.
func New(acct *account.Account, opts fetcher.Options) (fetcher.Fetcher, error) {
	if acct == nil {
		return nil, &fetcher.AccountError{Op: "init", Err: fmt.Errorf("%w: no account",
			fetcher.ErrProtocolMismatch)}
	}
	e, ok := protocols[acct.Protocol]
	if !ok {
		return nil, &fetcher.AccountError{Op: "init",
			Err: fmt.Errorf("%w: unknown protocol %q", fetcher.ErrProtocolMismatch, acct.Protocol)}
	}
	return e.construct(acct, opts)
}

// Open builds and connects the Fetcher for acct.  The caller must Close it.
func Open(ctx context.Context, acct *account.Account, opts fetcher.Options) (fetcher.Fetcher,
	error) {
	f, err := New(acct, opts)
	if err != nil {
		return nil, err
	}
	if err := f.Connect(ctx); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// Criteria returns the tags supported by a protocol, or nil when it is unknown.
func Criteria(p account.Protocol) criterion.Set {
	return protocols[p].criteria
}

// CanRestore reports whether messages can be uploaded back over a protocol.
func CanRestore(p account.Protocol) bool {
	return protocols[p].canRestore
}

// Protocols lists the known protocols.
func Protocols() []account.Protocol {
	return []account.Protocol{
		account.IMAP, account.IMAPTLS, account.POP3, account.POP3TLS, account.Exchange,
		account.JMAP,
	}
}
