// Package imap retrieves mail over IMAP4, in plain text or over TLS.
package imap

import (
	"context"
	"fmt"
	"time"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/criterion"
	"github.com/inbucket/mailvault/pkg/fetcher"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Criteria holds every tag IMAP can search for.
var Criteria = criterion.Everything()

// Fetcher speaks IMAP4 to one account.
type Fetcher struct {
	guard     fetcher.Guard
	useTLS    bool
	batchSize int
	now       func() time.Time
	dial      dialFunc
	sess      session
	canSort   bool
	logger    zerolog.Logger
}

var _ fetcher.Fetcher = &Fetcher{}

// New creates a Fetcher for an IMAP or IMAP_SSL account.  No connection is made.
func New(acct *account.Account, opts fetcher.Options) (*Fetcher, error) {
	guard, err := fetcher.NewGuard(acct, Criteria, account.IMAP, account.IMAPTLS)
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		guard:     guard,
		useTLS:    acct.Protocol == account.IMAPTLS,
		batchSize: opts.Batch(),
		now:       opts.Clock(),
		dial:      dialClient,
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

// Connect dials the server, logs in and checks for the SORT capability.
func (f *Fetcher) Connect(ctx context.Context) error {
	if f.sess != nil {
		return nil
	}
	acct := f.guard.Account
	ctx, cancel := fetcher.WithTimeout(ctx, acct)
	defer cancel()

	sess, err := f.dial(ctx, acct, f.useTLS)
	if err != nil {
		return &fetcher.AccountError{Op: "connect", Err: err}
	}
	if err := sess.Login(ctx, acct.Address, acct.Password); err != nil {
		_ = sess.Logout()
		return &fetcher.AccountError{Op: "login", Err: err}
	}
	canSort, err := sess.CanSort(ctx)
	if err != nil {
		_ = sess.Logout()
		return &fetcher.AccountError{Op: "capability", Err: err}
	}
	f.sess = sess
	f.canSort = canSort
	f.logger.Debug().Bool("sort", canSort).Msg("Connected")
	return nil
}

// Test issues a NOOP, and when mb is given selects it read-only.
func (f *Fetcher) Test(ctx context.Context, mb *account.Mailbox) error {
	if err := f.guard.Mailbox(mb, true); err != nil {
		return err
	}
	if f.sess == nil {
		return &fetcher.AccountError{Op: "test", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	if err := f.sess.Noop(ctx); err != nil {
		return &fetcher.AccountError{Op: "noop", Err: err}
	}
	if mb == nil {
		return nil
	}
	if err := f.sess.Select(ctx, mb.Name, true); err != nil {
		return &fetcher.MailboxError{Op: "select", Mailbox: mb.Name, Err: err}
	}
	f.unselect(ctx, mb.Name)
	return nil
}

// FetchMailboxes lists all folders of the account.
func (f *Fetcher) FetchMailboxes(ctx context.Context) ([]string, error) {
	if f.sess == nil {
		return nil, &fetcher.AccountError{Op: "list", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	names, err := f.sess.List(ctx)
	if err != nil {
		return nil, &fetcher.AccountError{Op: "list", Err: err}
	}
	return names, nil
}

// FetchEmails searches mb for c and downloads the matches in batches.  A batch that fails is
// logged and skipped; the remaining batches are still fetched.
func (f *Fetcher) FetchEmails(ctx context.Context, mb *account.Mailbox, c criterion.Criterion) (
	[][]byte, error) {
	if err := f.guard.Fetch(mb, c); err != nil {
		return nil, err
	}
	search, err := NewSearch(c, f.now())
	if err != nil {
		return nil, err
	}
	if f.sess == nil {
		return nil, &fetcher.AccountError{Op: "fetch", Err: fetcher.ErrNotConnected}
	}
	if search.Empty {
		return [][]byte{}, nil
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	if err := f.sess.Select(ctx, mb.Name, true); err != nil {
		return nil, &fetcher.MailboxError{Op: "select", Mailbox: mb.Name, Err: err}
	}
	defer f.unselect(ctx, mb.Name)

	var uids []goimap.UID
	if f.canSort {
		uids, err = f.sess.Sort(ctx, search.Criteria)
	} else {
		uids, err = f.sess.Search(ctx, search.Criteria)
	}
	if err != nil {
		return nil, &fetcher.MailboxError{Op: "search", Mailbox: mb.Name, Err: err}
	}
	if search.Recent != nil && len(uids) > 0 {
		recent, err := f.sess.Recent(ctx, uids)
		if err != nil {
			return nil, &fetcher.MailboxError{Op: "fetch flags", Mailbox: mb.Name, Err: err}
		}
		kept := make([]goimap.UID, 0, len(uids))
		for _, uid := range uids {
			if recent[uid] == *search.Recent {
				kept = append(kept, uid)
			}
		}
		uids = kept
	}

	logger := f.logger.With().Str("mailbox", mb.Name).Str("criterion", c.String()).Logger()
	logger.Debug().Int("count", len(uids)).Msg("Search complete")

	raws := make([][]byte, 0, len(uids))
	for start := 0; start < len(uids); start += f.batchSize {
		end := min(start+f.batchSize, len(uids))
		batch, err := f.sess.Fetch(ctx, uids[start:end])
		if err != nil {
			logger.Warn().Err(err).Int("from", start).Int("to", end).Msg("Skipping failed fetch batch")
			continue
		}
		raws = append(raws, batch...)
	}
	return raws, nil
}

// Restore appends raw to mb.
func (f *Fetcher) Restore(ctx context.Context, mb *account.Mailbox, raw []byte) error {
	if err := f.guard.Mailbox(mb, false); err != nil {
		return err
	}
	if f.sess == nil {
		return &fetcher.AccountError{Op: "restore", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	if err := f.sess.Append(ctx, mb.Name, raw); err != nil {
		return &fetcher.MailboxError{Op: "append", Mailbox: mb.Name, Err: err}
	}
	return nil
}

// Close logs out.
func (f *Fetcher) Close() error {
	if f.sess == nil {
		return nil
	}
	err := f.sess.Logout()
	f.sess = nil
	if err != nil {
		return &fetcher.AccountError{Op: "logout", Err: err}
	}
	return nil
}

func (f *Fetcher) unselect(ctx context.Context, name string) {
	if err := f.sess.Unselect(ctx); err != nil {
		f.logger.Debug().Err(err).Str("mailbox", name).Msg("Unselect failed")
	}
}

// Search is a criterion translated for IMAP: the SEARCH key sent to the server, plus the parts
// the key cannot carry.
type Search struct {
	Criteria *goimap.SearchCriteria

	// Recent, when set, keeps only the matches whose \Recent flag equals *Recent.  \Recent has
	// no search key the client can send, so it is read back with FETCH FLAGS.
	Recent *bool

	// Empty is set when no message can match; nothing is sent to the server.
	Empty bool
}

// NewSearch translates c into a Search.  Time windows are reduced to day granularity, the
// finest SINCE supports.
func NewSearch(c criterion.Criterion, now time.Time) (*Search, error) {
	sc := &goimap.SearchCriteria{}
	search := &Search{Criteria: sc}
	switch c.Tag {
	case criterion.All:
	case criterion.Seen:
		sc.Flag = []goimap.Flag{goimap.FlagSeen}
	case criterion.Unseen:
		sc.NotFlag = []goimap.Flag{goimap.FlagSeen}
	case criterion.Answered:
		sc.Flag = []goimap.Flag{goimap.FlagAnswered}
	case criterion.Unanswered:
		sc.NotFlag = []goimap.Flag{goimap.FlagAnswered}
	case criterion.Draft:
		sc.Flag = []goimap.Flag{goimap.FlagDraft}
	case criterion.Undraft:
		sc.NotFlag = []goimap.Flag{goimap.FlagDraft}
	case criterion.Flagged:
		sc.Flag = []goimap.Flag{goimap.FlagFlagged}
	case criterion.Unflagged:
		sc.NotFlag = []goimap.Flag{goimap.FlagFlagged}
	case criterion.Deleted:
		sc.Flag = []goimap.Flag{goimap.FlagDeleted}
	case criterion.Undeleted:
		sc.NotFlag = []goimap.Flag{goimap.FlagDeleted}
	case criterion.Recent:
		search.Recent = ptr(true)
	case criterion.New:
		sc.NotFlag = []goimap.Flag{goimap.FlagSeen}
		search.Recent = ptr(true)
	case criterion.Old:
		search.Recent = ptr(false)
	case criterion.Daily, criterion.Weekly, criterion.Monthly, criterion.Annually:
		cutoff, _ := c.Cutoff(now)
		sc.Since = truncateDay(cutoff)
	case criterion.SentSince:
		cutoff, ok := c.Cutoff(now)
		if !ok {
			return nil, fmt.Errorf("%w: %s", criterion.ErrBadArgument, c)
		}
		sc.SentSince = truncateDay(cutoff)
	case criterion.Keyword:
		sc.Flag = []goimap.Flag{goimap.Flag(c.Arg)}
	case criterion.Unkeyword:
		sc.NotFlag = []goimap.Flag{goimap.Flag(c.Arg)}
	case criterion.Larger, criterion.Smaller:
		n, err := c.Size()
		if err != nil {
			return nil, err
		}
		switch {
		case c.Tag == criterion.Larger:
			sc.Larger = n
		case n == 0:
			// SMALLER 0 matches nothing, and a zero Smaller is not encoded at all.
			search.Empty = true
		default:
			sc.Smaller = n
		}
	case criterion.Subject:
		sc.Header = []goimap.SearchCriteriaHeaderField{{Key: "Subject", Value: c.Arg}}
	case criterion.From:
		sc.Header = []goimap.SearchCriteriaHeaderField{{Key: "From", Value: c.Arg}}
	case criterion.Body:
		sc.Body = []string{c.Arg}
	default:
		return nil, fmt.Errorf("%w: %s", fetcher.ErrUnsupportedCriterion, c.Tag)
	}
	return search, nil
}

func ptr[T any](v T) *T {
	return &v
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
