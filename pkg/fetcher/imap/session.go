package imap

import (
	"context"
	"crypto/tls"
	"net"
	"slices"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/inbucket/mailvault/pkg/account"
)

// flagRecent is set by the server on messages new to this session.
const flagRecent = goimap.Flag("\\Recent")

// session is the subset of an IMAP client connection used by the Fetcher.
type session interface {
	Login(ctx context.Context, user, pass string) error
	CanSort(ctx context.Context) (bool, error)
	Noop(ctx context.Context) error
	List(ctx context.Context) ([]string, error)
	Select(ctx context.Context, name string, readOnly bool) error
	Unselect(ctx context.Context) error
	Search(ctx context.Context, criteria *goimap.SearchCriteria) ([]goimap.UID, error)
	Sort(ctx context.Context, criteria *goimap.SearchCriteria) ([]goimap.UID, error)
	Fetch(ctx context.Context, uids []goimap.UID) ([][]byte, error)
	Recent(ctx context.Context, uids []goimap.UID) (map[goimap.UID]bool, error)
	Append(ctx context.Context, mailbox string, raw []byte) error
	Logout() error
}

// dialFunc opens a session to the account.
type dialFunc func(ctx context.Context, acct *account.Account, useTLS bool) (session, error)

// clientSession implements session on top of imapclient.  Mailbox names are transcoded to and
// from modified UTF-7 by imapclient.
type clientSession struct {
	conn    net.Conn
	client  *imapclient.Client
	timeout time.Duration
}

var _ session = &clientSession{}

func dialClient(ctx context.Context, acct *account.Account, useTLS bool) (session, error) {
	d := &net.Dialer{Timeout: acct.OperationTimeout()}
	conn, err := d.DialContext(ctx, "tcp", acct.Addr())
	if err != nil {
		return nil, err
	}
	if useTLS {
		tconn := tls.Client(conn, &tls.Config{
			ServerName:         acct.Host,
			InsecureSkipVerify: acct.AllowInsecure, // #nosec G402
		})
		if err := tconn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn = tconn
	}
	return &clientSession{
		conn:    conn,
		client:  imapclient.New(conn, nil),
		timeout: acct.OperationTimeout(),
	}, nil
}

// arm applies the context deadline to the connection for the duration of one command; the
// returned func clears it so the idle reader does not time out between commands.
func (s *clientSession) arm(ctx context.Context) func() {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.timeout)
	}
	_ = s.conn.SetDeadline(deadline)
	return func() { _ = s.conn.SetDeadline(time.Time{}) }
}

func (s *clientSession) Login(ctx context.Context, user, pass string) error {
	defer s.arm(ctx)()
	return s.client.Login(user, pass).Wait()
}

func (s *clientSession) CanSort(ctx context.Context) (bool, error) {
	defer s.arm(ctx)()
	caps, err := s.client.Capability().Wait()
	if err != nil {
		return false, err
	}
	return caps.Has(goimap.CapSort), nil
}

func (s *clientSession) Noop(ctx context.Context) error {
	defer s.arm(ctx)()
	return s.client.Noop().Wait()
}

func (s *clientSession) List(ctx context.Context) ([]string, error) {
	defer s.arm(ctx)()
	boxes, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(boxes))
	for _, b := range boxes {
		names = append(names, b.Mailbox)
	}
	return names, nil
}

func (s *clientSession) Select(ctx context.Context, name string, readOnly bool) error {
	defer s.arm(ctx)()
	_, err := s.client.Select(name, &goimap.SelectOptions{ReadOnly: readOnly}).Wait()
	return err
}

func (s *clientSession) Unselect(ctx context.Context) error {
	defer s.arm(ctx)()
	return s.client.Unselect().Wait()
}

func (s *clientSession) Search(ctx context.Context, criteria *goimap.SearchCriteria) (
	[]goimap.UID, error) {
	defer s.arm(ctx)()
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, err
	}
	return data.AllUIDs(), nil
}

func (s *clientSession) Sort(ctx context.Context, criteria *goimap.SearchCriteria) (
	[]goimap.UID, error) {
	defer s.arm(ctx)()
	nums, err := s.client.UIDSort(&imapclient.SortOptions{
		SearchCriteria: criteria,
		SortCriteria:   []imapclient.SortCriterion{{Key: imapclient.SortKeyDate}},
	}).Wait()
	if err != nil {
		return nil, err
	}
	uids := make([]goimap.UID, len(nums))
	for i, n := range nums {
		uids[i] = goimap.UID(n)
	}
	return uids, nil
}

// Fetch returns the full bodies of uids, in the order of uids.  Messages expunged between the
// search and the fetch are missing from the result.
func (s *clientSession) Fetch(ctx context.Context, uids []goimap.UID) ([][]byte, error) {
	defer s.arm(ctx)()
	section := &goimap.FetchItemBodySection{Peek: true}
	msgs, err := s.client.Fetch(goimap.UIDSetNum(uids...), &goimap.FetchOptions{
		UID:         true,
		BodySection: []*goimap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, err
	}
	byUID := make(map[goimap.UID][]byte, len(msgs))
	for _, m := range msgs {
		byUID[m.UID] = m.FindBodySection(section)
	}
	out := make([][]byte, 0, len(uids))
	for _, uid := range uids {
		if raw, ok := byUID[uid]; ok && raw != nil {
			out = append(out, raw)
		}
	}
	return out, nil
}

// Recent reports which of uids carry the \Recent flag.
func (s *clientSession) Recent(ctx context.Context, uids []goimap.UID) (map[goimap.UID]bool, error) {
	defer s.arm(ctx)()
	msgs, err := s.client.Fetch(goimap.UIDSetNum(uids...), &goimap.FetchOptions{
		UID:   true,
		Flags: true,
	}).Collect()
	if err != nil {
		return nil, err
	}
	recent := make(map[goimap.UID]bool, len(msgs))
	for _, m := range msgs {
		recent[m.UID] = slices.ContainsFunc(m.Flags, func(f goimap.Flag) bool {
			return strings.EqualFold(string(f), string(flagRecent))
		})
	}
	return recent, nil
}

func (s *clientSession) Append(ctx context.Context, mailbox string, raw []byte) error {
	defer s.arm(ctx)()
	cmd := s.client.Append(mailbox, int64(len(raw)), nil)
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return err
	}
	if err := cmd.Close(); err != nil {
		return err
	}
	_, err := cmd.Wait()
	return err
}

func (s *clientSession) Logout() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	release := s.arm(ctx)
	err := s.client.Logout().Wait()
	release()
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}
