package imap

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/criterion"
	"github.com/inbucket/mailvault/pkg/fetcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession records the commands issued against it.
type fakeSession struct {
	calls      []string
	canSort    bool
	uids       []goimap.UID
	mailboxes  []string
	failFetch  map[int]bool // batch index -> fail
	failSelect error
	failLogin  error
	appended   map[string][][]byte
	fetchSizes []int
	searched   *goimap.SearchCriteria
	recent     map[goimap.UID]bool
}

func (s *fakeSession) record(call string) { s.calls = append(s.calls, call) }

func (s *fakeSession) Login(_ context.Context, user, pass string) error {
	s.record("LOGIN " + user)
	return s.failLogin
}

func (s *fakeSession) CanSort(context.Context) (bool, error) {
	s.record("CAPABILITY")
	return s.canSort, nil
}

func (s *fakeSession) Noop(context.Context) error {
	s.record("NOOP")
	return nil
}

func (s *fakeSession) List(context.Context) ([]string, error) {
	s.record("LIST")
	return s.mailboxes, nil
}

func (s *fakeSession) Select(_ context.Context, name string, readOnly bool) error {
	s.record(fmt.Sprintf("SELECT %s %v", name, readOnly))
	return s.failSelect
}

func (s *fakeSession) Unselect(context.Context) error {
	s.record("UNSELECT")
	return nil
}

func (s *fakeSession) Search(_ context.Context, c *goimap.SearchCriteria) ([]goimap.UID, error) {
	s.record("SEARCH")
	s.searched = c
	return s.uids, nil
}

func (s *fakeSession) Sort(_ context.Context, c *goimap.SearchCriteria) ([]goimap.UID, error) {
	s.record("SORT")
	s.searched = c
	return s.uids, nil
}

func (s *fakeSession) Fetch(_ context.Context, uids []goimap.UID) ([][]byte, error) {
	s.record("FETCH")
	batch := len(s.fetchSizes)
	s.fetchSizes = append(s.fetchSizes, len(uids))
	if s.failFetch[batch] {
		return nil, errors.New("NO fetch failed")
	}
	out := make([][]byte, len(uids))
	for i, uid := range uids {
		out[i] = []byte(fmt.Sprintf("Subject: %d\r\n\r\nbody\r\n", uid))
	}
	return out, nil
}

func (s *fakeSession) Recent(_ context.Context, uids []goimap.UID) (map[goimap.UID]bool, error) {
	s.record(fmt.Sprintf("FETCH FLAGS %d", len(uids)))
	return s.recent, nil
}

func (s *fakeSession) Append(_ context.Context, mailbox string, raw []byte) error {
	s.record("APPEND " + mailbox)
	if s.appended == nil {
		s.appended = make(map[string][][]byte)
	}
	s.appended[mailbox] = append(s.appended[mailbox], raw)
	return nil
}

func (s *fakeSession) Logout() error {
	s.record("LOGOUT")
	return nil
}

func newTestFetcher(t *testing.T, sess *fakeSession) (*Fetcher, *account.Account, *int) {
	t.Helper()
	acct := &account.Account{ID: "acct", Address: "u@example.com", Password: "pw",
		Host: "imap.example.com", Protocol: account.IMAPTLS}
	f, err := New(acct, fetcher.Options{})
	require.NoError(t, err)
	dials := 0
	f.dial = func(_ context.Context, a *account.Account, useTLS bool) (session, error) {
		dials++
		assert.True(t, useTLS)
		return sess, nil
	}
	return f, acct, &dials
}

func uidRange(n int) []goimap.UID {
	uids := make([]goimap.UID, n)
	for i := range uids {
		uids[i] = goimap.UID(i + 1)
	}
	return uids
}

func TestNewRejectsOtherProtocol(t *testing.T) {
	_, err := New(&account.Account{ID: "x", Protocol: account.JMAP}, fetcher.Options{})
	require.Error(t, err)
	assert.True(t, fetcher.IsAccountError(err))
	assert.ErrorIs(t, err, fetcher.ErrProtocolMismatch)
}

func TestConnectLoginFailure(t *testing.T) {
	sess := &fakeSession{failLogin: errors.New("NO bad credentials")}
	f, _, _ := newTestFetcher(t, sess)
	err := f.Connect(context.Background())
	require.Error(t, err)
	var ae *fetcher.AccountError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "login", ae.Op)
	assert.Equal(t, []string{"LOGIN u@example.com", "LOGOUT"}, sess.calls)
}

func TestFetchEmailsBatches(t *testing.T) {
	sess := &fakeSession{uids: uidRange(250)}
	f, acct, _ := newTestFetcher(t, sess)
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	raws, err := f.FetchEmails(context.Background(), acct.AddMailbox("INBOX"),
		criterion.Criterion{Tag: criterion.All})
	require.NoError(t, err)
	assert.Len(t, raws, 250)
	assert.Equal(t, []int{100, 100, 50}, sess.fetchSizes)
	assert.Contains(t, sess.calls, "SEARCH")
	assert.NotContains(t, sess.calls, "SORT")
	assert.Contains(t, sess.calls, "SELECT INBOX true")
	assert.Equal(t, "UNSELECT", sess.calls[len(sess.calls)-1])
}

func TestFetchEmailsSkipsFailedBatch(t *testing.T) {
	sess := &fakeSession{uids: uidRange(250), failFetch: map[int]bool{1: true}}
	f, acct, _ := newTestFetcher(t, sess)
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	raws, err := f.FetchEmails(context.Background(), acct.AddMailbox("INBOX"),
		criterion.Criterion{Tag: criterion.All})
	require.NoError(t, err)
	assert.Len(t, raws, 150)
	assert.Equal(t, []int{100, 100, 50}, sess.fetchSizes)
	assert.Equal(t, "Subject: 201\r\n\r\nbody\r\n", string(raws[100]))
}

func TestFetchEmailsUsesSortWhenAvailable(t *testing.T) {
	sess := &fakeSession{canSort: true, uids: []goimap.UID{3, 1, 2}}
	f, acct, _ := newTestFetcher(t, sess)
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	raws, err := f.FetchEmails(context.Background(), acct.AddMailbox("Archive"),
		criterion.Criterion{Tag: criterion.Unseen})
	require.NoError(t, err)
	require.Len(t, raws, 3)
	assert.Equal(t, "Subject: 3\r\n\r\nbody\r\n", string(raws[0]))
	assert.Contains(t, sess.calls, "SORT")
	assert.Equal(t, []goimap.Flag{goimap.FlagSeen}, sess.searched.NotFlag)
}

func TestFetchEmailsSelectFailure(t *testing.T) {
	sess := &fakeSession{failSelect: errors.New("NO no such mailbox")}
	f, acct, _ := newTestFetcher(t, sess)
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	_, err := f.FetchEmails(context.Background(), acct.AddMailbox("Missing"),
		criterion.Criterion{Tag: criterion.All})
	var me *fetcher.MailboxError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "Missing", me.Mailbox)
	assert.Equal(t, "select", me.Op)
}

func TestGuardsRunBeforeNetwork(t *testing.T) {
	sess := &fakeSession{}
	f, acct, dials := newTestFetcher(t, sess)
	require.NoError(t, f.Connect(context.Background()))
	sess.calls = nil

	other := &account.Account{ID: "other", Protocol: account.IMAPTLS}
	foreign := other.AddMailbox("INBOX")
	ctx := context.Background()

	_, err := f.FetchEmails(ctx, foreign, criterion.Criterion{Tag: criterion.All})
	assert.ErrorIs(t, err, fetcher.ErrForeignMailbox)
	err = f.Test(ctx, foreign)
	assert.ErrorIs(t, err, fetcher.ErrForeignMailbox)
	err = f.Restore(ctx, foreign, []byte("x"))
	assert.ErrorIs(t, err, fetcher.ErrForeignMailbox)
	_, err = f.FetchEmails(ctx, acct.AddMailbox("INBOX"), criterion.Criterion{Tag: "NOPE"})
	assert.ErrorIs(t, err, criterion.ErrUnknownTag)

	assert.Empty(t, sess.calls)
	assert.Equal(t, 1, *dials)
}

func TestTestSelectsReadOnly(t *testing.T) {
	sess := &fakeSession{}
	f, acct, _ := newTestFetcher(t, sess)
	require.NoError(t, f.Connect(context.Background()))
	sess.calls = nil

	require.NoError(t, f.Test(context.Background(), nil))
	assert.Equal(t, []string{"NOOP"}, sess.calls)

	sess.calls = nil
	require.NoError(t, f.Test(context.Background(), acct.AddMailbox("Sent")))
	assert.Equal(t, []string{"NOOP", "SELECT Sent true", "UNSELECT"}, sess.calls)
}

func TestRestoreAppends(t *testing.T) {
	sess := &fakeSession{}
	f, acct, _ := newTestFetcher(t, sess)
	require.NoError(t, f.Connect(context.Background()))

	raw := []byte("Subject: back\r\n\r\nagain\r\n")
	require.NoError(t, f.Restore(context.Background(), acct.AddMailbox("INBOX"), raw))
	assert.Equal(t, [][]byte{raw}, sess.appended["INBOX"])
}

func TestOperationsRequireConnection(t *testing.T) {
	f, acct, _ := newTestFetcher(t, &fakeSession{})
	_, err := f.FetchMailboxes(context.Background())
	assert.ErrorIs(t, err, fetcher.ErrNotConnected)
	_, err = f.FetchEmails(context.Background(), acct.AddMailbox("INBOX"),
		criterion.Criterion{Tag: criterion.All})
	assert.ErrorIs(t, err, fetcher.ErrNotConnected)
	assert.NoError(t, f.Close())
}

func TestFetchMailboxesAndClose(t *testing.T) {
	sess := &fakeSession{mailboxes: []string{"INBOX", "Entwürfe"}}
	f, _, _ := newTestFetcher(t, sess)
	require.NoError(t, f.Connect(context.Background()))

	names, err := f.FetchMailboxes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX", "Entwürfe"}, names)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Equal(t, 1, countCalls(sess.calls, "LOGOUT"))
}

func countCalls(calls []string, want string) int {
	n := 0
	for _, c := range calls {
		if c == want {
			n++
		}
	}
	return n
}

func TestFetchEmailsRecentFilter(t *testing.T) {
	testCases := []struct {
		tag  criterion.Tag
		want []string
	}{
		{criterion.Recent, []string{"Subject: 2\r\n\r\nbody\r\n", "Subject: 4\r\n\r\nbody\r\n"}},
		{criterion.New, []string{"Subject: 2\r\n\r\nbody\r\n", "Subject: 4\r\n\r\nbody\r\n"}},
		{criterion.Old, []string{"Subject: 1\r\n\r\nbody\r\n", "Subject: 3\r\n\r\nbody\r\n"}},
	}
	for _, tc := range testCases {
		t.Run(string(tc.tag), func(t *testing.T) {
			sess := &fakeSession{
				uids:   uidRange(4),
				recent: map[goimap.UID]bool{2: true, 4: true},
			}
			f, acct, _ := newTestFetcher(t, sess)
			require.NoError(t, f.Connect(context.Background()))
			defer f.Close()

			raws, err := f.FetchEmails(context.Background(), acct.AddMailbox("INBOX"),
				criterion.Criterion{Tag: tc.tag})
			require.NoError(t, err)
			got := make([]string, len(raws))
			for i, raw := range raws {
				got[i] = string(raw)
			}
			assert.Equal(t, tc.want, got)
			assert.Contains(t, sess.calls, "FETCH FLAGS 4")
			assert.Equal(t, []int{2}, sess.fetchSizes)
		})
	}
}

func TestFetchEmailsSmallerZero(t *testing.T) {
	sess := &fakeSession{uids: uidRange(3)}
	f, acct, _ := newTestFetcher(t, sess)
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()
	sess.calls = nil

	raws, err := f.FetchEmails(context.Background(), acct.AddMailbox("INBOX"),
		criterion.Criterion{Tag: criterion.Smaller, Arg: "0"})
	require.NoError(t, err)
	assert.Empty(t, raws)
	assert.Empty(t, sess.calls)
}

func TestNewSearch(t *testing.T) {
	now := time.Date(2024, time.March, 10, 15, 30, 0, 0, time.UTC)
	recent, old := true, false
	testCases := []struct {
		c    criterion.Criterion
		want *Search
	}{
		{criterion.Criterion{Tag: criterion.All}, &Search{Criteria: &goimap.SearchCriteria{}}},
		{criterion.Criterion{Tag: criterion.Seen},
			&Search{Criteria: &goimap.SearchCriteria{Flag: []goimap.Flag{goimap.FlagSeen}}}},
		{criterion.Criterion{Tag: criterion.Undeleted},
			&Search{Criteria: &goimap.SearchCriteria{NotFlag: []goimap.Flag{goimap.FlagDeleted}}}},
		{criterion.Criterion{Tag: criterion.Recent},
			&Search{Criteria: &goimap.SearchCriteria{}, Recent: &recent}},
		{criterion.Criterion{Tag: criterion.New}, &Search{
			Criteria: &goimap.SearchCriteria{NotFlag: []goimap.Flag{goimap.FlagSeen}}, Recent: &recent}},
		{criterion.Criterion{Tag: criterion.Old},
			&Search{Criteria: &goimap.SearchCriteria{}, Recent: &old}},
		{criterion.Criterion{Tag: criterion.Daily}, &Search{
			Criteria: &goimap.SearchCriteria{Since: time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC)}}},
		{criterion.Criterion{Tag: criterion.Weekly}, &Search{
			Criteria: &goimap.SearchCriteria{Since: time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC)}}},
		{criterion.Criterion{Tag: criterion.SentSince, Arg: "2023-12-24"}, &Search{
			Criteria: &goimap.SearchCriteria{SentSince: time.Date(2023, time.December, 24, 0, 0, 0, 0, time.UTC)}}},
		{criterion.Criterion{Tag: criterion.Keyword, Arg: "$Work"},
			&Search{Criteria: &goimap.SearchCriteria{Flag: []goimap.Flag{"$Work"}}}},
		{criterion.Criterion{Tag: criterion.Larger, Arg: "1024"},
			&Search{Criteria: &goimap.SearchCriteria{Larger: 1024}}},
		{criterion.Criterion{Tag: criterion.Smaller, Arg: "10"},
			&Search{Criteria: &goimap.SearchCriteria{Smaller: 10}}},
		{criterion.Criterion{Tag: criterion.Smaller, Arg: "0"},
			&Search{Criteria: &goimap.SearchCriteria{}, Empty: true}},
		{criterion.Criterion{Tag: criterion.Subject, Arg: "invoice"}, &Search{Criteria: &goimap.SearchCriteria{
			Header: []goimap.SearchCriteriaHeaderField{{Key: "Subject", Value: "invoice"}}}}},
		{criterion.Criterion{Tag: criterion.Body, Arg: "hello"},
			&Search{Criteria: &goimap.SearchCriteria{Body: []string{"hello"}}}},
	}
	for _, tc := range testCases {
		t.Run(tc.c.String(), func(t *testing.T) {
			got, err := NewSearch(tc.c, now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
