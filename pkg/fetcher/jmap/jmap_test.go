package jmap

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/criterion"
	"github.com/inbucket/mailvault/pkg/fetcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal JMAP server with one account.
type fakeServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	hits     int
	auth     []string
	filters  []map[string]any
	uploaded []string
	imported []map[string]any
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jmap", fs.session)
	mux.HandleFunc("/api", fs.api)
	mux.HandleFunc("/download/", fs.download)
	mux.HandleFunc("/upload/", fs.upload)
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.hits++
		fs.auth = append(fs.auth, r.Header.Get("Authorization"))
		fs.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) session(w http.ResponseWriter, _ *http.Request) {
	base := fs.srv.URL
	_ = json.NewEncoder(w).Encode(map[string]any{
		"apiUrl":          base + "/api",
		"downloadUrl":     base + "/download/{accountId}/{blobId}/{name}?type={type}",
		"uploadUrl":       base + "/upload/{accountId}/",
		"primaryAccounts": map[string]string{capMail: "acc1"},
	})
}

func (fs *fakeServer) api(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MethodCalls [][]json.RawMessage `json:"methodCalls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var out [][]any
	for _, call := range req.MethodCalls {
		var name, id string
		var args map[string]any
		_ = json.Unmarshal(call[0], &name)
		_ = json.Unmarshal(call[1], &args)
		_ = json.Unmarshal(call[2], &id)
		switch name {
		case "Mailbox/get":
			out = append(out, []any{name, map[string]any{"list": []map[string]any{
				{"id": "mb1", "name": "Inbox", "parentId": nil},
				{"id": "mb2", "name": "Archive", "parentId": nil},
				{"id": "mb3", "name": "2023", "parentId": "mb2"},
			}}, id})
		case "Email/query":
			filter, _ := args["filter"].(map[string]any)
			fs.mu.Lock()
			fs.filters = append(fs.filters, filter)
			fs.mu.Unlock()
			if filter["inMailbox"] == "mb3" {
				out = append(out, []any{"error", map[string]any{"type": "serverFail"}, id})
				continue
			}
			out = append(out, []any{name, map[string]any{"ids": []string{"e1", "e2"}}, id})
		case "Email/get":
			out = append(out, []any{name, map[string]any{"list": []map[string]any{
				{"id": "e1", "blobId": "b1"},
				{"id": "e2", "blobId": "b2"},
			}}, id})
		case "Email/import":
			fs.mu.Lock()
			fs.imported = append(fs.imported, args)
			fs.mu.Unlock()
			out = append(out, []any{name, map[string]any{
				"created": map[string]any{"restore": map[string]any{"id": "new"}},
			}, id})
		default:
			out = append(out, []any{"error", map[string]any{"type": "unknownMethod"}, id})
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"methodResponses": out})
}

func (fs *fakeServer) download(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/download/"), "/")
	if len(parts) != 3 || parts[0] != "acc1" {
		http.NotFound(w, r)
		return
	}
	_, _ = io.WriteString(w, "Subject: "+parts[1]+"\r\n\r\nbody\r\n")
}

func (fs *fakeServer) upload(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	fs.mu.Lock()
	fs.uploaded = append(fs.uploaded, string(body))
	fs.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]string{"accountId": "acc1", "blobId": "up1"})
}

func newTestFetcher(t *testing.T, fs *fakeServer, token string) (*Fetcher, *account.Account) {
	t.Helper()
	acct := &account.Account{ID: "jmap", Address: "user@example.com", Password: "pw",
		Token: token, Host: fs.srv.URL, Protocol: account.JMAP, Timeout: 5 * time.Second}
	f, err := New(acct, fetcher.Options{HTTPClient: fs.srv.Client()})
	require.NoError(t, err)
	return f, acct
}

func TestSessionURL(t *testing.T) {
	assert.Equal(t, "https://jmap.example.com/.well-known/jmap",
		SessionURL(&account.Account{Host: "jmap.example.com"}))
	assert.Equal(t, "https://jmap.example.com:8443/.well-known/jmap",
		SessionURL(&account.Account{Host: "jmap.example.com", Port: 8443}))
	assert.Equal(t, "http://localhost:8080/.well-known/jmap",
		SessionURL(&account.Account{Host: "http://localhost:8080/"}))
	assert.Equal(t, "https://api.example.com/jmap/session",
		SessionURL(&account.Account{Host: "https://api.example.com/jmap/session"}))
}

func TestFetchEmails(t *testing.T) {
	fs := newFakeServer(t)
	f, acct := newTestFetcher(t, fs, "")
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	raws, err := f.FetchEmails(context.Background(), acct.AddMailbox("Inbox"),
		criterion.Criterion{Tag: criterion.Unseen})
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "Subject: b1\r\n\r\nbody\r\n", string(raws[0]))
	assert.Equal(t, "Subject: b2\r\n\r\nbody\r\n", string(raws[1]))

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.filters, 1)
	assert.Equal(t, "mb1", fs.filters[0]["inMailbox"])
	assert.Equal(t, "$seen", fs.filters[0]["notKeyword"])
	assert.True(t, strings.HasPrefix(fs.auth[0], "Basic "))
}

func TestFetchEmailsMethodErrorIsMailboxError(t *testing.T) {
	fs := newFakeServer(t)
	f, acct := newTestFetcher(t, fs, "")
	require.NoError(t, f.Connect(context.Background()))

	_, err := f.FetchEmails(context.Background(), acct.AddMailbox("Archive/2023"),
		criterion.Criterion{Tag: criterion.All})
	var me *fetcher.MailboxError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "Archive/2023", me.Mailbox)
	assert.Contains(t, err.Error(), "serverFail")
}

func TestFetchEmailsUnknownMailbox(t *testing.T) {
	fs := newFakeServer(t)
	f, acct := newTestFetcher(t, fs, "")
	require.NoError(t, f.Connect(context.Background()))

	_, err := f.FetchEmails(context.Background(), acct.AddMailbox("Nope"),
		criterion.Criterion{Tag: criterion.All})
	assert.True(t, fetcher.IsMailboxError(err))
}

func TestFetchMailboxes(t *testing.T) {
	fs := newFakeServer(t)
	f, _ := newTestFetcher(t, fs, "")
	require.NoError(t, f.Connect(context.Background()))

	names, err := f.FetchMailboxes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Archive", "Archive/2023", "Inbox"}, names)
}

func TestBearerToken(t *testing.T) {
	fs := newFakeServer(t)
	f, _ := newTestFetcher(t, fs, "secret-token")
	require.NoError(t, f.Connect(context.Background()))
	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, "Bearer secret-token", fs.auth[0])
}

func TestRestore(t *testing.T) {
	fs := newFakeServer(t)
	f, acct := newTestFetcher(t, fs, "")
	require.NoError(t, f.Connect(context.Background()))

	raw := "Subject: again\r\n\r\nhello\r\n"
	require.NoError(t, f.Restore(context.Background(), acct.AddMailbox("Archive"), []byte(raw)))
	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, []string{raw}, fs.uploaded)
	require.Len(t, fs.imported, 1)
	emails := fs.imported[0]["emails"].(map[string]any)
	entry := emails["restore"].(map[string]any)
	assert.Equal(t, "up1", entry["blobId"])
	assert.Equal(t, map[string]any{"mb2": true}, entry["mailboxIds"])
}

func TestGuardsMakeNoRequests(t *testing.T) {
	fs := newFakeServer(t)
	f, acct := newTestFetcher(t, fs, "")

	_, err := f.FetchEmails(context.Background(), acct.AddMailbox("Inbox"),
		criterion.Criterion{Tag: criterion.Flagged})
	assert.ErrorIs(t, err, fetcher.ErrUnsupportedCriterion)
	other := &account.Account{ID: "x", Protocol: account.JMAP}
	assert.ErrorIs(t, f.Restore(context.Background(), other.AddMailbox("Inbox"), nil),
		fetcher.ErrForeignMailbox)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Zero(t, fs.hits)
}

func TestFilter(t *testing.T) {
	now := time.Date(2024, time.June, 30, 8, 0, 0, 0, time.UTC)
	testCases := []struct {
		c    criterion.Criterion
		want map[string]any
	}{
		{criterion.Criterion{Tag: criterion.All}, map[string]any{}},
		{criterion.Criterion{Tag: criterion.Answered}, map[string]any{"hasKeyword": "$answered"}},
		{criterion.Criterion{Tag: criterion.Undraft}, map[string]any{"notKeyword": "$draft"}},
		{criterion.Criterion{Tag: criterion.Daily},
			map[string]any{"after": "2024-06-29T08:00:00Z"}},
		{criterion.Criterion{Tag: criterion.SentSince, Arg: "2024-01-15"},
			map[string]any{"after": "2024-01-15T00:00:00Z"}},
		{criterion.Criterion{Tag: criterion.Larger, Arg: "2048"},
			map[string]any{"minSize": int64(2048)}},
		{criterion.Criterion{Tag: criterion.From, Arg: "boss@example.com"},
			map[string]any{"from": "boss@example.com"}},
	}
	for _, tc := range testCases {
		t.Run(tc.c.String(), func(t *testing.T) {
			got, err := Filter(tc.c, now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Filter(criterion.Criterion{Tag: criterion.Subject, Arg: "x"}, now)
	assert.ErrorIs(t, err, fetcher.ErrUnsupportedCriterion)
}
