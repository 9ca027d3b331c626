// Package jmap retrieves mail over JMAP, authenticating with a password or a bearer token.
package jmap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/criterion"
	"github.com/inbucket/mailvault/pkg/fetcher"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// wellKnown is the session discovery path.
const wellKnown = "/.well-known/jmap"

// Criteria holds the tags JMAP supports.
var Criteria = criterion.NewSet(
	criterion.All, criterion.Seen, criterion.Unseen, criterion.Draft, criterion.Undraft,
	criterion.Answered, criterion.Unanswered, criterion.Daily, criterion.Weekly,
	criterion.Monthly, criterion.Annually, criterion.Body, criterion.From, criterion.SentSince,
	criterion.Larger, criterion.Smaller,
)

// Fetcher speaks JMAP to one account.
type Fetcher struct {
	guard     fetcher.Guard
	client    *http.Client
	now       func() time.Time
	session   *session
	accountID string
	logger    zerolog.Logger
}

var _ fetcher.Fetcher = &Fetcher{}

// New creates a Fetcher for a JMAP account.  No request is made.
func New(acct *account.Account, opts fetcher.Options) (*Fetcher, error) {
	guard, err := fetcher.NewGuard(acct, Criteria, account.JMAP)
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		guard:  guard,
		client: fetcher.HTTPClient(acct, opts),
		now:    opts.Clock(),
		logger: log.With().Str("module", "fetcher").Str("proto", string(acct.Protocol)).
			Str("account", acct.ID).Logger(),
	}, nil
}

// SessionURL returns the session resource for a host setting.  A URL with a path is used as is.
func SessionURL(acct *account.Account) string {
	host := strings.TrimRight(strings.TrimSpace(acct.Host), "/")
	if strings.HasPrefix(host, "https://") || strings.HasPrefix(host, "http://") {
		if u, err := url.Parse(host); err == nil && u.Path != "" {
			return host
		}
		return host + wellKnown
	}
	if acct.Port != 0 && acct.Port != 443 {
		host = fmt.Sprintf("%s:%d", host, acct.Port)
	}
	return "https://" + host + wellKnown
}

// Protocol implements fetcher.Fetcher.
func (f *Fetcher) Protocol() account.Protocol {
	return account.JMAP
}

// Criteria implements fetcher.Fetcher.
func (f *Fetcher) Criteria() criterion.Set {
	return Criteria
}

// Connect loads the session resource.
func (f *Fetcher) Connect(ctx context.Context) error {
	if f.session != nil {
		return nil
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()
	if err := f.loadSession(ctx); err != nil {
		return &fetcher.AccountError{Op: "session", Err: err}
	}
	f.logger.Debug().Str("api", f.session.APIURL).Msg("Connected")
	return nil
}

// Test reloads the session, and resolves mb when given.
func (f *Fetcher) Test(ctx context.Context, mb *account.Mailbox) error {
	if err := f.guard.Mailbox(mb, true); err != nil {
		return err
	}
	if f.session == nil {
		return &fetcher.AccountError{Op: "test", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	if err := f.loadSession(ctx); err != nil {
		return &fetcher.AccountError{Op: "test", Err: err}
	}
	if mb == nil {
		return nil
	}
	if _, err := f.mailboxID(ctx, mb.Name); err != nil {
		return classify("test", mb.Name, err)
	}
	return nil
}

// FetchMailboxes returns the path of every mailbox, parents joined with "/".
func (f *Fetcher) FetchMailboxes(ctx context.Context) ([]string, error) {
	if f.session == nil {
		return nil, &fetcher.AccountError{Op: "mailboxes", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	boxes, err := f.mailboxes(ctx)
	if err != nil {
		return nil, &fetcher.AccountError{Op: "mailboxes", Err: err}
	}
	names := make([]string, 0, len(boxes))
	for name := range boxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// FetchEmails queries mb for c, oldest first, and downloads each message blob.
func (f *Fetcher) FetchEmails(ctx context.Context, mb *account.Mailbox, c criterion.Criterion) (
	[][]byte, error) {
	if err := f.guard.Fetch(mb, c); err != nil {
		return nil, err
	}
	if f.session == nil {
		return nil, &fetcher.AccountError{Op: "fetch", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	id, err := f.mailboxID(ctx, mb.Name)
	if err != nil {
		return nil, classify("resolve", mb.Name, err)
	}
	filter, err := Filter(c, f.now())
	if err != nil {
		return nil, err
	}
	filter["inMailbox"] = id

	resps, err := f.call(ctx,
		invocation{Name: "Email/query", CallID: "q", Args: map[string]any{
			"accountId": f.accountID,
			"filter":    filter,
			"sort":      []map[string]any{{"property": "receivedAt", "isAscending": true}},
		}},
		invocation{Name: "Email/get", CallID: "g", Args: map[string]any{
			"accountId":  f.accountID,
			"#ids":       map[string]string{"resultOf": "q", "name": "Email/query", "path": "/ids"},
			"properties": []string{"id", "blobId"},
		}},
	)
	if err != nil {
		return nil, classify("query", mb.Name, err)
	}
	var found emailQueryResponse
	if err := decodeArgs(resps, "q", &found); err != nil {
		return nil, classify("query", mb.Name, err)
	}
	var got emailGetResponse
	if err := decodeArgs(resps, "g", &got); err != nil {
		return nil, classify("query", mb.Name, err)
	}

	raws := make([][]byte, 0, len(got.List))
	for _, e := range got.List {
		raw, err := f.download(ctx, e.BlobID)
		if err != nil {
			return nil, &fetcher.AccountError{Op: "download", Err: err}
		}
		raws = append(raws, raw)
	}
	f.logger.Debug().Str("mailbox", mb.Name).Int("count", len(raws)).Msg("Fetched emails")
	return raws, nil
}

// Restore uploads raw as a blob and imports it into mb.
func (f *Fetcher) Restore(ctx context.Context, mb *account.Mailbox, raw []byte) error {
	if err := f.guard.Mailbox(mb, false); err != nil {
		return err
	}
	if f.session == nil {
		return &fetcher.AccountError{Op: "restore", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	id, err := f.mailboxID(ctx, mb.Name)
	if err != nil {
		return classify("resolve", mb.Name, err)
	}
	blobID, err := f.upload(ctx, raw)
	if err != nil {
		return &fetcher.AccountError{Op: "upload", Err: err}
	}
	resps, err := f.call(ctx, invocation{Name: "Email/import", CallID: "i", Args: map[string]any{
		"accountId": f.accountID,
		"emails": map[string]any{
			"restore": map[string]any{
				"blobId":     blobID,
				"mailboxIds": map[string]bool{id: true},
				"keywords":   map[string]bool{"$seen": true},
			},
		},
	}})
	if err != nil {
		return classify("import", mb.Name, err)
	}
	var imported emailImportResponse
	if err := decodeArgs(resps, "i", &imported); err != nil {
		return classify("import", mb.Name, err)
	}
	if se, failed := imported.NotCreated["restore"]; failed {
		return &fetcher.MailboxError{Op: "import", Mailbox: mb.Name,
			Err: &methodError{Method: "Email/import", Type: se.Type, Description: se.Description}}
	}
	return nil
}

// Close drops the session.
func (f *Fetcher) Close() error {
	f.session = nil
	f.client.CloseIdleConnections()
	return nil
}

// classify reports method errors against the mailbox and everything else against the account.
func classify(op, mailbox string, err error) error {
	var me *methodError
	var mm *missingMailboxError
	if errors.As(err, &me) || errors.As(err, &mm) {
		return &fetcher.MailboxError{Op: op, Mailbox: mailbox, Err: err}
	}
	return &fetcher.AccountError{Op: op, Err: err}
}

type missingMailboxError struct {
	Name string
}

func (e *missingMailboxError) Error() string {
	return fmt.Sprintf("no mailbox named %q", e.Name)
}

func (f *Fetcher) loadSession(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, SessionURL(f.guard.Account), nil)
	if err != nil {
		return err
	}
	var s session
	if err := f.do(req, &s); err != nil {
		return err
	}
	id := s.PrimaryAccounts[capMail]
	if s.APIURL == "" || id == "" {
		return &fetcher.BadServerResponseError{Op: "session",
			Response: "session lacks apiUrl or a primary mail account"}
	}
	f.session = &s
	f.accountID = id
	return nil
}

// mailboxes maps mailbox paths to ids.
func (f *Fetcher) mailboxes(ctx context.Context) (map[string]string, error) {
	resps, err := f.call(ctx, invocation{Name: "Mailbox/get", CallID: "m", Args: map[string]any{
		"accountId":  f.accountID,
		"ids":        nil,
		"properties": []string{"id", "name", "parentId"},
	}})
	if err != nil {
		return nil, err
	}
	var got mailboxGetResponse
	if err := decodeArgs(resps, "m", &got); err != nil {
		return nil, err
	}
	type node struct {
		name   string
		parent string
	}
	byID := make(map[string]node, len(got.List))
	for _, m := range got.List {
		n := node{name: m.Name}
		if m.ParentID != nil {
			n.parent = *m.ParentID
		}
		byID[m.ID] = n
	}
	paths := make(map[string]string, len(byID))
	for id, n := range byID {
		parts := []string{n.name}
		seen := map[string]bool{id: true}
		for p := n.parent; p != "" && !seen[p]; p = byID[p].parent {
			parent, ok := byID[p]
			if !ok {
				break
			}
			seen[p] = true
			parts = append([]string{parent.name}, parts...)
		}
		paths[strings.Join(parts, "/")] = id
	}
	return paths, nil
}

func (f *Fetcher) mailboxID(ctx context.Context, name string) (string, error) {
	boxes, err := f.mailboxes(ctx)
	if err != nil {
		return "", err
	}
	id, ok := boxes[name]
	if !ok {
		return "", &missingMailboxError{Name: name}
	}
	return id, nil
}

// call posts the invocations as one request.
func (f *Fetcher) call(ctx context.Context, calls ...invocation) ([]response, error) {
	body, err := json.Marshal(request{Using: []string{capCore, capMail}, MethodCalls: calls})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.session.APIURL,
		bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var rb responseBody
	if err := f.do(req, &rb); err != nil {
		return nil, err
	}
	return rb.MethodResponses, nil
}

// decodeArgs finds the response to callID and decodes its arguments into v.
func decodeArgs(resps []response, callID string, v any) error {
	for _, r := range resps {
		if r.CallID != callID {
			continue
		}
		if r.Name == "error" {
			me := &methodError{Method: callID}
			if err := json.Unmarshal(r.Args, me); err != nil {
				return err
			}
			return me
		}
		return json.Unmarshal(r.Args, v)
	}
	return &fetcher.BadServerResponseError{Op: callID, Response: "missing method response"}
}

// do sends req and decodes the JSON reply into v.
func (f *Fetcher) do(req *http.Request, v any) error {
	fetcher.SetAuth(req, f.guard.Account)
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return &fetcher.BadServerResponseError{Op: req.Method + " " + req.URL.Path,
			Response: fmt.Sprintf("HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(snippet)))}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &fetcher.BadServerResponseError{Op: req.Method + " " + req.URL.Path,
			Response: "invalid JSON: " + err.Error()}
	}
	return nil
}

// expand fills a URL template from the session resource.
func expand(tmpl string, vars map[string]string) string {
	for k, v := range vars {
		tmpl = strings.ReplaceAll(tmpl, "{"+k+"}", url.PathEscape(v))
	}
	return tmpl
}

func (f *Fetcher) download(ctx context.Context, blobID string) ([]byte, error) {
	u := expand(f.session.DownloadURL, map[string]string{
		"accountId": f.accountID,
		"blobId":    blobID,
		"type":      "message/rfc822",
		"name":      "email.eml",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	fetcher.SetAuth(req, f.guard.Account)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &fetcher.BadServerResponseError{Op: "download",
			Response: fmt.Sprintf("HTTP %d for blob %s", resp.StatusCode, blobID)}
	}
	return io.ReadAll(resp.Body)
}

func (f *Fetcher) upload(ctx context.Context, raw []byte) (string, error) {
	u := expand(f.session.UploadURL, map[string]string{"accountId": f.accountID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "message/rfc822")
	var ur uploadResponse
	if err := f.do(req, &ur); err != nil {
		return "", err
	}
	if ur.BlobID == "" {
		return "", &fetcher.BadServerResponseError{Op: "upload", Response: "no blobId"}
	}
	return ur.BlobID, nil
}

// Filter translates c into an Email/query filter condition.
func Filter(c criterion.Criterion, now time.Time) (map[string]any, error) {
	f := map[string]any{}
	switch c.Tag {
	case criterion.All:
	case criterion.Seen:
		f["hasKeyword"] = "$seen"
	case criterion.Unseen:
		f["notKeyword"] = "$seen"
	case criterion.Draft:
		f["hasKeyword"] = "$draft"
	case criterion.Undraft:
		f["notKeyword"] = "$draft"
	case criterion.Answered:
		f["hasKeyword"] = "$answered"
	case criterion.Unanswered:
		f["notKeyword"] = "$answered"
	case criterion.Daily, criterion.Weekly, criterion.Monthly, criterion.Annually,
		criterion.SentSince:
		cutoff, ok := c.Cutoff(now)
		if !ok {
			return nil, fmt.Errorf("%w: %s", criterion.ErrBadArgument, c)
		}
		f["after"] = cutoff.UTC().Format(time.RFC3339)
	case criterion.Body:
		f["body"] = c.Arg
	case criterion.From:
		f["from"] = c.Arg
	case criterion.Larger, criterion.Smaller:
		n, err := c.Size()
		if err != nil {
			return nil, err
		}
		if c.Tag == criterion.Larger {
			f["minSize"] = n
		} else {
			f["maxSize"] = n
		}
	default:
		return nil, fmt.Errorf("%w: %s", fetcher.ErrUnsupportedCriterion, c.Tag)
	}
	return f, nil
}
