// Package ews retrieves mail from Microsoft Exchange over Exchange Web Services.
package ews

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/criterion"
	"github.com/inbucket/mailvault/pkg/fetcher"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// rootFolder is the distinguished parent of all mail folders.
	rootFolder = "msgfolderroot"
	// mailFolderClass marks ordinary mail folders.
	mailFolderClass = "IPF.Note"
	// pageSize bounds FindItem and FindFolder pages.
	pageSize = 500
	// getBatch bounds the items per GetItem request.
	getBatch = 50
)

// Criteria holds the tags EWS supports.
var Criteria = criterion.NewSet(
	criterion.All, criterion.Seen, criterion.Unseen, criterion.Draft, criterion.Undraft,
	criterion.Daily, criterion.Weekly, criterion.Monthly, criterion.Annually,
	criterion.Subject, criterion.Body, criterion.SentSince,
)

// Fetcher speaks EWS to one account.
type Fetcher struct {
	guard    fetcher.Guard
	client   *http.Client
	endpoint string
	now      func() time.Time
	backoff  time.Duration
	discover []string
	folders  map[string]string // path -> folder id
	logger   zerolog.Logger
}

var _ fetcher.Fetcher = &Fetcher{}

// New creates a Fetcher for an EXCHANGE account.  No request is made.
func New(acct *account.Account, opts fetcher.Options) (*Fetcher, error) {
	guard, err := fetcher.NewGuard(acct, Criteria, account.Exchange)
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		guard:    guard,
		client:   fetcher.HTTPClient(acct, opts),
		now:      opts.Clock(),
		backoff:  time.Second,
		discover: discoveryURLs(acct.Address),
		logger: log.With().Str("module", "fetcher").Str("proto", string(acct.Protocol)).
			Str("account", acct.ID).Logger(),
	}, nil
}

// Endpoint returns the service URL for a host setting: a full URL is used as is, a bare host
// gets the standard EWS path.
func Endpoint(acct *account.Account) string {
	host := strings.TrimSpace(acct.Host)
	if strings.HasPrefix(host, "https://") || strings.HasPrefix(host, "http://") {
		return host
	}
	if acct.Port != 0 && acct.Port != 443 {
		host = fmt.Sprintf("%s:%d", host, acct.Port)
	}
	return "https://" + host + "/EWS/Exchange.asmx"
}

// Protocol implements fetcher.Fetcher.
func (f *Fetcher) Protocol() account.Protocol {
	return account.Exchange
}

// Criteria implements fetcher.Fetcher.
func (f *Fetcher) Criteria() criterion.Set {
	return Criteria
}

// Connect locates the service, autodiscovering it when the account has no host, and verifies
// the credentials by reading the mail folder root.
func (f *Fetcher) Connect(ctx context.Context) error {
	if f.endpoint != "" {
		return nil
	}
	acct := f.guard.Account
	ctx, cancel := fetcher.WithTimeout(ctx, acct)
	defer cancel()

	endpoint := ""
	if acct.Host == "" {
		url, err := f.autodiscover(ctx)
		if err != nil {
			return &fetcher.AccountError{Op: "autodiscover", Err: err}
		}
		endpoint = url
	} else {
		endpoint = Endpoint(acct)
	}
	f.endpoint = endpoint
	if err := f.checkRoot(ctx); err != nil {
		f.endpoint = ""
		return &fetcher.AccountError{Op: "connect", Err: err}
	}
	f.logger.Debug().Str("endpoint", endpoint).Msg("Connected")
	return nil
}

// Test refreshes the folder root, and resolves mb when given.
func (f *Fetcher) Test(ctx context.Context, mb *account.Mailbox) error {
	if err := f.guard.Mailbox(mb, true); err != nil {
		return err
	}
	if f.endpoint == "" {
		return &fetcher.AccountError{Op: "test", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	if err := f.checkRoot(ctx); err != nil {
		return &fetcher.AccountError{Op: "test", Err: err}
	}
	if mb == nil {
		return nil
	}
	f.folders = nil
	if _, err := f.folderID(ctx, mb.Name); err != nil {
		return &fetcher.MailboxError{Op: "test", Mailbox: mb.Name, Err: err}
	}
	return nil
}

// FetchMailboxes walks the folders under the mail root and returns the paths of mail folders.
func (f *Fetcher) FetchMailboxes(ctx context.Context) ([]string, error) {
	if f.endpoint == "" {
		return nil, &fetcher.AccountError{Op: "folders", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	f.folders = nil
	folders, err := f.mailFolders(ctx)
	if err != nil {
		return nil, &fetcher.AccountError{Op: "folders", Err: err}
	}
	names := make([]string, 0, len(folders))
	for name := range folders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// FetchEmails finds the items of mb matching c, oldest first, and downloads their MIME content.
func (f *Fetcher) FetchEmails(ctx context.Context, mb *account.Mailbox, c criterion.Criterion) (
	[][]byte, error) {
	if err := f.guard.Fetch(mb, c); err != nil {
		return nil, err
	}
	restrict, err := restrictionFor(c, f.now())
	if err != nil {
		return nil, err
	}
	if f.endpoint == "" {
		return nil, &fetcher.AccountError{Op: "fetch", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	id, err := f.folderID(ctx, mb.Name)
	if err != nil {
		return nil, &fetcher.MailboxError{Op: "resolve", Mailbox: mb.Name, Err: err}
	}
	ids, err := f.findItems(ctx, id, restrict)
	if err != nil {
		return nil, &fetcher.MailboxError{Op: "search", Mailbox: mb.Name, Err: err}
	}
	raws := make([][]byte, 0, len(ids))
	for start := 0; start < len(ids); start += getBatch {
		end := min(start+getBatch, len(ids))
		batch, err := f.getMime(ctx, ids[start:end])
		if err != nil {
			return nil, &fetcher.MailboxError{Op: "fetch", Mailbox: mb.Name, Err: err}
		}
		raws = append(raws, batch...)
	}
	f.logger.Debug().Str("mailbox", mb.Name).Int("count", len(raws)).Msg("Fetched items")
	return raws, nil
}

// Restore saves raw as a new item in mb.
func (f *Fetcher) Restore(ctx context.Context, mb *account.Mailbox, raw []byte) error {
	if err := f.guard.Mailbox(mb, false); err != nil {
		return err
	}
	if f.endpoint == "" {
		return &fetcher.AccountError{Op: "restore", Err: fetcher.ErrNotConnected}
	}
	ctx, cancel := fetcher.WithTimeout(ctx, f.guard.Account)
	defer cancel()

	id, err := f.folderID(ctx, mb.Name)
	if err != nil {
		return &fetcher.MailboxError{Op: "resolve", Mailbox: mb.Name, Err: err}
	}
	req := &createItemRequest{Disposition: "SaveOnly"}
	req.SavedFolder.Folder.ID = id
	req.Message.MimeContent = base64.StdEncoding.EncodeToString(raw)
	msgs, err := f.call(ctx, "CreateItem", req)
	if err == nil {
		err = firstErr("CreateItem", msgs)
	}
	if err != nil {
		return &fetcher.MailboxError{Op: "restore", Mailbox: mb.Name, Err: err}
	}
	return nil
}

// Close forgets the session state; EWS holds no open connection.
func (f *Fetcher) Close() error {
	f.endpoint = ""
	f.folders = nil
	f.client.CloseIdleConnections()
	return nil
}

func (f *Fetcher) checkRoot(ctx context.Context) error {
	req := &getFolderRequest{}
	req.FolderShape.BaseShape = "IdOnly"
	req.FolderIDs.Distinguished = &distinguishedFolderID{ID: rootFolder}
	msgs, err := f.call(ctx, "GetFolder", req)
	if err != nil {
		return err
	}
	return firstErr("GetFolder", msgs)
}

// folderID resolves a mailbox path, loading the folder tree once per session.
func (f *Fetcher) folderID(ctx context.Context, name string) (string, error) {
	folders, err := f.mailFolders(ctx)
	if err != nil {
		return "", err
	}
	id, ok := folders[name]
	if !ok {
		return "", fmt.Errorf("no mail folder %q", name)
	}
	return id, nil
}

// mailFolders maps the path of every mail folder below the root to its id.
func (f *Fetcher) mailFolders(ctx context.Context) (map[string]string, error) {
	if f.folders != nil {
		return f.folders, nil
	}
	var all []folderEntry
	for offset := 0; ; {
		req := &findFolderRequest{Traversal: "Deep"}
		req.FolderShape.BaseShape = "IdOnly"
		req.FolderShape.Additional = []fieldURI{
			{FieldURI: "folder:DisplayName"},
			{FieldURI: "folder:FolderClass"},
			{FieldURI: "folder:ParentFolderId"},
		}
		req.Paging.MaxEntries = pageSize
		req.Paging.Offset = offset
		req.Paging.BasePoint = "Beginning"
		req.Parent.Distinguished = &distinguishedFolderID{ID: rootFolder}
		msgs, err := f.call(ctx, "FindFolder", req)
		if err != nil {
			return nil, err
		}
		if err := firstErr("FindFolder", msgs); err != nil {
			return nil, err
		}
		page := msgs[0].Root.Folders.List
		all = append(all, page...)
		offset += len(page)
		if msgs[0].Root.Last || len(page) == 0 {
			break
		}
	}

	byID := make(map[string]folderEntry, len(all))
	for _, e := range all {
		byID[e.ID.ID] = e
	}
	folders := make(map[string]string)
	for _, e := range all {
		if e.FolderClass != mailFolderClass {
			continue
		}
		folders[folderPath(e, byID)] = e.ID.ID
	}
	f.folders = folders
	return folders, nil
}

// folderPath joins display names up to the root; parents outside the listing end the walk.
func folderPath(e folderEntry, byID map[string]folderEntry) string {
	parts := []string{e.DisplayName}
	seen := map[string]bool{e.ID.ID: true}
	for {
		parent, ok := byID[e.Parent.ID]
		if !ok || seen[parent.ID.ID] {
			break
		}
		seen[parent.ID.ID] = true
		parts = append(parts, parent.DisplayName)
		e = parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

func (f *Fetcher) findItems(ctx context.Context, folder string, r *restriction) ([]string,
	error) {
	var ids []string
	for {
		req := &findItemRequest{Traversal: "Shallow", Restriction: r}
		req.ItemShape.BaseShape = "IdOnly"
		req.Paging.MaxEntries = pageSize
		req.Paging.Offset = len(ids)
		req.Paging.BasePoint = "Beginning"
		req.SortOrder.Order.Order = "Ascending"
		req.SortOrder.Order.FieldURI.FieldURI = "item:DateTimeReceived"
		req.Parent.Folder = &folderID{ID: folder}
		msgs, err := f.call(ctx, "FindItem", req)
		if err != nil {
			return nil, err
		}
		if err := firstErr("FindItem", msgs); err != nil {
			return nil, err
		}
		page := msgs[0].Root.Items.List
		for _, it := range page {
			ids = append(ids, it.ID.ID)
		}
		if msgs[0].Root.Last || len(page) == 0 {
			return ids, nil
		}
	}
}

func (f *Fetcher) getMime(ctx context.Context, ids []string) ([][]byte, error) {
	req := &getItemRequest{}
	req.ItemShape.BaseShape = "IdOnly"
	req.ItemShape.IncludeMime = true
	for _, id := range ids {
		req.ItemIDs = append(req.ItemIDs, itemID{ID: id})
	}
	msgs, err := f.call(ctx, "GetItem", req)
	if err != nil {
		return nil, err
	}
	raws := make([][]byte, 0, len(ids))
	for _, m := range msgs {
		if err := m.err("GetItem"); err != nil {
			// Items deleted since FindItem are skipped; any other failure fails the batch.
			if m.Code != "ErrorItemNotFound" {
				return nil, err
			}
			f.logger.Debug().Err(err).Msg("Skipping vanished item")
			continue
		}
		for _, it := range m.Items.List {
			raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(it.MimeContent))
			if err != nil {
				return nil, &fetcher.BadServerResponseError{Op: "GetItem",
					Response: "MimeContent is not base64"}
			}
			raws = append(raws, raw)
		}
	}
	return raws, nil
}

// call posts one SOAP request, retrying transient failures until ctx expires.
func (f *Fetcher) call(ctx context.Context, op string, body any) ([]responseMessage, error) {
	payload, err := xml.Marshal(newEnvelope(body))
	if err != nil {
		return nil, err
	}
	payload = append([]byte(xml.Header), payload...)

	wait := f.backoff
	for attempt := 1; ; attempt++ {
		msgs, err := f.post(ctx, op, payload)
		if err == nil || !retryable(err) {
			return msgs, err
		}
		f.logger.Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("Retrying request")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s gave up after %d attempts: %w", op, attempt, err)
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// statusError is an HTTP level failure.
type statusError struct {
	Op     string
	Status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.Op, e.Status, http.StatusText(e.Status))
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	var re *responseError
	if errors.As(err, &re) {
		return re.transient()
	}
	var bad *fetcher.BadServerResponseError
	if errors.As(err, &bad) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (f *Fetcher) post(ctx context.Context, op string, payload []byte) ([]responseMessage,
	error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint,
		bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	fetcher.SetAuth(req, f.guard.Account)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env responseEnvelope
	if xerr := xml.Unmarshal(data, &env); xerr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &statusError{Op: op, Status: resp.StatusCode}
		}
		return nil, &fetcher.BadServerResponseError{Op: op, Response: truncate(string(data))}
	}
	if fault := env.Body.Fault; fault != nil {
		if resp.StatusCode >= 500 && strings.Contains(fault.String, "busy") {
			return nil, &statusError{Op: op, Status: resp.StatusCode}
		}
		return nil, &fetcher.BadServerResponseError{Op: op,
			Response: fault.Code + ": " + fault.String}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Op: op, Status: resp.StatusCode}
	}
	msgs := env.Body.Response.Messages.List
	if len(msgs) == 0 {
		return nil, &fetcher.BadServerResponseError{Op: op, Response: "no response messages"}
	}
	if err := msgs[0].err(op); err != nil {
		var re *responseError
		if errors.As(err, &re) && re.transient() {
			return nil, err
		}
	}
	return msgs, nil
}

// firstErr returns the error of the first response message.
func firstErr(op string, msgs []responseMessage) error {
	if len(msgs) == 0 {
		return &fetcher.BadServerResponseError{Op: op, Response: "no response messages"}
	}
	return msgs[0].err(op)
}

func truncate(s string) string {
	const limit = 200
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// restrictionFor translates c into a FindItem restriction; ALL yields nil.
func restrictionFor(c criterion.Criterion, now time.Time) (*restriction, error) {
	switch c.Tag {
	case criterion.All:
		return nil, nil
	case criterion.Seen:
		return &restriction{IsEqualTo: compare("message:IsRead", "true")}, nil
	case criterion.Unseen:
		return &restriction{IsEqualTo: compare("message:IsRead", "false")}, nil
	case criterion.Draft:
		return &restriction{IsEqualTo: compare("item:IsDraft", "true")}, nil
	case criterion.Undraft:
		return &restriction{IsEqualTo: compare("item:IsDraft", "false")}, nil
	case criterion.Daily, criterion.Weekly, criterion.Monthly, criterion.Annually:
		cutoff, _ := c.Cutoff(now)
		return &restriction{IsGreaterThanOrEqualTo: compare("item:DateTimeReceived",
			cutoff.Format(time.RFC3339))}, nil
	case criterion.SentSince:
		cutoff, ok := c.Cutoff(now)
		if !ok {
			return nil, fmt.Errorf("%w: %s", criterion.ErrBadArgument, c)
		}
		return &restriction{IsGreaterThanOrEqualTo: compare("item:DateTimeSent",
			cutoff.Format(time.RFC3339))}, nil
	case criterion.Subject, criterion.Body:
		field := "item:Subject"
		if c.Tag == criterion.Body {
			field = "item:Body"
		}
		return &restriction{Contains: &containsExpr{
			Mode:       "Substring",
			Comparison: "IgnoreCase",
			FieldURI:   fieldURI{FieldURI: field},
			Constant:   constant{Value: c.Arg},
		}}, nil
	}
	return nil, fmt.Errorf("%w: %s", fetcher.ErrUnsupportedCriterion, c.Tag)
}
