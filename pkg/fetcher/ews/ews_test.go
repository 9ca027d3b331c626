package ews

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
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

const responseTemplate = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body>
<m:%[1]sResponse xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages"
  xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types">
<m:ResponseMessages>
<m:%[1]sResponseMessage ResponseClass="%[2]s">
<m:ResponseCode>%[3]s</m:ResponseCode>
%[4]s
</m:%[1]sResponseMessage>
</m:ResponseMessages>
</m:%[1]sResponse>
</s:Body>
</s:Envelope>`

// multiResponseTemplate wraps one response message per requested item.
const multiResponseTemplate = `<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body>
<m:%[1]sResponse xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages"
  xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types">
<m:ResponseMessages>
%[2]s
</m:ResponseMessages>
</m:%[1]sResponse>
</s:Body>
</s:Envelope>`

const folderListing = `<m:RootFolder IncludesLastItemInRange="true" TotalItemsInView="3">
<t:Folders>
<t:Folder><t:FolderId Id="f-inbox"/><t:ParentFolderId Id="root"/>
  <t:DisplayName>Inbox</t:DisplayName><t:FolderClass>IPF.Note</t:FolderClass></t:Folder>
<t:Folder><t:FolderId Id="f-sub"/><t:ParentFolderId Id="f-inbox"/>
  <t:DisplayName>Projects</t:DisplayName><t:FolderClass>IPF.Note</t:FolderClass></t:Folder>
<t:CalendarFolder><t:FolderId Id="f-cal"/><t:ParentFolderId Id="root"/>
  <t:DisplayName>Calendar</t:DisplayName><t:FolderClass>IPF.Appointment</t:FolderClass></t:CalendarFolder>
</t:Folders>
</m:RootFolder>`

var itemIDPattern = regexp.MustCompile(`ItemId Id="([^"]+)"`)

// fakeExchange answers the EWS operations used by the Fetcher.
type fakeExchange struct {
	mu        sync.Mutex
	requests  []string
	bodies    map[string]string
	busyFirst int
	itemCodes map[string]string // item ID -> GetItem response code
	created   []string
	user      string
}

func (x *fakeExchange) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	x.mu.Lock()
	defer x.mu.Unlock()
	x.user, _, _ = req.BasicAuth()

	op := ""
	for _, name := range []string{"GetFolder", "FindFolder", "FindItem", "GetItem", "CreateItem"} {
		if strings.Contains(string(body), "<m:"+name) {
			op = name
			break
		}
	}
	x.requests = append(x.requests, op)
	if x.bodies == nil {
		x.bodies = make(map[string]string)
	}
	x.bodies[op] = string(body)

	if x.busyFirst > 0 {
		x.busyFirst--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	switch op {
	case "GetFolder":
		fmt.Fprintf(w, responseTemplate, op, "Success", "NoError",
			`<m:Folders><t:Folder><t:FolderId Id="root"/></t:Folder></m:Folders>`)
	case "FindFolder":
		fmt.Fprintf(w, responseTemplate, op, "Success", "NoError", folderListing)
	case "FindItem":
		fmt.Fprintf(w, responseTemplate, op, "Success", "NoError",
			`<m:RootFolder IncludesLastItemInRange="true" TotalItemsInView="2"><t:Items>
<t:Message><t:ItemId Id="i-1"/></t:Message>
<t:MeetingRequest><t:ItemId Id="i-2"/></t:MeetingRequest>
</t:Items></m:RootFolder>`)
	case "GetItem":
		var msgs strings.Builder
		for _, m := range itemIDPattern.FindAllStringSubmatch(string(body), -1) {
			if code := x.itemCodes[m[1]]; code != "" {
				fmt.Fprintf(&msgs, `<m:GetItemResponseMessage ResponseClass="Error">
<m:MessageText>item %s failed</m:MessageText><m:ResponseCode>%s</m:ResponseCode>
<m:Items/></m:GetItemResponseMessage>`, m[1], code)
				continue
			}
			raw := "Subject: " + m[1] + "\r\n\r\nbody\r\n"
			fmt.Fprintf(&msgs, `<m:GetItemResponseMessage ResponseClass="Success">
<m:ResponseCode>NoError</m:ResponseCode><m:Items>
<t:Message><t:MimeContent CharacterSet="UTF-8">%s</t:MimeContent><t:ItemId Id="%s"/></t:Message>
</m:Items></m:GetItemResponseMessage>`, base64.StdEncoding.EncodeToString([]byte(raw)), m[1])
		}
		fmt.Fprintf(w, multiResponseTemplate, op, msgs.String())
	case "CreateItem":
		m := regexp.MustCompile(`<t:MimeContent>([^<]*)</t:MimeContent>`).FindStringSubmatch(string(body))
		if m != nil {
			raw, _ := base64.StdEncoding.DecodeString(m[1])
			x.created = append(x.created, string(raw))
		}
		fmt.Fprintf(w, responseTemplate, op, "Success", "NoError",
			`<m:Items><t:Message><t:ItemId Id="new"/></t:Message></m:Items>`)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (x *fakeExchange) ops() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.requests...)
}

func newTestFetcher(t *testing.T, x *fakeExchange) (*Fetcher, *account.Account) {
	t.Helper()
	srv := httptest.NewServer(x)
	t.Cleanup(srv.Close)
	acct := &account.Account{ID: "ews", Address: "user@example.com", Password: "pw",
		Host: srv.URL + "/EWS/Exchange.asmx", Protocol: account.Exchange, Timeout: 5 * time.Second}
	f, err := New(acct, fetcher.Options{HTTPClient: srv.Client()})
	require.NoError(t, err)
	f.backoff = time.Millisecond
	return f, acct
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "https://mail.example.com/EWS/Exchange.asmx",
		Endpoint(&account.Account{Host: "mail.example.com"}))
	assert.Equal(t, "https://mail.example.com:8443/EWS/Exchange.asmx",
		Endpoint(&account.Account{Host: "mail.example.com", Port: 8443}))
	assert.Equal(t, "http://localhost/ews",
		Endpoint(&account.Account{Host: "http://localhost/ews"}))
}

func TestConnectAndMailboxes(t *testing.T) {
	x := &fakeExchange{}
	f, _ := newTestFetcher(t, x)
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	names, err := f.FetchMailboxes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Inbox", "Inbox/Projects"}, names)
	assert.Equal(t, []string{"GetFolder", "FindFolder"}, x.ops())
	x.mu.Lock()
	defer x.mu.Unlock()
	assert.Equal(t, "user@example.com", x.user)
}

func TestFetchEmails(t *testing.T) {
	x := &fakeExchange{}
	f, acct := newTestFetcher(t, x)
	require.NoError(t, f.Connect(context.Background()))
	defer f.Close()

	raws, err := f.FetchEmails(context.Background(), acct.AddMailbox("Inbox/Projects"),
		criterion.Criterion{Tag: criterion.Unseen})
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "Subject: i-1\r\n\r\nbody\r\n", string(raws[0]))
	assert.Equal(t, "Subject: i-2\r\n\r\nbody\r\n", string(raws[1]))

	x.mu.Lock()
	defer x.mu.Unlock()
	find := x.bodies["FindItem"]
	assert.Contains(t, find, `<t:FolderId Id="f-sub">`)
	assert.Contains(t, find, `Order="Ascending"`)
	assert.Contains(t, find, `FieldURI="item:DateTimeReceived"`)
	assert.Contains(t, find, `FieldURI="message:IsRead"`)
	assert.Contains(t, find, `Value="false"`)
}

func TestFetchEmailsItemErrors(t *testing.T) {
	t.Run("vanished item skipped", func(t *testing.T) {
		x := &fakeExchange{itemCodes: map[string]string{"i-1": "ErrorItemNotFound"}}
		f, acct := newTestFetcher(t, x)
		require.NoError(t, f.Connect(context.Background()))
		defer f.Close()

		raws, err := f.FetchEmails(context.Background(), acct.AddMailbox("Inbox"),
			criterion.Criterion{Tag: criterion.All})
		require.NoError(t, err)
		require.Len(t, raws, 1)
		assert.Equal(t, "Subject: i-2\r\n\r\nbody\r\n", string(raws[0]))
	})

	t.Run("other failure is a mailbox error", func(t *testing.T) {
		x := &fakeExchange{itemCodes: map[string]string{"i-2": "ErrorAccessDenied"}}
		f, acct := newTestFetcher(t, x)
		require.NoError(t, f.Connect(context.Background()))
		defer f.Close()

		_, err := f.FetchEmails(context.Background(), acct.AddMailbox("Inbox"),
			criterion.Criterion{Tag: criterion.All})
		var me *fetcher.MailboxError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, "fetch", me.Op)
		assert.Contains(t, err.Error(), "ErrorAccessDenied")
	})
}

func TestFetchEmailsUnknownFolder(t *testing.T) {
	f, acct := newTestFetcher(t, &fakeExchange{})
	require.NoError(t, f.Connect(context.Background()))

	_, err := f.FetchEmails(context.Background(), acct.AddMailbox("Calendar"),
		criterion.Criterion{Tag: criterion.All})
	var me *fetcher.MailboxError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "Calendar", me.Mailbox)
}

func TestRetriesBusyServer(t *testing.T) {
	x := &fakeExchange{busyFirst: 2}
	f, _ := newTestFetcher(t, x)
	require.NoError(t, f.Connect(context.Background()))
	assert.Equal(t, []string{"GetFolder", "GetFolder", "GetFolder"}, x.ops())
}

func TestRestore(t *testing.T) {
	x := &fakeExchange{}
	f, acct := newTestFetcher(t, x)
	require.NoError(t, f.Connect(context.Background()))

	raw := "Subject: restored\r\n\r\nhello\r\n"
	require.NoError(t, f.Restore(context.Background(), acct.AddMailbox("Inbox"), []byte(raw)))
	x.mu.Lock()
	defer x.mu.Unlock()
	assert.Equal(t, []string{raw}, x.created)
	assert.Contains(t, x.bodies["CreateItem"], `MessageDisposition="SaveOnly"`)
	assert.Contains(t, x.bodies["CreateItem"], `<t:FolderId Id="f-inbox">`)
}

func TestGuardsMakeNoRequests(t *testing.T) {
	x := &fakeExchange{}
	f, acct := newTestFetcher(t, x)

	_, err := f.FetchEmails(context.Background(), acct.AddMailbox("Inbox"),
		criterion.Criterion{Tag: criterion.Unanswered})
	assert.ErrorIs(t, err, fetcher.ErrUnsupportedCriterion)

	other := &account.Account{ID: "other", Protocol: account.Exchange}
	_, err = f.FetchEmails(context.Background(), other.AddMailbox("Inbox"),
		criterion.Criterion{Tag: criterion.All})
	assert.ErrorIs(t, err, fetcher.ErrForeignMailbox)
	assert.Empty(t, x.ops())
}

func TestAutodiscover(t *testing.T) {
	x := &fakeExchange{}
	srv := httptest.NewServer(x)
	defer srv.Close()
	disco := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		var req discoverRequest
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, xml.Unmarshal(body, &req))
		assert.Equal(t, "user@example.com", req.Request.Address)
		fmt.Fprintf(w, `<?xml version="1.0"?>
<Autodiscover xmlns="http://schemas.microsoft.com/exchange/autodiscover/responseschema/2006">
<Response xmlns="%s"><Account>
<Protocol><Type>EXCH</Type><EwsUrl>http://internal.invalid/EWS/Exchange.asmx</EwsUrl></Protocol>
<Protocol><Type>EXPR</Type><EwsUrl>%s/EWS/Exchange.asmx</EwsUrl></Protocol>
</Account></Response></Autodiscover>`, nsDiscoverResponse, srv.URL)
	}))
	defer disco.Close()

	acct := &account.Account{ID: "ews", Address: "user@example.com", Password: "pw",
		Protocol: account.Exchange, Timeout: 5 * time.Second}
	f, err := New(acct, fetcher.Options{HTTPClient: srv.Client()})
	require.NoError(t, err)
	f.discover = []string{disco.URL + "/missing", disco.URL + "/autodiscover/autodiscover.xml"}

	require.NoError(t, f.Connect(context.Background()))
	assert.Equal(t, srv.URL+"/EWS/Exchange.asmx", f.endpoint)
	assert.Equal(t, []string{"GetFolder"}, x.ops())
}

func TestDiscoveryURLs(t *testing.T) {
	assert.Equal(t, []string{
		"https://example.com/autodiscover/autodiscover.xml",
		"https://autodiscover.example.com/autodiscover/autodiscover.xml",
	}, discoveryURLs("a@example.com"))
	assert.Nil(t, discoveryURLs("no-domain"))
}

func TestRestrictionFor(t *testing.T) {
	now := time.Date(2024, time.May, 5, 12, 0, 0, 0, time.UTC)

	r, err := restrictionFor(criterion.Criterion{Tag: criterion.All}, now)
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = restrictionFor(criterion.Criterion{Tag: criterion.Weekly}, now)
	require.NoError(t, err)
	require.NotNil(t, r.IsGreaterThanOrEqualTo)
	assert.Equal(t, "item:DateTimeReceived", r.IsGreaterThanOrEqualTo.FieldURI.FieldURI)
	assert.Equal(t, "2024-04-28T12:00:00Z", r.IsGreaterThanOrEqualTo.Value.Constant.Value)

	r, err = restrictionFor(criterion.Criterion{Tag: criterion.Subject, Arg: "Invoice"}, now)
	require.NoError(t, err)
	require.NotNil(t, r.Contains)
	assert.Equal(t, "item:Subject", r.Contains.FieldURI.FieldURI)
	assert.Equal(t, "Invoice", r.Contains.Constant.Value)

	r, err = restrictionFor(criterion.Criterion{Tag: criterion.Draft}, now)
	require.NoError(t, err)
	assert.Equal(t, "item:IsDraft", r.IsEqualTo.FieldURI.FieldURI)

	_, err = restrictionFor(criterion.Criterion{Tag: criterion.Flagged}, now)
	assert.ErrorIs(t, err, fetcher.ErrUnsupportedCriterion)
}
