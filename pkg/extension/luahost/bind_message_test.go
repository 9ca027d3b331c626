package luahost

import (
	"net/mail"
	"testing"
	"time"

	"github.com/inbucket/mailvault/pkg/extension/event"
	"github.com/inbucket/mailvault/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageMetadataGetters(t *testing.T) {
	want := &event.MessageMetadata{
		Account:     "acct1",
		Mailbox:     "mb1",
		MessageID:   "<id1@example.com>",
		From:        &mail.Address{Name: "name1", Address: "addr1"},
		To:          []*mail.Address{{Name: "name2", Address: "addr2"}},
		Date:        time.Date(2001, time.February, 3, 4, 5, 6, 0, time.UTC),
		Subject:     "subj1",
		Size:        42,
		Attachments: 2,
	}
	script := `
		assert(msg, "msg should not be nil")

		assert_eq(msg.account, "acct1")
		assert_eq(msg.mailbox, "mb1")
		assert_eq(msg.message_id, "<id1@example.com>")
		assert_eq(msg.subject, "subj1")
		assert_eq(msg.size, 42)
		assert_eq(msg.spam, false)
		assert_eq(msg.attachments, 2)

		assert_eq(msg.from.name, "name1")
		assert_eq(msg.from.address, "addr1")

		assert_eq(#msg.to, 1)
		assert_eq(msg.to[1].name, "name2")
		assert_eq(msg.to[1].address, "addr2")

		assert_eq(msg.date, 981173106)
	`

	ls, _ := test.NewLuaState()
	registerMessageMetadataType(ls)
	registerMailAddressType(ls)
	ls.SetGlobal("msg", wrapMessageMetadata(ls, want))
	require.NoError(t, ls.DoString(script))
}

func TestMessageMetadataSetters(t *testing.T) {
	want := &event.MessageMetadata{
		Account:     "acct1",
		Mailbox:     "mb1",
		MessageID:   "<id1@example.com>",
		From:        &mail.Address{Name: "name1", Address: "addr1"},
		To:          []*mail.Address{{Name: "name2", Address: "addr2"}},
		Date:        time.Date(2001, time.February, 3, 4, 5, 6, 0, time.UTC),
		Subject:     "subj1",
		Size:        42,
		Spam:        true,
		Attachments: 3,
	}
	script := `
		assert(msg, "msg should not be nil")

		msg.account = "acct1"
		msg.mailbox = "mb1"
		msg.message_id = "<id1@example.com>"
		msg.subject = "subj1"
		msg.size = 42
		msg.spam = true
		msg.attachments = 3

		msg.from = address.new("name1", "addr1")
		msg.to = { address.new("name2", "addr2") }

		msg.date = 981173106
	`

	got := &event.MessageMetadata{}
	ls, _ := test.NewLuaState()
	registerMessageMetadataType(ls)
	registerMailAddressType(ls)
	ls.SetGlobal("msg", wrapMessageMetadata(ls, got))
	require.NoError(t, ls.DoString(script))

	// Timezones will cause a naive comparison to fail.
	assert.Equal(t, want.Date.Unix(), got.Date.Unix())
	now := time.Now()
	want.Date = now
	got.Date = now

	assert.Equal(t, want, got)
}

func TestCycleSummaryGetters(t *testing.T) {
	summary := &event.CycleSummary{
		ID:         "cycle1",
		Account:    "acct1",
		Mailbox:    "INBOX",
		Criterion:  "UNSEEN",
		Started:    time.Date(2001, time.February, 3, 4, 5, 6, 0, time.UTC),
		Duration:   1500 * time.Millisecond,
		Fetched:    5,
		Stored:     3,
		Duplicates: 1,
		Skipped:    1,
	}
	script := `
		assert_eq(s.id, "cycle1")
		assert_eq(s.account, "acct1")
		assert_eq(s.mailbox, "INBOX")
		assert_eq(s.criterion, "UNSEEN")
		assert_eq(s.started, 981173106)
		assert_eq(s.duration, 1.5)
		assert_eq(s.fetched, 5)
		assert_eq(s.stored, 3)
		assert_eq(s.duplicates, 1)
		assert_eq(s.skipped, 1)
		assert_eq(s.failed, 0)
		assert_eq(s.error, nil)
	`

	ls, _ := test.NewLuaState()
	registerCycleSummaryType(ls)
	ls.SetGlobal("s", wrapCycleSummary(ls, summary))
	require.NoError(t, ls.DoString(script))

	err := ls.DoString(`s.stored = 4`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}
