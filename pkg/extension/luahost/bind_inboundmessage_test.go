package luahost

import (
	"net/mail"
	"testing"

	"github.com/inbucket/mailvault/pkg/extension/event"
	"github.com/inbucket/mailvault/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundMessageGetters(t *testing.T) {
	want := &event.InboundMessage{
		Account:   "acct1",
		Mailbox:   "INBOX",
		MessageID: "<id1@example.com>",
		From:      &mail.Address{Name: "name1", Address: "addr1"},
		To: []*mail.Address{
			{Name: "name2", Address: "addr2"},
			{Name: "name3", Address: "addr3"},
		},
		Subject: "subj1",
		Size:    42,
		Spam:    true,
	}
	script := `
		assert(msg, "msg should not be nil")

		assert_eq(msg.account, "acct1")
		assert_eq(msg.mailbox, "INBOX")
		assert_eq(msg.message_id, "<id1@example.com>")
		assert_eq(msg.from.name, "name1")
		assert_eq(msg.from.address, "addr1")
		assert_eq(#msg.to, 2)
		assert_eq(msg.to[1].name, "name2")
		assert_eq(msg.to[2].address, "addr3")
		assert_eq(msg.subject, "subj1")
		assert_eq(msg.size, 42)
		assert_eq(msg.spam, true)
		assert_eq(msg.unknown, nil)
	`

	ls, _ := test.NewLuaState()
	registerInboundMessageType(ls)
	registerMailAddressType(ls)
	ls.SetGlobal("msg", wrapInboundMessage(ls, want))
	require.NoError(t, ls.DoString(script))
}

func TestInboundMessageSetters(t *testing.T) {
	want := &event.InboundMessage{
		Account:   "acct1",
		Mailbox:   "INBOX",
		MessageID: "<id1@example.com>",
		From:      &mail.Address{Name: "name1", Address: "addr1"},
		To: []*mail.Address{
			{Name: "name2", Address: "addr2"},
		},
		Subject: "subj1",
	}
	script := `
		assert(msg, "msg should not be nil")

		msg.account = "acct1"
		msg.mailbox = "INBOX"
		msg.message_id = "<id1@example.com>"
		msg.from = address.new("name1", "addr1")
		msg.to = { address.new("name2", "addr2") }
		msg.subject = "subj1"
	`

	got := &event.InboundMessage{}
	ls, _ := test.NewLuaState()
	registerInboundMessageType(ls)
	registerMailAddressType(ls)
	ls.SetGlobal("msg", wrapInboundMessage(ls, got))
	require.NoError(t, ls.DoString(script))

	assert.Equal(t, want, got)
}

func TestInboundMessageReadOnly(t *testing.T) {
	ls, _ := test.NewLuaState()
	registerInboundMessageType(ls)
	ls.SetGlobal("msg", wrapInboundMessage(ls, &event.InboundMessage{}))

	err := ls.DoString(`msg.size = 10`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size is read-only")

	err = ls.DoString(`msg.to = { "not an address" }`)
	assert.Error(t, err)
}

func TestUnwrapInboundMessage(t *testing.T) {
	ls, _ := test.NewLuaState()
	registerInboundMessageType(ls)
	want := &event.InboundMessage{Subject: "x"}

	got, err := unwrapInboundMessage(wrapInboundMessage(ls, want))
	require.NoError(t, err)
	assert.Same(t, want, got)

	_, err = unwrapInboundMessage(ls.GetGlobal("nothing"))
	assert.Error(t, err)
}
