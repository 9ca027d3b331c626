package luahost

import (
	"time"

	"github.com/inbucket/mailvault/pkg/extension/event"
	lua "github.com/yuin/gopher-lua"
)

const messageMetadataName = "message_metadata"

func registerMessageMetadataType(ls *lua.LState) {
	mt := ls.NewTypeMetatable(messageMetadataName)
	ls.SetGlobal(messageMetadataName, mt)

	// Static attributes.
	ls.SetField(mt, "new", ls.NewFunction(newMessageMetadata))

	// Methods.
	ls.SetField(mt, "__index", ls.NewFunction(messageMetadataIndex))
	ls.SetField(mt, "__newindex", ls.NewFunction(messageMetadataNewIndex))
}

func newMessageMetadata(ls *lua.LState) int {
	ls.Push(wrapMessageMetadata(ls, &event.MessageMetadata{}))
	return 1
}

func wrapMessageMetadata(ls *lua.LState, val *event.MessageMetadata) *lua.LUserData {
	return wrapUserData(ls, val, messageMetadataName)
}

func checkMessageMetadata(ls *lua.LState, pos int) *event.MessageMetadata {
	ud := ls.CheckUserData(pos)
	if v, ok := ud.Value.(*event.MessageMetadata); ok {
		return v
	}
	ls.ArgError(pos, messageMetadataName+" expected")
	return nil
}

// Gets a field value from MessageMetadata user object.  This emulates a Lua table,
// allowing `msg.subject` instead of a Lua object syntax of `msg:subject()`.
func messageMetadataIndex(ls *lua.LState) int {
	m := checkMessageMetadata(ls, 1)
	field := ls.CheckString(2)

	switch field {
	case "account":
		ls.Push(lua.LString(m.Account))
	case "mailbox":
		ls.Push(lua.LString(m.Mailbox))
	case "message_id":
		ls.Push(lua.LString(m.MessageID))
	case "from":
		ls.Push(wrapMailAddress(ls, m.From))
	case "to":
		ls.Push(wrapMailAddresses(ls, m.To))
	case "date":
		ls.Push(lua.LNumber(m.Date.Unix()))
	case "subject":
		ls.Push(lua.LString(m.Subject))
	case "size":
		ls.Push(lua.LNumber(m.Size))
	case "spam":
		ls.Push(lua.LBool(m.Spam))
	case "attachments":
		ls.Push(lua.LNumber(m.Attachments))
	default:
		ls.Push(lua.LNil)
	}

	return 1
}

// Sets a field value on MessageMetadata user object.
func messageMetadataNewIndex(ls *lua.LState) int {
	m := checkMessageMetadata(ls, 1)
	index := ls.CheckString(2)

	switch index {
	case "account":
		m.Account = ls.CheckString(3)
	case "mailbox":
		m.Mailbox = ls.CheckString(3)
	case "message_id":
		m.MessageID = ls.CheckString(3)
	case "from":
		m.From = checkMailAddress(ls, 3)
	case "to":
		m.To = checkMailAddresses(ls, 3)
	case "date":
		m.Date = time.Unix(ls.CheckInt64(3), 0)
	case "subject":
		m.Subject = ls.CheckString(3)
	case "size":
		m.Size = ls.CheckInt64(3)
	case "spam":
		m.Spam = ls.CheckBool(3)
	case "attachments":
		m.Attachments = ls.CheckInt(3)
	default:
		ls.RaiseError("invalid index %q", index)
	}

	return 0
}
