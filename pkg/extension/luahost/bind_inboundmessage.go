package luahost

import (
	"fmt"

	"github.com/inbucket/mailvault/pkg/extension/event"
	lua "github.com/yuin/gopher-lua"
)

const inboundMessageName = "inbound_message"

func registerInboundMessageType(ls *lua.LState) {
	mt := ls.NewTypeMetatable(inboundMessageName)
	ls.SetGlobal(inboundMessageName, mt)

	// Static attributes.
	ls.SetField(mt, "new", ls.NewFunction(newInboundMessage))

	// Methods.
	ls.SetField(mt, "__index", ls.NewFunction(inboundMessageIndex))
	ls.SetField(mt, "__newindex", ls.NewFunction(inboundMessageNewIndex))
}

func newInboundMessage(ls *lua.LState) int {
	ls.Push(wrapInboundMessage(ls, &event.InboundMessage{}))
	return 1
}

func wrapInboundMessage(ls *lua.LState, val *event.InboundMessage) *lua.LUserData {
	return wrapUserData(ls, val, inboundMessageName)
}

// Checks there is an InboundMessage at stack position `pos`, else throws Lua error.
func checkInboundMessage(ls *lua.LState, pos int) *event.InboundMessage {
	ud := ls.CheckUserData(pos)
	if v, ok := ud.Value.(*event.InboundMessage); ok {
		return v
	}
	ls.ArgError(pos, inboundMessageName+" expected")
	return nil
}

func unwrapInboundMessage(lv lua.LValue) (*event.InboundMessage, error) {
	if ud, ok := lv.(*lua.LUserData); ok {
		if v, ok := ud.Value.(*event.InboundMessage); ok {
			return v, nil
		}
	}

	return nil, fmt.Errorf("expected InboundMessage, got %q", lv.Type().String())
}

// Gets a field value from InboundMessage user object.  This emulates a Lua table,
// allowing `msg.subject` instead of a Lua object syntax of `msg:subject()`.
func inboundMessageIndex(ls *lua.LState) int {
	m := checkInboundMessage(ls, 1)
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
	case "subject":
		ls.Push(lua.LString(m.Subject))
	case "size":
		ls.Push(lua.LNumber(m.Size))
	case "spam":
		ls.Push(lua.LBool(m.Spam))
	default:
		ls.Push(lua.LNil)
	}

	return 1
}

// Sets a field value on InboundMessage user object.  This emulates a Lua table,
// allowing `msg.subject = x` instead of a Lua object syntax of `msg:subject(x)`.
func inboundMessageNewIndex(ls *lua.LState) int {
	m := checkInboundMessage(ls, 1)
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
	case "subject":
		m.Subject = ls.CheckString(3)
	case "size", "spam":
		ls.RaiseError("%s is read-only", index)
	default:
		ls.RaiseError("invalid index %q", index)
	}

	return 0
}
