package luahost

import (
	"github.com/inbucket/mailvault/pkg/extension/event"
	lua "github.com/yuin/gopher-lua"
)

const cycleSummaryName = "cycle_summary"

func registerCycleSummaryType(ls *lua.LState) {
	mt := ls.NewTypeMetatable(cycleSummaryName)
	ls.SetGlobal(cycleSummaryName, mt)

	ls.SetField(mt, "__index", ls.NewFunction(cycleSummaryIndex))
	ls.SetField(mt, "__newindex", ls.NewFunction(cycleSummaryNewIndex))
}

func wrapCycleSummary(ls *lua.LState, val *event.CycleSummary) *lua.LUserData {
	return wrapUserData(ls, val, cycleSummaryName)
}

func checkCycleSummary(ls *lua.LState, pos int) *event.CycleSummary {
	ud := ls.CheckUserData(pos)
	if v, ok := ud.Value.(*event.CycleSummary); ok {
		return v
	}
	ls.ArgError(pos, cycleSummaryName+" expected")
	return nil
}

// Gets a field value from CycleSummary user object.  Times are Unix seconds, the duration is
// fractional seconds.
func cycleSummaryIndex(ls *lua.LState) int {
	s := checkCycleSummary(ls, 1)
	field := ls.CheckString(2)

	switch field {
	case "id":
		ls.Push(lua.LString(s.ID))
	case "account":
		ls.Push(lua.LString(s.Account))
	case "mailbox":
		ls.Push(lua.LString(s.Mailbox))
	case "criterion":
		ls.Push(lua.LString(s.Criterion))
	case "started":
		ls.Push(lua.LNumber(s.Started.Unix()))
	case "duration":
		ls.Push(lua.LNumber(s.Duration.Seconds()))
	case "fetched":
		ls.Push(lua.LNumber(s.Fetched))
	case "stored":
		ls.Push(lua.LNumber(s.Stored))
	case "duplicates":
		ls.Push(lua.LNumber(s.Duplicates))
	case "skipped":
		ls.Push(lua.LNumber(s.Skipped))
	case "failed":
		ls.Push(lua.LNumber(s.Failed))
	case "error":
		if s.Error == "" {
			ls.Push(lua.LNil)
		} else {
			ls.Push(lua.LString(s.Error))
		}
	default:
		ls.Push(lua.LNil)
	}

	return 1
}

// Cycle summaries are read-only.
func cycleSummaryNewIndex(ls *lua.LState) int {
	checkCycleSummary(ls, 1)
	ls.RaiseError("cycle_summary is read-only")
	return 0
}
