package luahost

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

const (
	mailvaultName       = "mailvault"
	mailvaultBeforeName = "mailvault_before"
	mailvaultAfterName  = "mailvault_after"
)

// Mailvault is the Go side of the `mailvault` Lua global.
type Mailvault struct {
	Before MailvaultBeforeFuncs
	After  MailvaultAfterFuncs
}

// MailvaultBeforeFuncs holds functions called before an action; they may change its outcome.
type MailvaultBeforeFuncs struct {
	MessageStored *lua.LFunction
}

// MailvaultAfterFuncs holds functions notified after an action.
type MailvaultAfterFuncs struct {
	MessageStored  *lua.LFunction
	CycleCompleted *lua.LFunction
}

func registerMailvaultTypes(ls *lua.LState) {
	// mailvault type.
	mt := ls.NewTypeMetatable(mailvaultName)
	ls.SetField(mt, "__index", ls.NewFunction(mailvaultIndex))

	// mailvault.before type.
	mt = ls.NewTypeMetatable(mailvaultBeforeName)
	ls.SetField(mt, "__index", ls.NewFunction(mailvaultBeforeIndex))
	ls.SetField(mt, "__newindex", ls.NewFunction(mailvaultBeforeNewIndex))

	// mailvault.after type.
	mt = ls.NewTypeMetatable(mailvaultAfterName)
	ls.SetField(mt, "__index", ls.NewFunction(mailvaultAfterIndex))
	ls.SetField(mt, "__newindex", ls.NewFunction(mailvaultAfterNewIndex))

	// mailvault global.
	ud := ls.NewUserData()
	ud.Value = &Mailvault{}
	ls.SetMetatable(ud, ls.GetTypeMetatable(mailvaultName))
	ls.SetGlobal(mailvaultName, ud)
}

func wrapUserData(ls *lua.LState, val any, typeName string) *lua.LUserData {
	ud := ls.NewUserData()
	ud.Value = val
	ls.SetMetatable(ud, ls.GetTypeMetatable(typeName))

	return ud
}

func getMailvault(ls *lua.LState) (*Mailvault, error) {
	lv := ls.GetGlobal(mailvaultName)
	if lv == nil || lv == lua.LNil {
		return nil, errors.New("mailvault object was nil")
	}

	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil, fmt.Errorf("mailvault object was type %s instead of UserData", lv.Type())
	}

	val, ok := ud.Value.(*Mailvault)
	if !ok {
		return nil, fmt.Errorf("mailvault object (%v) could not be cast", ud.Value)
	}

	return val, nil
}

func checkMailvault(ls *lua.LState, pos int) *Mailvault {
	ud := ls.CheckUserData(pos)
	if val, ok := ud.Value.(*Mailvault); ok {
		return val
	}
	ls.ArgError(pos, mailvaultName+" expected")
	return nil
}

func checkMailvaultBefore(ls *lua.LState, pos int) *MailvaultBeforeFuncs {
	ud := ls.CheckUserData(pos)
	if val, ok := ud.Value.(*MailvaultBeforeFuncs); ok {
		return val
	}
	ls.ArgError(pos, mailvaultBeforeName+" expected")
	return nil
}

func checkMailvaultAfter(ls *lua.LState, pos int) *MailvaultAfterFuncs {
	ud := ls.CheckUserData(pos)
	if val, ok := ud.Value.(*MailvaultAfterFuncs); ok {
		return val
	}
	ls.ArgError(pos, mailvaultAfterName+" expected")
	return nil
}

// mailvault getter.
func mailvaultIndex(ls *lua.LState) int {
	mv := checkMailvault(ls, 1)
	field := ls.CheckString(2)

	switch field {
	case "before":
		ls.Push(wrapUserData(ls, &mv.Before, mailvaultBeforeName))
	case "after":
		ls.Push(wrapUserData(ls, &mv.After, mailvaultAfterName))
	default:
		ls.Push(lua.LNil)
	}

	return 1
}

// mailvault.before getter.
func mailvaultBeforeIndex(ls *lua.LState) int {
	before := checkMailvaultBefore(ls, 1)
	field := ls.CheckString(2)

	switch field {
	case "message_stored":
		ls.Push(funcOrNil(before.MessageStored))
	default:
		ls.Push(lua.LNil)
	}

	return 1
}

// mailvault.before setter.
func mailvaultBeforeNewIndex(ls *lua.LState) int {
	before := checkMailvaultBefore(ls, 1)
	index := ls.CheckString(2)

	switch index {
	case "message_stored":
		before.MessageStored = ls.CheckFunction(3)
	default:
		ls.RaiseError("invalid mailvault.before index %q", index)
	}

	return 0
}

// mailvault.after getter.
func mailvaultAfterIndex(ls *lua.LState) int {
	after := checkMailvaultAfter(ls, 1)
	field := ls.CheckString(2)

	switch field {
	case "message_stored":
		ls.Push(funcOrNil(after.MessageStored))
	case "cycle_completed":
		ls.Push(funcOrNil(after.CycleCompleted))
	default:
		ls.Push(lua.LNil)
	}

	return 1
}

// mailvault.after setter.
func mailvaultAfterNewIndex(ls *lua.LState) int {
	after := checkMailvaultAfter(ls, 1)
	index := ls.CheckString(2)

	switch index {
	case "message_stored":
		after.MessageStored = ls.CheckFunction(3)
	case "cycle_completed":
		after.CycleCompleted = ls.CheckFunction(3)
	default:
		ls.RaiseError("invalid mailvault.after index %q", index)
	}

	return 0
}

func funcOrNil(f *lua.LFunction) lua.LValue {
	if f == nil {
		return lua.LNil
	}

	return f
}
