package luahost

import (
	"fmt"

	"github.com/inbucket/mailvault/pkg/extension/event"
	lua "github.com/yuin/gopher-lua"
)

const decisionName = "decision"

// registerDecisionType exposes the values a before.message_stored function may return.
func registerDecisionType(ls *lua.LState) {
	mt := ls.NewTypeMetatable(decisionName)
	ls.SetGlobal(decisionName, mt)

	// Static attributes.
	ls.SetField(mt, "store", lua.LString("store"))
	ls.SetField(mt, "skip", lua.LString("skip"))
	ls.SetField(mt, "default", lua.LNil)
}

// toDecision converts a Lua function result into a StoreDecision.  nil leaves the decision to
// mailvault; booleans are accepted as shorthand for store and skip.
func toDecision(lv lua.LValue) (*event.StoreDecision, error) {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		if v {
			return &event.StoreDecision{Action: event.ActionStore}, nil
		}
		return &event.StoreDecision{Action: event.ActionSkip}, nil
	case lua.LString:
		switch v {
		case "store":
			return &event.StoreDecision{Action: event.ActionStore}, nil
		case "skip":
			return &event.StoreDecision{Action: event.ActionSkip}, nil
		}
		return nil, fmt.Errorf("unknown decision %q", string(v))
	}

	return nil, fmt.Errorf("expected decision, got %q", lv.Type().String())
}
