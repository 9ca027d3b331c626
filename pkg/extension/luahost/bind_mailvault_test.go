package luahost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestMailvaultFuncs(t *testing.T) {
	script := `
		assert(mailvault, "mailvault should not be nil")
		assert(mailvault.before, "mailvault.before should not be nil")
		assert(mailvault.after, "mailvault.after should not be nil")

		local fns = {
			{ mailvault.before, "message_stored" },
			{ mailvault.after, "message_stored" },
			{ mailvault.after, "cycle_completed" },
		}

		-- Verify functions start off nil.
		for i, fn in ipairs(fns) do
			assert(fn[1][fn[2]] == nil, fn[2] .. " should be nil")
		end

		-- Set functions, verify not nil, and call them.
		local calls = 0
		for i, fn in ipairs(fns) do
			fn[1][fn[2]] = function() calls = calls + 1 end
			assert(fn[1][fn[2]], fn[2] .. " should not be nil")
			fn[1][fn[2]]()
		end
		assert(calls == 3, "expected 3 calls, got " .. calls)
	`

	ls := lua.NewState()
	registerMailvaultTypes(ls)
	require.NoError(t, ls.DoString(script))

	mv, err := getMailvault(ls)
	require.NoError(t, err)
	assert.NotNil(t, mv.Before.MessageStored)
	assert.NotNil(t, mv.After.MessageStored)
	assert.NotNil(t, mv.After.CycleCompleted)
}

func TestMailvaultInvalidIndex(t *testing.T) {
	ls := lua.NewState()
	registerMailvaultTypes(ls)

	err := ls.DoString(`mailvault.after.message_deleted = function() end`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mailvault.after index")

	err = ls.DoString(`mailvault.before.cycle_completed = function() end`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mailvault.before index")
}

func TestGetMailvaultMissing(t *testing.T) {
	ls := lua.NewState()
	_, err := getMailvault(ls)
	assert.Error(t, err)
}
