package luahost

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/inbucket/mailvault/pkg/config"
	"github.com/inbucket/mailvault/pkg/extension"
	"github.com/inbucket/mailvault/pkg/extension/event"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// listenerName is the name every Lua listener registers under.
const listenerName = "lua"

// Host of Lua extensions.
type Host struct {
	Functions  []string // Functions detected in lua script.
	extHost    *extension.Host
	pool       *statePool
	logContext zerolog.Context
}

// New constructs a new Lua Host, pre-compiling the source.  A missing script is not an error;
// New returns a nil Host.
func New(logger zerolog.Logger, conf config.Lua, extHost *extension.Host) (*Host, error) {
	scriptPath := conf.Path
	if scriptPath == "" {
		return nil, nil
	}

	slogger := logger.With().Str("module", "lua").Str("phase", "startup").
		Str("path", scriptPath).Logger()

	// Pre-load, parse, and compile script.
	if fi, err := os.Stat(scriptPath); err != nil {
		slogger.Info().Msg("Script file not found")
		return nil, nil
	} else if fi.IsDir() {
		return nil, fmt.Errorf("lua script %v is a directory", scriptPath)
	}

	slogger.Info().Msg("Loading script")
	file, err := os.Open(scriptPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return NewFromReader(logger, extHost, bufio.NewReader(file), scriptPath)
}

// NewFromReader constructs a new Lua Host, loading Lua source from the provided reader.
// The provided path is used in logging and error messages.
func NewFromReader(
	logger zerolog.Logger,
	extHost *extension.Host,
	r io.Reader,
	path string,
) (*Host, error) {
	logContext := logger.With().Str("module", "lua")
	startLogger := logContext.Str("phase", "startup").Str("path", path).Logger()

	// Pre-parse, and compile script.
	chunk, err := parse.Parse(r, path)
	if err != nil {
		return nil, err
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, err
	}

	// Build the pool and confirm LState is retrievable.
	pool := newStatePool(logContext.Str("phase", "script").Logger(), proto)
	h := &Host{extHost: extHost, pool: pool, logContext: logContext}
	ls, err := pool.getState()
	if err != nil {
		return nil, err
	}
	defer pool.putState(ls)

	if err := h.wireFunctions(startLogger, ls); err != nil {
		return nil, err
	}

	return h, nil
}

// CreateChannel creates a channel and places it into the named global variable
// in newly created LStates.
func (h *Host) CreateChannel(name string) chan lua.LValue {
	return h.pool.createChannel(name)
}

// wireFunctions detects the event functions defined by the script, and registers a listener
// for each of them.
func (h *Host) wireFunctions(logger zerolog.Logger, ls *lua.LState) error {
	mv, err := getMailvault(ls)
	if err != nil {
		return err
	}

	events := h.extHost.Events
	if mv.Before.MessageStored != nil {
		events.BeforeMessageStored.AddListener(listenerName, h.handleBeforeMessageStored)
		h.Functions = append(h.Functions, "before.message_stored")
	}
	if mv.After.MessageStored != nil {
		events.AfterMessageStored.AddListener(listenerName, h.handleAfterMessageStored)
		h.Functions = append(h.Functions, "after.message_stored")
	}
	if mv.After.CycleCompleted != nil {
		events.AfterCycleCompleted.AddListener(listenerName, h.handleAfterCycleCompleted)
		h.Functions = append(h.Functions, "after.cycle_completed")
	}

	if len(h.Functions) > 0 {
		logger.Debug().Strs("functions", h.Functions).Msg("Registered Lua event functions")
	} else {
		logger.Warn().Msg("No Lua event functions registered")
	}

	return nil
}

func (h *Host) handleBeforeMessageStored(msg event.InboundMessage) *event.StoreDecision {
	logger, ls, mv, ok := h.prepareFuncCall("before.message_stored")
	if !ok {
		return nil
	}
	defer h.pool.putState(ls)

	logger.Debug().Str("messageID", msg.MessageID).Msg("Calling Lua function")
	if err := ls.CallByParam(
		lua.P{Fn: mv.Before.MessageStored, NRet: 2, Protect: true},
		wrapInboundMessage(ls, &msg),
	); err != nil {
		logger.Error().Err(err).Msg("Failed to call Lua function")
		return nil
	}

	// Function returns decision, optional reason.
	lreason := ls.Get(-1)
	ldecision := ls.Get(-2)
	ls.Pop(2)

	decision, err := toDecision(ldecision)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid Lua function result")
		return nil
	}
	if decision != nil {
		if reason, ok := lreason.(lua.LString); ok {
			decision.Reason = string(reason)
		}
	}

	return decision
}

func (h *Host) handleAfterMessageStored(msg event.MessageMetadata) {
	logger, ls, mv, ok := h.prepareFuncCall("after.message_stored")
	if !ok {
		return
	}
	defer h.pool.putState(ls)

	logger.Debug().Str("messageID", msg.MessageID).Msg("Calling Lua function")
	if err := ls.CallByParam(
		lua.P{Fn: mv.After.MessageStored, NRet: 0, Protect: true},
		wrapMessageMetadata(ls, &msg),
	); err != nil {
		logger.Error().Err(err).Msg("Failed to call Lua function")
	}
}

func (h *Host) handleAfterCycleCompleted(summary event.CycleSummary) {
	logger, ls, mv, ok := h.prepareFuncCall("after.cycle_completed")
	if !ok {
		return
	}
	defer h.pool.putState(ls)

	logger.Debug().Str("cycle", summary.ID).Msg("Calling Lua function")
	if err := ls.CallByParam(
		lua.P{Fn: mv.After.CycleCompleted, NRet: 0, Protect: true},
		wrapCycleSummary(ls, &summary),
	); err != nil {
		logger.Error().Err(err).Msg("Failed to call Lua function")
	}
}

// prepareFuncCall retrieves a pooled LState and the mailvault global.  On success the caller
// must return ls to the pool.
func (h *Host) prepareFuncCall(funcName string) (
	logger zerolog.Logger,
	ls *lua.LState,
	mv *Mailvault,
	ok bool,
) {
	logger = h.logContext.Str("event", funcName).Logger()

	ls, err := h.pool.getState()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to get Lua state instance from pool")
		return logger, nil, nil, false
	}

	mv, err = getMailvault(ls)
	if err != nil {
		h.pool.putState(ls)
		logger.Error().Err(err).Msg("Failed to get mailvault userdata")
		return logger, nil, nil, false
	}

	return logger, ls, mv, true
}
