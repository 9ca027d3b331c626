// Package msghub relays stored message and fetch cycle events to live monitor listeners, keeping
// a short history for listeners that join late.
package msghub

import (
	"container/ring"
	"context"

	"github.com/inbucket/mailvault/pkg/extension"
	"github.com/inbucket/mailvault/pkg/extension/event"
)

// Length of msghub operation queue
const opChanLen = 100

// Update is one entry of the feed; exactly one field is set.
type Update struct {
	Message *event.MessageMetadata `json:"message,omitempty"`
	Cycle   *event.CycleSummary    `json:"cycle,omitempty"`
}

// Mailbox returns the account and mailbox the update concerns.
func (u Update) Mailbox() (account, mailbox string) {
	switch {
	case u.Message != nil:
		return u.Message.Account, u.Message.Mailbox
	case u.Cycle != nil:
		return u.Cycle.Account, u.Cycle.Mailbox
	}
	return "", ""
}

// Listener receives the contents of the history buffer, followed by new updates.
type Listener interface {
	Receive(u Update) error
}

// Hub relays updates on to its listeners
type Hub struct {
	// history buffer, points next Update to write.  Proceeding non-nil entry is oldest Update
	history   *ring.Ring
	listeners map[Listener]struct{} // listeners interested in new updates
	opChan    chan func(h *Hub)     // operations queued for this actor
}

// New constructs a new Hub which will cache historyLen updates in memory for playback to future
// listeners.  The hub subscribes to the stored message and completed cycle events of extHost.
// Start must be called to process updates.
func New(historyLen int, extHost *extension.Host) *Hub {
	hub := &Hub{
		history:   ring.New(historyLen),
		listeners: make(map[Listener]struct{}),
		opChan:    make(chan func(h *Hub), opChanLen),
	}

	extHost.Events.AfterMessageStored.AddListener("msghub",
		func(msg event.MessageMetadata) {
			hub.Dispatch(Update{Message: &msg})
		})
	extHost.Events.AfterCycleCompleted.AddListener("msghub",
		func(summary event.CycleSummary) {
			hub.Dispatch(Update{Cycle: &summary})
		})

	return hub
}

// Start Hub processing loop.  It runs until ctx is canceled.
func (hub *Hub) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-hub.opChan:
			op(hub)
		}
	}
}

// Dispatch queues an update for broadcast by the hub.  The update will be placed into the
// history buffer and then relayed to all registered listeners.
func (hub *Hub) Dispatch(u Update) {
	hub.opChan <- func(h *Hub) {
		if h.history != nil {
			// Add to history buffer
			h.history.Value = u
			h.history = h.history.Next()
		}

		// Deliver update to all listeners, removing listeners if they return an error
		for l := range h.listeners {
			if err := l.Receive(u); err != nil {
				delete(h.listeners, l)
			}
		}
	}
}

// AddListener registers a listener to receive broadcasted updates.
func (hub *Hub) AddListener(l Listener) {
	hub.opChan <- func(h *Hub) {
		// Playback log
		if h.history != nil {
			failed := false
			h.history.Do(func(v any) {
				if v != nil && !failed {
					failed = l.Receive(v.(Update)) != nil
				}
			})
			if failed {
				return
			}
		}

		// Add to listeners
		h.listeners[l] = struct{}{}
	}
}

// RemoveListener deletes a listener registration, it will cease to receive updates.
func (hub *Hub) RemoveListener(l Listener) {
	hub.opChan <- func(h *Hub) {
		delete(h.listeners, l)
	}
}

// Sync blocks until the msghub has processed its queue up to this point, useful
// for unit tests.
func (hub *Hub) Sync() {
	done := make(chan struct{})
	hub.opChan <- func(h *Hub) {
		close(done)
	}
	<-done
}
