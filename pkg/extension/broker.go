// Package extension lets scripts and other in-process components observe and influence the
// archiving pipeline through typed event brokers.
package extension

import (
	"sync"
)

// named pairs a listener with the name it was registered under.
type named[F any] struct {
	name string
	fn   F
}

// listeners is an ordered set of named listener funcs.  Callers hold the lock.
type listeners[F any] []named[F]

func (ls listeners[F]) without(name string) listeners[F] {
	for i, entry := range ls {
		if entry.name == name {
			return append(ls[:i:i], ls[i+1:]...)
		}
	}
	return ls
}

// EventBroker delivers events synchronously to listeners in registration order, until one of
// them returns a result.
type EventBroker[E any, R any] struct {
	mu    sync.RWMutex
	funcs listeners[func(E) *R]
}

// Emit sends event to each listener in order.  The first non-nil result is returned and later
// listeners are not called.  Listeners receive a copy of the event.
func (eb *EventBroker[E, R]) Emit(event *E) *R {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, l := range eb.funcs {
		if result := l.fn(*event); result != nil {
			return result
		}
	}
	return nil
}

// AddListener registers the named listener, replacing an existing listener of the same name.
// Listeners should be added most significant first.
func (eb *EventBroker[E, R]) AddListener(name string, listener func(E) *R) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.funcs = append(eb.funcs.without(name), named[func(E) *R]{name: name, fn: listener})
}

// RemoveListener unregisters the named listener.
func (eb *EventBroker[E, R]) RemoveListener(name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.funcs = eb.funcs.without(name)
}

// Len returns the number of registered listeners.
func (eb *EventBroker[E, R]) Len() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	return len(eb.funcs)
}
