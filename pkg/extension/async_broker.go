package extension

import (
	"errors"
	"sync"
	"time"
)

// AsyncEventBroker delivers events to all listeners in parallel, without collecting results.
type AsyncEventBroker[E any] struct {
	mu       sync.RWMutex
	funcs    listeners[func(E)]
	inflight sync.WaitGroup
}

// Emit starts one goroutine per listener with a copy of event.
func (eb *AsyncEventBroker[E]) Emit(event *E) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, l := range eb.funcs {
		eb.inflight.Add(1)
		go func(fn func(E), ev E) {
			defer eb.inflight.Done()
			fn(ev)
		}(l.fn, *event)
	}
}

// Drain blocks until every listener started by Emit has returned, or the timeout passes.  It
// reports whether all listeners finished.
func (eb *AsyncEventBroker[E]) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		eb.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// AddListener registers the named listener, replacing an existing listener of the same name.
func (eb *AsyncEventBroker[E]) AddListener(name string, listener func(E)) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.funcs = append(eb.funcs.without(name), named[func(E)]{name: name, fn: listener})
}

// RemoveListener unregisters the named listener.
func (eb *AsyncEventBroker[E]) RemoveListener(name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.funcs = eb.funcs.without(name)
}

// AsyncTestListener registers a listener that queues up to capacity events, and returns a func
// that waits for the next one.  The listener removes itself once capacity events were read.
func (eb *AsyncEventBroker[E]) AsyncTestListener(name string, capacity int) func() (*E, error) {
	events := make(chan E, capacity)
	eb.AddListener(name, func(ev E) {
		events <- ev
	})

	count := 0
	return func() (*E, error) {
		count++
		if count >= capacity {
			defer eb.RemoveListener(name)
		}

		select {
		case ev := <-events:
			return &ev, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("timeout waiting for event")
		}
	}
}
