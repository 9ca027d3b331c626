package extension

import (
	"github.com/inbucket/mailvault/pkg/extension/event"
)

// Host defines extension points for mailvault.
type Host struct {
	Events *Events
}

// Events defines all the event types supported by the extension host.
//
// Before-events let extensions alter how mailvault handles a message.  They run synchronously
// inside the fetch cycle; the first listener to respond with a non-nil value decides, and the
// remaining listeners are not called.
//
// After-events notify extensions once something has completed.  They run asynchronously with
// respect to the fetch cycle.
type Events struct {
	AfterCycleCompleted AsyncEventBroker[event.CycleSummary]
	AfterMessageStored  AsyncEventBroker[event.MessageMetadata]
	BeforeMessageStored EventBroker[event.InboundMessage, event.StoreDecision]
}

// Void indicates the event emitter will ignore any value returned by listeners.
type Void struct{}

// NewHost creates a new extension host.
func NewHost() *Host {
	return &Host{Events: &Events{}}
}
