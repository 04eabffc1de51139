// Package bus is the in-process publish/subscribe hub that local producers
// (printer poller, capture worker, gateway) use to announce state changes.
package bus

import (
	"log/slog"
	"sync"

	"github.com/pocketbase/pocketbase/tools/hook"
)

// Topics published on the local bus.
const (
	TopicTemperature   = "printer.temperature"
	TopicPrinterState  = "printer.state"
	TopicPrintProgress = "print.progress"
	TopicCapture       = "capture.changed"
	TopicGatewayStatus = "gateway.status"
)

// Event is delivered to every handler bound to its topic.
type Event struct {
	hook.Event
	Topic   string
	Payload any
}

// Bus routes payloads by topic name. Each topic is a PocketBase hook so
// handlers are identified by the id returned from Subscribe.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]*hook.Hook[*Event]
}

func New() *Bus {
	return &Bus{topics: make(map[string]*hook.Hook[*Event])}
}

func (b *Bus) topic(name string, create bool) *hook.Hook[*Event] {
	b.mu.RLock()
	h, ok := b.topics[name]
	b.mu.RUnlock()
	if ok || !create {
		return h
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok = b.topics[name]; ok {
		return h
	}
	h = &hook.Hook[*Event]{}
	b.topics[name] = h
	return h
}

// Subscribe binds fn to topic and returns the handler id.
func (b *Bus) Subscribe(topic string, fn func(payload any)) string {
	return b.topic(topic, true).BindFunc(func(e *Event) error {
		fn(e.Payload)
		return e.Next()
	})
}

// Unsubscribe removes the handler id from topic. Unknown ids are ignored.
func (b *Bus) Unsubscribe(topic string, id string) {
	if h := b.topic(topic, false); h != nil {
		h.Unbind(id)
	}
}

// Publish calls every handler bound to topic on the caller's goroutine.
func (b *Bus) Publish(topic string, payload any) {
	h := b.topic(topic, false)
	if h == nil {
		return
	}
	if err := h.Trigger(&Event{Topic: topic, Payload: payload}); err != nil {
		slog.Warn("bus.publish.error", "topic", topic, "err", err)
	}
}

// Subscribers returns the number of handlers bound to topic.
func (b *Bus) Subscribers(topic string) int {
	h := b.topic(topic, false)
	if h == nil {
		return 0
	}
	return h.Length()
}
