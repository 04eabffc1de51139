package realtime

import (
	"log/slog"
	"sync"

	"github.com/pocketbase/pocketbase/core"
)

// TopicPrefix namespaces forwarded bus topics on the SSE side.
const TopicPrefix = "printhost/"

type Subscriber interface {
	Subscribe(topic string, fn func(payload any)) string
	Unsubscribe(topic string, id string)
}

// Forwarder mirrors bus topics to realtime clients as TopicPrefix+topic.
type Forwarder struct {
	app core.App
	bus Subscriber

	mu  sync.Mutex
	ids map[string]string
}

func NewForwarder(app core.App, bus Subscriber) *Forwarder {
	return &Forwarder{app: app, bus: bus, ids: make(map[string]string)}
}

// Start subscribes to topics. Topics already forwarded are skipped.
func (f *Forwarder) Start(topics ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		if _, ok := f.ids[topic]; ok {
			continue
		}
		name := TopicPrefix + topic
		f.ids[topic] = f.bus.Subscribe(topic, func(payload any) {
			if err := Notify(f.app, name, payload); err != nil {
				slog.Warn("realtime.forward.error", "topic", name, "err", err)
			}
		})
	}
}

func (f *Forwarder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for topic, id := range f.ids {
		f.bus.Unsubscribe(topic, id)
	}
	clear(f.ids)
}
