package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/tests"
	"github.com/pocketbase/pocketbase/tools/subscriptions"

	"print-host/bus"
)

func TestForwarderMirrorsBusTopics(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatalf("new test app: %v", err)
	}
	t.Cleanup(app.Cleanup)

	client := subscriptions.NewDefaultClient()
	client.Subscribe(TopicPrefix + bus.TopicGatewayStatus)
	app.SubscriptionsBroker().Register(client)
	defer app.SubscriptionsBroker().Unregister(client.Id())

	received := make(chan subscriptions.Message, 1)
	go func() {
		received <- <-client.Channel()
	}()

	b := bus.New()
	f := NewForwarder(app, b)
	f.Start(bus.TopicGatewayStatus, bus.TopicGatewayStatus)
	if got := b.Subscribers(bus.TopicGatewayStatus); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}

	b.Publish(bus.TopicGatewayStatus, map[string]string{"status": "connected"})
	select {
	case msg := <-received:
		if msg.Name != TopicPrefix+bus.TopicGatewayStatus {
			t.Fatalf("message name = %q", msg.Name)
		}
		var body map[string]string
		if err := json.Unmarshal(msg.Data, &body); err != nil || body["status"] != "connected" {
			t.Fatalf("message data = %s (%v)", msg.Data, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no realtime message")
	}

	f.Stop()
	if got := b.Subscribers(bus.TopicGatewayStatus); got != 0 {
		t.Fatalf("subscribers after stop = %d", got)
	}
}

func TestNotifySkipsUnsubscribedClients(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatalf("new test app: %v", err)
	}
	t.Cleanup(app.Cleanup)

	client := subscriptions.NewDefaultClient()
	client.Subscribe("other")
	app.SubscriptionsBroker().Register(client)

	// an unsubscribed client must not be sent to, otherwise this blocks
	done := make(chan error, 1)
	go func() { done <- Notify(app, PingTopic, map[string]string{"x": "y"}) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("notify: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("notify blocked on an unsubscribed client")
	}
}
