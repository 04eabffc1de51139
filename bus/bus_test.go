package bus

import (
	"sync"
	"testing"
)

func TestPublishReachesTopicSubscribers(t *testing.T) {
	b := New()
	var got []any
	id := b.Subscribe(TopicPrinterState, func(p any) { got = append(got, p) })
	b.Subscribe(TopicTemperature, func(any) { t.Fatalf("wrong topic delivered") })

	b.Publish(TopicPrinterState, "a")
	b.Publish(TopicPrinterState, "b")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v", got)
	}

	b.Unsubscribe(TopicPrinterState, id)
	b.Unsubscribe(TopicPrinterState, id)
	b.Unsubscribe("nope", id)
	b.Publish(TopicPrinterState, "c")
	if len(got) != 2 {
		t.Fatalf("delivered after unsubscribe: %v", got)
	}
}

func TestSubscribersCountsHandlers(t *testing.T) {
	b := New()
	if n := b.Subscribers(TopicCapture); n != 0 {
		t.Fatalf("empty topic = %d", n)
	}
	a := b.Subscribe(TopicCapture, func(any) {})
	b.Subscribe(TopicCapture, func(any) {})
	if n := b.Subscribers(TopicCapture); n != 2 {
		t.Fatalf("subscribers = %d", n)
	}
	b.Unsubscribe(TopicCapture, a)
	if n := b.Subscribers(TopicCapture); n != 1 {
		t.Fatalf("subscribers = %d", n)
	}
	b.Publish("unknown.topic", nil)
}

func TestHandlerMaySubscribeDuringPublish(t *testing.T) {
	b := New()
	var once sync.Once
	b.Subscribe(TopicGatewayStatus, func(any) {
		once.Do(func() { b.Subscribe(TopicGatewayStatus, func(any) {}) })
	})
	b.Publish(TopicGatewayStatus, nil)
	if n := b.Subscribers(TopicGatewayStatus); n != 2 {
		t.Fatalf("subscribers = %d", n)
	}
}
