package control

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"print-host/bus"
	"print-host/printer"
)

type sentEvent struct {
	name string
	data string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentEvent
	fail bool
}

func (r *recordingSender) send(name string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("link down")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	r.sent = append(r.sent, sentEvent{name: name, data: string(b)})
	return nil
}

func (r *recordingSender) named(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.sent {
		if e.name == name {
			out = append(out, e.data)
		}
	}
	return out
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *bus.Bus, *recordingSender) {
	t.Helper()
	b := bus.New()
	rec := &recordingSender{}
	br := NewBroadcaster(b, rec.send, BroadcasterOptions{
		ActiveTool:      func() string { return "tool0" },
		CameraAvailable: func() bool { return true },
	})
	t.Cleanup(br.Close)
	return br, b, rec
}

func TestBroadcasterRegistersOnlyWhileSubscribed(t *testing.T) {
	br, b, rec := newTestBroadcaster(t)

	if n := b.Subscribers(bus.TopicTemperature); n != 0 {
		t.Fatalf("handlers bound before any subscriber: %d", n)
	}
	b.Publish(bus.TopicCapture, map[string]any{"freq": 5})
	if rec.count() != 0 {
		t.Fatalf("sent with no subscribers: %+v", rec.sent)
	}

	br.UpdateSubscribers(1)
	br.UpdateSubscribers(1)
	if n := b.Subscribers(bus.TopicTemperature); n != 1 {
		t.Fatalf("temperature handlers = %d, want 1", n)
	}
	br.UpdateSubscribers(-1)
	if n := b.Subscribers(bus.TopicTemperature); n != 1 {
		t.Fatalf("handlers dropped while a subscriber remains: %d", n)
	}
	if got := br.UpdateSubscribers(-5); got != 0 {
		t.Fatalf("subscriber count = %d, want clamp to 0", got)
	}
	for _, topic := range []string{bus.TopicTemperature, bus.TopicPrinterState, bus.TopicPrintProgress, bus.TopicCapture} {
		if n := b.Subscribers(topic); n != 0 {
			t.Fatalf("%s still has %d handlers", topic, n)
		}
	}

	b.Publish(bus.TopicCapture, map[string]any{"freq": 5})
	if rec.count() != 0 {
		t.Fatalf("sent after unsubscribe: %+v", rec.sent)
	}
}

func TestBroadcasterDeduplicatesByValue(t *testing.T) {
	br, b, rec := newTestBroadcaster(t)
	br.UpdateSubscribers(1)

	b.Publish(bus.TopicCapture, map[string]any{"a": 1, "b": []int{1, 2}})
	b.Publish(bus.TopicCapture, map[string]any{"b": []int{1, 2}, "a": 1})
	b.Publish(bus.TopicCapture, map[string]any{"a": 2, "b": []int{1, 2}})

	got := rec.named(EventPrintCapture)
	if len(got) != 2 {
		t.Fatalf("print_capture sent %d times, want 2: %v", len(got), got)
	}
	if got[1] != `{"a":2,"b":[1,2]}` {
		t.Fatalf("second print_capture = %s", got[1])
	}
}

func TestBroadcasterKeepsValueAfterFailedSend(t *testing.T) {
	br, b, rec := newTestBroadcaster(t)
	br.UpdateSubscribers(1)

	rec.fail = true
	b.Publish(bus.TopicCapture, map[string]any{"freq": 10})
	rec.fail = false
	b.Publish(bus.TopicCapture, map[string]any{"freq": 10})

	if got := rec.named(EventPrintCapture); len(got) != 1 {
		t.Fatalf("value not retried after failed send: %v", got)
	}
}

func TestBroadcasterTemperatureFilter(t *testing.T) {
	br, b, rec := newTestBroadcaster(t)
	br.UpdateSubscribers(1)

	b.Publish(bus.TopicTemperature, printer.Temperatures{
		"bed":   {Actual: 40, Target: 60},
		"tool0": {Actual: 180, Target: 200},
		"tool1": {Actual: 25, Target: 0},
	})
	got := rec.named(EventTempUpdate)
	if len(got) != 1 {
		t.Fatalf("temp_update sent %d times", len(got))
	}
	want := `{"bed":{"actual":40,"target":60},"tool0":{"actual":180,"target":200}}`
	if got[0] != want {
		t.Fatalf("temp_update = %s, want %s", got[0], want)
	}

	// A change on an inactive tool is filtered out, so nothing new is sent.
	b.Publish(bus.TopicTemperature, printer.Temperatures{
		"bed":   {Actual: 40, Target: 60},
		"tool0": {Actual: 180, Target: 200},
		"tool1": {Actual: 30, Target: 0},
	})
	if got := rec.named(EventTempUpdate); len(got) != 1 {
		t.Fatalf("inactive tool change sent: %v", got)
	}
}

func TestBroadcasterProgressFollowsPrinting(t *testing.T) {
	br, b, rec := newTestBroadcaster(t)
	br.UpdateSubscribers(1)

	b.Publish(bus.TopicPrintProgress, printer.Progress{Completion: 5})
	if got := rec.named(EventPrintingProgress); len(got) != 0 {
		t.Fatalf("progress sent while idle: %v", got)
	}

	b.Publish(bus.TopicPrinterState, printer.State{Operational: true, Printing: true})
	b.Publish(bus.TopicPrintProgress, printer.Progress{Completion: 10})
	b.Publish(bus.TopicPrinterState, printer.State{Operational: true})

	status := rec.named(EventStatusUpdate)
	if len(status) != 2 {
		t.Fatalf("status_update sent %d times: %v", len(status), status)
	}
	if status[0] != `{"camera":true,"operational":true,"paused":false,"printing":true}` {
		t.Fatalf("first status_update = %s", status[0])
	}
	progress := rec.named(EventPrintingProgress)
	if len(progress) != 2 || progress[1] != "null" {
		t.Fatalf("printing_progress = %v, want value then null", progress)
	}

	// Already null: a further idle state does not resend it.
	b.Publish(bus.TopicPrinterState, printer.State{Operational: true, Error: true})
	if got := rec.named(EventPrintingProgress); len(got) != 2 {
		t.Fatalf("null progress resent: %v", got)
	}
}

func TestBroadcasterPausedCountsAsPrinting(t *testing.T) {
	br, _, _ := newTestBroadcaster(t)
	upd := br.StatusFrom(printer.State{Operational: true, Paused: true})
	if !upd.Printing || !upd.Paused {
		t.Fatalf("paused status = %+v, want printing and paused", upd)
	}
}

func TestBroadcasterDownloadShapes(t *testing.T) {
	br, _, rec := newTestBroadcaster(t)
	br.UpdateSubscribers(1)

	br.PrintFileDownload(DownloadEvent{Kind: DownloadProgress, Progress: 42})
	br.PrintFileDownload(DownloadEvent{Kind: DownloadSuccess, Selected: true})
	br.PrintFileDownload(DownloadEvent{Kind: DownloadCancelled})
	br.PrintFileDownload(DownloadEvent{Kind: DownloadError, Err: errors.New("disk full")})

	want := []string{
		`{"progress":42}`,
		`{"progress":100,"selected":true}`,
		`{"cancelled":true}`,
		`{"error":true,"message":"disk full"}`,
	}
	got := rec.named(EventPrintFileDownload)
	if len(got) != len(want) {
		t.Fatalf("print_file_download = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBroadcasterResetForgetsSession(t *testing.T) {
	br, b, rec := newTestBroadcaster(t)
	br.UpdateSubscribers(2)
	b.Publish(bus.TopicCapture, map[string]any{"freq": 1})

	br.Reset()
	if br.Subscribers() != 0 || b.Subscribers(bus.TopicCapture) != 0 {
		t.Fatalf("reset left subscribers=%d handlers=%d", br.Subscribers(), b.Subscribers(bus.TopicCapture))
	}

	br.UpdateSubscribers(1)
	b.Publish(bus.TopicCapture, map[string]any{"freq": 1})
	if got := rec.named(EventPrintCapture); len(got) != 2 {
		t.Fatalf("value not resent in new session: %v", got)
	}
}

func TestBroadcasterResetDuringSendKeepsCacheClean(t *testing.T) {
	b := bus.New()
	rec := &recordingSender{}
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	br := NewBroadcaster(b, func(name string, data any) error {
		first := false
		once.Do(func() { first = true })
		if first {
			close(started)
			<-release
		}
		return rec.send(name, data)
	}, BroadcasterOptions{})
	t.Cleanup(br.Close)

	temps := printer.Temperatures{"tool0": {Actual: 200, Target: 210}}
	br.UpdateSubscribers(1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Publish(bus.TopicTemperature, temps)
	}()
	<-started
	br.Reset()
	close(release)
	<-done

	br.UpdateSubscribers(1)
	b.Publish(bus.TopicTemperature, temps)
	if got := rec.named(EventTempUpdate); len(got) != 2 {
		t.Fatalf("temp_update in new session suppressed: %v", got)
	}
}

func TestBroadcasterCloseIsIdempotent(t *testing.T) {
	br, b, rec := newTestBroadcaster(t)
	br.UpdateSubscribers(1)
	br.Close()
	br.Close()

	br.UpdateSubscribers(1)
	b.Publish(bus.TopicCapture, map[string]any{"freq": 1})
	if b.Subscribers(bus.TopicCapture) != 0 || rec.count() != 0 {
		t.Fatalf("closed broadcaster still forwarding")
	}
}
