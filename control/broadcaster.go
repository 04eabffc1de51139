package control

import (
	"encoding/json"
	"log/slog"
	"sync"

	"print-host/bus"
	"print-host/printer"
)

// StatusUpdate is the wire shape of status_update.
type StatusUpdate struct {
	Operational bool `json:"operational"`
	Printing    bool `json:"printing"`
	Paused      bool `json:"paused"`
	Camera      bool `json:"camera"`
}

// Download event kinds reported by print_file.
const (
	DownloadProgress  = "progress"
	DownloadSuccess   = "success"
	DownloadCancelled = "cancelled"
	DownloadError     = "error"
)

// DownloadEvent is one print-file download notification before normalization.
type DownloadEvent struct {
	Kind     string
	Progress int
	Selected bool
	Err      error
}

// SendFunc transmits one event to the relay.
type SendFunc func(name string, data any) error

// BroadcasterOptions supplies the printer facts the transforms need.
type BroadcasterOptions struct {
	ActiveTool      func() string
	CameraAvailable func() bool
}

type topicHandler struct {
	topic string
	fn    func(payload any)
}

// Broadcaster forwards local notifications to the relay while at least one
// remote subscriber is attached. Bus handlers are bound only while the
// subscriber count is positive, and each event is sent only when it differs
// from the last value sent under the same name.
type Broadcaster struct {
	bus        Bus
	send       SendFunc
	activeTool func() string
	camera     func() bool
	cache      *DedupCache
	metrics    *metrics
	handlers   []topicHandler

	mu          sync.Mutex
	subscribers int
	ids         map[string]string
	printing    bool
	closed      bool
	// epoch counts resets. A send that straddles a reset must not
	// repopulate the cleared cache.
	epoch uint64

	// sendMu makes compare, send and store one step per event.
	sendMu sync.Mutex
}

func NewBroadcaster(b Bus, send SendFunc, opts BroadcasterOptions) *Broadcaster {
	br := &Broadcaster{
		bus:        b,
		send:       send,
		activeTool: opts.ActiveTool,
		camera:     opts.CameraAvailable,
		cache:      NewDedupCache(),
		ids:        make(map[string]string),
	}
	if br.activeTool == nil {
		br.activeTool = func() string { return "tool0" }
	}
	if br.camera == nil {
		br.camera = func() bool { return false }
	}
	br.handlers = []topicHandler{
		{bus.TopicTemperature, br.onTemperature},
		{bus.TopicPrinterState, br.onPrinterState},
		{bus.TopicPrintProgress, br.onProgress},
		{bus.TopicCapture, br.onCapture},
	}
	return br
}

// Subscribers returns the current remote subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribers
}

// UpdateSubscribers applies a relay delta, clamping at zero, and binds or
// unbinds the bus handlers when the count crosses zero.
func (b *Broadcaster) UpdateSubscribers(delta int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.subscribers
	next := prev + delta
	if next < 0 {
		next = 0
	}
	b.subscribers = next
	switch {
	case prev == 0 && next > 0:
		b.registerLocked()
	case prev > 0 && next == 0:
		b.unregisterLocked()
	}
	slog.Debug("control.broadcaster.subscribers", "prev", prev, "delta", delta, "count", next)
	return next
}

func (b *Broadcaster) registerLocked() {
	if b.closed || b.bus == nil || len(b.ids) > 0 {
		return
	}
	for _, h := range b.handlers {
		b.ids[h.topic] = b.bus.Subscribe(h.topic, h.fn)
	}
	slog.Info("control.broadcaster.registered", "topics", len(b.ids))
}

func (b *Broadcaster) unregisterLocked() {
	if len(b.ids) == 0 {
		return
	}
	for topic, id := range b.ids {
		b.bus.Unsubscribe(topic, id)
	}
	b.ids = make(map[string]string)
	slog.Info("control.broadcaster.unregistered")
}

// Reset drops all subscribers and forgets sent values, so a new relay
// session starts from a clean slate.
func (b *Broadcaster) Reset() {
	b.mu.Lock()
	b.subscribers = 0
	b.printing = false
	b.unregisterLocked()
	b.epoch++
	b.cache.Reset()
	b.mu.Unlock()
}

// Close unbinds every handler and keeps them unbound. Safe to call repeatedly.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Reset()
}

func (b *Broadcaster) active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribers > 0 && !b.closed
}

func (b *Broadcaster) currentEpoch() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch
}

// storeSent records canon as sent unless a reset happened since epoch.
func (b *Broadcaster) storeSent(epoch uint64, name string, canon []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.epoch != epoch {
		return false
	}
	b.cache.Store(name, canon)
	return true
}

func (b *Broadcaster) isPrinting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.printing
}

// submit sends v under name unless it equals the last value sent. The
// cache only moves forward after a successful send.
func (b *Broadcaster) submit(name string, v any) {
	if !b.active() {
		return
	}
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	epoch := b.currentEpoch()

	canon, changed, err := b.cache.Changed(name, v)
	if err != nil {
		slog.Warn("control.broadcaster.encode.error", "event", name, "err", err)
		return
	}
	if !changed {
		if b.metrics != nil {
			b.metrics.eventsDeduped.Add(1)
		}
		return
	}
	if err := b.send(name, json.RawMessage(canon)); err != nil {
		slog.Warn("control.broadcaster.send.error", "event", name, "err", err)
		if b.metrics != nil {
			b.metrics.sendErrors.Add(1)
		}
		return
	}
	if !b.storeSent(epoch, name, canon) {
		slog.Debug("control.broadcaster.sent.stale", "event", name)
		return
	}
	if b.metrics != nil {
		b.metrics.eventsSent.Add(1)
	}
	slog.Debug("control.broadcaster.sent", "event", name, "fp", fingerprint(canon))
}

// StatusFrom derives the status_update shape from driver flags.
func (b *Broadcaster) StatusFrom(st printer.State) StatusUpdate {
	return StatusUpdate{
		Operational: st.Operational,
		Printing:    st.Printing || st.Paused,
		Paused:      st.Paused,
		Camera:      b.camera(),
	}
}

func (b *Broadcaster) onTemperature(payload any) {
	var temps printer.Temperatures
	switch t := payload.(type) {
	case printer.Temperatures:
		temps = t
	case map[string]printer.Temp:
		temps = t
	default:
		slog.Warn("control.broadcaster.payload.unexpected", "topic", bus.TopicTemperature)
		return
	}
	out := make(map[string]printer.Temp, 2)
	if bed, ok := temps["bed"]; ok {
		out["bed"] = bed
	}
	tool := b.activeTool()
	if t, ok := temps[tool]; ok {
		out[tool] = t
	}
	b.submit(EventTempUpdate, out)
}

func (b *Broadcaster) onPrinterState(payload any) {
	st, ok := payload.(printer.State)
	if !ok {
		slog.Warn("control.broadcaster.payload.unexpected", "topic", bus.TopicPrinterState)
		return
	}
	upd := b.StatusFrom(st)
	b.submit(EventStatusUpdate, upd)

	b.mu.Lock()
	b.printing = upd.Printing
	b.mu.Unlock()
	if !upd.Printing && b.cache.IsSet(EventPrintingProgress) {
		b.submit(EventPrintingProgress, nil)
	}
}

func (b *Broadcaster) onProgress(payload any) {
	if !b.isPrinting() {
		return
	}
	b.submit(EventPrintingProgress, payload)
}

func (b *Broadcaster) onCapture(payload any) {
	b.submit(EventPrintCapture, payload)
}

// PrintFileDownload normalizes a download notification into the
// print_file_download shapes and submits it.
func (b *Broadcaster) PrintFileDownload(evt DownloadEvent) {
	var data map[string]any
	switch evt.Kind {
	case DownloadProgress:
		pct := min(max(evt.Progress, 0), 100)
		data = map[string]any{"progress": pct}
	case DownloadSuccess:
		data = map[string]any{"progress": 100, "selected": evt.Selected}
	case DownloadCancelled:
		data = map[string]any{"cancelled": true}
	case DownloadError:
		msg := "download failed"
		if evt.Err != nil {
			msg = evt.Err.Error()
		}
		data = map[string]any{"error": true, "message": msg}
	default:
		slog.Warn("control.broadcaster.download.unknown_kind", "kind", evt.Kind)
		return
	}
	b.submit(EventPrintFileDownload, data)
}
