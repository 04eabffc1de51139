package control

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"print-host/bus"
)

const (
	defaultSignoffDelay   = time.Second
	defaultCommandTimeout = 30 * time.Second
)

// Options wires a Gateway to its collaborators. Printer and Address are
// required; Camera, Capture, Downloads, Bus, Publisher and Stats are optional.
type Options struct {
	Address   string
	Identity  Identity
	Policy    Policy
	Printer   Printer
	Camera    Camera
	Capture   Capture
	Downloads Downloads
	Bus       Bus
	Publisher Publisher
	Stats     StatsStore
	// Logout runs after a remote signoff has closed the connection.
	Logout         func() error
	SignoffDelay   time.Duration
	CommandTimeout time.Duration
}

// StatusEvent is published on bus.TopicGatewayStatus.
type StatusEvent struct {
	Status      Status `json:"status"`
	RetryCount  int    `json:"retryCount"`
	Subscribers int    `json:"subscribers"`
}

// Snapshot is the gateway state reported by the local status route.
type Snapshot struct {
	StatusEvent
	URL            string              `json:"url"`
	HasCredentials bool                `json:"hasCredentials"`
	ActiveDownload string              `json:"activeDownload,omitempty"`
	Commands       []string            `json:"commands"`
	Groups         map[string][]string `json:"groups"`
	Stats          StatsSnapshot       `json:"stats"`
}

// Gateway joins the relay connection, the command dispatcher and the event
// broadcaster into one explicitly constructed unit.
type Gateway struct {
	conn        *Connection
	dispatcher  *Dispatcher
	broadcaster *Broadcaster

	printer   Printer
	camera    Camera
	capture   Capture
	downloads Downloads
	publisher Publisher
	stats     StatsStore
	logout    func() error

	signoffDelay   time.Duration
	commandTimeout time.Duration
	metrics        metrics
	groups         []*Group

	mu             sync.Mutex
	activeDownload string
	tasks          map[*time.Timer]struct{}
}

func New(opts Options) (*Gateway, error) {
	if opts.Printer == nil {
		return nil, errors.New("control: gateway needs a printer")
	}
	g := &Gateway{
		dispatcher:     NewDispatcher(),
		printer:        opts.Printer,
		camera:         opts.Camera,
		capture:        opts.Capture,
		downloads:      opts.Downloads,
		publisher:      opts.Publisher,
		stats:          opts.Stats,
		logout:         opts.Logout,
		signoffDelay:   opts.SignoffDelay,
		commandTimeout: opts.CommandTimeout,
		tasks:          make(map[*time.Timer]struct{}),
	}
	if g.signoffDelay <= 0 {
		g.signoffDelay = defaultSignoffDelay
	}
	if g.commandTimeout <= 0 {
		g.commandTimeout = defaultCommandTimeout
	}
	conn, err := NewConnection(opts.Address, opts.Identity, opts.Policy, g)
	if err != nil {
		return nil, err
	}
	g.conn = conn
	g.dispatcher.metrics = &g.metrics

	cameraAvailable := func() bool { return false }
	if g.camera != nil {
		cameraAvailable = g.camera.Available
	}
	g.broadcaster = NewBroadcaster(opts.Bus, g.SendEvent, BroadcasterOptions{
		ActiveTool:      g.printer.ActiveTool,
		CameraAvailable: cameraAvailable,
	})
	g.broadcaster.metrics = &g.metrics
	g.registerCommands()
	return g, nil
}

func (g *Gateway) Connection() *Connection      { return g.conn }
func (g *Gateway) Dispatcher() *Dispatcher      { return g.dispatcher }
func (g *Gateway) Broadcaster() *Broadcaster    { return g.broadcaster }
func (g *Gateway) Status() Status               { return g.conn.Status() }
func (g *Gateway) Stats() StatsSnapshot         { return g.metrics.snapshot() }
func (g *Gateway) SetCredentials(c Credentials) { g.conn.SetCredentials(c) }

// Connect installs creds and starts connecting. Incomplete credentials leave
// the gateway disconnected.
func (g *Gateway) Connect(creds Credentials) error {
	if !creds.Complete() {
		return ErrNoCredentials
	}
	g.conn.SetCredentials(creds)
	g.conn.Connect()
	return nil
}

// Close drops the relay link and cancels pending tasks. The gateway can be
// connected again afterwards.
func (g *Gateway) Close() {
	g.cancelTasks()
	g.conn.Close()
	g.broadcaster.Reset()
}

// Shutdown closes the gateway for good.
func (g *Gateway) Shutdown() {
	g.Close()
	g.broadcaster.Close()
	g.metrics.persist(g.stats)
}

// SendEvent wraps data in a send_event envelope and writes it to the relay.
func (g *Gateway) SendEvent(name string, data any) error {
	env, err := NewEnvelope(TypeSendEvent, "", Event{EventType: name, EventData: data})
	if err != nil {
		return err
	}
	return g.conn.Send(env)
}

// Snapshot reports the current gateway state.
func (g *Gateway) Snapshot() Snapshot {
	return Snapshot{
		StatusEvent:    g.statusEvent(g.conn.Status()),
		URL:            g.conn.URL(),
		HasCredentials: g.conn.Credentials().Complete(),
		ActiveDownload: g.ActiveDownload(),
		Commands:       g.dispatcher.Commands(),
		Groups:         g.groupCommands(),
		Stats:          g.metrics.snapshot(),
	}
}

func (g *Gateway) groupCommands() map[string][]string {
	out := make(map[string][]string, len(g.groups))
	for _, grp := range g.groups {
		out[grp.Name()] = grp.Names()
	}
	return out
}

func (g *Gateway) statusEvent(s Status) StatusEvent {
	return StatusEvent{Status: s, RetryCount: g.conn.RetryCount(), Subscribers: g.broadcaster.Subscribers()}
}

// HandleEnvelope implements Sink.
func (g *Gateway) HandleEnvelope(env Envelope) {
	switch env.Type {
	case TypeRequest:
		g.handleRequest(env)
	case TypeUpdateSubscribers:
		delta, err := DecodeSubscriberDelta(env)
		if err != nil {
			slog.Warn("control.gateway.update_subscribers.malformed", "err", err)
			return
		}
		g.broadcaster.UpdateSubscribers(delta)
	case TypeSetTemp:
		st, err := DecodeSetTemp(env)
		if err != nil {
			slog.Warn("control.gateway.set_temp.malformed", "err", err)
			return
		}
		if err := g.printer.SetTemperature(st.Heater, st.Target); err != nil {
			slog.Warn("control.gateway.set_temp.error", "heater", st.Heater, "target", st.Target, "err", err)
		}
	default:
		slog.Warn("control.gateway.unknown_type", "type", env.Type)
	}
}

func (g *Gateway) handleRequest(env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), g.commandTimeout)
	defer cancel()
	resp := g.dispatcher.Dispatch(ctx, env)
	if err := g.conn.Send(resp); err != nil {
		slog.Warn("control.gateway.response.send.error", "reqId", env.ReqID, "err", err)
	}
}

// StatusChanged implements Sink.
func (g *Gateway) StatusChanged(s Status) {
	switch s {
	case StatusConnecting:
		if g.conn.RetryCount() > 0 {
			g.metrics.reconnects.Add(1)
		}
	case StatusConnected:
		g.metrics.connects.Add(1)
	case StatusDisconnected, StatusError:
		// A pending signoff belongs to the session that just ended.
		g.cancelTasks()
		g.broadcaster.Reset()
	}
	slog.Info("control.gateway.status", "status", s)
	if g.publisher != nil {
		g.publisher.Publish(bus.TopicGatewayStatus, g.statusEvent(s))
	}
	if s != StatusConnecting {
		g.metrics.persist(g.stats)
	}
}

func (g *Gateway) runSignoff() {
	slog.Info("control.gateway.signoff")
	g.Close()
	if g.logout == nil {
		return
	}
	if err := g.logout(); err != nil {
		slog.Warn("control.gateway.logout.error", "err", err)
	}
}

// schedule runs fn after d unless the gateway closes first.
func (g *Gateway) schedule(d time.Duration, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		g.mu.Lock()
		_, live := g.tasks[t]
		delete(g.tasks, t)
		g.mu.Unlock()
		if live {
			fn()
		}
	})
	g.tasks[t] = struct{}{}
}

func (g *Gateway) cancelTasks() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for t := range g.tasks {
		t.Stop()
		delete(g.tasks, t)
	}
}

// PendingTasks reports how many delayed tasks are scheduled.
func (g *Gateway) PendingTasks() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}
