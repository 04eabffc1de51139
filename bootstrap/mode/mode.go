// Package mode wires the printer host together.
package mode

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pocketbase/pocketbase/core"

	"print-host/bootstrap/config"
	"print-host/bus"
	"print-host/camera"
	"print-host/capture"
	"print-host/control"
	"print-host/download"
	"print-host/mqttbridge"
	"print-host/poller"
	"print-host/printer"
	"print-host/realtime"
	"print-host/settings"
)

const settingsTTL = 5 * time.Second

// ErrGatewayDisabled is returned when no relay address is configured.
var ErrGatewayDisabled = errors.New("mode: no relay configured")

// Services is everything the HTTP layer and the process lifecycle need.
type Services struct {
	App       core.App
	Flags     config.Flags
	Settings  *settings.Store
	Bus       *bus.Bus
	Printer   *printer.Virtual
	Camera    *camera.HTTP
	Capture   *capture.Timelapse
	Downloads *download.Manager
	Poller    *poller.Manager
	Forwarder *realtime.Forwarder

	mu      sync.Mutex
	gateway *control.Gateway
	bridge  *mqttbridge.Bridge
	mqtt    mqtt.Client
	cancel  context.CancelFunc
	syncMu  sync.Mutex
}

// Build constructs the services that do not need the database yet.
func Build(app core.App, flags config.Flags) *Services {
	store := settings.New(app, settingsTTL)
	store.RegisterHooks()

	b := bus.New()
	name := flags.PrinterName
	if name == "" {
		name = "Virtual Printer"
	}
	prn := printer.NewVirtual(printer.Profile{
		ID:        "virtual",
		Name:      name,
		Model:     "virtual",
		Extruders: 1,
		HeatedBed: true,
		Volume:    printer.Volume{Width: 220, Depth: 220, Height: 250},
	})
	cam := camera.New(camera.Config{
		SnapshotURL:    flags.SnapshotURL,
		StreamStartURL: flags.StreamStartURL,
		StreamStopURL:  flags.StreamStopURL,
	})

	s := &Services{
		App:       app,
		Flags:     flags,
		Settings:  store,
		Bus:       b,
		Printer:   prn,
		Camera:    cam,
		Capture:   capture.NewTimelapse(flags.CaptureDir, cam, b),
		Downloads: download.NewManager(flags.DownloadDir, download.Shared()),
		Poller:    poller.NewManager(store, prn, b, poller.DefaultConfig()),
		Forwarder: realtime.NewForwarder(app, b),
	}
	s.Poller.RegisterHooks()
	return s
}

// Gateway returns the relay gateway, or nil before Start or without a relay.
func (s *Services) Gateway() *control.Gateway {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gateway
}

// Start runs the background workers and, when a relay is configured,
// creates the gateway and connects with the stored credentials.
func (s *Services) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if s.Flags.PublicKey != "" && s.Flags.PrivateKey != "" {
		if err := s.Settings.SetCredentials(s.Flags.PublicKey, s.Flags.PrivateKey); err != nil {
			slog.Warn("mode.credentials.seed.error", "err", err)
		}
	}

	go func() {
		if err := s.Poller.Run(ctx); err != nil {
			slog.Warn("poller.run.error", "err", err)
		}
	}()
	s.Forwarder.Start(bus.TopicGatewayStatus, bus.TopicPrinterState, bus.TopicCapture)
	s.startBridge()

	gw, err := s.buildGateway()
	if errors.Is(err, ErrGatewayDisabled) {
		slog.Warn("control.gateway.disabled", "reason", "no relay address; set --relay or cloud.relay")
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.gateway = gw
	s.mu.Unlock()

	s.Settings.OnChange("cloud.", func(key string) {
		if key == settings.KeyRelay {
			slog.Warn("control.gateway.relay_changed", "note", "restart to use the new relay address")
			return
		}
		s.SyncCredentials()
	})
	s.SyncCredentials()
	return nil
}

func (s *Services) buildGateway() (*control.Gateway, error) {
	address := s.Flags.Relay
	if address == "" {
		address = s.Settings.GetString(settings.KeyRelay, "")
	}
	if strings.TrimSpace(address) == "" {
		return nil, ErrGatewayDisabled
	}
	return control.New(control.Options{
		Address:  address,
		Identity: s.identity(),
		Policy: control.Policy{
			MaxRetries:  s.Flags.MaxRetries,
			RetryDelay:  s.Flags.RetryDelay,
			IdleTimeout: s.Flags.IdleTimeout,
		},
		Printer:   s.Printer,
		Camera:    s.Camera,
		Capture:   s.Capture,
		Downloads: s.Downloads,
		Bus:       s.Bus,
		Publisher: s.Bus,
		Stats:     control.NewPocketBaseStatsStore(s.App),
		Logout:    s.Settings.ClearCredentials,
	})
}

// identity reads the persistent box id, creating one on first use.
func (s *Services) identity() control.Identity {
	id := s.Settings.GetString(settings.KeyBoxID, "")
	if id == "" {
		id = uuid.NewString()
		if err := s.Settings.Set(settings.KeyBoxID, id); err != nil {
			slog.Warn("mode.identity.save.error", "err", err)
		}
	}
	name := s.Flags.BoxName
	if name == "" {
		name = s.Settings.GetString(settings.KeyBoxName, s.Printer.Profile().Name)
	}
	return control.Identity{BoxID: id, BoxName: name, SWVersion: s.Flags.SWVersion}
}

// SyncCredentials brings the relay link in line with the stored key pair:
// new keys reconnect, missing keys disconnect, a dropped link with
// unchanged keys is reconnected.
func (s *Services) SyncCredentials() {
	gw := s.Gateway()
	if gw == nil {
		return
	}
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	pub, priv := s.Settings.Credentials()
	want := control.Credentials{PublicKey: pub, PrivateKey: priv}
	if !want.Complete() {
		if gw.Status() != control.StatusDisconnected {
			slog.Info("control.gateway.credentials_removed")
			gw.Close()
		}
		return
	}
	status := gw.Status()
	if gw.Connection().Credentials() == want && (status == control.StatusConnecting || status == control.StatusConnected) {
		return
	}
	if status != control.StatusDisconnected {
		gw.Close()
	}
	if err := gw.Connect(want); err != nil {
		slog.Warn("control.gateway.connect.error", "err", err)
	}
}

func (s *Services) startBridge() {
	if s.Flags.MQTTBroker == "" {
		return
	}
	cfg := mqttbridge.Config{
		Broker:   s.Flags.MQTTBroker,
		ClientID: "print-host-" + s.Settings.GetString(settings.KeyBoxID, uuid.NewString()),
		Prefix:   s.Flags.MQTTPrefix,
	}
	client, err := mqttbridge.Dial(cfg)
	if err != nil {
		slog.Warn("mqttbridge.dial.error", "broker", cfg.Broker, "err", err)
		return
	}
	br := mqttbridge.New(client, s.Bus, cfg)
	br.Start(bus.TopicTemperature, bus.TopicPrinterState, bus.TopicPrintProgress, bus.TopicCapture, bus.TopicGatewayStatus)
	s.mu.Lock()
	s.mqtt, s.bridge = client, br
	s.mu.Unlock()
}

// Stop shuts everything down. It is safe to call more than once.
func (s *Services) Stop() {
	s.mu.Lock()
	gw, br, client, cancel := s.gateway, s.bridge, s.mqtt, s.cancel
	s.gateway, s.bridge, s.mqtt, s.cancel = nil, nil, nil, nil
	s.mu.Unlock()

	if gw != nil {
		gw.Shutdown()
	}
	if cancel != nil {
		cancel()
	}
	s.Capture.Stop()
	s.Forwarder.Stop()
	if br != nil {
		br.Stop()
	}
	if client != nil {
		client.Disconnect(250)
	}
}
