// Package poller samples the printer driver on fixed cadences and publishes
// what it reads on the local bus.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"print-host/bus"
	"print-host/printer"
	"print-host/settings"
)

// Settings keys, in milliseconds.
const (
	KeyEnabled       = "poller.enabled"
	KeyTemperatureMs = "poller.temperatureMs"
	KeyStateMs       = "poller.stateMs"
	KeyProgressMs    = "poller.progressMs"
)

// Source is the part of a printer driver the poller reads.
type Source interface {
	Temperatures() printer.Temperatures
	State() printer.State
	Progress() printer.Progress
}

type Publisher interface {
	Publish(topic string, payload any)
}

type Config struct {
	Enabled             bool
	TemperatureInterval time.Duration
	StateInterval       time.Duration
	ProgressInterval    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		TemperatureInterval: 2 * time.Second,
		StateInterval:       time.Second,
		ProgressInterval:    5 * time.Second,
	}
}

type Manager struct {
	store  *settings.Store
	source Source
	pub    Publisher

	cfgMu sync.RWMutex
	cfg   Config

	tickersMu sync.Mutex
	tickers   map[string]*time.Ticker

	reloadMu sync.Mutex
}

// NewManager builds a poller. A nil store keeps cfg for the lifetime of
// the manager.
func NewManager(store *settings.Store, source Source, pub Publisher, cfg Config) *Manager {
	m := &Manager{store: store, source: source, pub: pub, tickers: make(map[string]*time.Ticker)}
	m.setConfig(cfg)
	return m
}

func (m *Manager) currentConfig() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

func (m *Manager) setConfig(cfg Config) {
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
}

// loadConfig reads cadences from settings, falling back to the current values.
func (m *Manager) loadConfig() Config {
	cfg := m.currentConfig()
	if m.store == nil {
		return cfg
	}
	cfg.Enabled = m.store.GetBool(KeyEnabled, cfg.Enabled)
	cfg.TemperatureInterval = m.store.GetDuration(KeyTemperatureMs, cfg.TemperatureInterval)
	cfg.StateInterval = m.store.GetDuration(KeyStateMs, cfg.StateInterval)
	cfg.ProgressInterval = m.store.GetDuration(KeyProgressMs, cfg.ProgressInterval)
	return cfg
}

// RegisterHooks reloads the cadences whenever a poller.* setting changes.
func (m *Manager) RegisterHooks() {
	if m.store == nil {
		return
	}
	m.store.OnChange("poller.", func(key string) { m.Reload("setting:" + key) })
}

// Reload re-reads the configuration and resets the running tickers.
func (m *Manager) Reload(reason string) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	prev := m.currentConfig()
	cfg := m.loadConfig()
	m.setConfig(cfg)
	m.resetTicker("temperature", cfg.TemperatureInterval)
	m.resetTicker("state", cfg.StateInterval)
	m.resetTicker("progress", cfg.ProgressInterval)
	slog.Info("poller.reload",
		"reason", reason,
		"changed", prev != cfg,
		"enabled", cfg.Enabled,
		"temperatureMs", cfg.TemperatureInterval.Milliseconds(),
		"stateMs", cfg.StateInterval.Milliseconds(),
		"progressMs", cfg.ProgressInterval.Milliseconds(),
	)
}

// Run polls until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.setConfig(m.loadConfig())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.loop(ctx, "temperature", func(c Config) time.Duration { return c.TemperatureInterval }, m.pollTemperatures)
	})
	g.Go(func() error {
		return m.loop(ctx, "state", func(c Config) time.Duration { return c.StateInterval }, m.pollState)
	})
	g.Go(func() error {
		return m.loop(ctx, "progress", func(c Config) time.Duration { return c.ProgressInterval }, m.pollProgress)
	})
	return g.Wait()
}

// PollOnce samples everything immediately.
func (m *Manager) PollOnce() {
	m.pollState()
	m.pollTemperatures()
	m.pollProgress()
}

func (m *Manager) loop(ctx context.Context, name string, interval func(Config) time.Duration, poll func()) error {
	ticker := time.NewTicker(positive(interval(m.currentConfig())))
	m.setTicker(name, ticker)
	defer func() {
		ticker.Stop()
		m.setTicker(name, nil)
	}()
	for {
		if m.currentConfig().Enabled {
			poll()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Manager) pollTemperatures() {
	m.pub.Publish(bus.TopicTemperature, m.source.Temperatures())
}

func (m *Manager) pollState() {
	m.pub.Publish(bus.TopicPrinterState, m.source.State())
}

func (m *Manager) pollProgress() {
	m.pub.Publish(bus.TopicPrintProgress, m.source.Progress())
}

func (m *Manager) setTicker(name string, t *time.Ticker) {
	m.tickersMu.Lock()
	if t == nil {
		delete(m.tickers, name)
	} else {
		m.tickers[name] = t
	}
	m.tickersMu.Unlock()
}

func (m *Manager) resetTicker(name string, interval time.Duration) {
	m.tickersMu.Lock()
	t := m.tickers[name]
	m.tickersMu.Unlock()
	if t != nil {
		t.Reset(positive(interval))
	}
}

func positive(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}
