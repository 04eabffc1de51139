package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"print-host/capture"
	"print-host/download"
	"print-host/printer"
)

type fakePrinter struct {
	mu       sync.Mutex
	state    printer.State
	calls    []string
	targets  map[string]float64
	selected string
	started  bool
}

func newFakePrinter() *fakePrinter {
	return &fakePrinter{
		state:   printer.State{Operational: true, Text: "Operational"},
		targets: make(map[string]float64),
	}
}

func (p *fakePrinter) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePrinter) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePrinter) setState(st printer.State) {
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
}

func (p *fakePrinter) State() printer.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePrinter) ActiveTool() string { return "tool0" }

func (p *fakePrinter) Job() printer.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return printer.Job{File: p.selected}
}

func (p *fakePrinter) Profile() printer.Profile {
	return printer.Profile{ID: "_default", Name: "Bench", Extruders: 1, HeatedBed: true}
}

func (p *fakePrinter) TogglePause() error { p.record("toggle_pause"); return nil }
func (p *fakePrinter) Cancel() error      { p.record("cancel"); return nil }

func (p *fakePrinter) Jog(j printer.Jog) error {
	p.record("jog")
	return nil
}

func (p *fakePrinter) Home(axes []string) error {
	p.record("home")
	return nil
}

func (p *fakePrinter) Extrude(amount, speed float64) error {
	p.record("extrude")
	return nil
}

func (p *fakePrinter) ChangeTool(tool string) error {
	p.record("change_tool:" + tool)
	return nil
}

func (p *fakePrinter) SetTemperature(heater string, target float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if heater == "chamber" {
		return errors.New("unknown heater")
	}
	p.targets[heater] = target
	return nil
}

func (p *fakePrinter) Target(heater string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.targets[heater]
	return t, ok
}

func (p *fakePrinter) SetFanSpeed(percent float64) error {
	p.record("fan")
	return nil
}

func (p *fakePrinter) SendCommands(cmds ...string) error {
	for _, c := range cmds {
		p.record("gcode:" + c)
	}
	return nil
}

func (p *fakePrinter) SelectFile(path string, start bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected = path
	p.started = start
	return nil
}

type fakeCamera struct {
	available bool
	streaming bool
	mu        sync.Mutex
}

func (c *fakeCamera) Available() bool { return c.available }

func (c *fakeCamera) Snapshot(context.Context) ([]byte, error) {
	return []byte("jpeg-bytes"), nil
}

func (c *fakeCamera) StartVideoStream(context.Context) error {
	c.mu.Lock()
	c.streaming = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCamera) StopVideoStream(context.Context) error {
	c.mu.Lock()
	c.streaming = false
	c.mu.Unlock()
	return nil
}

type fakeCapture struct {
	mu   sync.Mutex
	info capture.Info
}

func (c *fakeCapture) Info() capture.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

func (c *fakeCapture) SetCadence(freq int) (capture.Info, error) {
	if freq < 0 {
		return capture.Info{}, capture.ErrInvalidFreq
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info.Freq = freq
	c.info.Active = freq > 0
	return c.info, nil
}

type fakeDownloads struct {
	mu        sync.Mutex
	callbacks map[string]download.Callbacks
	items     []download.Item
}

func newFakeDownloads() *fakeDownloads {
	return &fakeDownloads{callbacks: make(map[string]download.Callbacks)}
}

func (d *fakeDownloads) Start(item download.Item, cb download.Callbacks) (string, error) {
	if item.URL == "" {
		return "", download.ErrMissingURL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks[item.ID] = cb
	d.items = append(d.items, item)
	return item.ID, nil
}

func (d *fakeDownloads) Cancel(id string) error {
	d.mu.Lock()
	cb, ok := d.callbacks[id]
	delete(d.callbacks, id)
	d.mu.Unlock()
	if !ok {
		return download.ErrUnknownDownload
	}
	cb.Cancelled()
	return nil
}

func (d *fakeDownloads) take(id string) download.Callbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := d.callbacks[id]
	delete(d.callbacks, id)
	return cb
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
