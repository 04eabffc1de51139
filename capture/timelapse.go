package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"print-host/bus"
)

var (
	// ErrInvalidFreq rejects cadences that are not a positive number of seconds.
	ErrInvalidFreq = errors.New("capture: freq must be a positive number of seconds")
	// ErrNoCamera is returned when no snapshot source is configured.
	ErrNoCamera = errors.New("capture: no camera available")
)

const snapshotTimeout = 10 * time.Second

// Info is published on bus.TopicCapture whenever the cadence or frame count changes.
type Info struct {
	Active    bool   `json:"active"`
	Freq      int    `json:"freq"`
	Frames    int    `json:"frames"`
	LastFrame string `json:"lastFrame,omitempty"`
}

// Snapshotter grabs one still image. Available reports whether a snapshot
// source is configured at all.
type Snapshotter interface {
	Available() bool
	Snapshot(ctx context.Context) ([]byte, error)
}

// Publisher announces capture info changes.
type Publisher interface {
	Publish(topic string, payload any)
}

// Timelapse stores a frame every Freq seconds into dir.
type Timelapse struct {
	dir string
	cam Snapshotter
	pub Publisher

	mu     sync.Mutex
	info   Info
	ticker *time.Ticker
	stop   chan struct{}
}

func NewTimelapse(dir string, cam Snapshotter, pub Publisher) *Timelapse {
	return &Timelapse{dir: dir, cam: cam, pub: pub}
}

func (t *Timelapse) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// SetCadence starts capturing every freq seconds, or changes the cadence of
// a running capture.
func (t *Timelapse) SetCadence(freq int) (Info, error) {
	if freq <= 0 {
		return Info{}, ErrInvalidFreq
	}
	if t.cam == nil || !t.cam.Available() {
		return Info{}, ErrNoCamera
	}
	interval := time.Duration(freq) * time.Second

	t.mu.Lock()
	t.info.Freq = freq
	if t.info.Active {
		t.ticker.Reset(interval)
	} else {
		if err := os.MkdirAll(t.dir, 0o755); err != nil {
			t.mu.Unlock()
			return Info{}, fmt.Errorf("capture dir: %w", err)
		}
		t.info.Active = true
		t.ticker = time.NewTicker(interval)
		t.stop = make(chan struct{})
		go t.loop(t.ticker, t.stop)
	}
	info := t.info
	t.mu.Unlock()

	slog.Info("capture.cadence", "freq", freq)
	t.publish(info)
	return info, nil
}

// Stop ends a running capture. It is safe to call when idle.
func (t *Timelapse) Stop() {
	t.mu.Lock()
	if !t.info.Active {
		t.mu.Unlock()
		return
	}
	t.ticker.Stop()
	close(t.stop)
	t.info.Active = false
	info := t.info
	t.mu.Unlock()
	t.publish(info)
}

func (t *Timelapse) loop(ticker *time.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.captureFrame()
		}
	}
}

func (t *Timelapse) captureFrame() {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	img, err := t.cam.Snapshot(ctx)
	if err != nil {
		slog.Warn("capture.frame.error", "err", err)
		return
	}
	t.mu.Lock()
	n := t.info.Frames + 1
	t.mu.Unlock()

	name := fmt.Sprintf("frame-%06d.jpg", n)
	if err := os.WriteFile(filepath.Join(t.dir, name), img, 0o644); err != nil {
		slog.Warn("capture.frame.write.error", "file", name, "err", err)
		return
	}

	t.mu.Lock()
	t.info.Frames = n
	t.info.LastFrame = name
	info := t.info
	t.mu.Unlock()
	t.publish(info)
}

func (t *Timelapse) publish(info Info) {
	if t.pub != nil {
		t.pub.Publish(bus.TopicCapture, info)
	}
}
