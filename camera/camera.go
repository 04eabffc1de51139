// Package camera talks to an mjpg-streamer style webcam service over HTTP.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no snapshot URL is set.
var ErrNotConfigured = errors.New("camera: not configured")

const maxSnapshotBytes = 16 << 20

// Config holds the webcam endpoints. Stream URLs are optional; when empty
// the stream commands succeed without doing anything.
type Config struct {
	SnapshotURL    string
	StreamStartURL string
	StreamStopURL  string
	Timeout        time.Duration
}

type HTTP struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTP{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Available reports whether a snapshot endpoint is configured.
func (c *HTTP) Available() bool {
	return strings.TrimSpace(c.cfg.SnapshotURL) != ""
}

// Snapshot fetches one still image.
func (c *HTTP) Snapshot(ctx context.Context) ([]byte, error) {
	if !c.Available() {
		return nil, ErrNotConfigured
	}
	resp, err := c.do(ctx, http.MethodGet, c.cfg.SnapshotURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	img, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("camera: read snapshot: %w", err)
	}
	if len(img) == 0 {
		return nil, errors.New("camera: empty snapshot")
	}
	return img, nil
}

func (c *HTTP) StartVideoStream(ctx context.Context) error {
	return c.trigger(ctx, c.cfg.StreamStartURL)
}

func (c *HTTP) StopVideoStream(ctx context.Context) error {
	return c.trigger(ctx, c.cfg.StreamStopURL)
}

func (c *HTTP) trigger(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	resp, err := c.do(ctx, http.MethodPost, url)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *HTTP) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera: %s %s: %w", method, url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("camera: %s %s: status %d", method, url, resp.StatusCode)
	}
	return resp, nil
}
