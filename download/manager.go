package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUnknownDownload is returned when cancelling an id that is not running.
	ErrUnknownDownload = errors.New("download: no such download")
	// ErrMissingURL rejects items without a source URL.
	ErrMissingURL = errors.New("download: item has no url")
)

// Item is one cloud print file to fetch.
type Item struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Callbacks receive download outcomes on the download goroutine. Exactly one
// of Success, Cancelled or Error is called per download.
type Callbacks struct {
	Progress  func(percent int)
	Success   func(path string)
	Cancelled func()
	Error     func(err error)
}

// Manager runs downloads in the background, one goroutine each.
type Manager struct {
	dir    string
	client *http.Client

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func NewManager(dir string, client *http.Client) *Manager {
	if client == nil {
		client = Shared()
	}
	return &Manager{dir: dir, client: client, active: make(map[string]context.CancelFunc)}
}

// Start begins fetching item and returns its id, generating one when empty.
func (m *Manager) Start(item Item, cb Callbacks) (string, error) {
	if strings.TrimSpace(item.URL) == "" {
		return "", ErrMissingURL
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	name, err := fileName(item)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if _, busy := m.active[item.ID]; busy {
		m.mu.Unlock()
		return "", fmt.Errorf("download %s already running", item.ID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.active[item.ID] = cancel
	m.mu.Unlock()

	slog.Info("download.start", "id", item.ID, "url", item.URL, "file", name)
	go m.run(ctx, item, name, cb)
	return item.ID, nil
}

// Cancel stops a running download.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	cancel, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDownload, id)
	}
	cancel()
	return nil
}

// Active lists the ids of running downloads.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) finish(id string) {
	m.mu.Lock()
	if cancel, ok := m.active[id]; ok {
		cancel()
		delete(m.active, id)
	}
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, item Item, name string, cb Callbacks) {
	defer m.finish(item.ID)

	dest, err := m.fetch(ctx, item, name, cb.Progress)
	switch {
	case err == nil:
		slog.Info("download.done", "id", item.ID, "path", dest)
		if cb.Success != nil {
			cb.Success(dest)
		}
	case ctx.Err() != nil:
		slog.Info("download.cancelled", "id", item.ID)
		if cb.Cancelled != nil {
			cb.Cancelled()
		}
	default:
		slog.Warn("download.error", "id", item.ID, "err", err)
		if cb.Error != nil {
			cb.Error(err)
		}
	}
}

func (m *Manager) fetch(ctx context.Context, item Item, name string, progress func(int)) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("GET %s: status %d", item.URL, resp.StatusCode)
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(m.dir, name)
	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return "", err
	}
	w := &progressWriter{total: resp.ContentLength, report: progress, last: -1}
	_, copyErr := io.Copy(io.MultiWriter(f, w), resp.Body)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(part)
		return "", copyErr
	}
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return "", err
	}
	return dest, nil
}

func fileName(item Item) (string, error) {
	name := item.Name
	if name == "" {
		u, err := url.Parse(item.URL)
		if err != nil {
			return "", fmt.Errorf("download url: %w", err)
		}
		name = path.Base(u.Path)
	}
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		name = item.ID + ".gcode"
	}
	return name, nil
}

// progressWriter reports whole percent steps below 100; completion is
// reported through Success.
type progressWriter struct {
	total   int64
	written int64
	last    int
	report  func(int)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.report == nil || w.total <= 0 {
		return len(p), nil
	}
	pct := int(w.written * 100 / w.total)
	if pct > 99 {
		pct = 99
	}
	if pct > w.last {
		w.last = pct
		w.report(pct)
	}
	return len(p), nil
}
