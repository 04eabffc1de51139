// Package settings reads and writes the server_settings key/value collection.
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

const Collection = "server_settings"

// Well-known keys.
const (
	KeyPublicKey  = "cloud.publicKey"
	KeyPrivateKey = "cloud.privateKey"
	KeyRelay      = "cloud.relay"
	KeyBoxID      = "device.boxId"
	KeyBoxName    = "device.boxName"
)

// ErrNotFound is returned by Get for a key that has no record.
var ErrNotFound = errors.New("settings: key not found")

type entry struct {
	value string
	found bool
	at    time.Time
}

type listener struct {
	prefix string
	fn     func(key string)
}

// Store is a read-through cache over server_settings. Entries expire after
// the TTL and are dropped as soon as a record hook reports a change.
type Store struct {
	app core.App
	ttl time.Duration

	mu    sync.Mutex
	cache map[string]entry

	listenersMu sync.RWMutex
	listeners   []listener
}

func New(app core.App, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &Store{app: app, ttl: ttl, cache: make(map[string]entry)}
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, error) {
	s.mu.Lock()
	if e, ok := s.cache[key]; ok && time.Since(e.at) <= s.ttl {
		s.mu.Unlock()
		if !e.found {
			return "", ErrNotFound
		}
		return e.value, nil
	}
	s.mu.Unlock()

	rec, err := s.find(key)
	if err != nil {
		return "", err
	}
	e := entry{at: time.Now()}
	if rec != nil {
		e.value, e.found = rec.GetString("value"), true
	}
	s.mu.Lock()
	s.cache[key] = e
	s.mu.Unlock()
	if !e.found {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (s *Store) find(key string) (*core.Record, error) {
	rec, err := s.app.FindFirstRecordByFilter(Collection, "key = {:k}", dbx.Params{"k": key})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("settings: get %s: %w", key, err)
	}
	return rec, nil
}

// GetString returns the trimmed value for key, or def when unset or blank.
func (s *Store) GetString(key, def string) string {
	v, err := s.Get(key)
	if err != nil {
		return def
	}
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func (s *Store) GetInt(key string, def int) int {
	n, err := strconv.Atoi(s.GetString(key, ""))
	if err != nil {
		return def
	}
	return n
}

// GetBool accepts true/false, 1/0 and on/off.
func (s *Store) GetBool(key string, def bool) bool {
	switch strings.ToLower(s.GetString(key, "")) {
	case "true", "1", "on":
		return true
	case "false", "0", "off":
		return false
	default:
		return def
	}
}

// GetDuration reads a millisecond count.
func (s *Store) GetDuration(key string, def time.Duration) time.Duration {
	ms := s.GetInt(key, -1)
	if ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// Set creates or updates key.
func (s *Store) Set(key, value string) error {
	rec, err := s.find(key)
	if err != nil {
		return err
	}
	if rec == nil {
		col, err := s.app.FindCollectionByNameOrId(Collection)
		if err != nil {
			return err
		}
		rec = core.NewRecord(col)
		rec.Set("key", key)
	}
	rec.Set("value", value)
	if err := s.app.Save(rec); err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	s.Invalidate(key)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	rec, err := s.find(key)
	if err != nil || rec == nil {
		return err
	}
	if err := s.app.Delete(rec); err != nil {
		return fmt.Errorf("settings: delete %s: %w", key, err)
	}
	s.Invalidate(key)
	return nil
}

func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
}

// Credentials returns the stored device key pair.
func (s *Store) Credentials() (publicKey, privateKey string) {
	return s.GetString(KeyPublicKey, ""), s.GetString(KeyPrivateKey, "")
}

func (s *Store) SetCredentials(publicKey, privateKey string) error {
	if err := s.Set(KeyPublicKey, publicKey); err != nil {
		return err
	}
	return s.Set(KeyPrivateKey, privateKey)
}

// ClearCredentials forgets the key pair, as done on signoff.
func (s *Store) ClearCredentials() error {
	if err := s.Delete(KeyPublicKey); err != nil {
		return err
	}
	return s.Delete(KeyPrivateKey)
}

// OnChange calls fn on its own goroutine whenever a key with prefix is
// created, updated or deleted.
func (s *Store) OnChange(prefix string, fn func(key string)) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, listener{prefix: prefix, fn: fn})
	s.listenersMu.Unlock()
}

// RegisterHooks binds the record hooks that keep the cache fresh and drive
// OnChange listeners.
func (s *Store) RegisterHooks() {
	handle := func(op string) func(*core.RecordEvent) error {
		return func(e *core.RecordEvent) error {
			var key string
			if e != nil && e.Record != nil {
				key = strings.TrimSpace(e.Record.GetString("key"))
			}
			if key != "" {
				s.Invalidate(key)
				s.notify(op, key)
			}
			return e.Next()
		}
	}
	s.app.OnRecordAfterCreateSuccess(Collection).BindFunc(handle("create"))
	s.app.OnRecordAfterUpdateSuccess(Collection).BindFunc(handle("update"))
	s.app.OnRecordAfterDeleteSuccess(Collection).BindFunc(handle("delete"))
}

func (s *Store) notify(op, key string) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, l := range s.listeners {
		if strings.HasPrefix(key, l.prefix) {
			slog.Debug("settings.changed", "op", op, "key", key)
			go l.fn(key)
		}
	}
}
