package control

import (
	"bytes"
	"sync"
)

// Event names forwarded to the relay.
const (
	EventTempUpdate        = "temp_update"
	EventStatusUpdate      = "status_update"
	EventPrintingProgress  = "printing_progress"
	EventPrintCapture      = "print_capture"
	EventPrintFileDownload = "print_file_download"
)

var canonicalNull = []byte("null")

// DedupCache remembers the last value sent per event name as canonical JSON.
// Storing the encoding rather than the value keeps the cache independent of
// later mutation by the caller.
type DedupCache struct {
	mu   sync.Mutex
	last map[string][]byte
}

func NewDedupCache() *DedupCache {
	return &DedupCache{last: make(map[string][]byte)}
}

// Changed canonicalizes v and reports whether it differs from the cached
// value for name. The canonical bytes are returned for a later Store.
func (c *DedupCache) Changed(name string, v any) ([]byte, bool, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.last[name]
	if ok && bytes.Equal(prev, canon) {
		return canon, false, nil
	}
	return canon, true, nil
}

// Store records canon as the last value sent for name.
func (c *DedupCache) Store(name string, canon []byte) {
	c.mu.Lock()
	c.last[name] = append([]byte(nil), canon...)
	c.mu.Unlock()
}

// IsSet reports whether a non-null value was last sent for name.
func (c *DedupCache) IsSet(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.last[name]
	return ok && !bytes.Equal(prev, canonicalNull)
}

// Reset forgets every cached value.
func (c *DedupCache) Reset() {
	c.mu.Lock()
	c.last = make(map[string][]byte)
	c.mu.Unlock()
}
