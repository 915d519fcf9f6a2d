package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cache is a write-once, content-addressed result cache. Keys must include
// the upstream artifact fingerprint and an algorithm version string; a key
// that omits either turns staleness into a correctness bug.
type Cache struct {
	dir string
	mu  sync.Mutex
}

// NewCache creates a cache rooted at dir.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Key derives a cache key from its components.
func Key(components ...string) string {
	h := sha256.New()
	for _, c := range components {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	Key      string          `json:"key"`
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get returns the cached payload for key, or ok=false on a miss. A present
// but unreadable or checksum-failing entry surfaces ErrCacheCorrupt.
func (c *Cache) Get(key string, out interface{}) (ok bool, err error) {
	raw, err := os.ReadFile(c.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %v", ErrCacheCorrupt, key, err)
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrCacheCorrupt, key, err)
	}
	if entry.Key != key || entry.Checksum != Fingerprint(entry.Payload) {
		return false, fmt.Errorf("%w: checksum mismatch for %s", ErrCacheCorrupt, key)
	}
	if err := json.Unmarshal(entry.Payload, out); err != nil {
		return false, fmt.Errorf("%w: payload %s: %v", ErrCacheCorrupt, key, err)
	}
	return true, nil
}

// Put stores a payload under key. Insertion is the only locked operation;
// entries are write-once and an existing entry is left untouched.
func (c *Cache) Put(key string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache mkdir: %w", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	entry := cacheEntry{Key: key, Checksum: Fingerprint(raw), Payload: raw}
	blob, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache marshal entry: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("cache temp: %w", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache rename: %w", err)
	}
	return nil
}
