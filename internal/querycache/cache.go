// Package querycache persists raw web-search results between runs, keyed by
// provider, result count and query text.
package querycache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grandcru/winematch/internal/model"
)

var spaceRe = regexp.MustCompile(`\s+`)

type entry struct {
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Results   json.RawMessage `json:"results,omitempty"`
}

// Cache is an in-memory view of the cache file. It is read fully on Load
// and rewritten fully on Save. Safe for concurrent use.
type Cache struct {
	path    string
	mu      sync.RWMutex
	entries map[string]entry
}

// New returns an empty cache that saves to path.
func New(path string) *Cache {
	return &Cache{path: path, entries: make(map[string]entry)}
}

// Load reads the cache file at path. A missing, empty, corrupt or
// non-object file yields an empty cache; only read errors are returned.
func Load(path string) (*Cache, error) {
	c := New(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c, nil
		}
		return nil, eris.Wrapf(err, "querycache: read %s", path)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return c, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		zap.L().Warn("querycache: ignoring unreadable cache file",
			zap.String("path", path),
			zap.Error(err),
		)
		return c, nil
	}
	for key, msg := range raw {
		var e entry
		if err := json.Unmarshal(msg, &e); err != nil {
			continue
		}
		c.entries[key] = e
	}

	zap.L().Debug("querycache: loaded",
		zap.String("path", path),
		zap.Int("entries", len(c.entries)),
	)
	return c, nil
}

// Key builds the cache key for a provider, query and requested result count.
func Key(provider, query string, maxResults int) string {
	q := spaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(query)), " ")
	return provider + "|" + strconv.Itoa(maxResults) + "|" + q
}

// Get returns the cached hits for the key. An entry older than ttl is a
// miss; ttl <= 0 disables expiry. A malformed results list is a miss and
// hits without a URL are dropped. A hit may be an empty slice.
func (c *Cache) Get(provider, query string, maxResults int, ttl time.Duration, now time.Time) ([]model.SearchHit, bool) {
	c.mu.RLock()
	e, ok := c.entries[Key(provider, query, maxResults)]
	c.mu.RUnlock()
	if !ok || (len(e.Timestamp) == 0 && len(e.Results) == 0) {
		return nil, false
	}

	if ts, ok := parseTimestamp(e.Timestamp); ok && ttl > 0 {
		if now.Sub(ts) > ttl {
			return nil, false
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(e.Results, &items); err != nil || items == nil {
		return nil, false
	}

	hits := make([]model.SearchHit, 0, len(items))
	for _, item := range items {
		var h struct {
			URL   any `json:"url"`
			Title any `json:"title"`
		}
		if err := json.Unmarshal(item, &h); err != nil {
			continue
		}
		url := strings.TrimSpace(stringify(h.URL))
		if url == "" {
			continue
		}
		hits = append(hits, model.SearchHit{URL: url, Title: strings.TrimSpace(stringify(h.Title))})
	}
	return hits, true
}

// Put stores hits under the key stamped with now, replacing any prior entry.
func (c *Cache) Put(provider, query string, maxResults int, hits []model.SearchHit, now time.Time) {
	if hits == nil {
		hits = []model.SearchHit{}
	}
	results, err := json.Marshal(hits)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[Key(provider, query, maxResults)] = entry{
		Timestamp: json.RawMessage(strconv.FormatInt(now.Unix(), 10)),
		Results:   results,
	}
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Save writes the cache as indented JSON with sorted keys, atomically.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// encoding/json sorts map keys.
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return eris.Wrap(err, "querycache: marshal")
	}
	return writeAtomic(c.path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "querycache: create dir for %s", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "querycache: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "querycache: rename %s", tmp)
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, int64(secs*float64(time.Second))), true
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
