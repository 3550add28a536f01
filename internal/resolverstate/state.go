// Package resolverstate remembers which unresolved catalog rows were already
// attempted so incremental runs can skip them.
package resolverstate

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grandcru/winematch/internal/normalize"
)

const seenKey = "seen_unresolved"

// Fingerprint identifies an unresolved row across runs. Cosmetic changes to
// the name or URLs that canonicalize away do not change it.
func Fingerprint(name, year, urlMain, urlPlat string) string {
	raw := strings.Join([]string{
		strings.TrimSpace(name),
		strings.TrimSpace(year),
		strings.TrimSpace(urlMain),
		strings.TrimSpace(urlPlat),
	}, "|")
	return normalize.Canonicalize(raw)
}

// Store is the persisted {"seen_unresolved": {fingerprint: epoch}} map.
// Unknown top-level keys in the file are preserved on save.
type Store struct {
	path string

	mu    sync.Mutex
	seen  map[string]int64
	extra map[string]json.RawMessage
}

// New returns an empty store saving to path.
func New(path string) *Store {
	return &Store{path: path, seen: make(map[string]int64), extra: make(map[string]json.RawMessage)}
}

// Load reads the state file. Missing, corrupt or wrongly shaped content
// yields an empty store.
func Load(path string) (*Store, error) {
	s := New(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, eris.Wrapf(err, "resolverstate: read %s", path)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		zap.L().Warn("resolverstate: ignoring unreadable state file",
			zap.String("path", path),
			zap.Error(err),
		)
		return s, nil
	}

	for k, v := range payload {
		if k != seenKey {
			s.extra[k] = v
		}
	}

	var seen map[string]json.RawMessage
	if err := json.Unmarshal(payload[seenKey], &seen); err != nil {
		return s, nil
	}
	for fp, raw := range seen {
		var ts float64
		if err := json.Unmarshal(raw, &ts); err != nil {
			ts = 0
		}
		s.seen[fp] = int64(ts)
	}
	return s, nil
}

// Seen reports whether fp was stamped by an earlier run.
func (s *Store) Seen(fp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[fp]
	return ok
}

// Mark stamps fp with now.
func (s *Store) Mark(fp string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[fp] = now.Unix()
}

// LastSeen returns when fp was last stamped.
func (s *Store) LastSeen(fp string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.seen[fp]
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(ts, 0), true
}

// Len returns the number of stamped fingerprints.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Save writes the state as indented JSON with sorted keys, atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, err := json.Marshal(s.seen)
	if err != nil {
		return eris.Wrap(err, "resolverstate: marshal seen")
	}
	payload := make(map[string]json.RawMessage, len(s.extra)+1)
	for k, v := range s.extra {
		payload[k] = v
	}
	payload[seenKey] = seen

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return eris.Wrap(err, "resolverstate: marshal")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return eris.Wrapf(err, "resolverstate: create dir for %s", s.path)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "resolverstate: write %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "resolverstate: rename %s", tmp)
	}
	return nil
}
