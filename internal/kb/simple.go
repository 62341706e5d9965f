package kb

import (
	"fmt"
	"os"
	"sort"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SimpleStore keeps entries in memory, optionally mirrored to a JSON
// file after every mutation. Entries are normalized through JSON on the
// way in, so numeric fields always compare as float64.
type SimpleStore struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
}

// NewSimpleStore opens a store backed by the JSON file at path. An
// empty path keeps the store memory-only. A missing file starts empty;
// an unreadable one is an error.
func NewSimpleStore(path string) (*SimpleStore, error) {
	s := &SimpleStore{
		path:    path,
		entries: make(map[string]Entry),
	}
	if path == "" {
		return s, nil
	}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kb: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &s.entries); err != nil {
		return nil, fmt.Errorf("kb: parse %s: %w", path, err)
	}
	return s, nil
}

// Create inserts e under a fresh id and returns the id.
func (s *SimpleStore) Create(e Entry) (string, error) {
	doc, err := normalize(e)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.entries[id] = doc
	return id, s.persistLocked()
}

// Read returns copies of every entry matching f, ordered by id.
func (s *SimpleStore) Read(f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id, e := range s.entries {
		if matchEntry(e, f) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		doc, err := normalize(s.entries[id])
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// Update merges set into every entry matching f and returns the match
// count. When nothing matches, set is inserted as a new entry.
func (s *SimpleStore) Update(f Filter, set Entry) (int, error) {
	doc, err := normalize(set)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if matchEntry(e, f) {
			for k, v := range doc {
				e[k] = v
			}
			n++
		}
	}
	if n == 0 {
		s.entries[uuid.NewString()] = doc
	}
	return n, s.persistLocked()
}

// Delete removes every entry matching f and returns how many went.
func (s *SimpleStore) Delete(f Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, e := range s.entries {
		if matchEntry(e, f) {
			delete(s.entries, id)
			n++
		}
	}
	return n, s.persistLocked()
}

// Count returns how many entries match f.
func (s *SimpleStore) Count(f Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entries {
		if matchEntry(e, f) {
			n++
		}
	}
	return n, nil
}

// Size returns the total number of entries.
func (s *SimpleStore) Size() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Close writes the store to disk one last time.
func (s *SimpleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *SimpleStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("kb: marshal store: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("kb: write %s: %w", s.path, err)
	}
	return nil
}

// normalize deep-copies e through JSON so callers cannot alias stored
// maps and numbers land as float64.
func normalize(e Entry) (Entry, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("kb: marshal entry: %w", err)
	}
	var doc Entry
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("kb: copy entry: %w", err)
	}
	if doc == nil {
		doc = Entry{}
	}
	return doc, nil
}
