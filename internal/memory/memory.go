// Package memory implements the process-wide key-value store: a flat JSON
// object on disk, rewritten whole on every save. The system treats it as
// single-writer-at-a-time during a mission.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Well-known keys used by the core.
const (
	KeyMissionPlan    = "mission_plan"
	KeyPostContent    = "post_content"
	KeyDisplayContext = "display_context"
)

// Store is a durable string-to-JSON mapping.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open creates the backing file (and its directory) if missing and returns
// the store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("memory: empty store path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("memory: create dir: %w", err)
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeAtomic(path, []byte("{}\n")); err != nil {
			return nil, fmt.Errorf("memory: init store: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// Save writes value under key and rewrites the whole store durably before
// returning.
func (s *Store) Save(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadAllLocked()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory: marshal %q: %w", key, err)
	}
	data[key] = raw

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: marshal store: %w", err)
	}
	return writeAtomic(s.path, append(out, '\n'))
}

// Load unmarshals the value stored under key into out. The second return is
// false when the key is missing.
func (s *Store) Load(key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadAllLocked()
	if err != nil {
		return false, err
	}
	raw, ok := data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("memory: unmarshal %q: %w", key, err)
	}
	return true, nil
}

// Keys returns every key currently in the store.
func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadAllLocked()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *Store) loadAllLocked() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("memory: read store: %w", err)
	}
	data := make(map[string]json.RawMessage)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("memory: parse store: %w", err)
		}
	}
	return data, nil
}

// writeAtomic writes via temp file + rename so a crash never leaves a
// half-written store.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".memory-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
