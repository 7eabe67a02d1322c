package directory

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"
)

// Directory is the biker-city registry: a durable mapping from biker id to
// the free-text city label the biker registered under. Reads during a
// broadcast fan-out may be stale by one concurrent write.
type Directory interface {
	Get(ctx context.Context, bikerID int64) (string, bool, error)
	Set(ctx context.Context, bikerID int64, city string) error
	All(ctx context.Context) (map[int64]string, error)
}

// FileStore persists the registry as a flat JSON file, rewritten on every
// update.
type FileStore struct {
	path string

	mu     sync.RWMutex
	cities map[int64]string
}

// NewFileStore loads the registry from path. A missing file is an empty
// registry, not an error.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, cities: make(map[int64]string)}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	raw := make(map[string]string)
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		s.cities[id] = v
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, bikerID int64) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	city, ok := s.cities[bikerID]
	return city, ok, nil
}

func (s *FileStore) Set(_ context.Context, bikerID int64, city string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cities[bikerID] = city
	return s.persistLocked()
}

func (s *FileStore) All(_ context.Context) (map[int64]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]string, len(s.cities))
	for id, city := range s.cities {
		out[id] = city
	}
	return out, nil
}

func (s *FileStore) persistLocked() error {
	raw := make(map[string]string, len(s.cities))
	for id, city := range s.cities {
		raw[strconv.FormatInt(id, 10)] = city
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o644)
}
