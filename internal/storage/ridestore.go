package storage

import (
	"sync"

	"github.com/example/ride-broker/internal/models"
)

// RideStore defines persistence operations for ride requests.
type RideStore interface {
	SaveRequest(r *models.RideRequest) error
	UpdateRequest(r *models.RideRequest) error
}

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]models.RideRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]models.RideRequest)}
}

func (m *MemoryStore) SaveRequest(r *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = *r
	return nil
}

func (m *MemoryStore) UpdateRequest(r *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = *r
	return nil
}

func (m *MemoryStore) Get(id string) (models.RideRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	return r, ok
}
