package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultInMemoryCap = 2000

// InMemoryStore keeps the most recent turns per owner in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	cap     int
	records map[string][]TurnRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{cap: defaultInMemoryCap, records: make(map[string][]TurnRecord)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	arr := append(s.records[record.OwnerID], record)
	if over := len(arr) - s.cap; over > 0 {
		arr = append([]TurnRecord(nil), arr[over:]...)
	}
	s.records[record.OwnerID] = arr
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, ownerID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[ownerID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	return append([]TurnRecord(nil), arr[len(arr)-limit:]...), nil
}

func (s *InMemoryStore) Close() error { return nil }
