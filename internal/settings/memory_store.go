package settings

import (
	"context"
	"sync"
)

// MemoryStore keeps settings in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	saved *Settings
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		return Settings{}, ErrNotFound
	}
	return *s.saved, nil
}

func (s *MemoryStore) Save(_ context.Context, v Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = &v
	return nil
}
