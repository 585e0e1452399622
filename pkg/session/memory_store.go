package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory session store. Suitable for single-process
// deployments and tests.
type MemoryStore struct {
	sessions map[string]map[string]string
	mutex    sync.RWMutex
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]map[string]string),
	}
}

func (s *MemoryStore) Get(ctx context.Context, sessionID, key string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	values, exists := s.sessions[sessionID]
	if !exists {
		return "", nil
	}
	return values[key], nil
}

func (s *MemoryStore) Put(ctx context.Context, sessionID, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	values, exists := s.sessions[sessionID]
	if !exists {
		values = make(map[string]string)
		s.sessions[sessionID] = values
	}
	values[key] = value
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if values, exists := s.sessions[sessionID]; exists {
		delete(values, key)
	}
	return nil
}
