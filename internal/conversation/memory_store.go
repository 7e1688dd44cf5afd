package conversation

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.Mutex
	settings settings
	contexts map[string]*Context
	closed   bool
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		settings: newSettings(opts),
		contexts: make(map[string]*Context),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) GetOrCreate(_ context.Context, instanceID, userID string) (Context, error) {
	if err := validateKey(instanceID, userID); err != nil {
		return Context{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Context{}, ErrStoreClosed
	}
	return s.getOrCreateLocked(instanceID, userID).clone(), nil
}

func (s *MemoryStore) Read(_ context.Context, instanceID, userID string) ([]Turn, error) {
	if err := validateKey(instanceID, userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.contexts[storeKey(instanceID, userID)]
	if !ok {
		return []Turn{}, nil
	}
	return rec.clone().Turns, nil
}

func (s *MemoryStore) AppendExchange(_ context.Context, instanceID, userID, userMessage, reply string, at time.Time) (Context, error) {
	if err := validateKey(instanceID, userID); err != nil {
		return Context{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Context{}, ErrStoreClosed
	}

	rec := s.getOrCreateLocked(instanceID, userID)
	rec.Turns = Prune(append(rec.Turns, exchange(userMessage, reply, at)...), s.settings.maxTurns)
	rec.UpdatedAt = s.settings.now()
	return rec.clone(), nil
}

func (s *MemoryStore) Clear(_ context.Context, instanceID, userID string) (bool, error) {
	if err := validateKey(instanceID, userID); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	rec, ok := s.contexts[storeKey(instanceID, userID)]
	if !ok {
		return false, nil
	}
	rec.Turns = []Turn{}
	rec.UpdatedAt = s.settings.now()
	return true, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.contexts = make(map[string]*Context)
	return nil
}

func (s *MemoryStore) getOrCreateLocked(instanceID, userID string) *Context {
	key := storeKey(instanceID, userID)
	if rec, ok := s.contexts[key]; ok {
		return rec
	}
	rec := newContext(instanceID, userID, s.settings.now())
	s.contexts[key] = &rec
	return &rec
}
