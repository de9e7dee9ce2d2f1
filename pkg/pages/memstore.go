package pages

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. It backs the server when no database
// is configured and is used in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	pages map[string]Page

	// Reads counts FindByID calls
	Reads int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pages: make(map[string]Page)}
}

// FindByID returns a copy of the page stored under id.
func (s *MemoryStore) FindByID(_ context.Context, id string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Reads++
	page, ok := s.pages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return page.Clone(), nil
}

// Create stores data under id, replacing any previous page.
func (s *MemoryStore) Create(_ context.Context, id string, data Page) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pages[id] = data.Clone()
	return data.Clone(), nil
}

// Update replaces the page stored under id.
func (s *MemoryStore) Update(_ context.Context, id string, data Page) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pages[id]; !ok {
		return nil, ErrNotFound
	}
	s.pages[id] = data.Clone()
	return data.Clone(), nil
}

// Delete removes the page stored under id.
func (s *MemoryStore) Delete(_ context.Context, id string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.pages[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.pages, id)
	return page, nil
}

// ReadCount returns the number of FindByID calls.
func (s *MemoryStore) ReadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Reads
}
