// Package memory provides an in-memory catalog store for tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/aegntic/cldcde-search/internal/catalog"
)

// Store implements catalog.Store with a mutex-guarded map.
type Store struct {
	mu       sync.RWMutex
	entities map[key]*catalog.Entity
}

type key struct {
	family catalog.Family
	id     string
}

// NewStore creates an empty in-memory catalog store.
func NewStore() *Store {
	return &Store{
		entities: make(map[key]*catalog.Entity),
	}
}

// Put inserts or replaces an entity.
func (s *Store) Put(entity *catalog.Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}

	cp := *entity
	s.mu.Lock()
	s.entities[key{entity.Family, entity.ID}] = &cp
	s.mu.Unlock()
	return nil
}

// Delete removes an entity. Removing a missing entity is a no-op.
func (s *Store) Delete(family catalog.Family, id string) {
	s.mu.Lock()
	delete(s.entities, key{family, id})
	s.mu.Unlock()
}

// FetchEntity retrieves the current snapshot of an entity by id.
func (s *Store) FetchEntity(_ context.Context, family catalog.Family, id string) (*catalog.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[key{family, id}]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *entity
	return &cp, nil
}

// Close implements catalog.Store.
func (s *Store) Close(context.Context) error {
	return nil
}
