// Package memory provides an in-memory definition store for tests and embedded use.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/aretw0/switchboard/pkg/domain"
)

// Store implements ports.DefinitionStore and ports.Watchable in memory.
// Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers []chan string
}

// NewStore creates a store holding a copy of the given raw documents.
func NewStore(docs map[string]string) *Store {
	s := &Store{data: make(map[string][]byte, len(docs))}
	for id, doc := range docs {
		s.data[id] = []byte(doc)
	}
	return s
}

// NewFromDefinitions creates a store from domain definitions, serialized as JSON.
func NewFromDefinitions(defs ...*domain.Definition) (*Store, error) {
	s := NewStore(nil)
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("definition missing id")
		}
		raw, err := json.Marshal(def)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal definition %s: %w", def.ID, err)
		}
		s.data[def.ID] = raw
	}
	return s, nil
}

// List returns all identifiers, sorted.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.data)), nil
}

// Read returns a copy of the stored document.
func (s *Store) Read(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[id]
	if !ok {
		return nil, domain.NotFound(id)
	}
	return slices.Clone(data), nil
}

// Write stores a copy of data and notifies watchers.
func (s *Store) Write(_ context.Context, id string, data []byte) error {
	s.mu.Lock()
	s.data[id] = slices.Clone(data)
	s.mu.Unlock()
	s.notify(id)
	return nil
}

// Delete removes id and notifies watchers when it existed.
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	_, ok := s.data[id]
	delete(s.data, id)
	s.mu.Unlock()
	if ok {
		s.notify(id)
	}
	return ok, nil
}

// Watch reports every written or deleted identifier until ctx is done.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 16)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.watchers = slices.DeleteFunc(s.watchers, func(c chan string) bool { return c == ch })
		close(ch)
	}()
	return ch, nil
}

func (s *Store) notify(id string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.watchers {
		select {
		case ch <- id:
		default:
			// Full buffer: ask for a full reload instead of blocking the writer.
			select {
			case ch <- "":
			default:
			}
		}
	}
}
