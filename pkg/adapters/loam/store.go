// Package loam serves machine definitions from a loam document repository.
// The store is read-only: definitions are edited in the repository itself.
package loam

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aretw0/loam"
	"github.com/aretw0/switchboard/pkg/domain"
)

var extensions = []string{".json", ".yaml", ".yml"}

// Store implements ports.DefinitionStore and ports.Watchable over a typed loam repository.
type Store struct {
	Repo *loam.TypedRepository[Document]
}

// New creates a new Loam adapter.
func New(repo *loam.TypedRepository[Document]) *Store {
	return &Store{Repo: repo}
}

// Open initialises a strict, read-only loam repository at path.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve definition path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[Document](repo)), nil
}

// List returns the definition ids (document names without extension), sorted.
// Documents that declare neither an initial state nor transitions are skipped.
func (s *Store) List(ctx context.Context) ([]string, error) {
	docs, err := s.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id, ok := normalize(doc.ID)
		if !ok || !doc.Data.declaresMachine() {
			continue
		}
		if existing, dup := seen[id]; dup {
			return nil, fmt.Errorf("collision detected: definition '%s' is stored in both '%s' and '%s'", id, existing, doc.ID)
		}
		seen[id] = doc.ID
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Read returns the definition as JSON.
func (s *Store) Read(ctx context.Context, id string) ([]byte, error) {
	doc, err := s.Repo.Get(ctx, id)
	if err != nil {
		ids, listErr := s.List(ctx)
		if listErr == nil && !slices.Contains(ids, id) {
			return nil, domain.NotFound(id)
		}
		return nil, fmt.Errorf("loam get failed for %s: %w", id, err)
	}
	if !doc.Data.declaresMachine() {
		return nil, domain.NotFound(id)
	}

	data, err := json.Marshal(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal definition %s: %w", id, err)
	}
	return data, nil
}

// Write always fails with domain.ErrReadOnlyStore.
func (s *Store) Write(ctx context.Context, id string, data []byte) error {
	return fmt.Errorf("write %s: %w", id, domain.ErrReadOnlyStore)
}

// Delete always fails with domain.ErrReadOnlyStore.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	return false, fmt.Errorf("delete %s: %w", id, domain.ErrReadOnlyStore)
}

// Watch implements ports.Watchable.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	events, err := s.Repo.Watch(ctx, "**/*.{json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				// loam debounces on its own.
				id, _ := normalize(evt.ID)
				select {
				case ch <- id:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func normalize(docID string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(docID))
	if ext != "" && !slices.Contains(extensions, ext) {
		return "", false
	}
	return filepath.ToSlash(strings.TrimSuffix(docID, filepath.Ext(docID))), true
}
