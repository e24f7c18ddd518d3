// Package file stores machine definitions as JSON or YAML documents in a directory.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/fsnotify/fsnotify"
)

// Extensions lists the recognised document extensions in lookup order.
var Extensions = []string{".json", ".yaml", ".yml"}

// DefaultDebounce is the quiet period after the last filesystem event for a file.
const DefaultDebounce = 100 * time.Millisecond

// Store implements ports.DefinitionStore and ports.Watchable over <dir>/<id>.<ext>.
type Store struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
	mu       sync.Mutex
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithDebounce sets the per-file quiet period used by Watch.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// New creates a Store rooted at dir. If dir is empty it defaults to "fsm_definitions".
func New(dir string, opts ...Option) *Store {
	if dir == "" {
		dir = "fsm_definitions"
	}
	s := &Store{
		dir:      dir,
		debounce: DefaultDebounce,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

func idFromName(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(Extensions, ext) {
		return "", false
	}
	id := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if id == "" || strings.HasPrefix(id, ".") || strings.HasPrefix(id, "tmp-") {
		return "", false
	}
	return id, true
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return &domain.DefinitionError{ID: id, Field: "id", Reason: "not a valid file name", Err: domain.ErrInvalidDefinition}
	}
	return nil
}

// existing returns the paths currently holding the definition id.
func (s *Store) existing(id string) []string {
	var paths []string
	for _, ext := range Extensions {
		p := filepath.Join(s.dir, id+ext)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}

// List returns every definition id in the directory, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	seen := make(map[string]struct{})
	ids := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := idFromName(entry.Name())
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Read returns the first document found for id following Extensions order.
func (s *Store) Read(ctx context.Context, id string) ([]byte, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	for _, ext := range Extensions {
		data, err := os.ReadFile(filepath.Join(s.dir, id+ext))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read definition %s: %w", id, err)
		}
	}
	return nil, domain.NotFound(id)
}

// Write replaces the document in place, or creates <id>.json (<id>.yaml for YAML input).
// The write goes through a temp file and a rename.
func (s *Store) Write(ctx context.Context, id string, data []byte) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure definition directory: %w", err)
	}

	dest := filepath.Join(s.dir, id+".yaml")
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		dest = filepath.Join(s.dir, id+".json")
	}
	if paths := s.existing(id); len(paths) > 0 {
		dest = paths[0]
	}

	tmp, err := os.CreateTemp(s.dir, "tmp-"+id+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// os.Rename does not replace an existing file on Windows.
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("failed to remove existing definition for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", dest, err)
	}
	return nil
}

// Delete removes every document stored under id.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := validID(id); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existed := false
	for _, p := range s.existing(id) {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return existed, fmt.Errorf("failed to delete definition %s: %w", id, err)
		}
		existed = true
	}
	return existed, nil
}

// Watch reports the id of every definition file that changes, once per quiet period.
// The channel is closed when ctx is done.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure definition directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	out := make(chan string, 16)
	go s.watch(ctx, w, out)
	return out, nil
}

func (s *Store) watch(ctx context.Context, w *fsnotify.Watcher, out chan<- string) {
	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for id, t := range pending {
			if t.Stop() {
				wg.Done()
			}
			delete(pending, id)
		}
		mu.Unlock()
		wg.Wait()
		_ = w.Close()
		close(out)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			id, ok := idFromName(event.Name)
			if !ok {
				continue
			}
			mu.Lock()
			if t, ok := pending[id]; ok && t.Stop() {
				wg.Done()
			}
			wg.Add(1)
			pending[id] = time.AfterFunc(s.debounce, func() {
				defer wg.Done()
				mu.Lock()
				delete(pending, id)
				mu.Unlock()
				select {
				case out <- id:
				case <-ctx.Done():
				}
			})
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("definition watcher error", "dir", s.dir, "err", err)
		}
	}
}
