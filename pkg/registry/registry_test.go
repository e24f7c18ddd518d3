package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/switchboard/pkg/adapters/memory"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ivr = `
id: ivr_demo
initial: new_call
transitions:
  - { name: startCall, from: new_call, to: main_menu }
  - { name: disconnect, from: "*", to: call_ended }
`

type countingStore struct {
	*memory.Store
	mu    sync.Mutex
	reads int
}

func (s *countingStore) Read(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.Store.Read(ctx, id)
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func TestRegistry_GetCachesCompiledMachine(t *testing.T) {
	store := &countingStore{Store: memory.NewStore(map[string]string{"ivr_demo": ivr})}
	reg := registry.New(store)
	ctx := context.Background()

	inst, err := reg.Get(ctx, "ivr_demo", map[string]any{"channelId": "ch-1"})
	require.NoError(t, err)
	assert.Equal(t, "new_call", inst.State())
	assert.Equal(t, "ch-1", inst.SessionID())

	other, err := reg.Get(ctx, "ivr_demo", nil)
	require.NoError(t, err)
	assert.NotEqual(t, inst.ID(), other.ID())
	assert.Same(t, inst.Machine(), other.Machine())
	assert.Equal(t, 1, store.count())
	assert.Equal(t, []string{"ivr_demo"}, reg.Cached())
}

func TestRegistry_NotFound(t *testing.T) {
	reg := registry.New(memory.NewStore(nil))

	_, err := reg.Get(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)
	assert.False(t, errors.Is(err, domain.ErrInvalidDefinition))
}

func TestRegistry_InvalidDefinition(t *testing.T) {
	var loads []domain.LoadEvent
	reg := registry.New(
		memory.NewStore(map[string]string{"broken": `{"transitions": []}`}),
		registry.WithHooks(domain.LifecycleHooks{OnLoad: func(_ context.Context, e *domain.LoadEvent) { loads = append(loads, *e) }}),
	)

	_, err := reg.Machine(context.Background(), "broken")
	assert.ErrorIs(t, err, domain.ErrInvalidDefinition)
	require.Len(t, loads, 1)
	assert.Equal(t, domain.OutcomeFailed, loads[0].Outcome)
	assert.Empty(t, reg.Cached())
}

func TestRegistry_InvalidateReloads(t *testing.T) {
	store := memory.NewStore(map[string]string{"ivr_demo": ivr})
	reg := registry.New(store)
	ctx := context.Background()

	first, err := reg.Machine(ctx, "ivr_demo")
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "ivr_demo", []byte(`{"initial": "other", "transitions": [{"name": "go", "from": "other", "to": "done"}]}`)))
	cached, err := reg.Machine(ctx, "ivr_demo")
	require.NoError(t, err)
	assert.Same(t, first, cached)

	reg.Invalidate("ivr_demo")
	reloaded, err := reg.Machine(ctx, "ivr_demo")
	require.NoError(t, err)
	assert.Equal(t, "other", reloaded.Initial())

	reg.InvalidateAll()
	assert.Empty(t, reg.Cached())
}

func TestRegistry_Preload(t *testing.T) {
	store := memory.NewStore(map[string]string{
		"ivr_demo": ivr,
		"broken":   "initial: [",
	})
	reg := registry.New(store)

	err := reg.Preload(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidDefinition)
	assert.Equal(t, []string{"ivr_demo"}, reg.Cached())

	ids, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"broken", "ivr_demo"}, ids)
}

func TestRegistry_Check(t *testing.T) {
	reg := registry.New(memory.NewStore(map[string]string{"ivr_demo": ivr}))

	m, err := reg.Check(context.Background(), "ivr_demo")
	require.NoError(t, err)
	assert.Equal(t, "ivr_demo", m.ID())
	assert.Empty(t, reg.Cached())
}

func TestRegistry_WatchInvalidates(t *testing.T) {
	store := memory.NewStore(map[string]string{"ivr_demo": ivr})
	reg := registry.New(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := reg.Machine(ctx, "ivr_demo")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- reg.Watch(ctx, store) }()

	// Wait for the watcher to subscribe before writing.
	require.Eventually(t, func() bool {
		_ = store.Write(ctx, "ivr_demo", []byte(ivr))
		return len(reg.Cached()) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	reg := registry.New(memory.NewStore(map[string]string{"ivr_demo": ivr}))
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := reg.Get(ctx, "ivr_demo", nil)
			if assert.NoError(t, err) {
				assert.NoError(t, inst.Fire(ctx, "startCall", nil))
			}
			reg.Invalidate("ivr_demo")
		}()
	}
	wg.Wait()
}
