package switchboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/switchboard"
	"github.com/aretw0/switchboard/pkg/adapters/memory"
	"github.com/aretw0/switchboard/pkg/adapters/redis"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/registry"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ivrDemo = `
id: ivr_demo
initial: new_call
terminalStates: [call_ended]
transitions:
  - { name: startCall, from: new_call, to: main_menu }
  - { name: input_1, from: main_menu, to: sales }
  - { name: disconnect, from: "*", to: call_ended }
scripts:
  enter:
    sales: 'fsm.routed = "sales:" + fsm.callerId'
`

func newRuntime(t *testing.T, opts ...switchboard.Option) (*switchboard.Runtime, *memory.Store) {
	t.Helper()
	store := memory.NewStore(map[string]string{"ivr_demo": ivrDemo})
	return switchboard.New(registry.New(store), opts...), store
}

func TestRuntime_Fire(t *testing.T) {
	rt, _ := newRuntime(t)
	ctx := context.Background()

	t.Run("advances from the given state", func(t *testing.T) {
		res, err := rt.Fire(ctx, switchboard.FireRequest{
			MachineID:    "ivr_demo",
			Transition:   "input_1",
			CurrentState: "main_menu",
			InitialData:  map[string]any{"callerId": "555"},
		})
		require.NoError(t, err)
		assert.Equal(t, "sales", res.NewState)
		assert.Equal(t, []string{"disconnect"}, res.PossibleTransitions)
		assert.Equal(t, "sales:555", res.Fields["routed"])
		assert.Equal(t, `Transition "input_1" successful.`, res.Message)
	})

	t.Run("refused transition", func(t *testing.T) {
		_, err := rt.Fire(ctx, switchboard.FireRequest{MachineID: "ivr_demo", Transition: "input_1", CurrentState: "new_call"})
		var refused *domain.TransitionRefusedError
		require.ErrorAs(t, err, &refused)
		assert.Equal(t, "new_call", refused.State)
		assert.ElementsMatch(t, []string{"startCall", "disconnect"}, refused.Available)
	})

	t.Run("unknown current state is refused", func(t *testing.T) {
		_, err := rt.Fire(ctx, switchboard.FireRequest{MachineID: "ivr_demo", Transition: "input_1", CurrentState: "nowhere"})
		assert.ErrorIs(t, err, domain.ErrTransitionRefused)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := rt.Fire(ctx, switchboard.FireRequest{MachineID: "ivr_demo", Transition: "input_1"})
		assert.ErrorIs(t, err, switchboard.ErrInvalidRequest)
	})

	t.Run("unknown machine", func(t *testing.T) {
		_, err := rt.Fire(ctx, switchboard.FireRequest{MachineID: "nope", Transition: "x", CurrentState: "y"})
		assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)
	})
}

func TestRuntime_DefinitionLifecycle(t *testing.T) {
	rt, store := newRuntime(t)
	ctx := context.Background()

	ids, err := rt.Machines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ivr_demo"}, ids)

	_, err = rt.Graph(ctx, "ivr_demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"ivr_demo"}, rt.Registry().Cached())

	t.Run("invalid documents are not written", func(t *testing.T) {
		err := rt.SaveDefinition(ctx, "ivr_demo", []byte(`{"initial":"a","transitions":[{"name":"x","from":"a"}]}`))
		assert.ErrorIs(t, err, domain.ErrInvalidDefinition)

		data, err := store.Read(ctx, "ivr_demo")
		require.NoError(t, err)
		assert.Equal(t, ivrDemo, string(data))
	})

	t.Run("save replaces and invalidates", func(t *testing.T) {
		doc := `{"initial":"idle","transitions":[{"name":"go","from":"idle","to":"done"}]}`
		require.NoError(t, rt.SaveDefinition(ctx, "ivr_demo", []byte(doc)))
		assert.Empty(t, rt.Registry().Cached())

		dot, err := rt.DOT(ctx, "ivr_demo")
		require.NoError(t, err)
		assert.Contains(t, dot, `"idle" -> "done" [label="go"];`)

		raw, err := rt.Definition(ctx, "ivr_demo")
		require.NoError(t, err)
		assert.JSONEq(t, doc, string(raw))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, rt.DeleteDefinition(ctx, "ivr_demo"))
		assert.ErrorIs(t, rt.DeleteDefinition(ctx, "ivr_demo"), domain.ErrDefinitionNotFound)
		_, err := rt.Graph(ctx, "ivr_demo")
		assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)
	})
}

func TestRuntime_Reload(t *testing.T) {
	rt, store := newRuntime(t)
	ctx := context.Background()

	require.NoError(t, rt.Reload(ctx, "ivr_demo"))
	assert.Equal(t, []string{"ivr_demo"}, rt.Registry().Cached())

	require.NoError(t, store.Write(ctx, "broken", []byte(`initial: ""`)))
	err := rt.Reload(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidDefinition)
	assert.Equal(t, []string{"ivr_demo"}, rt.Registry().Cached())
}

func TestRuntime_SaveUnderDistributedLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client)
	locker := redis.NewLocker(client, redis.DefaultPrefix)
	rt := switchboard.New(registry.New(store), switchboard.WithLocker(locker, time.Second))
	ctx := context.Background()

	require.NoError(t, rt.SaveDefinition(ctx, "ivr_demo", []byte(ivrDemo)))
	assert.False(t, mr.Exists(redis.DefaultPrefix+"lock:definition:ivr_demo"))

	t.Run("held lock blocks writers", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "definition:ivr_demo", 5*time.Second)
		require.NoError(t, err)
		defer func() { _ = unlock(ctx) }()

		short, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		defer cancel()
		err = rt.SaveDefinition(short, "ivr_demo", []byte(ivrDemo))
		assert.ErrorIs(t, err, redis.ErrLockAcquire)
	})
}

func TestRuntime_SessionsWithoutRouter(t *testing.T) {
	rt, _ := newRuntime(t)
	assert.NotNil(t, rt.Sessions())
	assert.Empty(t, rt.Sessions())
	assert.Nil(t, rt.Router())
	assert.NotEmpty(t, switchboard.Version)
}
