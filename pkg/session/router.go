package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aretw0/switchboard/pkg/machine"
	"github.com/aretw0/switchboard/pkg/ports"
)

// ErrSessionBound is returned by HandleStart for a session that already has a binding.
var ErrSessionBound = errors.New("session already bound")

// Machines is the registry view the router needs.
type Machines interface {
	Machine(ctx context.Context, id string) (*machine.Machine, error)
	Get(ctx context.Context, id string, seed map[string]any, opts ...machine.InstanceOption) (*machine.Instance, error)
}

// Names are the transition naming conventions the router relies on.
type Names struct {
	Start        string
	InputPrefix  string
	GenericInput string
	InvalidInput string
	Disconnect   string
}

// DefaultNames returns the conventional transition names.
func DefaultNames() Names {
	return Names{
		Start:        "startCall",
		InputPrefix:  "input_",
		GenericInput: "handleDtmf",
		InvalidInput: "invalid_input",
		Disconnect:   "disconnect",
	}
}

type binding struct {
	machineID string
	inst      *machine.Instance
	since     time.Time
}

// Router maps session events onto machine transitions.
type Router struct {
	machines Machines
	control  ports.CallControl
	selector Selector
	names    Names
	logger   *slog.Logger
	hooks    domain.LifecycleHooks

	mu       sync.RWMutex
	bindings map[string]*binding
	locks    *sessionLocks
	bg       sync.WaitGroup
}

// Option configures the Router.
type Option func(*Router)

// WithCallControl sets the handle used to answer and hang up sessions.
func WithCallControl(cc ports.CallControl) Option {
	return func(r *Router) {
		r.control = cc
	}
}

// WithSelector sets the machine selection rules.
func WithSelector(s Selector) Option {
	return func(r *Router) {
		r.selector = s
	}
}

// WithNames overrides the transition naming conventions. Empty fields keep their default.
func WithNames(n Names) Option {
	return func(r *Router) {
		d := DefaultNames()
		r.names = Names{
			Start:        or(n.Start, d.Start),
			InputPrefix:  or(n.InputPrefix, d.InputPrefix),
			GenericInput: or(n.GenericInput, d.GenericInput),
			InvalidInput: or(n.InvalidInput, d.InvalidInput),
			Disconnect:   or(n.Disconnect, d.Disconnect),
		}
	}
}

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithHooks registers session lifecycle hooks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(r *Router) {
		r.hooks = hooks
	}
}

// NewRouter creates a Router creating instances through machines.
func NewRouter(machines Machines, opts ...Option) *Router {
	r := &Router{
		machines: machines,
		names:    DefaultNames(),
		logger:   logging.NewNop(),
		bindings: make(map[string]*binding),
		locks:    newSessionLocks(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleStart binds a new session. Any setup failure hangs the session up and removes the binding.
func (r *Router) HandleStart(ctx context.Context, evt domain.SessionEvent) error {
	var err error
	r.locks.with(evt.SessionID, func() {
		err = r.start(ctx, evt)
	})
	return err
}

func (r *Router) start(ctx context.Context, evt domain.SessionEvent) error {
	id := evt.SessionID
	logger := r.logger.With("session_id", id)

	r.mu.Lock()
	if _, ok := r.bindings[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionBound, id)
	}
	b := &binding{since: time.Now()}
	r.bindings[id] = b
	r.mu.Unlock()

	machineID := r.selector.Select(ctx, evt, r.control, r.known, logger)
	r.mu.Lock()
	b.machineID = machineID
	r.mu.Unlock()
	logger = logger.With("machine_id", machineID)

	inst, err := r.machines.Get(ctx, machineID, evt.SeedData())
	if err != nil {
		r.abort(ctx, id, b, nil, logger)
		return fmt.Errorf("create instance for session %s: %w", id, err)
	}

	r.mu.Lock()
	if r.bindings[id] != b {
		r.mu.Unlock()
		inst.Discard()
		logger.Debug("Session ended during setup")
		return nil
	}
	b.inst = inst
	r.mu.Unlock()

	logger.Info("Session bound", "instance_id", inst.ID())
	r.emitSession(ctx, r.hooks.OnSessionStart, domain.EventSessionStart, machineID, id)

	if r.control != nil {
		if err := r.control.Answer(ctx, id); err != nil {
			r.abort(ctx, id, b, inst, logger)
			return fmt.Errorf("answer session %s: %w", id, err)
		}
	}

	if !inst.Can(r.names.Start) {
		logger.Debug("No start transition from initial state", "transition", r.names.Start, "state", inst.State())
		return nil
	}
	if err := inst.Fire(ctx, r.names.Start, map[string]any{"eventData": evt.Raw}); err != nil {
		r.abort(ctx, id, b, inst, logger)
		return fmt.Errorf("start session %s: %w", id, err)
	}
	return nil
}

// abort releases the session after a failed setup.
func (r *Router) abort(ctx context.Context, id string, b *binding, inst *machine.Instance, logger *slog.Logger) {
	r.mu.Lock()
	owned := r.bindings[id] == b
	if owned {
		delete(r.bindings, id)
	}
	r.mu.Unlock()

	if inst != nil {
		inst.Discard()
		if owned {
			r.emitSession(ctx, r.hooks.OnSessionEnd, domain.EventSessionEnd, b.machineID, id)
		}
	}
	if r.control != nil && owned {
		if err := r.control.Hangup(ctx, id); err != nil {
			logger.Warn("Failed to hang up session after setup error", "err", err)
		}
	}
}

// HandleInput fires exactly one transition for an in-band input: input_<value>, then the
// generic input transition, then the invalid input transition. Input for an unknown session
// returns an error matching domain.ErrSessionBindingMissing.
func (r *Router) HandleInput(ctx context.Context, evt domain.SessionEvent) error {
	var err error
	r.locks.with(evt.SessionID, func() {
		err = r.input(ctx, evt)
	})
	return err
}

func (r *Router) input(ctx context.Context, evt domain.SessionEvent) error {
	b, ok := r.binding(evt.SessionID)
	if !ok || b.inst == nil {
		return fmt.Errorf("%w: %s", domain.ErrSessionBindingMissing, evt.SessionID)
	}
	logger := r.logger.With("session_id", evt.SessionID, "machine_id", b.machineID)

	for _, name := range []string{r.names.InputPrefix + evt.Input, r.names.GenericInput, r.names.InvalidInput} {
		if name == "" || !b.inst.Can(name) {
			continue
		}
		logger.Debug("Routing input", "input", evt.Input, "transition", name)
		return b.inst.Fire(ctx, name, map[string]any{"digit": evt.Input, "eventData": evt.Raw})
	}

	logger.Warn("Dropping input with no executable transition", "input", evt.Input, "state", b.inst.State())
	return nil
}

// HandleEnd removes the binding at once. The disconnect transition, when executable and the
// instance is not terminal, runs in the background; its failure is only logged.
func (r *Router) HandleEnd(ctx context.Context, evt domain.SessionEvent) error {
	id := evt.SessionID

	r.mu.Lock()
	bp, ok := r.bindings[id]
	var b binding
	if ok {
		b = *bp
		delete(r.bindings, id)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("End for unbound session", "session_id", id)
		return nil
	}
	if b.inst == nil {
		return nil
	}

	inst := b.inst
	inst.Discard()
	r.emitSession(ctx, r.hooks.OnSessionEnd, domain.EventSessionEnd, b.machineID, id)
	r.logger.Info("Session ended", "session_id", id, "machine_id", b.machineID, "duration", time.Since(b.since))

	if inst.Terminal() {
		return nil
	}

	bctx := context.WithoutCancel(ctx)
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		r.locks.with(id, func() {
			if !inst.Can(r.names.Disconnect) {
				return
			}
			if err := inst.Fire(bctx, r.names.Disconnect, map[string]any{"eventData": evt.Raw}); err != nil {
				r.logger.Warn("Disconnect transition failed", "session_id", id, "machine_id", b.machineID, "err", err)
			}
		})
	}()
	return nil
}

// Handle dispatches evt by kind.
func (r *Router) Handle(ctx context.Context, evt domain.SessionEvent) error {
	switch evt.Kind {
	case domain.SessionStart:
		return r.HandleStart(ctx, evt)
	case domain.SessionInput:
		return r.HandleInput(ctx, evt)
	case domain.SessionEnd:
		return r.HandleEnd(ctx, evt)
	}
	return fmt.Errorf("unknown session event kind %q", evt.Kind)
}

// mailbox is the unbounded FIFO of one session's pending start and input events.
type mailbox struct {
	queue  []domain.SessionEvent
	closed bool
}

// Run consumes events until ctx is done or events is closed. Start and input events of one
// session are handled in order by a per-session worker; end events are handled immediately
// and discard whatever the session still has queued. The dispatch loop never waits on a
// session's worker, so a session stuck in an external call does not hold up the others.
func (r *Router) Run(ctx context.Context, events <-chan domain.SessionEvent) error {
	var (
		mu      sync.Mutex
		boxes   = make(map[string]*mailbox)
		workers sync.WaitGroup
	)

	closeBox := func(id string) int {
		box, ok := boxes[id]
		if !ok {
			return 0
		}
		dropped := len(box.queue)
		box.closed = true
		box.queue = nil
		delete(boxes, id)
		return dropped
	}

	work := func(id string, box *mailbox) {
		defer workers.Done()
		for {
			mu.Lock()
			if box.closed || len(box.queue) == 0 || ctx.Err() != nil {
				if boxes[id] == box {
					delete(boxes, id)
				}
				mu.Unlock()
				return
			}
			e := box.queue[0]
			box.queue = box.queue[1:]
			mu.Unlock()
			r.report(r.Handle(ctx, e), e)
		}
	}

	defer func() {
		mu.Lock()
		for id := range boxes {
			closeBox(id)
		}
		mu.Unlock()
		workers.Wait()
		r.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			mu.Lock()
			if evt.Kind == domain.SessionEnd {
				dropped := closeBox(evt.SessionID)
				mu.Unlock()
				if dropped > 0 {
					r.logger.Debug("Discarding queued events of ended session", "session_id", evt.SessionID, "count", dropped)
				}
				r.report(r.HandleEnd(ctx, evt), evt)
				continue
			}
			if box, ok := boxes[evt.SessionID]; ok {
				box.queue = append(box.queue, evt)
				mu.Unlock()
				continue
			}
			box := &mailbox{queue: []domain.SessionEvent{evt}}
			boxes[evt.SessionID] = box
			mu.Unlock()
			workers.Add(1)
			go work(evt.SessionID, box)
		}
	}
}

func (r *Router) report(err error, evt domain.SessionEvent) {
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSessionBindingMissing):
		r.logger.Debug("Dropping event for unbound session", "session_id", evt.SessionID, "kind", evt.Kind)
	default:
		r.logger.Warn("Session event failed", "session_id", evt.SessionID, "kind", evt.Kind, "err", err)
	}
}

// Wait blocks until background disconnect transitions have finished.
func (r *Router) Wait() {
	r.bg.Wait()
}

// Instance returns the instance bound to a session.
func (r *Router) Instance(sessionID string) (*machine.Instance, bool) {
	b, ok := r.binding(sessionID)
	if !ok || b.inst == nil {
		return nil, false
	}
	return b.inst, true
}

// Sessions returns a snapshot of the bound sessions sorted by id.
func (r *Router) Sessions() []domain.SessionInfo {
	r.mu.RLock()
	ids := slices.Sorted(maps.Keys(r.bindings))
	out := make([]domain.SessionInfo, 0, len(ids))
	for _, id := range ids {
		b := r.bindings[id]
		if b.inst == nil {
			continue
		}
		out = append(out, domain.SessionInfo{SessionID: id, MachineID: b.machineID, State: b.inst.State()})
	}
	r.mu.RUnlock()
	return out
}

// binding returns a copy of the binding of id.
func (r *Router) binding(id string) (binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[id]
	if !ok {
		return binding{}, false
	}
	return *b, true
}

func (r *Router) known(ctx context.Context, id string) bool {
	_, err := r.machines.Machine(ctx, id)
	return err == nil
}

func (r *Router) emitSession(ctx context.Context, fn func(context.Context, *domain.SessionLifecycleEvent), typ domain.EventType, machineID, sessionID string) {
	if fn == nil {
		return
	}
	fn(ctx, &domain.SessionLifecycleEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: typ, MachineID: machineID},
		SessionID: sessionID,
	})
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
