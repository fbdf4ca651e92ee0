package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/featuretables/internal/action"
	"github.com/roach88/featuretables/internal/descriptor"
	"github.com/roach88/featuretables/internal/ledger"
	"github.com/roach88/featuretables/internal/registry"
)

// Journal persists observed transitions. Implemented by store.Store.
type Journal interface {
	RecordTransition(ctx context.Context, seq int64, t action.Transition) error
}

// ErrorHandler receives command errors after they are logged.
type ErrorHandler func(Command, error)

// FeatureStatus is the externally visible status of one feature.
type FeatureStatus struct {
	FeatureID    string         `json:"feature_id"`
	State        action.State   `json:"state"`
	ActivationID string         `json:"activation_id,omitempty"`
	Ref          descriptor.Ref `json:"ref,omitempty"`
	Err          string         `json:"error,omitempty"`
}

// Engine is the single-writer owner loop for Feature Actions.
//
// Thread-safety model:
//   - Command methods (Activate, Deactivate, ...): safe from any goroutine
//   - Run() or Drain(): must be called from exactly one goroutine at a time
//   - State(), Features(): safe from any goroutine
//
// INVARIANTS:
//   - Commands are processed strictly in enqueue order
//   - Every registry and ledger mutation happens inside Run/Drain
type Engine struct {
	registry  *registry.Registry
	ledger    *ledger.Ledger
	loader    descriptor.Loader
	ids       action.IDGenerator
	clock     *registry.Clock
	queue     *commandQueue
	journal   Journal
	preload   bool
	observers []action.Observer
	onError   ErrorHandler

	// Owner-only state.
	actions  map[string]*action.FeatureAction
	inflight int
	pending  []*loadSlot
	runCtx   context.Context

	mu     sync.RWMutex
	status map[string]FeatureStatus
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator sets the activation ID generator.
// Default: action.UUIDv7Generator.
func WithIDGenerator(g action.IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLedger sets the activation ledger. Default: a fresh ledger.
func WithLedger(l *ledger.Ledger) Option {
	return func(e *Engine) {
		e.ledger = l
	}
}

// WithObserver adds a transition observer. Observers run on the owner
// goroutine after the journal write.
func WithObserver(o action.Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// WithJournal records every transition in j.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithPreload makes CommandRegister load the feature's descriptor
// synchronously, so activation needs no I/O.
func WithPreload(enabled bool) Option {
	return func(e *Engine) {
		e.preload = enabled
	}
}

// WithErrorHandler receives every command error.
func WithErrorHandler(h ErrorHandler) Option {
	return func(e *Engine) {
		e.onError = h
	}
}

// WithClock sets the clock that stamps transitions.
func WithClock(c *registry.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an Engine over reg, loading descriptors through loader.
func New(reg *registry.Registry, loader descriptor.Loader, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		loader:   loader,
		ids:      action.UUIDv7Generator{},
		clock:    registry.NewClock(),
		queue:    newCommandQueue(),
		actions:  make(map[string]*action.FeatureAction),
		status:   make(map[string]FeatureStatus),
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ledger == nil {
		e.ledger = ledger.New()
	}
	return e
}

// Registry returns the engine's table registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Ledger returns the engine's activation ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Enqueue submits a command. Returns false if the engine has been stopped.
func (e *Engine) Enqueue(c Command) bool {
	if c.Type == commandCallback {
		return false
	}
	return e.queue.Enqueue(c)
}

// Register makes a feature known to the engine. With preloading enabled
// its descriptor is loaded right away.
func (e *Engine) Register(featureID string, ref descriptor.Ref) bool {
	return e.Enqueue(Command{Type: CommandRegister, FeatureID: featureID, Ref: ref})
}

// Unregister deactivates a feature if needed and forgets it.
func (e *Engine) Unregister(featureID string) bool {
	return e.Enqueue(Command{Type: CommandUnregister, FeatureID: featureID})
}

// Activate requests activation of featureID from ref. Unknown features are
// registered implicitly.
func (e *Engine) Activate(featureID string, ref descriptor.Ref) bool {
	return e.Enqueue(Command{Type: CommandActivate, FeatureID: featureID, Ref: ref})
}

// Deactivate requests deactivation of featureID.
func (e *Engine) Deactivate(featureID string) bool {
	return e.Enqueue(Command{Type: CommandDeactivate, FeatureID: featureID})
}

// Cancel requests cancellation of a pending load.
func (e *Engine) Cancel(featureID string) bool {
	return e.Enqueue(Command{Type: CommandCancel, FeatureID: featureID})
}

// Reset requests a Failed feature to return to Inactive.
func (e *Engine) Reset(featureID string) bool {
	return e.Enqueue(Command{Type: CommandReset, FeatureID: featureID})
}

// Reserve implements action.Scheduler. Owner goroutine only.
func (e *Engine) Reserve() action.Slot {
	s := &loadSlot{engine: e}
	e.pending = append(e.pending, s)
	e.inflight++
	return s
}

// State returns a feature's state. Safe from any goroutine.
func (e *Engine) State(featureID string) (action.State, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.status[featureID]
	return st.State, ok
}

// Status returns a feature's full status. Safe from any goroutine.
func (e *Engine) Status(featureID string) (FeatureStatus, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.status[featureID]
	return st, ok
}

// Features returns the status of every known feature, sorted by ID.
func (e *Engine) Features() []FeatureStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]FeatureStatus, 0, len(e.status))
	for _, st := range e.status {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b FeatureStatus) int {
		switch {
		case a.FeatureID < b.FeatureID:
			return -1
		case a.FeatureID > b.FeatureID:
			return 1
		}
		return 0
	})
	return out
}

// Run processes commands until ctx is cancelled or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine, never concurrently
// with Drain.
//
// ERROR HANDLING: A command that cannot be applied is logged, passed to
// the error handler, and processing continues.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")
	e.runCtx = ctx

	for {
		cmd, ok := e.queue.TryDequeue()
		if ok {
			e.dispatch(ctx, cmd)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue; an empty closed
			// queue ends the loop.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain processes commands on the calling goroutine until the queue is
// empty and no descriptor load is in flight. Used by the CLI, the harness
// and tests in place of Run.
func (e *Engine) Drain(ctx context.Context) error {
	e.runCtx = ctx
	for {
		cmd, ok := e.queue.TryDequeue()
		if ok {
			e.dispatch(ctx, cmd)
			continue
		}
		if e.inflight == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				return ErrStopped
			}
		}
	}
}

// Stop closes the command queue, which makes Run return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Shutdown deactivates every feature, then stops the engine. Must be
// called from the owner goroutine after Run has returned, or between
// Drain calls.
func (e *Engine) Shutdown() {
	ids := make([]string, 0, len(e.actions))
	for id := range e.actions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		e.forget(id)
	}
	e.queue.Close()
}

func (e *Engine) dispatch(ctx context.Context, cmd Command) {
	if err := e.process(ctx, cmd); err != nil {
		slog.Error("command processing failed",
			"error", err,
			"command", cmd.Type.String(),
			"feature", cmd.FeatureID,
			"ref", cmd.Ref,
		)
		if e.onError != nil {
			e.onError(cmd, err)
		}
	}
}

// process routes a command. CRITICAL: owner goroutine only.
func (e *Engine) process(ctx context.Context, cmd Command) error {
	if cmd.Type == commandCallback {
		cmd.fn()
		return nil
	}

	slog.Debug("processing command", "command", cmd.Type.String(), "feature", cmd.FeatureID)

	switch cmd.Type {
	case CommandRegister:
		a := e.ensure(cmd.FeatureID)
		if e.preload && cmd.Ref != "" {
			if err := a.Preload(ctx, cmd.Ref); err != nil {
				return &CommandError{Command: cmd.Type, FeatureID: cmd.FeatureID, Err: err}
			}
		}
		return nil

	case CommandActivate:
		a := e.ensure(cmd.FeatureID)
		if err := a.Activate(e.runCtx, cmd.Ref); err != nil {
			return &CommandError{Command: cmd.Type, FeatureID: cmd.FeatureID, Err: err}
		}
		return nil

	case CommandDeactivate:
		a, err := e.lookup(cmd)
		if err != nil {
			return err
		}
		a.Deactivate()
		return nil

	case CommandCancel:
		a, err := e.lookup(cmd)
		if err != nil {
			return err
		}
		if err := a.Cancel(); err != nil {
			return &CommandError{Command: cmd.Type, FeatureID: cmd.FeatureID, Err: err}
		}
		return nil

	case CommandReset:
		a, err := e.lookup(cmd)
		if err != nil {
			return err
		}
		if err := a.Reset(); err != nil {
			return &CommandError{Command: cmd.Type, FeatureID: cmd.FeatureID, Err: err}
		}
		return nil

	case CommandUnregister:
		if _, err := e.lookup(cmd); err != nil {
			return err
		}
		e.forget(cmd.FeatureID)
		return nil

	default:
		return fmt.Errorf("unknown command type: %d", cmd.Type)
	}
}

func (e *Engine) lookup(cmd Command) (*action.FeatureAction, error) {
	a, ok := e.actions[cmd.FeatureID]
	if !ok {
		return nil, &CommandError{Command: cmd.Type, FeatureID: cmd.FeatureID, Err: errUnknownFeature}
	}
	return a, nil
}

// ensure returns the feature's action, creating it on first use.
func (e *Engine) ensure(featureID string) *action.FeatureAction {
	if a, ok := e.actions[featureID]; ok {
		return a
	}
	a := action.New(featureID, action.Deps{
		Registry:  e.registry,
		Ledger:    e.ledger,
		Loader:    e.loader,
		Scheduler: e,
		IDs:       e.ids,
	}, e.observe)
	e.actions[featureID] = a
	e.setStatus(a)
	slog.Info("feature registered", "feature", featureID)
	return a
}

// forget reverts a feature by whatever path its state allows and drops it.
func (e *Engine) forget(featureID string) {
	a, ok := e.actions[featureID]
	if !ok {
		return
	}
	switch a.State() {
	case action.Active, action.Loading:
		a.Deactivate()
	case action.Failed:
		_ = a.Reset()
	}
	a.Unload()
	delete(e.actions, featureID)

	e.mu.Lock()
	delete(e.status, featureID)
	e.mu.Unlock()
	slog.Info("feature unregistered", "feature", featureID)
}

// observe is every action's first observer.
func (e *Engine) observe(t action.Transition) {
	seq := e.clock.Next()
	if a, ok := e.actions[t.FeatureID]; ok {
		e.setStatus(a)
	}

	if e.journal != nil {
		if err := e.journal.RecordTransition(e.runCtx, seq, t); err != nil {
			slog.Error("journal write failed",
				"error", err,
				"feature", t.FeatureID,
				"seq", seq,
			)
		}
	}
	for _, o := range e.observers {
		o(t)
	}
}

func (e *Engine) setStatus(a *action.FeatureAction) {
	st := FeatureStatus{
		FeatureID:    a.ID(),
		State:        a.State(),
		ActivationID: a.ActivationID(),
		Ref:          a.Ref(),
	}
	if err := a.Err(); err != nil {
		st.Err = err.Error()
	}
	e.mu.Lock()
	e.status[a.ID()] = st
	e.mu.Unlock()
}
