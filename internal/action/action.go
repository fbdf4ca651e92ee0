package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/featuretables/internal/descriptor"
	"github.com/roach88/featuretables/internal/ledger"
	"github.com/roach88/featuretables/internal/table"
)

// Registrar is the part of the table registry a Feature Action mutates.
type Registrar interface {
	// RegisterAll registers every contribution or none of them.
	RegisterAll(cs []table.Contribution) ([]table.ContributionID, error)
	Unregister(id table.ContributionID) error
}

// ErrSchedulerStopped is returned by Activate when the owner can no longer
// run the load completion.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// Scheduler hands out completion slots. Reserve is called on the owner
// goroutine, once per activation, in submission order.
type Scheduler interface {
	Reserve() Slot
}

// Slot delivers one load completion to the owner goroutine. Completions
// run in the order their slots were reserved, whatever order the loads
// finish in.
type Slot interface {
	// Post may be called from any goroutine. It returns false when the
	// owner has stopped and fn will never run.
	Post(fn func()) bool
	// Release abandons the slot so later slots are not held behind it.
	// Owner goroutine only; idempotent.
	Release()
}

// Deps are the collaborators shared by every Feature Action of one engine.
type Deps struct {
	Registry  Registrar
	Ledger    *ledger.Ledger
	Loader    descriptor.Loader
	Scheduler Scheduler
	IDs       IDGenerator
}

// FeatureAction drives one feature's table overrides.
type FeatureAction struct {
	id        string
	deps      Deps
	observers []Observer

	state        State
	ref          descriptor.Ref
	activationID string
	err          error

	// generation increments on every Activate and Cancel; a load
	// completion carrying an older generation is stale and dropped.
	generation uint64
	cancelLoad context.CancelFunc
	slot       Slot

	preloadRef descriptor.Ref
	preloaded  *descriptor.Descriptor
}

// New creates an Inactive Feature Action.
func New(featureID string, deps Deps, observers ...Observer) *FeatureAction {
	if deps.IDs == nil {
		deps.IDs = UUIDv7Generator{}
	}
	return &FeatureAction{id: featureID, deps: deps, observers: observers}
}

// ID returns the feature ID.
func (a *FeatureAction) ID() string { return a.id }

// State returns the current state.
func (a *FeatureAction) State() State { return a.state }

// ActivationID returns the ID of the current activation, or "" when the
// feature is Inactive.
func (a *FeatureAction) ActivationID() string { return a.activationID }

// Ref returns the descriptor reference of the current or last activation.
func (a *FeatureAction) Ref() descriptor.Ref { return a.ref }

// Err returns the error that moved the action to Failed.
func (a *FeatureAction) Err() error { return a.err }

// Observe adds an observer.
func (a *FeatureAction) Observe(o Observer) {
	a.observers = append(a.observers, o)
}

// Preload loads ref synchronously and keeps the descriptor. A later
// Activate with the same ref uses it instead of calling the loader.
func (a *FeatureAction) Preload(ctx context.Context, ref descriptor.Ref) error {
	d, err := a.deps.Loader.Load(ctx, ref)
	if err != nil {
		return table.NewLoadFailure(a.id, err)
	}
	a.preloadRef, a.preloaded = ref, d
	slog.Debug("descriptor preloaded", "feature", a.id, "ref", ref, "tables", len(d.Tables))
	return nil
}

// Unload drops a preloaded descriptor.
func (a *FeatureAction) Unload() {
	a.preloadRef, a.preloaded = "", nil
}

// Preloaded reports whether a descriptor is held for ref.
func (a *FeatureAction) Preloaded(ref descriptor.Ref) bool {
	return a.preloaded != nil && a.preloadRef == ref
}

// Activate moves Inactive to Loading and starts loading ref in the
// background. ctx bounds the load; Cancel and Deactivate also cancel it.
func (a *FeatureAction) Activate(ctx context.Context, ref descriptor.Ref) error {
	if a.state != Inactive {
		return table.NewInvalidTransition(a.id, "activate", a.state.String())
	}

	a.generation++
	gen := a.generation
	a.ref = ref
	a.activationID = a.deps.IDs.Generate()
	a.err = nil
	a.transition(Loading, nil)

	slot := a.deps.Scheduler.Reserve()
	a.slot = slot

	if a.Preloaded(ref) {
		d := a.preloaded.Clone()
		if !slot.Post(func() { a.complete(gen, d, nil) }) {
			slog.Warn("scheduler stopped before preloaded activation", "feature", a.id)
			a.cancel()
			return table.NewLoadFailure(a.id, ErrSchedulerStopped)
		}
		return nil
	}

	loadCtx, cancel := context.WithCancel(ctx)
	a.cancelLoad = cancel
	loader := a.deps.Loader
	go func() {
		d, err := loader.Load(loadCtx, ref)
		if !slot.Post(func() { a.complete(gen, d, err) }) {
			cancel()
		}
	}()
	return nil
}

// complete runs on the owner when a load finishes.
func (a *FeatureAction) complete(gen uint64, d *descriptor.Descriptor, loadErr error) {
	if gen != a.generation || a.state != Loading {
		slog.Debug("stale load completion dropped", "feature", a.id, "generation", gen)
		return
	}
	a.slot = nil
	a.releaseLoad()

	if loadErr != nil {
		a.fail(table.NewLoadFailure(a.id, loadErr))
		return
	}
	if err := a.apply(d); err != nil {
		a.fail(err)
		return
	}
	a.transition(Active, nil)
}

// apply registers every descriptor entry as one batch, so no table is
// published until all of them validate, then records the ledger entries.
// A ledger failure unregisters everything this activation registered.
func (a *FeatureAction) apply(d *descriptor.Descriptor) error {
	cs := d.Contributions(a.id, a.activationID)
	ids, err := a.deps.Registry.RegisterAll(cs)
	if err != nil {
		return annotate(err, a.id)
	}

	applied := make([]ledger.Entry, 0, len(ids))
	for i, id := range ids {
		entry := ledger.Entry{
			FeatureID:      a.id,
			ActivationID:   a.activationID,
			Table:          cs[i].Table,
			ContributionID: id,
		}
		if err := a.deps.Ledger.Record(entry); err != nil {
			for _, rest := range ids[i:] {
				if uerr := a.deps.Registry.Unregister(rest); uerr != nil {
					slog.Error("unregister after ledger failure", "feature", a.id, "contribution", rest, "error", uerr)
				}
			}
			a.rollback(applied)
			return err
		}
		applied = append(applied, entry)
	}
	return nil
}

// rollback undoes entries in reverse order.
func (a *FeatureAction) rollback(entries []ledger.Entry) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		a.deps.Ledger.Remove(e.ContributionID)
		if err := a.deps.Registry.Unregister(e.ContributionID); err != nil {
			slog.Error("rollback unregister failed",
				"feature", a.id,
				"table", e.Table,
				"contribution", e.ContributionID,
				"error", err,
			)
		}
	}
	if len(entries) > 0 {
		slog.Info("activation rolled back", "feature", a.id, "contributions", len(entries))
	}
}

// Deactivate reverts an Active feature through the ledger. On a Loading
// feature it is the same as Cancel. In any other state it changes nothing
// and the inconsistency is logged.
func (a *FeatureAction) Deactivate() {
	switch a.state {
	case Active:
	case Loading:
		a.cancel()
		return
	default:
		slog.Warn("deactivate ignored",
			"feature", a.id,
			"state", a.state.String(),
			"error", table.NewLedgerInconsistency(a.id, "deactivate in state %s", a.state),
		)
		return
	}

	a.transition(Unloading, nil)
	for _, e := range a.deps.Ledger.EntriesFor(a.id) {
		if err := a.deps.Registry.Unregister(e.ContributionID); err != nil {
			slog.Warn("contribution already reverted",
				"feature", a.id,
				"table", e.Table,
				"contribution", e.ContributionID,
				"error", err,
			)
		}
	}
	a.deps.Ledger.Clear(a.id)
	a.transition(Inactive, nil)
}

// Cancel abandons a pending load: Loading moves straight to Inactive with
// no registry side effects.
func (a *FeatureAction) Cancel() error {
	if a.state != Loading {
		return table.NewInvalidTransition(a.id, "cancel", a.state.String())
	}
	a.cancel()
	return nil
}

func (a *FeatureAction) cancel() {
	a.generation++
	a.releaseLoad()
	slot := a.slot
	a.slot = nil
	a.transition(Inactive, nil)
	if slot != nil {
		slot.Release()
	}
}

// Reset moves Failed back to Inactive so activation can be retried.
func (a *FeatureAction) Reset() error {
	if a.state != Failed {
		return table.NewInvalidTransition(a.id, "reset", a.state.String())
	}
	a.err = nil
	a.transition(Inactive, nil)
	return nil
}

func (a *FeatureAction) fail(err error) {
	a.err = err
	a.transition(Failed, err)
}

func (a *FeatureAction) releaseLoad() {
	if a.cancelLoad != nil {
		a.cancelLoad()
		a.cancelLoad = nil
	}
}

func (a *FeatureAction) transition(to State, err error) {
	t := Transition{
		FeatureID:    a.id,
		ActivationID: a.activationID,
		From:         a.state,
		To:           to,
		Err:          err,
	}
	a.state = to
	if to == Inactive {
		a.activationID = ""
	}

	if err != nil {
		slog.Warn("feature transition",
			"feature", a.id,
			"activation", t.ActivationID,
			"from", t.From.String(),
			"to", t.To.String(),
			"error", err,
		)
	} else {
		slog.Info("feature transition",
			"feature", a.id,
			"activation", t.ActivationID,
			"from", t.From.String(),
			"to", t.To.String(),
		)
	}
	for _, o := range a.observers {
		o(t)
	}
}

// annotate attaches the feature ID to registry errors.
func annotate(err error, featureID string) error {
	var te *table.Error
	if errors.As(err, &te) && te.Feature == "" {
		cp := *te
		cp.Feature = featureID
		return &cp
	}
	return fmt.Errorf("feature %s: %w", featureID, err)
}
