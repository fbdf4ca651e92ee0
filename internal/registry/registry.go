// Package registry holds the process-scoped index of live tables.
//
// Every Register and Unregister recomputes the affected table through
// merge.Merge and publishes a new immutable Snapshot before returning, so a
// reader never observes a partially applied contribution. Mutations are
// serialized on a mutex and are expected to come from the engine's owner
// goroutine. Reads go through an atomic snapshot pointer and are safe from
// any goroutine.
package registry

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/featuretables/internal/merge"
	"github.com/roach88/featuretables/internal/table"
)

// Commit describes one published table change.
type Commit struct {
	// Version is the snapshot version this change produced.
	Version int64

	// Table is the committed table. Nil when Dropped is true.
	Table *TableSnapshot

	// Name is the affected table's name.
	Name string

	// Dropped is true when a lazily created table lost its last
	// contribution and was destroyed.
	Dropped bool

	// Contributions lists the table's live contributions in application
	// order.
	Contributions []ContributionInfo
}

// CommitHook observes every published change, in commit order, on the
// mutating goroutine. Hooks must not call back into the registry.
type CommitHook func(Commit)

// ContributionInfo summarizes one live contribution for diagnostics.
type ContributionInfo struct {
	ID           table.ContributionID `json:"id"`
	FeatureID    string               `json:"feature_id"`
	ActivationID string               `json:"activation_id"`
	Priority     int                  `json:"priority"`
	Ops          int                  `json:"ops"`
}

type tableState struct {
	name          string
	schema        table.Schema
	declared      bool
	base          table.Rows
	contributions []table.Registered
}

// Registry is the table registry.
type Registry struct {
	mu     sync.Mutex
	clock  *Clock
	lazy   bool
	hooks  []CommitHook
	tables map[string]*tableState
	owner  map[table.ContributionID]string

	snap atomic.Pointer[Snapshot]
}

// Option configures a Registry.
type Option func(*Registry)

// WithLazyTables controls whether Register may create undeclared tables.
// Enabled by default.
func WithLazyTables(enabled bool) Option {
	return func(r *Registry) {
		r.lazy = enabled
	}
}

// WithCommitHook adds a hook called after every publish.
func WithCommitHook(h CommitHook) Option {
	return func(r *Registry) {
		r.hooks = append(r.hooks, h)
	}
}

// WithClock sets the clock used for contribution IDs and versions.
// Used to resume numbering from a journal.
func WithClock(c *Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		clock:  NewClock(),
		lazy:   true,
		tables: make(map[string]*tableState),
		owner:  make(map[table.ContributionID]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.snap.Store(&Snapshot{tables: map[string]*TableSnapshot{}})
	return r
}

// LazyTables reports whether undeclared tables are created on demand.
func (r *Registry) LazyTables() bool { return r.lazy }

// Declare creates the named table or returns the existing one.
//
// Declaring marks the table persistent: it survives losing its last
// contribution and falls back to its base rows. Re-declaring with a
// different schema tag fails with a schema mismatch. Declaring a table that
// was created lazily adopts schema, provided every live contribution
// conforms to it.
func (r *Registry) Declare(name string, schema table.Schema) (*Handle, error) {
	if name == "" {
		return nil, fmt.Errorf("declare: table name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ts, ok := r.tables[name]
	if !ok {
		ts = &tableState{name: name, schema: schema, declared: true, base: table.Rows{}}
		r.tables[name] = ts
		r.publish(ts)
		slog.Info("table declared", "table", name, "schema", schema.Tag)
		return &Handle{r: r, name: name}, nil
	}

	if ts.schema.Tag != "" && ts.schema.Tag != schema.Tag {
		return nil, table.NewSchemaMismatch(name, "declared as %q, requested %q", ts.schema.Tag, schema.Tag)
	}

	if !ts.declared {
		for _, c := range ts.contributions {
			if err := validateOps(name, schema, c.Ops); err != nil {
				return nil, err
			}
		}
		ts.schema = schema
		ts.declared = true
		r.publish(ts)
		slog.Info("lazy table promoted", "table", name, "schema", schema.Tag)
	}
	return &Handle{r: r, name: name}, nil
}

// Register validates c, stores a copy and recomputes its table.
//
// Fails with a schema mismatch when c's tag differs from the table's or any
// op does not fit the schema, and with an unknown table error when the table
// does not exist and lazy creation is disabled. A failed Register leaves the
// registry unchanged.
func (r *Registry) Register(c table.Contribution) (table.ContributionID, error) {
	ids, err := r.RegisterAll([]table.Contribution{c})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// staged is a table touched by one RegisterAll batch.
type staged struct {
	ts      *tableState
	schema  table.Schema
	created bool
}

// RegisterAll validates every contribution first and registers them only
// if all pass. Each affected table is then recomputed and published once,
// in order of first appearance. On error nothing is registered or
// published. IDs are returned in the order of cs.
//
// A lazily created table whose tag is still empty adopts the first
// non-empty contribution tag.
func (r *Registry) RegisterAll(cs []table.Contribution) ([]table.ContributionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]*staged, len(cs))
	var order []string
	for _, c := range cs {
		st, ok := batch[c.Table]
		if !ok {
			ts, exists := r.tables[c.Table]
			switch {
			case exists:
				st = &staged{ts: ts, schema: ts.schema}
			case !r.lazy:
				return nil, table.NewUnknownTable(c.Table)
			case c.Table == "":
				return nil, table.NewSchemaMismatch(c.Table, "contribution names no table")
			default:
				st = &staged{
					ts:      &tableState{name: c.Table, base: table.Rows{}},
					schema:  table.Schema{Tag: c.SchemaTag},
					created: true,
				}
			}
			batch[c.Table] = st
			order = append(order, c.Table)
		}

		if !st.ts.declared && st.schema.Tag == "" && c.SchemaTag != "" {
			st.schema.Tag = c.SchemaTag
		}
		if !st.schema.Compatible(c.SchemaTag) {
			return nil, table.NewSchemaMismatch(c.Table, "contribution tag %q, table tag %q", c.SchemaTag, st.schema.Tag)
		}
		if err := validateOps(c.Table, st.schema, c.Ops); err != nil {
			return nil, err
		}
	}

	ids := make([]table.ContributionID, len(cs))
	for i, c := range cs {
		st := batch[c.Table]
		id := table.ContributionID(r.clock.Next())
		st.ts.contributions = append(st.ts.contributions, table.Registered{ID: id, Contribution: c.Clone()})
		r.owner[id] = c.Table
		ids[i] = id

		slog.Debug("contribution registered",
			"table", c.Table,
			"feature", c.FeatureID,
			"id", id,
			"priority", c.Priority,
			"ops", len(c.Ops),
		)
	}

	for _, name := range order {
		st := batch[name]
		switch {
		case st.created:
			r.tables[name] = st.ts
			slog.Info("lazy table created", "table", name, "schema", st.schema.Tag)
		case st.ts.schema.Tag != st.schema.Tag:
			slog.Info("lazy table adopted schema tag", "table", name, "schema", st.schema.Tag)
		}
		st.ts.schema = st.schema
		r.publish(st.ts)
	}
	return ids, nil
}

// Unregister removes a live contribution and recomputes its table.
//
// An unknown id yields a ledger inconsistency error and changes nothing.
// A lazily created table with no contributions left is destroyed; a
// declared table falls back to its base rows.
func (r *Registry) Unregister(id table.ContributionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.owner[id]
	if !ok {
		return table.NewLedgerInconsistency("", "contribution %d is not registered", id)
	}
	ts := r.tables[name]
	delete(r.owner, id)

	var feature string
	ts.contributions = slices.DeleteFunc(ts.contributions, func(c table.Registered) bool {
		if c.ID == id {
			feature = c.FeatureID
			return true
		}
		return false
	})

	slog.Debug("contribution unregistered", "table", name, "feature", feature, "id", id)

	if !ts.declared && len(ts.contributions) == 0 {
		delete(r.tables, name)
		r.drop(name)
		slog.Info("lazy table destroyed", "table", name)
		return nil
	}
	r.publish(ts)
	return nil
}

// Shutdown drops every table and contribution.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		delete(r.tables, name)
		r.drop(name)
	}
	clear(r.owner)
}

// Snapshot returns the current committed state. Safe from any goroutine.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Read returns a copy of one effective row.
func (r *Registry) Read(name string, key table.RowKey) (table.Row, bool) {
	ts, ok := r.Snapshot().Table(name)
	if !ok {
		return nil, false
	}
	return ts.Read(key)
}

// Enumerate iterates the effective rows of name as of the call, in
// ascending key order. Unknown tables yield nothing.
func (r *Registry) Enumerate(name string) iter.Seq2[table.RowKey, table.Row] {
	ts, ok := r.Snapshot().Table(name)
	if !ok {
		return func(func(table.RowKey, table.Row) bool) {}
	}
	return ts.All()
}

// Tables returns live table names in sorted order.
func (r *Registry) Tables() []string {
	return r.Snapshot().Names()
}

// Contributions lists the live contributions of name in application order.
func (r *Registry) Contributions(name string) []ContributionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts, ok := r.tables[name]
	if !ok {
		return nil
	}
	return infos(ts.contributions)
}

func infos(contributions []table.Registered) []ContributionInfo {
	ordered := merge.Order(contributions)
	out := make([]ContributionInfo, len(ordered))
	for i, c := range ordered {
		out[i] = ContributionInfo{
			ID:           c.ID,
			FeatureID:    c.FeatureID,
			ActivationID: c.ActivationID,
			Priority:     c.Priority,
			Ops:          len(c.Ops),
		}
	}
	return out
}

// Winner returns the feature whose contribution decides key, if any.
func (r *Registry) Winner(name string, key table.RowKey) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts, ok := r.tables[name]
	if !ok {
		return "", false
	}
	w, ok := merge.Winner(ts.base, ts.contributions, key)
	if !ok {
		return "", false
	}
	return w.FeatureID, true
}

// Handle gives access to one declared table.
func (r *Registry) Handle(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tables[name]; !ok {
		return nil, false
	}
	return &Handle{r: r, name: name}, true
}

// publish recomputes ts and swaps in a new snapshot. Caller holds mu.
func (r *Registry) publish(ts *tableState) {
	version := r.clock.Next()
	effective := merge.Merge(ts.base, ts.contributions)
	t := newTableSnapshot(ts.name, ts.schema, ts.declared, version, effective)
	r.snap.Store(r.snap.Load().with(version, ts.name, t))

	if len(r.hooks) == 0 {
		return
	}
	commit := Commit{Version: version, Table: t, Name: ts.name, Contributions: infos(ts.contributions)}
	for _, h := range r.hooks {
		h(commit)
	}
}

// drop removes name from the snapshot. Caller holds mu.
func (r *Registry) drop(name string) {
	version := r.clock.Next()
	r.snap.Store(r.snap.Load().with(version, name, nil))

	for _, h := range r.hooks {
		h(Commit{Version: version, Name: name, Dropped: true})
	}
}

func validateOps(name string, schema table.Schema, ops []table.Op) error {
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return &table.Error{
				Code:    table.CodeSchemaMismatch,
				Table:   name,
				Message: fmt.Sprintf("op %d", i),
				Err:     err,
			}
		}
		if err := schema.ValidateOp(op); err != nil {
			return &table.Error{
				Code:    table.CodeSchemaMismatch,
				Table:   name,
				Message: fmt.Sprintf("op %d (%s %s)", i, op.Kind, op.Key),
				Err:     err,
			}
		}
	}
	return nil
}
