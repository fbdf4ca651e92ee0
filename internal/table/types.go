package table

import (
	"fmt"
	"strconv"

	"github.com/roach88/featuretables/internal/value"
)

// RowKey identifies a row within one table.
// Integer keys are stored in their decimal string form.
type RowKey string

// IntKey returns the RowKey for an integer identifier.
func IntKey(n int64) RowKey {
	return RowKey(strconv.FormatInt(n, 10))
}

// Row is the data of one row: field name to typed value.
type Row = value.Object

// Rows maps row keys to row data.
type Rows map[RowKey]Row

// Clone returns a deep copy of the row set.
func (r Rows) Clone() Rows {
	if r == nil {
		return nil
	}
	out := make(Rows, len(r))
	for k, row := range r {
		out[k] = row.Clone()
	}
	return out
}

// SortedKeys returns row keys in canonical order.
func (r Rows) SortedKeys() []RowKey {
	keys := make([]RowKey, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// Equal reports whether both row sets hold the same keys and rows.
func (r Rows) Equal(other Rows) bool {
	if len(r) != len(other) {
		return false
	}
	for k, row := range r {
		o, ok := other[k]
		if !ok || !value.Equal(row, o) {
			return false
		}
	}
	return true
}

// OpKind is the kind of a row operation.
type OpKind string

const (
	// OpAdd inserts or overwrites a row.
	OpAdd OpKind = "add"
	// OpReplace overwrites or inserts a row.
	OpReplace OpKind = "replace"
	// OpRemove deletes a row if present.
	OpRemove OpKind = "remove"
	// OpPatch merges fields into an existing row; absent rows are left alone.
	OpPatch OpKind = "patch"
)

// ValidOpKinds lists the recognized op kinds.
var ValidOpKinds = map[OpKind]bool{
	OpAdd:     true,
	OpReplace: true,
	OpRemove:  true,
	OpPatch:   true,
}

// Op is one row-level edit.
type Op struct {
	Kind OpKind `json:"op"`
	Key  RowKey `json:"key"`
	Row  Row    `json:"row,omitempty"` // nil for remove
}

// Add returns an add op.
func Add(key RowKey, row Row) Op { return Op{Kind: OpAdd, Key: key, Row: row} }

// Replace returns a replace op.
func Replace(key RowKey, row Row) Op { return Op{Kind: OpReplace, Key: key, Row: row} }

// Remove returns a remove op.
func Remove(key RowKey) Op { return Op{Kind: OpRemove, Key: key} }

// Patch returns a patch op.
func Patch(key RowKey, fields Row) Op { return Op{Kind: OpPatch, Key: key, Row: fields} }

// Validate checks that the op is well formed.
func (op Op) Validate() error {
	if !ValidOpKinds[op.Kind] {
		return fmt.Errorf("unknown op %q", op.Kind)
	}
	if op.Key == "" {
		return fmt.Errorf("%s: key is required", op.Kind)
	}
	if op.Kind != OpRemove && op.Row == nil {
		return fmt.Errorf("%s %s: row is required", op.Kind, op.Key)
	}
	return nil
}

// ContributionID identifies a registered contribution. IDs are assigned by
// the registry and double as registration order.
type ContributionID int64

// Contribution is one feature's set of row edits to one table.
// It is immutable once registered; the registry stores its own copy.
type Contribution struct {
	FeatureID    string `json:"feature_id"`
	ActivationID string `json:"activation_id"`
	Table        string `json:"table"`
	SchemaTag    string `json:"schema,omitempty"` // empty skips the tag check
	Priority     int    `json:"priority"`
	Ops          []Op   `json:"ops"`
}

// Clone returns a deep copy of the contribution.
func (c Contribution) Clone() Contribution {
	out := c
	out.Ops = make([]Op, len(c.Ops))
	for i, op := range c.Ops {
		out.Ops[i] = Op{Kind: op.Kind, Key: op.Key, Row: op.Row.Clone()}
	}
	return out
}

// Registered is a contribution as held by the registry: the contribution
// plus its assigned ID. Merge orders by (Priority, ID).
type Registered struct {
	ID ContributionID
	Contribution
}
