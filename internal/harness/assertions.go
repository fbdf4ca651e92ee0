package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/featuretables/internal/action"
	"github.com/roach88/featuretables/internal/engine"
	"github.com/roach88/featuretables/internal/registry"
	"github.com/roach88/featuretables/internal/table"
	"github.com/roach88/featuretables/internal/testutil"
	"github.com/roach88/featuretables/internal/value"
)

// AssertionContext is what assertions inspect.
type AssertionContext struct {
	Engine   *engine.Engine
	Registry *registry.Registry
	Recorder *testutil.Recorder
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, actual %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion and returns the failure
// messages.
func EvaluateAssertions(actx *AssertionContext, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(actx, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(actx *AssertionContext, a Assertion) error {
	switch a.Type {
	case AssertFeatureState:
		return assertFeatureState(actx, a)
	case AssertFeatureError:
		return assertFeatureError(actx, a)
	case AssertTransitions:
		return assertTransitions(actx, a)
	case AssertTableRows:
		return assertTableRows(actx, a)
	case AssertRow:
		return assertRow(actx, a)
	case AssertRowAbsent:
		return assertRowAbsent(actx, a)
	case AssertTableAbsent:
		return assertTableAbsent(actx, a)
	case AssertWinner:
		return assertWinner(actx, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertFeatureState(actx *AssertionContext, a Assertion) error {
	want, err := action.ParseState(a.State)
	if err != nil {
		return err
	}
	got, ok := actx.Engine.State(a.Feature)
	if !ok {
		got = action.Inactive
	}
	if got != want {
		return &AssertionError{
			Type:     AssertFeatureState,
			Expected: fmt.Sprintf("%s in %s", a.Feature, want),
			Actual:   got.String(),
		}
	}
	return nil
}

func assertFeatureError(actx *AssertionContext, a Assertion) error {
	st, ok := actx.Engine.Status(a.Feature)
	if !ok || st.State != action.Failed {
		return &AssertionError{
			Type:     AssertFeatureError,
			Expected: fmt.Sprintf("%s failed with %s", a.Feature, a.Code),
			Actual:   fmt.Sprintf("state %s", st.State),
		}
	}
	if !strings.HasPrefix(st.Err, a.Code+":") {
		return &AssertionError{
			Type:     AssertFeatureError,
			Expected: fmt.Sprintf("%s failed with %s", a.Feature, a.Code),
			Actual:   st.Err,
		}
	}
	return nil
}

func assertTransitions(actx *AssertionContext, a Assertion) error {
	var got []string
	for _, s := range actx.Recorder.States(a.Feature) {
		got = append(got, s.String())
	}
	if !slices.Equal(got, a.States) {
		return &AssertionError{
			Type:     AssertTransitions,
			Expected: fmt.Sprintf("%s: %v", a.Feature, a.States),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertTableRows(actx *AssertionContext, a Assertion) error {
	want, err := expectedRows(a.Rows)
	if err != nil {
		return err
	}
	ts, ok := actx.Registry.Snapshot().Table(a.Table)
	if !ok {
		return &AssertionError{
			Type:     AssertTableRows,
			Expected: fmt.Sprintf("table %s with %d rows", a.Table, len(want)),
			Actual:   "table does not exist",
		}
	}
	if !ts.Rows.Equal(want) {
		return &AssertionError{
			Type:     AssertTableRows,
			Expected: formatRows(want),
			Actual:   formatRows(ts.Rows),
		}
	}
	return nil
}

func assertRow(actx *AssertionContext, a Assertion) error {
	fields, err := value.ObjectFromGo(a.Fields)
	if err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	row, ok := actx.Registry.Read(a.Table, table.RowKey(a.Key))
	if !ok {
		return &AssertionError{
			Type:     AssertRow,
			Expected: fmt.Sprintf("%s[%s] with %s", a.Table, a.Key, formatValue(fields)),
			Actual:   "row does not exist",
		}
	}
	for _, name := range fields.SortedKeys() {
		got, ok := row[name]
		if !ok || !value.Equal(got, fields[name]) {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("%s[%s].%s = %s", a.Table, a.Key, name, formatValue(fields[name])),
				Actual:   formatValue(row),
			}
		}
	}
	return nil
}

func assertRowAbsent(actx *AssertionContext, a Assertion) error {
	if row, ok := actx.Registry.Read(a.Table, table.RowKey(a.Key)); ok {
		return &AssertionError{
			Type:     AssertRowAbsent,
			Expected: fmt.Sprintf("%s[%s] absent", a.Table, a.Key),
			Actual:   formatValue(row),
		}
	}
	return nil
}

func assertTableAbsent(actx *AssertionContext, a Assertion) error {
	if ts, ok := actx.Registry.Snapshot().Table(a.Table); ok {
		return &AssertionError{
			Type:     AssertTableAbsent,
			Expected: fmt.Sprintf("table %s absent", a.Table),
			Actual:   fmt.Sprintf("table with %d rows", ts.Len()),
		}
	}
	return nil
}

func assertWinner(actx *AssertionContext, a Assertion) error {
	got, ok := actx.Registry.Winner(a.Table, table.RowKey(a.Key))
	if !ok {
		got = ""
	}
	if got != a.Feature {
		return &AssertionError{
			Type:     AssertWinner,
			Expected: fmt.Sprintf("%s[%s] decided by %q", a.Table, a.Key, a.Feature),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}

func expectedRows(raw map[string]map[string]any) (table.Rows, error) {
	rows := make(table.Rows, len(raw))
	for k, r := range raw {
		row, err := value.ObjectFromGo(r)
		if err != nil {
			return nil, fmt.Errorf("rows[%s]: %w", k, err)
		}
		if row == nil {
			row = value.Object{}
		}
		rows[table.RowKey(k)] = row
	}
	return rows, nil
}

func formatRows(rows table.Rows) string {
	doc := make(map[string]any, len(rows))
	for k, r := range rows {
		doc[string(k)] = r
	}
	return formatValue(doc)
}

func formatValue(v any) string {
	data, err := value.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
