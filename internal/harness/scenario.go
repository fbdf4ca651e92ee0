package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/featuretables/internal/action"
	"github.com/roach88/featuretables/internal/descriptor"
	"github.com/roach88/featuretables/internal/table"
)

// Scenario defines a feature override test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Tables is a base-table file, relative to the scenario file.
	Tables string `yaml:"tables,omitempty"`

	// LazyTables overrides lazy table creation. Default true.
	LazyTables *bool `yaml:"lazy_tables,omitempty"`

	// Features maps feature IDs to their descriptors.
	Features map[string]Feature `yaml:"features"`

	// Steps run in order; each is drained before the next.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Dir is the directory relative paths resolve against.
	Dir string `yaml:"-"`
}

// Feature says where a feature's descriptor comes from. Exactly one field
// must be set.
type Feature struct {
	// Ref is a descriptor file relative to the scenario.
	Ref string `yaml:"ref,omitempty"`

	// Descriptor is an inline YAML descriptor. Inline descriptors cannot
	// reference source files.
	Descriptor *InlineDescriptor `yaml:"descriptor,omitempty"`

	// Fail makes every load of the feature fail with this message.
	Fail string `yaml:"fail,omitempty"`
}

// InlineDescriptor keeps an inline descriptor as raw YAML so that the
// scenario's strict decoding does not apply to it. Parse decodes it with
// the descriptor package's own strict rules.
type InlineDescriptor struct {
	node *yaml.Node
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *InlineDescriptor) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: inline descriptor must be a mapping", n.Line)
	}
	d.node = n
	return nil
}

// Parse decodes the descriptor. file names it in errors.
func (d *InlineDescriptor) Parse(file string) (*descriptor.Descriptor, error) {
	data, err := yaml.Marshal(d.node)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return descriptor.Parse(data, descriptor.FormatYAML, file)
}

// Step is one engine command, a batch of commands, or a pure expectation.
type Step struct {
	Activate   string `yaml:"activate,omitempty"`
	Deactivate string `yaml:"deactivate,omitempty"`
	Cancel     string `yaml:"cancel,omitempty"`
	Reset      string `yaml:"reset,omitempty"`
	Register   string `yaml:"register,omitempty"`
	Unregister string `yaml:"unregister,omitempty"`

	// Batch enqueues several commands before draining once. Commands in a
	// batch run before any load they start completes.
	Batch []Step `yaml:"batch,omitempty"`

	// Error is the error code the command must fail with.
	Error string `yaml:"error,omitempty"`

	// Expect is checked after the step drains.
	Expect []Assertion `yaml:"expect,omitempty"`
}

// command returns the step's command name and feature, or "" for none.
func (s Step) command() (name, feature string) {
	for _, c := range []struct{ name, feature string }{
		{"activate", s.Activate},
		{"deactivate", s.Deactivate},
		{"cancel", s.Cancel},
		{"reset", s.Reset},
		{"register", s.Register},
		{"unregister", s.Unregister},
	} {
		if c.feature != "" {
			return c.name, c.feature
		}
	}
	return "", ""
}

func (s Step) commandCount() int {
	n := 0
	for _, f := range []string{s.Activate, s.Deactivate, s.Cancel, s.Reset, s.Register, s.Unregister} {
		if f != "" {
			n++
		}
	}
	return n
}

// Assertion validates features, tables or the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Feature is used by feature_state, feature_error, transitions and winner.
	Feature string `yaml:"feature,omitempty"`

	// State is the expected state name (feature_state).
	State string `yaml:"state,omitempty"`

	// States are the expected target states (transitions).
	States []string `yaml:"states,omitempty"`

	// Code is the expected error code (feature_error).
	Code string `yaml:"code,omitempty"`

	// Table is used by table_rows, row, row_absent, table_absent and winner.
	Table string `yaml:"table,omitempty"`

	// Key is the row key (row, row_absent, winner).
	Key string `yaml:"key,omitempty"`

	// Rows is the exact expected content (table_rows).
	Rows map[string]map[string]any `yaml:"rows,omitempty"`

	// Fields is a subset of the expected row (row).
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion type constants.
const (
	AssertFeatureState = "feature_state"
	AssertFeatureError = "feature_error"
	AssertTransitions  = "transitions"
	AssertTableRows    = "table_rows"
	AssertRow          = "row"
	AssertRowAbsent    = "row_absent"
	AssertTableAbsent  = "table_absent"
	AssertWinner       = "winner"
)

var errorCodes = []table.ErrorCode{
	table.CodeSchemaMismatch,
	table.CodeUnknownTable,
	table.CodeLoadFailure,
	table.CodeLedgerInconsistency,
	table.CodeInvalidTransition,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.Dir = filepath.Dir(path)
	return s, nil
}

// ParseScenario parses scenario YAML. Relative paths resolve against the
// working directory unless Dir is set afterwards.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for id, f := range s.Features {
		set := 0
		for _, ok := range []bool{f.Ref != "", f.Descriptor != nil, f.Fail != ""} {
			if ok {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("features.%s: exactly one of ref, descriptor, fail is required", id)
		}
		if f.Descriptor != nil {
			if _, err := f.Descriptor.Parse("features." + id); err != nil {
				return err
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(s, fmt.Sprintf("steps[%d]", i), step, true); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(fmt.Sprintf("assertions[%d]", i), a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s *Scenario, where string, step Step, top bool) error {
	n := step.commandCount()
	if len(step.Batch) > 0 {
		if !top {
			return fmt.Errorf("%s: batches cannot nest", where)
		}
		if n > 0 {
			return fmt.Errorf("%s: batch cannot be combined with a command", where)
		}
		if step.Error != "" {
			return fmt.Errorf("%s: error is not allowed on a batch", where)
		}
		for j, inner := range step.Batch {
			if inner.commandCount() != 1 {
				return fmt.Errorf("%s.batch[%d]: exactly one command is required", where, j)
			}
			if len(inner.Expect) > 0 {
				return fmt.Errorf("%s.batch[%d]: expect is not allowed inside a batch", where, j)
			}
			if err := validateStep(s, fmt.Sprintf("%s.batch[%d]", where, j), inner, false); err != nil {
				return err
			}
		}
	} else {
		if n > 1 {
			return fmt.Errorf("%s: only one command per step", where)
		}
		if n == 0 && len(step.Expect) == 0 {
			return fmt.Errorf("%s: a command, batch or expect is required", where)
		}
	}

	if step.Error != "" {
		if n == 0 {
			return fmt.Errorf("%s: error requires a command", where)
		}
		if !slices.Contains(errorCodes, table.ErrorCode(step.Error)) {
			return fmt.Errorf("%s: unknown error code %q", where, step.Error)
		}
	}

	if name, feature := step.command(); name == "activate" || name == "register" {
		if _, ok := s.Features[feature]; !ok {
			return fmt.Errorf("%s: feature %q is not defined", where, feature)
		}
	}

	for j, a := range step.Expect {
		if err := validateAssertion(fmt.Sprintf("%s.expect[%d]", where, j), a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(where string, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("%s: type is required", where)
	}

	needFeature := func() error {
		if a.Feature == "" {
			return fmt.Errorf("%s: feature is required for %s", where, a.Type)
		}
		return nil
	}
	needTable := func() error {
		if a.Table == "" {
			return fmt.Errorf("%s: table is required for %s", where, a.Type)
		}
		return nil
	}
	needKey := func() error {
		if err := needTable(); err != nil {
			return err
		}
		if a.Key == "" {
			return fmt.Errorf("%s: key is required for %s", where, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertFeatureState:
		if err := needFeature(); err != nil {
			return err
		}
		if _, err := action.ParseState(a.State); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	case AssertFeatureError:
		if err := needFeature(); err != nil {
			return err
		}
		if !slices.Contains(errorCodes, table.ErrorCode(a.Code)) {
			return fmt.Errorf("%s: unknown error code %q", where, a.Code)
		}
	case AssertTransitions:
		if err := needFeature(); err != nil {
			return err
		}
		for _, name := range a.States {
			if _, err := action.ParseState(name); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
		}
	case AssertTableRows:
		if err := needTable(); err != nil {
			return err
		}
		if a.Rows == nil {
			return fmt.Errorf("%s: rows is required for table_rows (use {} for an empty table)", where)
		}
	case AssertRow:
		if err := needKey(); err != nil {
			return err
		}
		if len(a.Fields) == 0 {
			return fmt.Errorf("%s: fields is required for row", where)
		}
	case AssertRowAbsent:
		return needKey()
	case AssertTableAbsent:
		return needTable()
	case AssertWinner:
		return needKey()
	default:
		return fmt.Errorf("%s: unknown assertion type %q", where, a.Type)
	}
	return nil
}
