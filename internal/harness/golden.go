package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/featuretables/internal/value"
)

// toCanonicalMap converts an event to a map for canonical JSON. Zero
// fields are left out so each event type keeps only its own keys.
func (e TraceEvent) toCanonicalMap() map[string]any {
	m := map[string]any{"type": e.Type}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	if e.Step != 0 {
		m["step"] = int64(e.Step)
	}
	set("command", e.Command)
	set("feature", e.Feature)
	set("activation", e.Activation)
	set("from", e.From)
	set("to", e.To)
	set("error", e.Error)
	set("table", e.Table)
	if e.Declared {
		m["declared"] = true
	}
	if e.Dropped {
		m["dropped"] = true
	}
	if len(e.Features) > 0 {
		features := make([]any, len(e.Features))
		for i, f := range e.Features {
			features[i] = f
		}
		m["features"] = features
	}
	if e.Type == EventCommit && !e.Dropped {
		rows := make(map[string]any, len(e.Rows))
		for k, r := range e.Rows {
			rows[string(k)] = r
		}
		m["rows"] = rows
	}
	return m
}

// TraceLines renders the trace as canonical JSON, one event per line.
func TraceLines(trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range trace {
		line, err := value.MarshalCanonical(e.toCanonicalMap())
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := TraceLines(result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
