package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/featuretables/internal/descriptor"
	"github.com/roach88/featuretables/internal/engine"
	"github.com/roach88/featuretables/internal/registry"
	"github.com/roach88/featuretables/internal/table"
	"github.com/roach88/featuretables/internal/testutil"
)

const inlinePrefix = "inline:"

// Harness holds the engine and recorders for one scenario run.
type Harness struct {
	scenario *Scenario
	registry *registry.Registry
	engine   *engine.Engine
	recorder *testutil.Recorder
	refs     map[string]descriptor.Ref

	seen    int
	cmdErrs []error
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh registry and engine. The returned
// error reports setup problems (unreadable tables or descriptors); failed
// expectations are reported in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	h.collect(result)

	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	actx := h.assertionContext()
	for _, msg := range EvaluateAssertions(actx, scenario.Assertions) {
		result.AddError(msg)
	}

	snap := h.registry.Snapshot()
	for _, name := range snap.Names() {
		t, _ := snap.Table(name)
		result.Tables[name] = t.Rows.Clone()
	}
	for _, st := range h.engine.Features() {
		result.States[st.FeatureID] = st.State
	}
	return result, nil
}

func newHarness(s *Scenario) (*Harness, error) {
	lazy := true
	if s.LazyTables != nil {
		lazy = *s.LazyTables
	}

	h := &Harness{
		scenario: s,
		recorder: testutil.NewRecorder(),
		refs:     make(map[string]descriptor.Ref),
	}
	h.registry = registry.New(
		registry.WithLazyTables(lazy),
		registry.WithCommitHook(h.recorder.Hook()),
	)

	if s.Tables != "" {
		if err := h.declareTables(h.resolve(s.Tables)); err != nil {
			return nil, err
		}
	}

	loader, err := h.buildLoader()
	if err != nil {
		return nil, err
	}

	h.engine = engine.New(h.registry, loader,
		engine.WithIDGenerator(testutil.NewSequenceIDs("act")),
		engine.WithObserver(h.recorder.Observe),
		engine.WithErrorHandler(func(_ engine.Command, err error) {
			h.cmdErrs = append(h.cmdErrs, err)
		}),
	)
	return h, nil
}

func (h *Harness) resolve(path string) string {
	if filepath.IsAbs(path) || h.scenario.Dir == "" {
		return path
	}
	return filepath.Join(h.scenario.Dir, path)
}

func (h *Harness) declareTables(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read tables file: %w", err)
	}
	tables, err := descriptor.ParseTableSetFile(data, path)
	if err != nil {
		return err
	}
	for _, bt := range tables {
		handle, err := h.registry.Declare(bt.Name, bt.Schema)
		if err != nil {
			return err
		}
		if err := handle.SetBase(bt.Rows); err != nil {
			return err
		}
	}
	return nil
}

// buildLoader serves file refs from the scenario directory and inline or
// failing features from memory.
func (h *Harness) buildLoader() (descriptor.Loader, error) {
	files := descriptor.NewFileLoader(h.scenario.Dir)
	mem := descriptor.NewMemoryLoader()

	ids := make([]string, 0, len(h.scenario.Features))
	for id := range h.scenario.Features {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		f := h.scenario.Features[id]
		switch {
		case f.Ref != "":
			h.refs[id] = descriptor.Ref(f.Ref)
		case f.Fail != "":
			ref := descriptor.Ref(inlinePrefix + id)
			mem.Fail(ref, errors.New(f.Fail))
			h.refs[id] = ref
		default:
			d, err := f.Descriptor.Parse("features." + id)
			if err != nil {
				return nil, err
			}
			ref := descriptor.Ref(inlinePrefix + id)
			mem.Put(ref, d)
			h.refs[id] = ref
		}
	}

	return descriptor.LoaderFunc(func(ctx context.Context, ref descriptor.Ref) (*descriptor.Descriptor, error) {
		if strings.HasPrefix(string(ref), inlinePrefix) {
			return mem.Load(ctx, ref)
		}
		return files.Load(ctx, ref)
	}), nil
}

// runStep enqueues the step's commands, drains the engine and checks the
// step's expectations.
func (h *Harness) runStep(ctx context.Context, n int, step Step, result *Result) error {
	h.cmdErrs = nil

	commands := []Step{step}
	if len(step.Batch) > 0 {
		commands = step.Batch
	}
	for _, c := range commands {
		name, feature := c.command()
		if name == "" {
			continue
		}
		result.Trace = append(result.Trace, TraceEvent{Type: EventStep, Step: n, Command: name, Feature: feature})
		h.enqueue(name, feature)
	}

	if err := h.engine.Drain(ctx); err != nil {
		return err
	}
	h.collect(result)

	if step.Error != "" {
		h.checkCommandError(n, step.Error, result)
	} else {
		for _, err := range h.cmdErrs {
			result.AddError(fmt.Sprintf("step %d: unexpected command error: %v", n, err))
		}
	}

	for _, msg := range EvaluateAssertions(h.assertionContext(), step.Expect) {
		result.AddError(fmt.Sprintf("step %d: %s", n, msg))
	}
	return nil
}

func (h *Harness) enqueue(name, feature string) {
	switch name {
	case "activate":
		h.engine.Activate(feature, h.refs[feature])
	case "deactivate":
		h.engine.Deactivate(feature)
	case "cancel":
		h.engine.Cancel(feature)
	case "reset":
		h.engine.Reset(feature)
	case "register":
		h.engine.Register(feature, h.refs[feature])
	case "unregister":
		h.engine.Unregister(feature)
	}
}

func (h *Harness) checkCommandError(n int, code string, result *Result) {
	for _, err := range h.cmdErrs {
		var te *table.Error
		if errors.As(err, &te) && te.Code == table.ErrorCode(code) {
			return
		}
	}
	if len(h.cmdErrs) == 0 {
		result.AddError(fmt.Sprintf("step %d: expected %s error, command succeeded", n, code))
		return
	}
	result.AddError(fmt.Sprintf("step %d: expected %s error, got %v", n, code, errors.Join(h.cmdErrs...)))
}

// collect appends events recorded since the last call to the trace.
func (h *Harness) collect(result *Result) {
	events := h.recorder.Events()
	for _, ev := range events[h.seen:] {
		result.Trace = append(result.Trace, traceEvent(ev))
	}
	h.seen = len(events)
}

func traceEvent(ev testutil.Event) TraceEvent {
	if t := ev.Transition; t != nil {
		out := TraceEvent{
			Type:       EventTransition,
			Feature:    t.FeatureID,
			Activation: t.ActivationID,
			From:       t.From.String(),
			To:         t.To.String(),
		}
		if t.Err != nil {
			out.Error = errorCode(t.Err)
		}
		return out
	}

	c := ev.Commit
	out := TraceEvent{Type: EventCommit, Table: c.Name, Dropped: c.Dropped}
	if c.Table != nil {
		out.Declared = c.Table.Declared
		out.Rows = c.Table.Rows.Clone()
	}
	for _, info := range c.Contributions {
		out.Features = append(out.Features, info.FeatureID)
	}
	return out
}

// errorCode returns err's table error code, or its text for other errors.
func errorCode(err error) string {
	var te *table.Error
	if errors.As(err, &te) {
		return string(te.Code)
	}
	return err.Error()
}

func (h *Harness) assertionContext() *AssertionContext {
	return &AssertionContext{
		Engine:   h.engine,
		Registry: h.registry,
		Recorder: h.recorder,
	}
}
