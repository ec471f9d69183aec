package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/guardcache/internal/graph"
	"github.com/roach88/guardcache/internal/jit"
	"github.com/roach88/guardcache/internal/persist"
	"github.com/roach88/guardcache/internal/testutil"
)

// Harness runs one scenario against a real session and persistence layer.
// Guards come from a RecordingLoader so live guard counts can be asserted.
type Harness struct {
	scenario *Scenario
	layer    *persist.Layer
	loader   *testutil.RecordingLoader
	keys     *testutil.SequenceKeyGenerator
	logger   *slog.Logger

	session     *jit.Session
	nextGraphID uint32
}

// Run executes a scenario and returns the result.
//
// Each run persists into a fresh temporary directory which is removed
// afterwards. A non-nil error means the scenario could not be executed;
// failed expectations and assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	root, err := os.MkdirTemp("", "guardcache-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	defer os.RemoveAll(root)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cacheKey := scenario.CacheKey
	if cacheKey == "" {
		cacheKey = scenario.Name
	}

	h := &Harness{
		scenario: scenario,
		layer:    persist.New(root, cacheKey, persist.WithLogger(logger)),
		loader:   testutil.NewRecordingLoader(),
		keys:     testutil.NewSequenceKeyGenerator("k"),
		logger:   logger,
	}

	if _, err := h.start(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if h.session != nil {
			_ = h.session.Close(ctx)
		}
	}()

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	if err := h.evaluateAssertions(result); err != nil {
		return nil, err
	}
	return result, nil
}

// start opens a session over a fresh order, restores it from disk and
// registers every declared point the restore did not bring back.
// Returns the number of restored points.
func (h *Harness) start(ctx context.Context) (int, error) {
	opts := []jit.Option{
		jit.WithLoader(h.loader),
		jit.WithKeyGenerator(h.keys),
		jit.WithRetryFind(h.scenario.RetryFind),
		jit.WithLogger(h.logger),
	}
	if h.scenario.MaxCacheCount > 0 {
		opts = append(opts, jit.WithMaxCacheCount(h.scenario.MaxCacheCount))
	}

	h.session = jit.NewSession(jit.NewOrder(opts...), h.layer, h.logger)
	restored := h.session.Open(ctx)

	for _, p := range h.scenario.Points {
		err := h.session.Do(func(order *jit.Order) error {
			if _, ok := order.Point(p.ID); ok {
				return nil
			}
			var extra []jit.Option
			if p.MaxCacheCount > 0 {
				extra = append(extra, jit.WithMaxCacheCount(p.MaxCacheCount))
			}
			_, err := order.NewPoint(p.ID, testutil.SliceGraph(fmt.Sprintf("sliced-%d", p.ID)), remainingGraph(p), extra...)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("register point %d: %w", p.ID, err)
		}
	}
	return restored, nil
}

func remainingGraph(p PointDef) *graph.Graph {
	if p.Last {
		return nil
	}
	return testutil.SliceGraph(fmt.Sprintf("remaining-%d", p.ID))
}

func (h *Harness) executeStep(ctx context.Context, i int, step FlowStep, result *Result) error {
	switch {
	case step.Save:
		if err := h.session.Save(ctx); err != nil {
			return fmt.Errorf("save: %w", err)
		}
		result.addEvent(TraceEvent{Type: EventSave})
		return nil

	case step.Restart:
		if err := h.session.Close(ctx); err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		h.session = nil
		restored, err := h.start(ctx)
		if err != nil {
			return err
		}
		result.addEvent(TraceEvent{Type: EventRestart, Points: restored})
		return nil
	}

	id := *step.Dispatch
	v, err := h.session.Dispatch(id, testutil.Inputs(step.Inputs...))
	if err != nil {
		return fmt.Errorf("dispatch to %d: %w", id, err)
	}

	outcome := EventMiss
	if v.Compiled() {
		outcome = EventHit
	}
	if step.Expect != "" && step.Expect != outcome {
		result.AddError(fmt.Sprintf("flow[%d]: dispatch to %d with %v: expected %s, got %s", i, id, step.Inputs, step.Expect, outcome))
	}
	result.addEvent(TraceEvent{
		Type:     outcome,
		Point:    id,
		Key:      v.Key(),
		Priority: v.Priority(),
		Cache:    h.snapshot(id),
	})

	if step.Compile == "" {
		return nil
	}

	graphID := step.GraphID
	if graphID == 0 {
		h.nextGraphID++
		graphID = h.nextGraphID
	}
	compiled, err := h.compiledGraph(v, step.Compile)
	if err != nil {
		return err
	}

	event := EventCompile
	if err := h.session.Compile(v, graphID, compiled); err != nil {
		if !jit.IsGuardLoadError(err) {
			return fmt.Errorf("compile: %w", err)
		}
		event = EventCompileFailed
	}
	result.addEvent(TraceEvent{
		Type:  event,
		Point: id,
		Key:   v.Key(),
		Cache: h.snapshot(id),
	})
	return nil
}

// compiledGraph builds the compiler output for v: a copy of its point's slice
// carrying a guard payload for spec, or no payload at all for "-".
func (h *Harness) compiledGraph(v *jit.GuardedVariant, spec string) (*graph.Graph, error) {
	base := v.Owner().SlicedGraph()
	if spec == "-" {
		return base.Clone()
	}
	return testutil.CompiledGraph(base, spec), nil
}

// snapshot renders a point's cache in rank order as "<key>:<priority>".
func (h *Harness) snapshot(id int64) []string {
	var out []string
	_ = h.session.Do(func(order *jit.Order) error {
		ep, ok := order.Point(id)
		if !ok {
			return nil
		}
		for _, v := range ep.Cache().Entries() {
			out = append(out, entryLabel(v))
		}
		return nil
	})
	return out
}

func entryLabel(v *jit.GuardedVariant) string {
	key := v.Key()
	if !v.Compiled() || key == "" {
		key = "-"
	}
	return fmt.Sprintf("%s:%d", key, v.Priority())
}
