package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/guardcache/internal/jit"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s", ev.Seq, ev.Type)
		if ev.Point != 0 {
			fmt.Fprintf(&buf, " ep=%d", ev.Point)
		}
		if len(ev.Cache) > 0 {
			fmt.Fprintf(&buf, " cache=%v", ev.Cache)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// evaluateAssertions checks every scenario assertion against the live session
// and records failures on result.
func (h *Harness) evaluateAssertions(result *Result) error {
	for i, a := range h.scenario.Assertions {
		var err error
		switch a.Type {
		case AssertCacheKeys:
			err = h.assertCacheKeys(a, result.Trace)
		case AssertCacheSize:
			err = h.assertCacheSize(a, result.Trace)
		case AssertPriority:
			err = h.assertPriority(a, result.Trace)
		case AssertLiveGuards:
			err = assertCount(a, "live guards", h.loader.Live(), result.Trace)
		case AssertTraceCount:
			err = assertCount(a, a.Event+" events", result.Count(a.Event), result.Trace)
		default:
			return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			result.AddError(err.Error())
		}
	}
	return nil
}

// entries returns a point's cached variants in rank order, nil if the point
// does not exist.
func (h *Harness) entries(id int64) []*jit.GuardedVariant {
	var out []*jit.GuardedVariant
	_ = h.session.Do(func(order *jit.Order) error {
		if ep, ok := order.Point(id); ok {
			out = ep.Cache().Entries()
		}
		return nil
	})
	return out
}

func (h *Harness) assertCacheKeys(a Assertion, trace []TraceEvent) error {
	var got []string
	for _, v := range h.entries(a.Point) {
		key := v.Key()
		if !v.Compiled() || key == "" {
			key = "-"
		}
		got = append(got, key)
	}
	if slices.Equal(got, a.Keys) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCacheKeys,
		Expected: fmt.Sprintf("ep %d keys %v", a.Point, a.Keys),
		Actual:   fmt.Sprintf("ep %d keys %v", a.Point, got),
		Trace:    trace,
	}
}

func (h *Harness) assertCacheSize(a Assertion, trace []TraceEvent) error {
	return assertCount(a, fmt.Sprintf("ep %d cached variants", a.Point), len(h.entries(a.Point)), trace)
}

func (h *Harness) assertPriority(a Assertion, trace []TraceEvent) error {
	for _, v := range h.entries(a.Point) {
		if v.Key() != a.Key {
			continue
		}
		if v.Priority() == a.Priority {
			return nil
		}
		return &AssertionError{
			Type:     AssertPriority,
			Expected: fmt.Sprintf("ep %d %s priority %d", a.Point, a.Key, a.Priority),
			Actual:   fmt.Sprintf("priority %d", v.Priority()),
			Trace:    trace,
		}
	}
	return &AssertionError{
		Type:     AssertPriority,
		Expected: fmt.Sprintf("ep %d %s priority %d", a.Point, a.Key, a.Priority),
		Actual:   fmt.Sprintf("key %s not cached", a.Key),
		Trace:    trace,
	}
}

func assertCount(a Assertion, what string, got int, trace []TraceEvent) error {
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d %s", a.Count, what),
		Actual:   fmt.Sprintf("%d %s", got, what),
		Trace:    trace,
	}
}
