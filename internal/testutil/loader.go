package testutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/guardcache/internal/graph"
	"github.com/roach88/guardcache/internal/guard"
)

// PayloadPrefix marks a payload understood by RecordingLoader.
const PayloadPrefix = "guard:"

// RecordingLoader is a guard.Loader test double that records every open and
// close so tests can assert guards are released exactly once.
//
// Payloads have the form "guard:<desc>" where desc is:
//   - "*"          matches any input
//   - "never"      never matches
//   - "f32[2x3]"   matches when the first input has exactly that dtype and shape
//
// Any other payload fails to open, as does every payload once FailOpen is set.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type RecordingLoader struct {
	mu       sync.Mutex
	modules  []*RecordingModule
	FailOpen error
}

// NewRecordingLoader creates an empty recording loader.
func NewRecordingLoader() *RecordingLoader {
	return &RecordingLoader{}
}

// Open implements guard.Loader.
func (l *RecordingLoader) Open(payload []byte) (guard.Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailOpen != nil {
		return nil, l.FailOpen
	}
	spec, ok := strings.CutPrefix(string(payload), PayloadPrefix)
	if !ok {
		return nil, fmt.Errorf("not a test guard payload: %q", payload)
	}
	m := &RecordingModule{loader: l, Spec: spec}
	if spec != "*" && spec != "never" {
		want, err := ParseDesc(spec)
		if err != nil {
			return nil, err
		}
		m.want = &want
	}
	l.modules = append(l.modules, m)
	return m, nil
}

// Opens returns how many modules were opened.
func (l *RecordingLoader) Opens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.modules)
}

// Live returns how many opened modules were never closed.
func (l *RecordingLoader) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	live := 0
	for _, m := range l.modules {
		if m.closeCalls == 0 {
			live++
		}
	}
	return live
}

// DoubleCloses returns how many modules were closed more than once.
func (l *RecordingLoader) DoubleCloses() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.modules {
		if m.closeCalls > 1 {
			n++
		}
	}
	return n
}

// Modules returns the opened modules in open order.
func (l *RecordingLoader) Modules() []*RecordingModule {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*RecordingModule(nil), l.modules...)
}

// RecordingModule is one module opened by RecordingLoader.
type RecordingModule struct {
	loader     *RecordingLoader
	Spec       string
	want       *graph.TensorDesc
	closeCalls int
	checks     int
}

// Check implements guard.Module.
func (m *RecordingModule) Check(descs []graph.TensorDesc, reasonCap int) (bool, string) {
	m.loader.mu.Lock()
	defer m.loader.mu.Unlock()

	m.checks++
	var reason string
	switch {
	case m.closeCalls > 0:
		reason = "module closed"
	case m.Spec == "*":
		return true, ""
	case m.Spec == "never":
		reason = "never matches"
	case len(descs) == 0:
		reason = "no inputs"
	case descs[0].String() != m.want.String():
		reason = fmt.Sprintf("input 0: want %s, got %s", m.want, descs[0])
	default:
		return true, ""
	}
	if len(reason) > reasonCap {
		reason = reason[:reasonCap]
	}
	return false, reason
}

// Close implements guard.Module. Every call is counted.
func (m *RecordingModule) Close() error {
	m.loader.mu.Lock()
	defer m.loader.mu.Unlock()
	m.closeCalls++
	return nil
}

// Closed reports whether Close was called at least once.
func (m *RecordingModule) Closed() bool {
	m.loader.mu.Lock()
	defer m.loader.mu.Unlock()
	return m.closeCalls > 0
}

// Checks returns how many times the predicate was evaluated.
func (m *RecordingModule) Checks() int {
	m.loader.mu.Lock()
	defer m.loader.mu.Unlock()
	return m.checks
}
