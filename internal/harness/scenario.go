package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/guardcache/internal/testutil"
)

// Scenario defines a guard cache scenario: a flow of dispatches, compilations,
// saves and restarts followed by assertions on the trace and final cache
// state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// CacheKey keys the persisted cache directory. Defaults to Name.
	CacheKey string `yaml:"cache_key,omitempty"`

	// MaxCacheCount bounds every point's cache. Zero keeps the default.
	MaxCacheCount uint32 `yaml:"max_cache_count,omitempty"`

	// RetryFind enables the second lookup on a miss.
	RetryFind bool `yaml:"retry_find,omitempty"`

	// Points are registered, in order, before the flow runs and again after
	// every restart for points the restore did not bring back.
	Points []PointDef `yaml:"points"`

	Flow []FlowStep `yaml:"flow"`

	// Supported types: cache_keys, cache_size, priority, live_guards, trace_count
	Assertions []Assertion `yaml:"assertions"`
}

// PointDef declares one execution point.
type PointDef struct {
	ID int64 `yaml:"id"`

	// Last marks the final point of the order (no remaining graph).
	Last bool `yaml:"last,omitempty"`

	// MaxCacheCount overrides the scenario-wide bound for this point.
	MaxCacheCount uint32 `yaml:"max_cache_count,omitempty"`
}

// FlowStep is exactly one of a dispatch, a save or a restart.
type FlowStep struct {
	// Dispatch is the id of the point to dispatch to.
	Dispatch *int64 `yaml:"dispatch,omitempty"`

	// Inputs are tensor descriptors such as "f32[2x3]".
	Inputs []string `yaml:"inputs,omitempty"`

	// Expect is "hit" or "miss". Empty skips the check.
	Expect string `yaml:"expect,omitempty"`

	// Compile compiles the dispatched variant with a guard for this
	// descriptor ("*" for any input, "-" for a graph without a guard payload).
	Compile string `yaml:"compile,omitempty"`

	// GraphID is the compiled graph id. Zero picks the next sequential id.
	GraphID uint32 `yaml:"graph_id,omitempty"`

	Save    bool `yaml:"save,omitempty"`
	Restart bool `yaml:"restart,omitempty"`
}

// Assertion validates the trace or the final cache state.
type Assertion struct {
	Type string `yaml:"type"`

	// Point is the execution point id (cache_keys, cache_size, priority).
	Point int64 `yaml:"point,omitempty"`

	// Keys are the expected guard keys in rank order (cache_keys).
	Keys []string `yaml:"keys,omitempty"`

	// Key selects a variant (priority).
	Key string `yaml:"key,omitempty"`

	// Priority is the expected priority (priority).
	Priority uint32 `yaml:"priority,omitempty"`

	// Event is the trace event type to count (trace_count).
	Event string `yaml:"event,omitempty"`

	// Count is the expected number (cache_size, live_guards, trace_count).
	Count int `yaml:"count"`
}

// Assertion type constants.
const (
	AssertCacheKeys  = "cache_keys"
	AssertCacheSize  = "cache_size"
	AssertPriority   = "priority"
	AssertLiveGuards = "live_guards"
	AssertTraceCount = "trace_count"
)

// Expect values.
const (
	ExpectHit  = "hit"
	ExpectMiss = "miss"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
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
	if len(s.Points) == 0 {
		return fmt.Errorf("points list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	points := make(map[int64]bool, len(s.Points))
	for i, p := range s.Points {
		if points[p.ID] {
			return fmt.Errorf("points[%d]: duplicate id %d", i, p.ID)
		}
		points[p.ID] = true
	}

	for i, step := range s.Flow {
		if err := validateStep(step, points); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, points); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step FlowStep, points map[int64]bool) error {
	kinds := 0
	if step.Dispatch != nil {
		kinds++
	}
	if step.Save {
		kinds++
	}
	if step.Restart {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("exactly one of dispatch, save, restart is required")
	}

	if step.Dispatch == nil {
		if len(step.Inputs) > 0 || step.Expect != "" || step.Compile != "" || step.GraphID != 0 {
			return fmt.Errorf("inputs, expect, compile and graph_id only apply to dispatch")
		}
		return nil
	}

	if !points[*step.Dispatch] {
		return fmt.Errorf("dispatch to undeclared point %d", *step.Dispatch)
	}
	for _, in := range step.Inputs {
		if _, err := testutil.ParseDesc(in); err != nil {
			return err
		}
	}
	switch step.Expect {
	case "", ExpectHit, ExpectMiss:
	default:
		return fmt.Errorf("expect must be %q or %q, got %q", ExpectHit, ExpectMiss, step.Expect)
	}
	switch step.Compile {
	case "", "*", "-":
	default:
		if _, err := testutil.ParseDesc(step.Compile); err != nil {
			return fmt.Errorf("compile: %w", err)
		}
	}
	return nil
}

func validateAssertion(a Assertion, points map[int64]bool) error {
	switch a.Type {
	case AssertCacheKeys, AssertCacheSize:
		if !points[a.Point] {
			return fmt.Errorf("%s: undeclared point %d", a.Type, a.Point)
		}
	case AssertPriority:
		if !points[a.Point] {
			return fmt.Errorf("%s: undeclared point %d", a.Type, a.Point)
		}
		if a.Key == "" {
			return fmt.Errorf("%s: key is required", a.Type)
		}
	case AssertLiveGuards:
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("%s: event is required", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
