// Package harness runs guard cache scenarios: scripted sequences of
// dispatches, compilations, saves and restarts against a real Session,
// persistence layer and a recording guard loader.
//
// # Scenario Format
//
//	name: evict_lowest_priority
//	description: "What this scenario validates"
//	max_cache_count: 2
//	points:
//	  - id: 1
//	    last: true
//	flow:
//	  - dispatch: 1
//	    inputs: ["f32[1]"]
//	    expect: miss
//	    compile: "f32[1]"
//	  - save: true
//	  - restart: true
//	assertions:
//	  - type: cache_keys
//	    point: 1
//	    keys: [k-1]
//	  - type: live_guards
//	    count: 1
//
// A dispatch step runs Session.Dispatch and records a hit or a miss. When
// compile is set the returned variant is compiled with a guard accepting that
// tensor descriptor ("*" accepts anything, "-" leaves the payload out so the
// guard load fails). restart closes the session (saving it) and opens a new
// one over a fresh order, restoring from disk.
//
// # Assertion Types
//
//   - cache_keys: guard keys of a point in rank order ("-" for uncompiled)
//   - cache_size: number of cached variants of a point
//   - priority: priority of the variant with a given key
//   - live_guards: guards opened and not yet closed
//   - trace_count: number of trace events of a type
//
// # Deterministic Testing
//
// Guard keys come from testutil.SequenceKeyGenerator ("k-1", "k-2", ...)
// and compiled graph ids count up from 1 unless a step sets graph_id, so the
// trace of a scenario is identical on every run and can be compared against
// a golden file (see RunWithGolden).
package harness
