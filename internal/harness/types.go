package harness

// Trace event types.
const (
	EventHit           = "hit"
	EventMiss          = "miss"
	EventCompile       = "compile"
	EventCompileFailed = "compile_failed"
	EventSave          = "save"
	EventRestart       = "restart"
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Type     string `json:"type"`
	Point    int64  `json:"point,omitempty"`
	Key      string `json:"key,omitempty"`
	Priority uint32 `json:"priority,omitempty"`

	// Cache is the point's cache after the step, in rank order, as
	// "<key>:<priority>" ("-" for an uncompiled variant).
	Cache []string `json:"cache,omitempty"`

	// Points is the number of execution points restored by a restart.
	Points int `json:"points,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addEvent appends ev with the next sequence number.
func (r *Result) addEvent(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}

// Count returns the number of trace events of the given type.
func (r *Result) Count(eventType string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}
