package guard

import (
	"errors"
	"log/slog"

	"github.com/roach88/guardcache/internal/graph"
)

const (
	// PayloadAttr is the graph attribute carrying the guard shared object.
	PayloadAttr = "guard_so"

	// SymbolName is the predicate symbol resolved from the shared object.
	SymbolName = "guard_check"

	// ReasonBufferSize is the capacity of the mismatch reason buffer handed
	// to the predicate.
	ReasonBufferSize = 1024
)

// Module is one loaded guard predicate.
type Module interface {
	// Check evaluates the predicate. When it returns false, reason holds the
	// predicate's explanation, truncated to reasonCap bytes.
	Check(descs []graph.TensorDesc, reasonCap int) (ok bool, reason string)

	// Close releases every OS resource held by the module.
	// Calling Close more than once is safe.
	Close() error
}

// Loader turns a guard payload into a callable Module.
type Loader interface {
	Open(payload []byte) (Module, error)
}

// NativeLoader loads payloads as shared objects through an anonymous
// memory-backed file. Symbol defaults to SymbolName.
type NativeLoader struct {
	Symbol string
}

func (l NativeLoader) symbol() string {
	if l.Symbol == "" {
		return SymbolName
	}
	return l.Symbol
}

// Caller owns at most one loaded Module.
type Caller struct {
	loader Loader
	logger *slog.Logger
	label  string
	mod    Module
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithLogger sets the logger used for mismatch diagnostics.
func WithLogger(l *slog.Logger) CallerOption {
	return func(c *Caller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLabel sets the label attached to diagnostics (e.g. "ep=3").
func WithLabel(label string) CallerOption {
	return func(c *Caller) {
		c.label = label
	}
}

// NewCaller creates an unloaded caller. A nil loader selects NativeLoader.
func NewCaller(loader Loader, opts ...CallerOption) *Caller {
	if loader == nil {
		loader = NativeLoader{}
	}
	c := &Caller{
		loader: loader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Loaded reports whether a predicate is currently loaded.
func (c *Caller) Loaded() bool {
	return c.mod != nil
}

// Matches evaluates the loaded predicate against input metadata.
// Tensor content is never inspected. Without a loaded predicate Matches
// always returns false.
func (c *Caller) Matches(inputs []graph.Tensor) bool {
	if c.mod == nil {
		return false
	}
	ok, reason := c.mod.Check(graph.Describe(inputs), ReasonBufferSize)
	if !ok {
		c.logger.Debug("guard mismatch", "guard", c.label, "reason", reason)
	}
	return ok
}

// Load reads the guard payload from g and loads it.
// A previously loaded predicate is unloaded first. On failure the caller is
// left unloaded.
func (c *Caller) Load(g *graph.Graph) error {
	if err := c.Unload(); err != nil {
		c.logger.Warn("unloading previous guard failed", "guard", c.label, "error", err)
	}

	payload, ok := g.Attr(PayloadAttr)
	if !ok || len(payload) == 0 {
		return &LoadError{Stage: StagePayload, Err: ErrMissingPayload}
	}

	mod, err := c.loader.Open(payload)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			return err
		}
		return &LoadError{Stage: StageOpen, Err: err}
	}
	c.mod = mod
	c.logger.Debug("guard loaded", "guard", c.label, "payload", graph.PayloadHash(payload)[:12])
	return nil
}

// Unload releases the loaded predicate. Safe to call repeatedly.
func (c *Caller) Unload() error {
	if c.mod == nil {
		return nil
	}
	mod := c.mod
	c.mod = nil
	return mod.Close()
}
