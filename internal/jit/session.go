package jit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/guardcache/internal/graph"
)

// Persister saves and restores an execution order across runs.
// Implemented by persist.Layer.
type Persister interface {
	SaveCache(ctx context.Context, order *Order) error
	RestoreCache(ctx context.Context, order *Order) error
}

// Session serialises access to an execution order and wires it to a
// persister.
//
// Thread-safety model:
//   - every exported method takes the session lock
//   - variants returned by Dispatch must only be mutated through Session
//     (Compile) or inside Do
//
// Persistence never fails the session: a failed restore starts cold, a failed
// save is logged. Losing cache state only costs recompilation.
type Session struct {
	mu        sync.Mutex
	id        string
	order     *Order
	persister Persister
	logger    *slog.Logger
}

// NewSession creates a session over order. persister may be nil.
func NewSession(order *Order, persister Persister, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		order:     order,
		persister: persister,
		logger:    logger.With("session", id),
	}
}

// ID returns the session id attached to every log line.
func (s *Session) ID() string { return s.id }

// Open restores persisted cache state into the order.
// Returns the number of execution points restored; 0 on a cold start.
func (s *Session) Open(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persister == nil {
		return 0
	}
	before := s.order.Len()
	if err := s.persister.RestoreCache(ctx, s.order); err != nil {
		s.logger.Warn("cache restore failed, starting cold", "error", err)
		return 0
	}
	restored := s.order.Len() - before
	s.logger.Info("cache restored", "points", restored)
	return restored
}

// Register adds a new execution point to the order.
func (s *Session) Register(id int64, sliced, remaining *graph.Graph, opts ...Option) (*ExecutionPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.NewPoint(id, sliced, remaining, opts...)
}

// Dispatch returns the variant to run for inputs at execution point id,
// creating an uncompiled one on a miss.
func (s *Session) Dispatch(id int64, inputs []graph.Tensor) (*GuardedVariant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.order.Point(id)
	if !ok {
		return nil, &CacheError{Code: ErrCodeUnknownPoint, Message: "execution point not registered", PointID: id}
	}
	return ep.FindOrCreateGuarded(inputs)
}

// Compile records the compiler's output for v.
// A guard load failure is logged and returned; v stays cached but inert.
func (s *Session) Compile(v *GuardedVariant, compiledGraphID uint32, g *graph.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := v.SetCompiled(compiledGraphID, g); err != nil {
		s.logger.Warn("guard load failed, variant left inert", "variant", v.String(), "error", err)
		return err
	}
	return nil
}

// Do runs fn with the session lock held.
func (s *Session) Do(fn func(order *Order) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.order)
}

// Save persists the order. Failures are logged and returned; callers may
// ignore them.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Session) saveLocked(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveCache(ctx, s.order); err != nil {
		s.logger.Warn("cache save failed", "error", err)
		return err
	}
	return nil
}

// Close saves the order and tears down every execution point.
// Only teardown errors are returned.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.saveLocked(ctx)
	return s.order.Close()
}
