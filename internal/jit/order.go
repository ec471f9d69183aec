package jit

import (
	"errors"
	"fmt"

	"github.com/roach88/guardcache/internal/graph"
)

// Order is the execution order of a partitioned graph: its execution points
// in the order execution reaches them. It is the unit persisted across runs.
//
// Options given to NewOrder apply to every point created through NewPoint,
// including points rebuilt by a restore.
type Order struct {
	opts   []Option
	points []*ExecutionPoint
	byID   map[int64]*ExecutionPoint
}

// NewOrder creates an empty order.
func NewOrder(opts ...Option) *Order {
	return &Order{
		opts: append([]Option(nil), opts...),
		byID: make(map[int64]*ExecutionPoint),
	}
}

// Options returns the point options of this order.
func (o *Order) Options() []Option {
	return append([]Option(nil), o.opts...)
}

// NewPoint creates an execution point with the order's options (followed by
// extra) and appends it.
func (o *Order) NewPoint(id int64, sliced, remaining *graph.Graph, extra ...Option) (*ExecutionPoint, error) {
	if _, dup := o.byID[id]; dup {
		return nil, fmt.Errorf("execution point %d already exists", id)
	}
	opts := append(o.Options(), extra...)
	ep := NewExecutionPoint(id, sliced, remaining, opts...)
	o.points = append(o.points, ep)
	o.byID[id] = ep
	return ep, nil
}

// Point looks up an execution point by id.
func (o *Order) Point(id int64) (*ExecutionPoint, bool) {
	ep, ok := o.byID[id]
	return ep, ok
}

// Points returns the execution points in order.
func (o *Order) Points() []*ExecutionPoint {
	return append([]*ExecutionPoint(nil), o.points...)
}

// Len returns the number of execution points.
func (o *Order) Len() int { return len(o.points) }

// Adopt moves every point of src to the end of o. Nothing moves if any id
// would collide. src is left empty.
func (o *Order) Adopt(src *Order) error {
	for _, ep := range src.points {
		if _, dup := o.byID[ep.id]; dup {
			return fmt.Errorf("adopt: execution point %d already exists", ep.id)
		}
	}
	for _, ep := range src.points {
		o.points = append(o.points, ep)
		o.byID[ep.id] = ep
	}
	src.points = nil
	src.byID = make(map[int64]*ExecutionPoint)
	return nil
}

// Close tears down every point, unloading all guards, and empties the order.
func (o *Order) Close() error {
	var errs []error
	for _, ep := range o.points {
		if err := ep.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	o.points = nil
	o.byID = make(map[int64]*ExecutionPoint)
	return errors.Join(errs...)
}
