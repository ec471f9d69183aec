// Package jit implements the guard-gated compilation cache.
//
// When execution reaches an execution point (a slice of a larger graph), the
// engine asks the point for the variant whose guard accepts the current
// inputs. On a total miss a fresh uncompiled variant is registered; an
// external compiler later lowers it and calls SetCompiled with a graph
// carrying the guard payload.
//
// OWNERSHIP:
//
//	Order ──owns──▶ ExecutionPoint ──owns──▶ GuardCache ──owns──▶ GuardedVariant ──owns──▶ guard.Caller
//	                      ▲                                             │
//	                      └──────────── non-owning back-reference ──────┘
//
// DISPATCH:
//  1. FindOrCreateGuarded scans variants in rank order, calling each guard
//  2. hit: priority++, re-sort, return the variant
//  3. miss: new variant deep-copies the slice template, the lowest-priority
//     entry is evicted if the cache is full (its guard unloaded), insert
//
// Nothing in this package locks. Session provides the caller-held lock and
// the persistence hooks; persist.Layer implements Persister.
package jit
