// Package persist saves and restores a jit.Order under a cache directory so
// compiled variants survive process restarts.
//
// Directory layout (<root>/jit/<cache key>/):
//
//	slicing.yaml          slicing descriptor, written last on save
//	slices/<id>.json      sliced and remaining graph of each execution point
//	keys.db               variant keys per slice, artifact index (see store)
//	graphs/<key>.json     compiled-graph dump of one guarded variant
//
// A restore rebuilds each variant from its dump and re-loads its guard. Any
// failure at descriptor or slice level leaves the caller's order untouched;
// a single unreadable or unloadable variant is logged and skipped.
//
// Persistence is disabled (every operation a no-op) when the root directory
// or the cache key is empty.
package persist
