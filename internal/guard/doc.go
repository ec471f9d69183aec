// Package guard owns the lifecycle of natively compiled guard predicates.
//
// A guard is a boolean predicate over input tensor metadata, compiled out of
// band into a shared object and attached to a compiled graph as a byte-blob
// attribute (PayloadAttr). A Caller loads that blob, invokes the predicate on
// the hot path and unloads it on eviction or teardown.
//
// Loading is pluggable through Loader. NativeLoader writes the blob into an
// anonymous memory-backed file (memfd), dlopens it through /proc/self/fd and
// resolves SymbolName. No temporary file ever touches disk, and the raw OS
// handles never leave the Module returned by the loader.
//
// Native ABI of the resolved symbol:
//
//	typedef struct { int32_t dtype; int32_t rank; const int64_t* dims; } gc_tensor_desc;
//	bool guard_check(const gc_tensor_desc** descs, size_t n, char* reason, size_t reason_cap);
//
// Thread-safety: a Caller is not safe for concurrent use. The owning cache is
// accessed under a caller-held lock.
package guard
