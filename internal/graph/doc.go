// Package graph defines the graph slice and tensor metadata types that the
// guard cache operates on.
//
// The cache treats graphs as opaque: it only needs to deep-copy a slice
// template (Clone), read a named byte-blob attribute from a compiled graph
// (Attr), and dump/restore a graph for cross-run persistence
// (MarshalCanonical / Unmarshal). Tensors are likewise reduced to their
// metadata: a guard sees shape and dtype, never content.
//
// # Canonical dumps
//
// Graph dumps use RFC 8785 style canonical JSON so that a dump's content hash
// is stable across processes:
//   - object keys sorted by UTF-16 code units
//   - strings NFC normalized, no HTML escaping
//   - byte-blob attributes base64 encoded
//
// Content hashes are SHA-256 with a domain prefix (see hash.go).
package graph
