package graph

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainDump    = "guardcache/graph-dump/v1"
	DomainPayload = "guardcache/guard-payload/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DumpHash returns the content hash of a canonical graph dump.
func DumpHash(dump []byte) string {
	return hashWithDomain(DomainDump, dump)
}

// PayloadHash returns the content hash of a guard payload blob.
// Used only for diagnostics; two variants may carry the same payload.
func PayloadHash(payload []byte) string {
	return hashWithDomain(DomainPayload, payload)
}
