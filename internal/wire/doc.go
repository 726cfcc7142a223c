// Package wire implements the binary payloads exchanged with the cluster
// config service: the V1 and V2 tree formats, V2 patches, the subtrees
// request and response bodies, and the hashing and compression applied on
// top of them.
//
// Every decoder in this package is bounds-checked. Malformed input never
// panics; it yields an error wrapping ErrCorrupt.
//
// # Patches
//
// A patch produced by Diff(a, b) and applied to V2.Serialize(a) yields a
// payload byte-identical to V2.Serialize(b). This lets the client verify a
// patched tree against the hash the server computed over its own
// serialization.
package wire
