// Package audit keeps a tamper-evident, append-only log of security-relevant actions.
//
// # Components
//
//   - [Entry]: immutable record whose SHA-256 hash covers every field and the
//     hash of its predecessor.
//   - [Chain]: the ordered log. Appends are serialized; [Chain.Verify] detects any
//     broken link or altered entry.
//   - [Dispatcher] and [Sink]: optional asynchronous mirroring of appended entries
//     to a channel, a JSON-lines writer, a rotating file, or a Redis stream.
//
// The chain is held in memory. [Chain.Export] and [Import] move it to and from
// durable storage; a re-imported chain is re-checked with [Chain.Verify].
//
// Tamper evidence is not tamper proofing: anyone able to rewrite the whole log can
// recompute every hash. Anchor [Chain.LastHash] externally when that matters.
package audit
