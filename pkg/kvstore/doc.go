// Package kvstore implements a single-file, append-only, schema-less
// binary key/value storage engine with zero-copy reads via memory
// mapping.
//
// A container is a flat sequence of entries. Each entry is an optional
// run of zero-padding, a payload of arbitrary length, and a fixed
// 20-byte trailer (key hash, previous-entry offset, checksum). The
// trailer-only chain lets [Open] recover the live key set, and the
// tail position, by walking backward from the end of the file without
// a separate index file.
//
// Writes are serialized through a single writer; reads are lock-free
// against an immutable, reference-counted memory map that the writer
// atomically swaps in after every durable append. See [Store] for the
// full surface.
package kvstore
