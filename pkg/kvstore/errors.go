package kvstore

import "errors"

// Sentinel errors returned by Store operations. Use [errors.Is] to test
// for these; wrapped errors carry additional context via fmt.Errorf.
var (
	// ErrCorrupt is returned by Open when the entry chain has a gap or
	// checksum failure that is not explained by a torn tail. The store
	// refuses to open.
	ErrCorrupt = errors.New("kvstore: corrupt entry chain")

	// ErrClosed is returned by any operation on a Store after Close.
	ErrClosed = errors.New("kvstore: store is closed")

	// ErrBusy indicates the operation could not make progress because a
	// conflicting operation holds the relevant lock. No Store method in
	// this package returns it; a concurrent Compact reports
	// [ErrCompactionConflict] instead.
	ErrBusy = errors.New("kvstore: busy")

	// ErrCompactionConflict is returned by Compact when a compaction is
	// already in progress on this Store.
	ErrCompactionConflict = errors.New("kvstore: compaction already in progress")

	// ErrInvalidArgument is returned for malformed input: empty keys,
	// zero-length non-tombstone payloads, a non-power-of-two alignment.
	ErrInvalidArgument = errors.New("kvstore: invalid argument")

	// ErrKeyNotFound is returned by CLI-facing helpers that need an error
	// form of a missing key. The library Read/Exists surface returns
	// (nil, false, nil) instead — see [Store.Read].
	ErrKeyNotFound = errors.New("kvstore: key not found")

	// ErrChecksumMismatch is returned by Handle.VerifyChecksum when the
	// payload bytes currently backing the Handle no longer match the
	// CRC32C recorded in the entry's trailer.
	ErrChecksumMismatch = errors.New("kvstore: checksum mismatch")
)
