package kvstore

import (
	"bytes"
	"fmt"
	"io"
	"iter"
)

// Handle is a zero-copy view onto one entry's payload, backed directly
// by the memory-mapped file. The bytes returned by Payload remain valid
// until Close is called; Close must always be called to release the
// underlying mapping reference, since a Handle holds that reference
// alive for as long as it exists.
type Handle struct {
	handle   *mmapHandle
	data     []byte
	start    uint64
	end      uint64
	keyHash  uint64
	checksum uint32
}

// newHandle builds a Handle over entry within h, validating that both
// the payload and its trailing checksum field actually fit inside the
// mapping. hash is the entry's key hash, already known by the caller
// (either from hashing the lookup key, or from the index key itself).
func newHandle(h *mmapHandle, path string, hash uint64, entry indexEntry) (*Handle, error) {
	trailerEnd := entry.end + TrailerSize

	if entry.start > entry.end || trailerEnd > uint64(len(h.data)) {
		return nil, fmt.Errorf("%w: index entry out of bounds for %q", ErrCorrupt, path)
	}

	checksum := decodeTrailer(h.data[entry.end:trailerEnd]).checksum

	return &Handle{
		handle:   h,
		data:     h.data[entry.start:entry.end],
		start:    entry.start,
		end:      entry.end,
		keyHash:  hash,
		checksum: checksum,
	}, nil
}

// Payload returns the entry's raw bytes. The returned slice aliases the
// memory-mapped file and must not be retained after Close.
func (h *Handle) Payload() []byte {
	return h.data
}

// Len returns the length of the payload in bytes.
func (h *Handle) Len() int {
	return len(h.data)
}

// KeyHash returns the 64-bit hash of the key this entry was written
// under.
func (h *Handle) KeyHash() uint64 {
	return h.keyHash
}

// Checksum returns the CRC32C checksum stored in the entry's trailer,
// as last read from the mapping.
func (h *Handle) Checksum() uint32 {
	return h.checksum
}

// Start returns the payload's byte offset within the container file.
func (h *Handle) Start() uint64 {
	return h.start
}

// End returns the byte offset one past the end of the payload within
// the container file.
func (h *Handle) End() uint64 {
	return h.end
}

// VerifyChecksum recomputes the CRC32C of the current payload bytes
// and compares it against the trailer's stored checksum, returning
// ErrChecksumMismatch if they disagree.
func (h *Handle) VerifyChecksum() error {
	if checksumPayload(h.data) != h.checksum {
		return ErrChecksumMismatch
	}

	return nil
}

// Clone returns an independent Handle over the same entry, retaining
// its own reference to the underlying mapping. The clone must be
// Closed separately from the original.
func (h *Handle) Clone() *Handle {
	h.handle.retain()

	clone := *h

	return &clone
}

// Close releases the Handle's reference on the underlying mapping. Safe
// to call once; calling it more than once is a caller bug.
func (h *Handle) Close() error {
	if h.handle != nil {
		h.handle.release()
		h.handle = nil
	}

	return nil
}

// Read looks up key and, if present, returns a Handle over its current
// value. The caller must Close the Handle. Read never blocks on
// writers.
func (s *Store) Read(key []byte) (*Handle, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}

	if len(key) == 0 {
		return nil, false, fmt.Errorf("%w: key must be non-empty", ErrInvalidArgument)
	}

	hash := keyHash(key)

	entry, ok := s.index.get(hash)
	if !ok {
		return nil, false, nil
	}

	h := s.view.Load().snapshot()

	handle, err := newHandle(h, s.path, hash, entry)
	if err != nil {
		h.release()
		return nil, false, err
	}

	return handle, true, nil
}

// Exists reports whether key currently has a live value, without
// materializing a Handle.
func (s *Store) Exists(key []byte) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	if len(key) == 0 {
		return false, fmt.Errorf("%w: key must be non-empty", ErrInvalidArgument)
	}

	_, ok := s.index.get(keyHash(key))

	return ok, nil
}

// ReadStream looks up key and returns an io.ReadCloser over its current
// value. It is a thin convenience wrapper around Read for callers that
// want the io.Reader surface instead of a raw slice; no additional copy
// happens beyond what bytes.Reader does.
func (s *Store) ReadStream(key []byte) (io.ReadCloser, bool, error) {
	h, ok, err := s.Read(key)
	if err != nil || !ok {
		return nil, ok, err
	}

	return &streamHandle{Reader: bytes.NewReader(h.data), h: h}, true, nil
}

type streamHandle struct {
	*bytes.Reader
	h *Handle
}

func (s *streamHandle) Close() error {
	return s.h.Close()
}

// IterEntries returns a sequence over every live key/value pair in
// unspecified order. The iterator closes each yielded Handle as soon as
// the loop body returns, including on break or return, so the Handle is
// not usable after that point (Clone it to keep the payload). A panic
// in the body skips that close.
//
// The snapshot of keys is taken once at the start of iteration, so the
// loop observes a consistent view of the index as of that moment;
// values are resolved against the live mapping as the iterator
// proceeds, so a concurrent compaction cannot invalidate a Handle
// already handed to the caller.
func (s *Store) IterEntries() iter.Seq2[uint64, *Handle] {
	return func(yield func(uint64, *Handle) bool) {
		if err := s.checkOpen(); err != nil {
			return
		}

		pairs := s.index.snapshot()

		for _, p := range pairs {
			h := s.view.Load().snapshot()

			handle, err := newHandle(h, s.path, p.hash, p.entry)
			if err != nil {
				h.release()
				continue
			}

			cont := yield(p.hash, handle)

			_ = handle.Close()

			if !cont {
				return
			}
		}
	}
}
