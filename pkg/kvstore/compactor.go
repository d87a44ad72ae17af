package kvstore

import (
	"fmt"
	"os"
	"sort"

	atomicfile "github.com/natefinch/atomic"
)

// Compact rewrites the live working set into a fresh container file and
// atomically replaces the original. Only one compaction may run at a
// time per Store; a concurrent call returns ErrCompactionConflict
// rather than blocking.
//
// Compact takes the writer lock for its whole duration: other appends
// must wait, since there is no provision for an append landing in the
// old file while a compaction is in flight.
func (s *Store) Compact() error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if !s.compacting.CompareAndSwap(false, true) {
		return ErrCompactionConflict
	}
	defer s.compacting.Store(false)

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	pairs := s.index.snapshot()

	// Order by current payload_start so the rewritten file preserves
	// the relative age of entries, which keeps the tail-chain scanner's
	// assumptions (monotonically increasing offsets) intact and gives
	// sequential I/O during the rewrite.
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].entry.start < pairs[j].entry.start
	})

	compactPath := s.path + ".compact"

	newIndex, newLen, err := s.rewriteCompactFile(compactPath, pairs)
	if err != nil {
		_ = s.fsys.Remove(compactPath)
		return err
	}

	if err := atomicfile.ReplaceFile(compactPath, s.path); err != nil {
		_ = s.fsys.Remove(compactPath)
		return fmt.Errorf("kvstore: compact %q: replace: %w", s.path, err)
	}

	if err := s.reopenAfterCompactLocked(newLen); err != nil {
		return err
	}

	s.index.applyBatch(newIndex, nil)

	return nil
}

// rewriteCompactFile writes every live entry in pairs, in order, to a
// brand-new container file at compactPath, recomputing pre-pad,
// prev_tail, and checksum from scratch. It returns the new index
// (hash -> offsets in the rewritten file) and the final file length.
func (s *Store) rewriteCompactFile(compactPath string, pairs []indexPair) (map[uint64]indexEntry, uint64, error) {
	out, err := s.fsys.OpenFile(compactPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("kvstore: compact %q: create: %w", s.path, err)
	}
	defer func() { _ = out.Close() }()

	h := s.view.Load().snapshot()
	defer h.release()

	newIndex := make(map[uint64]indexEntry, len(pairs))

	var tail uint64

	for _, p := range pairs {
		if p.entry.end > uint64(len(h.data)) {
			return nil, 0, fmt.Errorf("%w: index entry out of bounds for %q during compact", ErrCorrupt, s.path)
		}

		payload := h.data[p.entry.start:p.entry.end]

		pad := padLen(tail, s.alignment)
		if pad > 0 {
			if _, err := out.Write(make([]byte, pad)); err != nil {
				return nil, 0, fmt.Errorf("kvstore: compact %q: write pad: %w", s.path, err)
			}
		}

		payloadStart := tail + pad

		if _, err := out.Write(payload); err != nil {
			return nil, 0, fmt.Errorf("kvstore: compact %q: write payload: %w", s.path, err)
		}

		payloadEnd := payloadStart + uint64(len(payload))

		buf := encodeTrailer(trailer{
			keyHash:  p.hash,
			prevTail: tail,
			checksum: checksumPayload(payload),
		})

		if _, err := out.Write(buf[:]); err != nil {
			return nil, 0, fmt.Errorf("kvstore: compact %q: write trailer: %w", s.path, err)
		}

		newIndex[p.hash] = indexEntry{start: payloadStart, end: payloadEnd}
		tail = payloadEnd + TrailerSize
	}

	if err := out.Sync(); err != nil {
		return nil, 0, fmt.Errorf("kvstore: compact %q: sync: %w", s.path, err)
	}

	return newIndex, tail, nil
}

// reopenAfterCompactLocked rebinds the Store's file descriptor and
// memory mapping to the file now living at s.path, which the rename in
// Compact silently detached the old descriptor from (the old fd still
// refers to the pre-compaction inode on POSIX systems). Caller must
// hold writerMu.
func (s *Store) reopenAfterCompactLocked(newLen uint64) error {
	newFile, err := s.fsys.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("kvstore: compact %q: reopen: %w", s.path, err)
	}

	newView, err := newMapView(int(newFile.Fd()), newLen)
	if err != nil {
		_ = newFile.Close()
		return fmt.Errorf("kvstore: compact %q: remap: %w", s.path, err)
	}

	oldFile := s.file
	oldView := s.view.Swap(newView)

	s.file = newFile
	s.tail.Store(newLen)

	oldView.close()

	return oldFile.Close()
}
