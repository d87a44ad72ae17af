package kvstore

import "fmt"

// entryOp is one accepted entry from the tail chain, produced in
// oldest-first order by scanTailChain so that replaying it into an
// index map reproduces last-writer-wins semantics.
type entryOp struct {
	keyHash      uint64
	payloadStart uint64
	payloadEnd   uint64
	tombstone    bool
}

// scanTailChain walks the trailer chain backward from the end of data,
// discovering the accepted length (truncating a torn tail) and the
// ordered list of live operations to replay into the key index.
//
// A chain that doesn't reach offset 0 is either a torn tail
// (recoverable: find the longest valid prefix) or interior corruption
// (fatal: ErrCorrupt).
func scanTailChain(data []byte, alignment uint32) (acceptedLen uint64, ops []entryOp, err error) {
	l := uint64(len(data))
	if l == 0 {
		return 0, nil, nil
	}

	// First attempt: walk back from the true tail. This is the common
	// case (clean shutdown) and succeeds in a single backward pass.
	if entries, ok := walkChain(data, l, alignment); ok {
		reverseEntries(entries)
		return l, entries, nil
	}

	// Torn tail: retry walking from progressively earlier cursors until
	// one forms a complete chain back to 0, or we give up and declare
	// the file corrupt. Bounded by tornScanWindow: interior corruption
	// should not make Open scan the entire file byte by byte.
	limit := l
	if limit > tornScanWindow {
		limit = tornScanWindow
	}

	for back := uint64(1); back <= limit; back++ {
		cursor := l - back
		if cursor == 0 {
			// An empty accepted chain is always valid.
			return 0, nil, nil
		}

		entries, ok := walkChain(data, cursor, alignment)
		if ok {
			reverseEntries(entries)
			return cursor, entries, nil
		}
	}

	return 0, nil, fmt.Errorf("%w: no valid chain terminus found within %d bytes of tail", ErrCorrupt, limit)
}

// walkChain attempts to parse a complete chain ending at cursor and
// reaching exactly offset 0, with no gaps. On success it returns the
// entries in newest-first order (the order they're discovered walking
// backward) and ok=true.
func walkChain(data []byte, cursor uint64, alignment uint32) ([]entryOp, bool) {
	var entries []entryOp

	for cursor != 0 {
		if cursor < TrailerSize {
			return nil, false
		}

		tb := data[cursor-TrailerSize : cursor]
		t := decodeTrailer(tb)

		if t.prevTail >= cursor-TrailerSize {
			return nil, false
		}

		payloadEnd := cursor - TrailerSize
		payloadStart := t.prevTail + padLen(t.prevTail, alignment)

		if payloadStart > payloadEnd || payloadEnd-payloadStart < 1 {
			return nil, false
		}

		payload := data[payloadStart:payloadEnd]
		if checksumPayload(payload) != t.checksum {
			return nil, false
		}

		entries = append(entries, entryOp{
			keyHash:      t.keyHash,
			payloadStart: payloadStart,
			payloadEnd:   payloadEnd,
			tombstone:    isTombstonePayload(payload),
		})

		cursor = t.prevTail
	}

	return entries, true
}

func reverseEntries(e []entryOp) {
	for i, j := 0, len(e)-1; i < j; i, j = i+1, j-1 {
		e[i], e[j] = e[j], e[i]
	}
}

// replayIndex applies ops (oldest first) to build the initial key
// index: a write inserts/overwrites, a tombstone removes.
func replayIndex(ops []entryOp) map[uint64]indexEntry {
	m := make(map[uint64]indexEntry, len(ops))

	for _, op := range ops {
		if op.tombstone {
			delete(m, op.keyHash)
			continue
		}

		m[op.keyHash] = indexEntry{start: op.payloadStart, end: op.payloadEnd}
	}

	return m
}
