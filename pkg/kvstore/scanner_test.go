package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// appendSynthetic appends one entry (pad + payload + trailer) to buf,
// the same physical layout a Store would produce, and returns the
// extended buffer and new tail offset. Used to build byte streams for
// scanTailChain without going through a real Store.
func appendSynthetic(buf []byte, tail uint64, alignment uint32, hash uint64, payload []byte) ([]byte, uint64) {
	pad := padLen(tail, alignment)
	buf = append(buf, make([]byte, pad)...)

	payloadStart := tail + pad
	buf = append(buf, payload...)
	payloadEnd := payloadStart + uint64(len(payload))

	tb := encodeTrailer(trailer{keyHash: hash, prevTail: tail, checksum: checksumPayload(payload)})
	buf = append(buf, tb[:]...)

	return buf, payloadEnd + TrailerSize
}

func TestScanTailChain_EmptyFile(t *testing.T) {
	t.Parallel()

	acceptedLen, ops, err := scanTailChain(nil, DefaultAlignment)
	require.NoError(t, err)
	require.Zero(t, acceptedLen)
	require.Empty(t, ops)
}

func TestScanTailChain_CleanChainInOldestFirstOrder(t *testing.T) {
	t.Parallel()

	var buf []byte

	var tail uint64

	buf, tail = appendSynthetic(buf, tail, DefaultAlignment, 0x1, []byte("one"))
	buf, tail = appendSynthetic(buf, tail, DefaultAlignment, 0x2, []byte("two"))
	buf, tail = appendSynthetic(buf, tail, DefaultAlignment, 0x3, tombstonePayload)

	acceptedLen, ops, err := scanTailChain(buf, DefaultAlignment)
	require.NoError(t, err)
	require.Equal(t, tail, acceptedLen)
	require.Len(t, ops, 3)

	require.Equal(t, uint64(0x1), ops[0].keyHash)
	require.False(t, ops[0].tombstone)
	require.Equal(t, uint64(0x2), ops[1].keyHash)
	require.False(t, ops[1].tombstone)
	require.Equal(t, uint64(0x3), ops[2].keyHash)
	require.True(t, ops[2].tombstone)
}

func TestScanTailChain_TornTailTruncatesToLastCompleteEntry(t *testing.T) {
	t.Parallel()

	var buf []byte

	var tail uint64

	buf, tail = appendSynthetic(buf, tail, DefaultAlignment, 0x1, []byte("one"))

	clean := append([]byte(nil), buf...)
	cleanTail := tail

	// Simulate a crash mid-append: a second entry's pad+payload landed on
	// disk but its trailer never did.
	buf, _ = appendSynthetic(buf, tail, DefaultAlignment, 0x2, []byte("two"))
	torn := buf[:len(buf)-5] // chop off part of the never-fsynced trailer

	acceptedLen, ops, err := scanTailChain(torn, DefaultAlignment)
	require.NoError(t, err)
	require.Equal(t, cleanTail, acceptedLen)
	require.Len(t, ops, 1)
	require.Equal(t, uint64(0x1), ops[0].keyHash)
	require.Equal(t, clean, torn[:acceptedLen])
}

func TestWalkChain_RejectsCorruptedPayload(t *testing.T) {
	t.Parallel()

	var buf []byte

	var tail uint64

	buf, tail = appendSynthetic(buf, tail, DefaultAlignment, 0x1, []byte("one"))
	buf, _ = appendSynthetic(buf, tail, DefaultAlignment, 0x2, []byte("two"))

	good := append([]byte(nil), buf...)
	_, ok := walkChain(good, uint64(len(good)), DefaultAlignment)
	require.True(t, ok, "unmodified chain must validate")

	// Flip a byte inside the first entry's payload. The second entry's
	// trailer still parses and its prevTail still correctly points past
	// the (now corrupted) first entry, but the first entry's checksum no
	// longer matches its payload, so the full walk back to 0 must fail.
	buf[0] ^= 0xff

	_, ok = walkChain(buf, uint64(len(buf)), DefaultAlignment)
	require.False(t, ok, "corrupted payload must break the chain")
}

// TestScanTailChain_InteriorCorruptionBeyondWindowIsFatal exercises
// damage deep enough in the file that no valid terminus exists within
// tornScanWindow of the tail, so recovery must give up rather than
// truncate away megabytes of otherwise-live data.
func TestScanTailChain_InteriorCorruptionBeyondWindowIsFatal(t *testing.T) {
	t.Parallel()

	var buf []byte

	var tail uint64

	// A single large entry, bigger than tornScanWindow, so that the
	// corruption inside it sits out of reach of the bounded backward
	// retry once a later entry is appended on top.
	bigPayload := make([]byte, tornScanWindow+4096)
	bigPayload[0] = 0x01 // keep the payload from looking like an all-zero tombstone

	buf, tail = appendSynthetic(buf, tail, DefaultAlignment, 0x1, bigPayload)
	buf, _ = appendSynthetic(buf, tail, DefaultAlignment, 0x2, []byte("two"))

	buf[0] ^= 0xff // corrupt the big entry's payload, far from the tail

	_, _, err := scanTailChain(buf, DefaultAlignment)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestReplayIndex_LastWriterWinsAndTombstonesRemove(t *testing.T) {
	t.Parallel()

	ops := []entryOp{
		{keyHash: 1, payloadStart: 0, payloadEnd: 4},
		{keyHash: 2, payloadStart: 4, payloadEnd: 8},
		{keyHash: 1, payloadStart: 8, payloadEnd: 16},
		{keyHash: 2, payloadStart: 16, payloadEnd: 17, tombstone: true},
	}

	m := replayIndex(ops)

	require.Equal(t, indexEntry{start: 8, end: 16}, m[1])

	_, ok := m[2]
	require.False(t, ok)

	require.Len(t, m, 1)
}
