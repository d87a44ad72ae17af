package kvstore

import (
	"encoding/binary"
	"hash/crc32"
)

// Trailer field offsets within the fixed 20-byte trailer.
const (
	trailerOffKeyHash   = 0 // 8 bytes
	trailerOffPrevTail  = 8 // 8 bytes
	trailerOffChecksum  = 16
	trailerChecksumSize = 4
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// trailer is the decoded form of an entry's fixed metadata suffix.
type trailer struct {
	keyHash   uint64
	prevTail  uint64
	checksum  uint32
}

// encodeTrailer serializes a trailer to its 20-byte little-endian form.
func encodeTrailer(t trailer) [TrailerSize]byte {
	var buf [TrailerSize]byte

	binary.LittleEndian.PutUint64(buf[trailerOffKeyHash:], t.keyHash)
	binary.LittleEndian.PutUint64(buf[trailerOffPrevTail:], t.prevTail)
	binary.LittleEndian.PutUint32(buf[trailerOffChecksum:], t.checksum)

	return buf
}

// decodeTrailer parses a 20-byte slice into a trailer. The caller must
// ensure len(b) >= TrailerSize.
func decodeTrailer(b []byte) trailer {
	return trailer{
		keyHash:  binary.LittleEndian.Uint64(b[trailerOffKeyHash:]),
		prevTail: binary.LittleEndian.Uint64(b[trailerOffPrevTail:]),
		checksum: binary.LittleEndian.Uint32(b[trailerOffChecksum:]),
	}
}

// padLen returns the number of zero pre-pad bytes required before a
// payload starting after prevTail, so that the payload start is a
// multiple of alignment.
func padLen(prevTail uint64, alignment uint32) uint64 {
	a := uint64(alignment)
	return (a - (prevTail % a)) % a
}

// checksumPayload computes the CRC32C (Castagnoli) checksum of a
// payload window. This is the only thing the trailer's checksum field
// covers — pre-pad and the trailer itself are excluded.
func checksumPayload(payload []byte) uint32 {
	return crc32.Checksum(payload, crc32cTable)
}

// tombstonePayload is the canonical one-byte deletion marker.
var tombstonePayload = []byte{0x00}

func isTombstonePayload(payload []byte) bool {
	return len(payload) == 1 && payload[0] == 0x00
}
