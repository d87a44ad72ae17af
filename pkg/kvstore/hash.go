package kvstore

import "github.com/cespare/xxhash/v2"

// keyHash computes the 64-bit key hash stored in every trailer. The
// pack carries github.com/cespare/xxhash/v2 already (used to hash keys
// into a storage index in the compactindex reference material), so
// this wires the same library for the same concern rather than
// hand-rolling it: a fast, well-distributed, non-cryptographic 64-bit
// hash of the key bytes.
func keyHash(key []byte) uint64 {
	return xxhash.Sum64(key)
}
