package kvstore

import "sync"

// indexEntry is the in-memory descriptor for one live key. len is
// derived, not stored, since it's always end-start.
type indexEntry struct {
	start uint64
	end   uint64
}

func (e indexEntry) length() uint64 {
	return e.end - e.start
}

// keyIndex is the concurrent u64-hash -> indexEntry map. Readers take
// RLock for point lookups and never contend with each other; the
// writer takes Lock only for the brief publish step after a durable
// append, never while blocked on file I/O. A single RWMutex is
// sufficient here because this index lives purely in process memory —
// there is no on-disk bucket layout to reconcile, and a sharded map
// would only pay off under write concurrency this store doesn't have
// (appends are already serialized by the writer lock).
type keyIndex struct {
	mu sync.RWMutex
	m  map[uint64]indexEntry
}

func newKeyIndex(initial map[uint64]indexEntry) *keyIndex {
	if initial == nil {
		initial = make(map[uint64]indexEntry)
	}

	return &keyIndex{m: initial}
}

func (idx *keyIndex) get(hash uint64) (indexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	e, ok := idx.m[hash]

	return e, ok
}

func (idx *keyIndex) len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.m)
}

// set publishes an upsert. Must be called with the writer lock held.
func (idx *keyIndex) set(hash uint64, e indexEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.m[hash] = e
}

// remove publishes a tombstone application. Must be called with the
// writer lock held.
func (idx *keyIndex) remove(hash uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.m, hash)
}

// applyBatch publishes a set of upserts and removals as a single
// critical section, so readers never observe an intermediate state of
// a batch write.
func (idx *keyIndex) applyBatch(sets map[uint64]indexEntry, removes map[uint64]struct{}) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for h := range removes {
		delete(idx.m, h)
	}

	for h, e := range sets {
		idx.m[h] = e
	}
}

// indexPair is one (hash, entry) snapshot row.
type indexPair struct {
	hash  uint64
	entry indexEntry
}

// snapshot returns a point-in-time copy of all live entries, suitable
// for iteration or compaction. The copy is taken under RLock so it
// never observes a partial publish.
func (idx *keyIndex) snapshot() []indexPair {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]indexPair, 0, len(idx.m))
	for h, e := range idx.m {
		out = append(out, indexPair{hash: h, entry: e})
	}

	return out
}
