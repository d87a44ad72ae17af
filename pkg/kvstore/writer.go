package kvstore

import (
	"fmt"
	"hash/crc32"
	"io"
)

// Write appends a single entry for key/value. A completed Write is
// immediately visible to a subsequent Read on the same Store.
func (s *Store) Write(key, value []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if len(key) == 0 {
		return fmt.Errorf("%w: key must be non-empty", ErrInvalidArgument)
	}

	if len(value) == 0 {
		return fmt.Errorf("%w: value must be non-empty", ErrInvalidArgument)
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	hash := keyHash(key)

	newTail, err := s.appendEntryLocked(hash, value)
	if err != nil {
		return err
	}

	if err := s.flushAndRemapLocked(newTail); err != nil {
		return err
	}

	s.index.set(hash, indexEntry{start: newTail.payloadStart, end: newTail.payloadEnd})
	s.tail.Store(newTail.payloadEnd + TrailerSize)

	return nil
}

// KV is one key/value pair for BatchWrite.
type KV struct {
	Key   []byte
	Value []byte
}

// BatchWrite appends all items under a single writer-lock acquisition,
// a single flush, and a single remap; index changes publish atomically.
// Intra-batch writes are last-writer-wins: if the same key appears
// twice, only the final value is indexed, though both physical entries
// remain on disk.
func (s *Store) BatchWrite(items []KV) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if len(items) == 0 {
		return nil
	}

	for _, item := range items {
		if len(item.Key) == 0 {
			return fmt.Errorf("%w: key must be non-empty", ErrInvalidArgument)
		}

		if len(item.Value) == 0 {
			return fmt.Errorf("%w: value must be non-empty", ErrInvalidArgument)
		}
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	sets := make(map[uint64]indexEntry, len(items))

	var lastTail appended

	for _, item := range items {
		hash := keyHash(item.Key)

		t, err := s.appendEntryLocked(hash, item.Value)
		if err != nil {
			return err
		}

		sets[hash] = indexEntry{start: t.payloadStart, end: t.payloadEnd}
		lastTail = t
	}

	if err := s.flushAndRemapLocked(lastTail); err != nil {
		return err
	}

	s.index.applyBatch(sets, nil)
	s.tail.Store(lastTail.payloadEnd + TrailerSize)

	return nil
}

// WriteStream appends a payload of unknown length read incrementally
// from r, producing a single contiguous entry. CRC32C is accumulated as
// bytes are copied; the trailer is written only after r is fully
// drained, so a crash mid-copy leaves a torn tail that recovery-on-open
// truncates away.
func (s *Store) WriteStream(key []byte, r io.Reader) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if len(key) == 0 {
		return fmt.Errorf("%w: key must be non-empty", ErrInvalidArgument)
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	hash := keyHash(key)
	p := s.tail.Load()
	pad := padLen(p, s.alignment)

	if err := s.writeZeroPad(pad); err != nil {
		return err
	}

	hasher := crc32.New(crc32cTable)
	n, err := io.Copy(hasher, io.TeeReader(r, s.file))
	if err != nil {
		_ = s.file.Truncate(int64(p))
		return fmt.Errorf("kvstore: write_stream %q: %w", s.path, err)
	}

	if n == 0 {
		_ = s.file.Truncate(int64(p))
		return fmt.Errorf("%w: stream produced zero bytes", ErrInvalidArgument)
	}

	payloadStart := p + pad
	payloadEnd := payloadStart + uint64(n)

	t := appended{payloadStart: payloadStart, payloadEnd: payloadEnd}

	if err := s.writeTrailerLocked(p, hash, hasher.Sum32()); err != nil {
		return err
	}

	if err := s.flushAndRemapLocked(t); err != nil {
		return err
	}

	s.index.set(hash, indexEntry{start: t.payloadStart, end: t.payloadEnd})
	s.tail.Store(t.payloadEnd + TrailerSize)

	return nil
}

// Delete appends a tombstone for key. Safe to call for a key that
// doesn't exist; the index removal is then a no-op but the tombstone is
// still appended, preserving append-only history.
func (s *Store) Delete(key []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if len(key) == 0 {
		return fmt.Errorf("%w: key must be non-empty", ErrInvalidArgument)
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	hash := keyHash(key)

	t, err := s.appendEntryLocked(hash, tombstonePayload)
	if err != nil {
		return err
	}

	if err := s.flushAndRemapLocked(t); err != nil {
		return err
	}

	s.index.remove(hash)
	s.tail.Store(t.payloadEnd + TrailerSize)

	return nil
}

// Flush forces durability of everything written so far. Every append
// already fsyncs before it is indexed, so this mainly exists to round
// out the library surface and give callers an explicit durability
// checkpoint.
func (s *Store) Flush() error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	return s.file.Sync()
}

// appended describes the payload window of an entry just written to
// disk, before its index publication.
type appended struct {
	payloadStart uint64
	payloadEnd   uint64
}

// appendEntryLocked writes pre-pad, payload, and trailer for one entry
// starting at the current tail. Caller must hold writerMu.
func (s *Store) appendEntryLocked(hash uint64, payload []byte) (appended, error) {
	p := s.tail.Load()
	pad := padLen(p, s.alignment)

	if err := s.writeZeroPad(pad); err != nil {
		return appended{}, err
	}

	if _, err := s.file.Write(payload); err != nil {
		return appended{}, fmt.Errorf("kvstore: write payload %q: %w", s.path, err)
	}

	payloadStart := p + pad
	payloadEnd := payloadStart + uint64(len(payload))
	checksum := checksumPayload(payload)

	if err := s.writeTrailerLocked(p, hash, checksum); err != nil {
		return appended{}, err
	}

	return appended{payloadStart: payloadStart, payloadEnd: payloadEnd}, nil
}

func (s *Store) writeZeroPad(n uint64) error {
	if n == 0 {
		return nil
	}

	zeros := make([]byte, n)
	if _, err := s.file.Write(zeros); err != nil {
		return fmt.Errorf("kvstore: write pad %q: %w", s.path, err)
	}

	return nil
}

func (s *Store) writeTrailerLocked(prevTail, hash uint64, checksum uint32) error {
	buf := encodeTrailer(trailer{keyHash: hash, prevTail: prevTail, checksum: checksum})

	if _, err := s.file.Write(buf[:]); err != nil {
		return fmt.Errorf("kvstore: write trailer %q: %w", s.path, err)
	}

	return nil
}

// flushAndRemapLocked durably syncs the file and installs a new
// read-only mapping covering the entries just appended. Caller must
// hold writerMu.
func (s *Store) flushAndRemapLocked(t appended) error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("kvstore: sync %q: %w", s.path, err)
	}

	newLen := t.payloadEnd + TrailerSize
	if err := s.view.Load().remap(newLen); err != nil {
		return fmt.Errorf("kvstore: remap %q: %w", s.path, err)
	}

	return nil
}
