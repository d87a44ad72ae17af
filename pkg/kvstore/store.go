package kvstore

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	atomicfile "github.com/natefinch/atomic"

	"github.com/kvdrive/kvdrive/pkg/fs"
)

// Store is a single open container file. A Store serializes all
// mutating operations through an internal writer lock; reads never
// block on that lock.
//
// A Store must not be shared across processes — multi-process
// coordination on the same file is not supported and not defended
// against. Safe for concurrent use by multiple goroutines within one
// process.
type Store struct {
	path      string
	file      fs.File
	fsys      fs.FS
	alignment uint32
	logger    Logger

	view  atomic.Pointer[mapView]
	index *keyIndex

	writerMu   sync.Mutex
	tail       atomic.Uint64
	closed     atomic.Bool
	compacting atomic.Bool
}

// Path returns the filesystem path this Store was opened from.
func (s *Store) Path() string {
	return s.path
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	return s.index.len()
}

// FileSize returns the current on-disk length of the container.
func (s *Store) FileSize() uint64 {
	return s.tail.Load()
}

// Close releases the Store's file descriptor and memory mapping.
// Outstanding Handles obtained before Close remain valid until they
// are themselves released.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	s.view.Load().close()

	return s.file.Close()
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return ErrClosed
	}

	return nil
}

// CopyFile duplicates the container file at src to dst without
// modifying src. The Store need not be open on either path; this is a
// plain, durable, whole-file copy used by the CLI's "copy" subcommand.
func CopyFile(fsys fs.FS, src, dst string) error {
	if fsys == nil {
		fsys = fs.NewReal()
	}

	in, err := fsys.Open(src)
	if err != nil {
		return fmt.Errorf("kvstore: copy: open %q: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	if err := atomicfile.WriteFile(dst, io.Reader(in)); err != nil {
		return fmt.Errorf("kvstore: copy: write %q: %w", dst, err)
	}

	return nil
}

// MoveFile relocates the container file at src to dst, replacing dst
// if it exists. Used by the CLI's "move" subcommand.
func MoveFile(src, dst string) error {
	if err := atomicfile.ReplaceFile(src, dst); err != nil {
		return fmt.Errorf("kvstore: move %q -> %q: %w", src, dst, err)
	}

	return nil
}
