package kvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/kvdrive/kvdrive/pkg/fs"
)

// Open opens (creating if absent) the container file at path and
// returns a ready-to-use Store.
//
// If the file doesn't exist, an empty container is created: a store
// with 0 live entries and file length 0. If it exists, the tail-chain
// scanner recovers a torn tail or refuses to open on interior
// corruption.
func Open(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	if !isPowerOfTwo(opts.Alignment) {
		return nil, fmt.Errorf("%w: alignment %d is not a power of two", ErrInvalidArgument, opts.Alignment)
	}

	exists, err := opts.FS.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("kvstore: stat %q: %w", path, err)
	}

	if !exists {
		if err := createEmpty(opts.FS, path); err != nil {
			return nil, err
		}
	}

	file, err := opts.FS.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %q: %w", path, err)
	}

	store, err := openFromFile(path, file, opts)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	return store, nil
}

func createEmpty(fsys fs.FS, path string) error {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil // lost a race with another creator; fine
		}

		return fmt.Errorf("kvstore: create %q: %w", path, err)
	}

	dir, err := fsys.Open(filepath.Dir(path))
	if err == nil {
		err = dir.Sync()
		_ = dir.Close()
	}

	if err != nil {
		_ = f.Close()
		return fmt.Errorf("kvstore: sync parent dir of %q: %w", path, err)
	}

	return f.Close()
}

func openFromFile(path string, file fs.File, opts Options) (*Store, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("kvstore: stat %q: %w", path, err)
	}

	length := uint64(info.Size())

	var scanData []byte

	if length > 0 {
		scanData, err = unix.Mmap(int(file.Fd()), 0, int(length), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("kvstore: mmap %q for scan: %w", path, err)
		}

		defer func() { _ = unix.Munmap(scanData) }()
	}

	acceptedLen, ops, err := scanTailChain(scanData, opts.Alignment)
	if err != nil {
		return nil, fmt.Errorf("kvstore: %q: %w", path, err)
	}

	if acceptedLen != length {
		opts.Logger.Warnf("kvstore: %q: torn tail detected, truncating %d -> %d bytes", path, length, acceptedLen)

		if err := file.Truncate(int64(acceptedLen)); err != nil {
			return nil, fmt.Errorf("kvstore: truncate %q: %w", path, err)
		}
	}

	view, err := newMapView(int(file.Fd()), acceptedLen)
	if err != nil {
		return nil, err
	}

	store := &Store{
		path:      path,
		file:      file,
		fsys:      opts.FS,
		alignment: opts.Alignment,
		logger:    opts.Logger,
		index:     newKeyIndex(replayIndex(ops)),
	}
	store.view.Store(view)
	store.tail.Store(acceptedLen)

	return store, nil
}
