package kvstore

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// mmapHandle is a reference-counted, immutable view of the container
// file's bytes in the range [0, len(data)).
//
// A writer installs a new mmapHandle after every remap; readers that
// already hold a clone of the previous handle keep it (and the
// underlying mapping) alive until they release it: old maps stay valid
// for outstanding readers instead of being torn down under them. The
// map is read-only from the writer's perspective too: all mutation
// happens through ordinary file writes, and remap only ever grows the
// visible window.
type mmapHandle struct {
	data []byte
	refs atomic.Int32
}

func (h *mmapHandle) retain() {
	h.refs.Add(1)
}

// release drops a reference. When the last reference drops, the
// mapping is unmapped. Safe to call at most once per retain.
func (h *mmapHandle) release() {
	if h.refs.Add(-1) == 0 {
		if len(h.data) > 0 {
			_ = unix.Munmap(h.data)
		}
	}
}

// mapView owns the file descriptor and the currently-installed mmap
// handle. remap is only ever called under the writer lock; snapshot is
// safe for any number of concurrent callers.
type mapView struct {
	fd      int
	current atomic.Pointer[mmapHandle]
}

// newMapView installs an initial mapping covering [0, length). length
// may be 0, in which case no mapping is created (an empty store).
func newMapView(fd int, length uint64) (*mapView, error) {
	v := &mapView{fd: fd}

	h, err := mmapRange(fd, length)
	if err != nil {
		return nil, err
	}

	h.refs.Store(1)
	v.current.Store(h)

	return v, nil
}

func mmapRange(fd int, length uint64) (*mmapHandle, error) {
	if length == 0 {
		return &mmapHandle{}, nil
	}

	data, err := unix.Mmap(fd, 0, int(length), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}

	return &mmapHandle{data: data}, nil
}

// snapshot returns a retained clone of the current handle. Callers must
// call release (directly, or via Handle.Close) exactly once.
func (v *mapView) snapshot() *mmapHandle {
	for {
		h := v.current.Load()
		// retain before publishing to the caller: remap() only swaps
		// the pointer, it never frees data out from under a handle
		// that has already incremented refs.
		h.retain()

		if v.current.Load() == h {
			return h
		}

		// Exceedingly unlikely race: remap happened between Load and
		// retain. Release our speculative ref and retry against the
		// now-current handle.
		h.release()
	}
}

// len returns the length of the currently installed mapping.
func (v *mapView) len() uint64 {
	return uint64(len(v.current.Load().data))
}

// remap installs a new mapping covering [0, newLen) and releases the
// writer's baseline reference on the previous mapping. Must only be
// called while holding the writer lock.
func (v *mapView) remap(newLen uint64) error {
	next, err := mmapRange(v.fd, newLen)
	if err != nil {
		return err
	}

	next.refs.Store(1)

	prev := v.current.Swap(next)
	prev.release()

	return nil
}

// close releases the writer's baseline reference on the current
// mapping. Outstanding reader handles keep their own reference and will
// unmap lazily when released.
func (v *mapView) close() {
	v.current.Load().release()
}
