package cli

import (
	"errors"
	"fmt"

	"github.com/kvdrive/kvdrive/pkg/fs"
	"github.com/kvdrive/kvdrive/pkg/kvstore"
)

// cliLogger adapts IO's error channel to kvstore.Logger.
type cliLogger struct {
	o *IO
}

func (l cliLogger) Warnf(format string, args ...any) {
	l.o.WarnLLM(fmt.Sprintf(format, args...), "inspect the remaining entries with the list subcommand")
}

// openStore opens path for the duration of a single subcommand. When
// cfg.Lock is set, it first takes an exclusive on-disk flock via
// pkg/fs.Locker so two kvdrive invocations against the same path don't
// race; the engine itself does not defend against this (pkg/kvstore's
// non-goal on cross-process coordination), so the guard lives here.
func openStore(cfg Config, o *IO, path string) (*kvstore.Store, func(), error) {
	fsys := fs.NewReal()

	var unlock func()

	if cfg.Lock {
		locker := fs.NewLocker(fsys)

		lock, err := locker.TryLock(path + ".lock")
		if err != nil {
			if errors.Is(err, fs.ErrWouldBlock) {
				return nil, nil, WithExitCode(2, fmt.Errorf("kvdrive: %q is locked by another process", path))
			}

			return nil, nil, WithExitCode(2, fmt.Errorf("kvdrive: acquire lock for %q: %w", path, err))
		}

		unlock = func() { _ = lock.Close() }
	}

	opts := kvstore.Options{
		Alignment: cfg.Alignment,
		Logger:    cliLogger{o: o},
		FS:        fsys,
	}

	store, err := kvstore.Open(path, opts)
	if err != nil {
		if unlock != nil {
			unlock()
		}

		return nil, nil, WithExitCode(2, fmt.Errorf("kvdrive: open %q: %w", path, err))
	}

	cleanup := func() {
		_ = store.Close()

		if unlock != nil {
			unlock()
		}
	}

	return store, cleanup, nil
}
