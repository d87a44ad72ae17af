package kvstore

import "github.com/kvdrive/kvdrive/pkg/fs"

// Logger receives non-fatal diagnostics from the store. The zero value
// of Options uses a no-op Logger.
//
// The only condition that gets logged is a recovered torn tail on
// Open — everything else is reported through returned errors.
type Logger interface {
	Warnf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warnf(string, ...any) {}

// Options configures [Open].
type Options struct {
	// Alignment is the required start-of-payload alignment, a power of
	// two. Zero means [DefaultAlignment].
	Alignment uint32

	// Logger receives diagnostics. Nil means no-op.
	Logger Logger

	// FS is the filesystem used for all file operations. Nil means
	// [fs.NewReal]. Tests inject [fs.Chaos] or [fs.Crash] here to drive
	// fault-injection and crash-consistency scenarios without a real
	// crash.
	FS fs.FS
}

func (o Options) withDefaults() Options {
	if o.Alignment == 0 {
		o.Alignment = DefaultAlignment
	}

	if o.Logger == nil {
		o.Logger = noopLogger{}
	}

	if o.FS == nil {
		o.FS = fs.NewReal()
	}

	return o
}

func isPowerOfTwo(x uint32) bool {
	return x != 0 && x&(x-1) == 0
}
