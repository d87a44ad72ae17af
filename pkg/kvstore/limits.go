package kvstore

// DefaultAlignment is the payload alignment used when Options.Alignment
// is left zero. The spec notes this constant is compile-time and that
// changing it produces an incompatible file version (no format-version
// byte is carried on disk); callers that need a different alignment
// must pick it consistently for every process that opens a given file.
const DefaultAlignment = 64

// TrailerSize is the fixed on-disk size of an entry trailer, in bytes.
const TrailerSize = 20

// tornScanWindow bounds how far scanTailChain will retry byte-by-byte
// before giving up and reporting ErrCorrupt. A torn tail from a crash
// mid-append is at most a few entries' worth of bytes; a file that fails
// to resolve within this window is treated as genuinely corrupt rather
// than merely torn, which keeps Open from degrading to an O(n^2) scan
// over a file with real interior damage.
const tornScanWindow = 1 << 20 // 1 MiB
