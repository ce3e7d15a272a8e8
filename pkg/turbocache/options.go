package turbocache

import "github.com/turbocache/turbocache/internal/engine"

// WritebackMode controls fsync aggressiveness. See [engine.WritebackMode]
// for the underlying semantics; re-exported so callers configure it without
// importing an internal package.
type WritebackMode = engine.WritebackMode

const (
	// WritebackNone leaves fsync to the OS's normal writeback schedule.
	// Fastest, but a power loss can lose recent mutations (stranded log
	// bytes are still safe per §4.6 — this only affects how much
	// already-acknowledged work can be lost, never consistency).
	WritebackNone = engine.WritebackNone

	// WritebackSync fsyncs the affected table file after every mutating
	// operation, trading throughput for durability.
	WritebackSync = engine.WritebackSync
)

// Options configures Open.
type Options struct {
	// Dir is the directory holding the cache's table files. Created if it
	// doesn't exist.
	Dir string

	// InitialCapacity sizes a freshly created cache. Ignored when Dir
	// already holds a table. Rounded up to the nearest row-aligned power of
	// two. Zero defaults to one row (64 entries).
	InitialCapacity uint64

	// Writeback selects the durability/throughput tradeoff. Zero value is
	// WritebackNone.
	Writeback WritebackMode

	// DisableLocking skips acquiring the advisory lock file, so Open never
	// returns [ErrBusy]. Intended for tests that open the same directory
	// twice in one process without the lock, or for callers that already
	// guarantee exclusivity by construction.
	DisableLocking bool
}
