package engine

import "errors"

// ErrInputTooLarge is returned when a key or value exceeds its size cap.
var ErrInputTooLarge = errors.New("engine: input exceeds size cap")

// ErrCorrupt is returned when a table file fails a consistency check on open
// that isn't locally recoverable by demoting the offending slot to Tombstone
// (for example, a file too small for its header, or a row count that is not
// a power of two).
var ErrCorrupt = errors.New("engine: table file is corrupt")

// ErrIncompatible is returned when a table file's magic or format version
// doesn't match what this build understands (the hash algorithm is tied to
// the format version).
var ErrIncompatible = errors.New("engine: table file format is incompatible")

// ErrRowFull is an internal control signal: the target row had no empty,
// tombstone, or matching-key slot available. It never escapes the growth
// controller, which converts it into a migration event (§7: "internal
// signal from Table to Controller; never surfaces to the caller").
var ErrRowFull = errors.New("engine: row full")
