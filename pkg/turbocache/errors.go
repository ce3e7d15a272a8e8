package turbocache

import (
	"errors"

	"github.com/turbocache/turbocache/internal/engine"
)

// Re-exported so callers never need to import the internal engine package
// to classify errors with errors.Is.
var (
	ErrInputTooLarge = engine.ErrInputTooLarge
	ErrCorrupt       = engine.ErrCorrupt
	ErrIncompatible  = engine.ErrIncompatible
)

// ErrClosed is returned by any operation on a Cache after Close has been called.
var ErrClosed = errors.New("turbocache: cache is closed")

// ErrBusy is returned by Open when another handle (in this process or
// another) already holds the directory's advisory lock. Non-goal per §1:
// multi-process concurrent writers aren't supported, but detecting the
// mistake is cheaper than silently corrupting the table.
var ErrBusy = errors.New("turbocache: directory is locked by another handle")
