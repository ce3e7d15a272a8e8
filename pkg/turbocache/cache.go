package turbocache

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/turbocache/turbocache/internal/engine"
	"github.com/turbocache/turbocache/internal/growth"
	"github.com/turbocache/turbocache/pkg/fs"
)

// InsertResult reports whether Set created a new entry or replaced an
// existing one.
type InsertResult = engine.InsertResult

const (
	Inserted = engine.Inserted
	Replaced = engine.Replaced
)

// Entry is one (key, value) pair as produced by Iter.
type Entry struct {
	Key   []byte
	Value []byte
}

// lockFileName is the advisory lock file kept alongside the table files.
const lockFileName = ".lock"

// locker is package-level so every Cache in this process shares the same
// flock/inode-verification machinery.
var locker = fs.NewLocker(fs.NewReal())

// Cache is a handle to an open TurboCache directory (§6.1's façade). It
// binds a directory to one growth controller and re-opens on Open,
// recovering (live, staging) from canonical filenames.
//
// A Cache must be obtained via [Open]; the zero value is not usable.
type Cache struct {
	mu         sync.RWMutex
	controller *growth.Controller
	lock       *fs.Lock
	closed     bool
}

// Open opens or creates a cache directory, recovering any in-progress
// migration (§6.1).
func Open(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("turbocache: Dir is required")
	}

	var (
		lock *fs.Lock
		err  error
	)

	if !opts.DisableLocking {
		lockPath := filepath.Join(opts.Dir, lockFileName)

		lock, err = locker.TryLock(lockPath)
		if err != nil {
			if errors.Is(err, fs.ErrWouldBlock) {
				return nil, ErrBusy
			}

			return nil, fmt.Errorf("turbocache: acquire lock: %w", err)
		}
	}

	controller, err := growth.Open(growth.Options{
		Dir:             opts.Dir,
		InitialCapacity: opts.InitialCapacity,
		Writeback:       opts.Writeback,
	})
	if err != nil {
		if lock != nil {
			_ = lock.Close()
		}

		return nil, err
	}

	return &Cache{controller: controller, lock: lock}, nil
}

// Set inserts or replaces key's value (§6.1).
func (c *Cache) Set(key, value []byte) (InsertResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, ErrClosed
	}

	return c.controller.Set(key, value)
}

// Get returns key's value if present (§6.1).
func (c *Cache) Get(key []byte) (value []byte, found bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, false, ErrClosed
	}

	return c.controller.Get(key)
}

// Del removes key if present, returning its prior value (§6.1).
func (c *Cache) Del(key []byte) (value []byte, found bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, false, ErrClosed
	}

	return c.controller.Del(key)
}

// Iter visits every entry in the cache (§6.1). Order is
// implementation-defined and the sequence is a best-effort snapshot: it may
// observe mutations that began before Iter was called (§5). It is lazy and
// non-restartable — call Iter again to get a fresh pass; callers
// needing a stable snapshot should use [Cache.Collect].
func (c *Cache) Iter(visit func(Entry) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	return c.controller.Iter(func(key, val []byte) error {
		return visit(Entry{Key: key, Value: val})
	})
}

// Collect gathers every entry into a slice, per §9's "callers that need a
// stable snapshot must collect" note.
func (c *Cache) Collect() ([]Entry, error) {
	var entries []Entry

	err := c.Iter(func(e Entry) error {
		entries = append(entries, e)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// TotalCount returns the number of entries currently in the cache (§6.1).
func (c *Cache) TotalCount() (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, ErrClosed
	}

	return c.controller.TotalCount(), nil
}

// Close closes the cache and releases the directory's advisory lock.
// Idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	err := c.controller.Close()

	if c.lock != nil {
		if lerr := c.lock.Close(); lerr != nil && err == nil {
			err = lerr
		}
	}

	return err
}
