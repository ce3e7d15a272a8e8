// Package growth implements the growth controller (§4.5): it holds a live
// table plus an optional staging table at 2x capacity, routes every
// mutation to the right target, migrates entries incrementally from live to
// staging, and promotes staging to live once migration drains.
package growth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/turbocache/turbocache/internal/engine"
)

const (
	liveFileName    = "live.tc"
	stagingFileName = "staging.tc"
	promoteFileName = "promote.tc"
)

// Controller is the growth controller of §4.5. It owns live and, while
// migrating, staging; the two tables never reference each other, and
// migration always reads from live and writes to staging under the
// controller's single write lock (§9: "no cyclic references").
type Controller struct {
	mu sync.Mutex

	dir       string
	writeback engine.WritebackMode

	live    *engine.Table
	staging *engine.Table

	migrating bool
	cursor    uint64
}

// Options configures Open.
type Options struct {
	// Dir is the directory holding the table file(s). Created if absent.
	Dir string

	// InitialCapacity sizes a freshly created live table. Ignored when an
	// existing live.tc is found.
	InitialCapacity uint64

	// Writeback controls fsync aggressiveness for both tables.
	Writeback engine.WritebackMode
}

// Open opens or creates the controller's on-disk state in opts.Dir,
// completing a crashed promotion first if one was left in progress (§6.2:
// "a zero-byte marker file promote.tc... indicates that staging.tc should
// be renamed to live.tc").
func Open(opts Options) (*Controller, error) {
	if opts.Dir == "" {
		return nil, errors.New("growth: dir is required")
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("growth: create dir: %w", err)
	}

	livePath := filepath.Join(opts.Dir, liveFileName)
	stagingPath := filepath.Join(opts.Dir, stagingFileName)
	promotePath := filepath.Join(opts.Dir, promoteFileName)
	cursorPath := filepath.Join(opts.Dir, cursorSidecarName)

	if _, err := os.Stat(promotePath); err == nil {
		if err := finishCrashedPromotion(livePath, stagingPath, promotePath, cursorPath); err != nil {
			return nil, err
		}
	}

	c := &Controller{dir: opts.Dir, writeback: opts.Writeback}

	live, err := openOrCreateLive(livePath, opts.InitialCapacity, opts.Writeback)
	if err != nil {
		return nil, err
	}

	c.live = live

	if _, err := os.Stat(stagingPath); err == nil {
		staging, err := engine.OpenTable(stagingPath, opts.Writeback)
		if err != nil {
			return nil, err
		}

		c.staging = staging
		c.migrating = true

		if cursor, ok, err := readCursorSidecar(cursorPath); err != nil {
			return nil, err
		} else if ok {
			c.cursor = cursor
		}
	}

	return c, nil
}

func openOrCreateLive(path string, initialCapacity uint64, writeback engine.WritebackMode) (*engine.Table, error) {
	if _, err := os.Stat(path); err == nil {
		return engine.OpenTable(path, writeback)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("growth: stat %s: %w", path, err)
	}

	if initialCapacity == 0 {
		initialCapacity = engine.SlotsPerRow
	}

	return engine.CreateTable(path, rowCountFor(initialCapacity), writeback)
}

func rowCountFor(capacity uint64) uint64 {
	rows := (capacity + engine.SlotsPerRow - 1) / engine.SlotsPerRow
	if rows == 0 {
		rows = 1
	}

	return rows
}

// finishCrashedPromotion completes an interrupted promotion found at open
// time (§4.6: "an interrupted promotion is idempotent"). promote writes the
// marker, closes the old live table, renames staging.tc over live.tc, then
// removes the marker and cursor sidecar — so a crash can land in either of
// two states:
//
//   - before the rename: staging.tc still exists, live.tc is still the old
//     table. Finish the rename ourselves.
//   - after the rename but before cleanup: staging.tc is already gone
//     (renamed away) and live.tc already holds the promoted table. The
//     promotion itself succeeded; only the marker/cursor cleanup is left.
//
// Re-running the rename unconditionally would fail with ENOENT in the
// second case even though the directory is already fully promoted.
func finishCrashedPromotion(livePath, stagingPath, promotePath, cursorPath string) error {
	if _, err := os.Stat(stagingPath); err == nil {
		if err := os.Rename(stagingPath, livePath); err != nil {
			return fmt.Errorf("growth: resume promotion rename: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("growth: stat %s: %w", stagingPath, err)
	}

	_ = os.Remove(promotePath)
	_ = removeCursorSidecar(cursorPath)

	return nil
}

// Set performs the §6.1 set operation, routing through the growth state
// machine described in §4.5.
func (c *Controller) Set(key, val []byte) (engine.InsertResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := engine.ValidateEntrySize(key, val); err != nil {
		return 0, err
	}

	if !c.migrating {
		res, err := c.live.Insert(key, val)
		if err == nil {
			if c.live.IsSaturated() {
				if err := c.beginMigration(); err != nil {
					return 0, err
				}
			}

			return res, nil
		}

		if !errors.Is(err, engine.ErrRowFull) {
			return 0, err
		}

		if err := c.beginMigration(); err != nil {
			return 0, err
		}
		// fall through to the migrating route step below
	}

	return c.routeSet(key, val)
}

// routeSet implements the Migrating-state route step for set (§4.5):
// attempt on staging (growing it again if it's also full), then release any
// existing slot for the same key in live to preserve I1.
func (c *Controller) routeSet(key, val []byte) (engine.InsertResult, error) {
	res, err := c.staging.Insert(key, val)

	for errors.Is(err, engine.ErrRowFull) {
		if err := c.growStaging(); err != nil {
			return 0, err
		}

		res, err = c.staging.Insert(key, val)
	}

	if err != nil {
		return 0, err
	}

	if _, _, rerr := c.live.Remove(key); rerr != nil {
		return 0, rerr
	}

	if err := c.migrationStep(); err != nil {
		return 0, err
	}

	return res, nil
}

// Get performs the §6.1 get operation: during migration, staging is tried
// first, then live.
func (c *Controller) Get(key []byte) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.migrating {
		if val, found, err := c.staging.Lookup(key); err != nil || found {
			return val, found, err
		}
	}

	return c.live.Lookup(key)
}

// Del performs the §6.1 del operation, deleting from whichever table the
// key lands in.
func (c *Controller) Del(key []byte) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.migrating {
		if val, found, err := c.staging.Remove(key); err != nil || found {
			return val, found, err
		}
	}

	return c.live.Remove(key)
}

// Iter visits every (key, value) pair across live and staging. Because
// mutations are serialized by c.mu and both the route step and the
// migration step tombstone a key in live the moment it exists in staging, a
// key is never visible in both tables at once (I1).
func (c *Controller) Iter(visit func(key, val []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.migrating {
		if err := c.staging.Scan(visit); err != nil {
			return err
		}
	}

	return c.live.Scan(visit)
}

// TotalCount sums Occupied slots across live and staging (§6.1).
func (c *Controller) TotalCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.live.TotalCount()
	if c.migrating {
		total += c.staging.TotalCount()
	}

	return total
}

// Close closes both open tables.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.live.Close()
	if c.migrating {
		if serr := c.staging.Close(); serr != nil && err == nil {
			err = serr
		}
	}

	return err
}

// beginMigration transitions Steady -> Migrating: create staging at 2x
// live's row count (§4.5, I2).
func (c *Controller) beginMigration() error {
	stagingPath := filepath.Join(c.dir, stagingFileName)

	staging, err := engine.CreateTable(stagingPath, c.live.RowCount()*2, c.writeback)
	if err != nil {
		return fmt.Errorf("growth: create staging table: %w", err)
	}

	c.staging = staging
	c.migrating = true
	c.cursor = 0

	return nil
}

// growStaging handles the rare nested-growth case (§4.5: "on staging
// RowFull, grow staging again"). It eagerly, synchronously copies every
// Occupied entry from the old staging into a freshly doubled one — unlike
// the live->staging migration this isn't amortized, since it's expected to
// be rare under the tuning in §4.5's MigrationBatch contract.
func (c *Controller) growStaging() error {
	oldStaging := c.staging
	newPath := filepath.Join(c.dir, stagingFileName+".grow")

	newStaging, err := engine.CreateTable(newPath, oldStaging.RowCount()*2, c.writeback)
	if err != nil {
		return fmt.Errorf("growth: create nested staging table: %w", err)
	}

	err = oldStaging.Scan(func(key, val []byte) error {
		_, err := newStaging.Insert(key, val)

		return err
	})
	if err != nil {
		_ = newStaging.Close()
		_ = os.Remove(newPath)

		return fmt.Errorf("growth: copy into nested staging table: %w", err)
	}

	oldPath := oldStaging.Path()

	if err := oldStaging.Close(); err != nil {
		return err
	}

	if err := newStaging.Sync(); err != nil {
		return err
	}

	if err := os.Rename(newPath, oldPath); err != nil {
		return fmt.Errorf("growth: promote nested staging table: %w", err)
	}

	c.staging = newStaging

	return nil
}

// migrationStep performs one §4.5 migration step: move MigrationBatch
// entries from live into staging, advance and persist the cursor, and
// promote if live has been fully drained.
func (c *Controller) migrationStep() error {
	next, drained, err := c.live.MigrateBatch(c.cursor, engine.MigrationBatch, func(key, val []byte) error {
		_, err := c.staging.Insert(key, val)

		return err
	})
	if err != nil {
		return err
	}

	c.cursor = next

	cursorPath := filepath.Join(c.dir, cursorSidecarName)
	if err := writeCursorSidecar(cursorPath, c.cursor); err != nil {
		return fmt.Errorf("growth: persist migration cursor: %w", err)
	}

	if drained && c.live.TotalCount() == 0 {
		return c.promote()
	}

	return nil
}

// promote implements the §4.5 Promote transition: fsync staging, rename it
// over live, unlink the old live file, drop to Steady.
func (c *Controller) promote() error {
	if err := c.staging.Sync(); err != nil {
		return err
	}

	livePath := filepath.Join(c.dir, liveFileName)
	stagingPath := filepath.Join(c.dir, stagingFileName)
	promotePath := filepath.Join(c.dir, promoteFileName)
	cursorPath := filepath.Join(c.dir, cursorSidecarName)

	if err := os.WriteFile(promotePath, nil, 0o644); err != nil {
		return fmt.Errorf("growth: write promote marker: %w", err)
	}

	oldLive := c.live

	if err := oldLive.Close(); err != nil {
		return err
	}

	if err := os.Rename(stagingPath, livePath); err != nil {
		return fmt.Errorf("growth: promote staging to live: %w", err)
	}

	if err := os.Remove(promotePath); err != nil && !os.IsNotExist(err) {
		return err
	}

	_ = removeCursorSidecar(cursorPath)

	c.live = c.staging
	c.staging = nil
	c.migrating = false
	c.cursor = 0

	return nil
}
