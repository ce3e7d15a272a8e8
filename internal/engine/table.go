package engine

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// WritebackMode controls how aggressively Table durability is enforced.
// Mirrors the None/Sync writeback tradeoff of the mmapped cache this package
// takes its I/O idioms from: WritebackNone leaves fsync to the OS's normal
// writeback schedule; WritebackSync fsyncs after every mutating operation.
type WritebackMode int

const (
	WritebackNone WritebackMode = iota
	WritebackSync
)

// InsertResult reports whether Table.Insert created a new entry or replaced
// an existing one (§4.4).
type InsertResult int

const (
	Inserted InsertResult = iota
	Replaced
)

// Table is one logical hash table: one file, a mmapped header of
// RowCount x SlotsPerRow slots, and an append-only value log (§3.1, §4.4).
// A Table is the exclusive owner of its file; the growth controller owns
// zero, one, or two Tables (live and staging) and never lets them reference
// each other.
type Table struct {
	// mu is the table's single coarse writer lock (§5: "one coarse writer
	// lock per controller is sufficient"). Reads take RLock; Insert/Remove
	// and migration take Lock.
	mu sync.RWMutex

	fd     int
	path   string
	header []byte // mmap of the magic preamble + row-major slot array
	log    *valueLog

	rowCount    uint64
	slotsPerRow uint32

	occupied  atomic.Int64
	rowFull   atomic.Bool
	writeback WritebackMode

	closed bool
}

// CreateTable creates a new, empty table file at path with the given row
// count (rounded up to a power of two) and writeback policy.
func CreateTable(path string, rowCount uint64, writeback WritebackMode) (*Table, error) {
	rowCount = nextPow2(rowCount)

	fd, err := openFile(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}

	total := headerBytesFor(rowCount, SlotsPerRow)

	if err := ftruncateFd(fd, total); err != nil {
		_ = closeFd(fd)

		return nil, err
	}

	hdr := fileHeader{
		magic:       formatMagic,
		version:     formatVersion,
		rowCount:    uint32(rowCount),
		slotsPerRow: SlotsPerRow,
	}

	var hdrBuf [headerMagicSize]byte

	hdr.encode(hdrBuf[:])

	if err := pwriteAt(fd, hdrBuf[:], 0); err != nil {
		_ = closeFd(fd)

		return nil, err
	}

	if err := fsyncFd(fd); err != nil {
		_ = closeFd(fd)

		return nil, err
	}

	data, err := mmapHeader(fd, total)
	if err != nil {
		_ = closeFd(fd)

		return nil, err
	}

	t := &Table{
		fd:          fd,
		path:        path,
		header:      data,
		log:         newValueLog(fd, total),
		rowCount:    rowCount,
		slotsPerRow: SlotsPerRow,
		writeback:   writeback,
	}

	return t, nil
}

// OpenTable opens an existing table file, validating the header and
// demoting any slot that fails the open-time consistency check (§4.6).
func OpenTable(path string, writeback WritebackMode) (*Table, error) {
	fd, err := openFile(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	fileSize, err := fstatSize(fd)
	if err != nil {
		_ = closeFd(fd)

		return nil, err
	}

	if fileSize < headerMagicSize {
		_ = closeFd(fd)

		return nil, fmt.Errorf("%w: file too small for header", ErrCorrupt)
	}

	var hdrBuf [headerMagicSize]byte

	if err := preadAt(fd, hdrBuf[:], 0); err != nil {
		_ = closeFd(fd)

		return nil, err
	}

	hdr := decodeFileHeader(hdrBuf[:])

	if hdr.magic != formatMagic {
		_ = closeFd(fd)

		return nil, fmt.Errorf("%w: bad magic", ErrIncompatible)
	}

	if hdr.version != formatVersion {
		_ = closeFd(fd)

		return nil, fmt.Errorf("%w: unsupported version %d", ErrIncompatible, hdr.version)
	}

	rowCount := uint64(hdr.rowCount)
	if rowCount == 0 || rowCount&(rowCount-1) != 0 {
		_ = closeFd(fd)

		return nil, fmt.Errorf("%w: row count %d is not a power of two", ErrCorrupt, rowCount)
	}

	headerBytes := headerBytesFor(rowCount, hdr.slotsPerRow)
	if fileSize < headerBytes {
		_ = closeFd(fd)

		return nil, fmt.Errorf("%w: file smaller than header region", ErrCorrupt)
	}

	data, err := mmapHeader(fd, headerBytes)
	if err != nil {
		_ = closeFd(fd)

		return nil, err
	}

	t := &Table{
		fd:          fd,
		path:        path,
		header:      data,
		log:         newValueLog(fd, fileSize),
		rowCount:    rowCount,
		slotsPerRow: hdr.slotsPerRow,
		writeback:   writeback,
	}

	occupied, err := t.recoverOnOpen(headerBytes, fileSize)
	if err != nil {
		_ = munmapHeader(data)
		_ = closeFd(fd)

		return nil, err
	}

	t.occupied.Store(occupied)

	return t, nil
}

// recoverOnOpen walks every slot, demoting to Tombstone any Occupied slot
// that violates I4 (offset out of range, or blob doesn't fit before EOF) —
// exactly the §4.6 contract: "an Occupied slot pointing past the file's
// end... is demoted to Tombstone at open time." It returns the number of
// slots that remain genuinely Occupied afterward.
func (t *Table) recoverOnOpen(headerBytes, fileSize int64) (int64, error) {
	var occupied int64

	total := t.totalSlots()

	for i := uint64(0); i < total; i++ {
		rowIdx := i / uint64(t.slotsPerRow)
		slotIdx := int(i % uint64(t.slotsPerRow))

		r := rowView(t.header, rowIdx, t.slotsPerRow)
		s := r.slot(slotIdx)

		if s.state != stateOccupied {
			continue
		}

		blobEnd := int64(s.offset) + int64(s.keyLen) + int64(s.valLen)
		if int64(s.offset) < headerBytes || blobEnd > fileSize {
			t.demoteSlot(rowIdx, slotIdx)

			continue
		}

		occupied++
	}

	return occupied, nil
}

// demoteSlot overwrites the slot at (rowIdx, slotIdx) with a Tombstone.
func (t *Table) demoteSlot(rowIdx uint64, slotIdx int) {
	fileOff := t.rowFileStart(rowIdx) + int64(slotIdx)*SlotRecordSize

	var buf [SlotRecordSize]byte

	slotRecord{state: stateTombstone}.encode(buf[:])
	_ = pwriteAt(t.fd, buf[:], fileOff)
}

func (t *Table) rowFileStart(rowIdx uint64) int64 {
	return headerMagicSize + int64(rowIdx)*int64(t.slotsPerRow)*SlotRecordSize
}

func (t *Table) totalSlots() uint64 {
	return t.rowCount * uint64(t.slotsPerRow)
}

// Capacity returns the table's total slot capacity.
func (t *Table) Capacity() uint64 {
	return t.totalSlots()
}

// RowCount returns the table's row count.
func (t *Table) RowCount() uint64 {
	return t.rowCount
}

// TotalCount returns the number of Occupied slots in this table.
func (t *Table) TotalCount() int64 {
	return t.occupied.Load()
}

// IsSaturated reports whether the table's load factor exceeds LoadThreshold
// or a prior insert returned RowFull (§4.4).
func (t *Table) IsSaturated() bool {
	if t.rowFull.Load() {
		return true
	}

	return float64(t.occupied.Load())/float64(t.totalSlots()) > LoadThreshold
}

// ValidateEntrySize checks key and value against the §6.1 size caps. A
// zero-length key is not rejected here: spec.md §6.1 only caps the upper
// bound, and §3.1 doesn't forbid key_len == 0.
func ValidateEntrySize(key, val []byte) error {
	if len(key) > MaxKeyLen {
		return fmt.Errorf("%w: key length %d", ErrInputTooLarge, len(key))
	}

	if len(val) > MaxValLen {
		return fmt.Errorf("%w: value length %d", ErrInputTooLarge, len(val))
	}

	return nil
}

// Insert performs the §4.4 insert algorithm: row scan for a matching
// Occupied slot (replace), else first Empty/Tombstone (insert), else
// ErrRowFull. The blob is always appended to the log before the slot is
// flipped, so a crash between the two leaves only stranded log bytes and no
// visible state change (§4.6).
func (t *Table) Insert(key, val []byte) (InsertResult, error) {
	if err := ValidateEntrySize(key, val); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fp := hashKey(key)
	rowIdx := fp.row(t.rowCount)
	tag := fp.tag()
	r := rowView(t.header, rowIdx, t.slotsPerRow)
	rowStart := t.rowFileStart(rowIdx)

	idx, isUpdate, err := r.claimForWrite(tag, func(s slotRecord) (bool, error) {
		return t.keyMatches(s, key)
	})
	if err != nil {
		if errors.Is(err, ErrRowFull) {
			t.rowFull.Store(true)
		}

		return 0, err
	}

	offset, err := t.log.append(key, val)
	if err != nil {
		return 0, err
	}

	newSlot := slotRecord{
		state:  stateOccupied,
		tag:    tag,
		keyLen: uint16(len(key)),
		valLen: uint16(len(val)),
		offset: uint64(offset),
	}

	var buf [SlotRecordSize]byte

	newSlot.encode(buf[:])

	if err := pwriteAt(t.fd, buf[:], r.fileOffsetOf(rowStart, idx)); err != nil {
		return 0, err
	}

	if !isUpdate {
		t.occupied.Add(1)
	}

	if t.writeback == WritebackSync {
		if err := t.sync(); err != nil {
			return 0, err
		}
	}

	if isUpdate {
		return Replaced, nil
	}

	return Inserted, nil
}

// Lookup performs the §4.4 lookup algorithm.
func (t *Table) Lookup(key []byte) (val []byte, found bool, err error) {
	if len(key) > MaxKeyLen {
		return nil, false, fmt.Errorf("%w: key length %d", ErrInputTooLarge, len(key))
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	fp := hashKey(key)
	rowIdx := fp.row(t.rowCount)
	tag := fp.tag()
	r := rowView(t.header, rowIdx, t.slotsPerRow)

	var result []byte

	_, found, err = r.findForRead(tag, func(s slotRecord) (bool, error) {
		match, kerr := t.keyMatches(s, key)
		if kerr != nil || !match {
			return false, kerr
		}

		_, v, verr := t.log.readEntry(int64(s.offset), s.keyLen, s.valLen)
		if verr != nil {
			return false, verr
		}

		result = v

		return true, nil
	})
	if err != nil {
		return nil, false, err
	}

	if !found {
		return nil, false, nil
	}

	return result, true, nil
}

// Remove performs the §4.4 remove algorithm: locate as in lookup, overwrite
// with Tombstone, return the previously readable value.
func (t *Table) Remove(key []byte) (val []byte, found bool, err error) {
	if len(key) > MaxKeyLen {
		return nil, false, fmt.Errorf("%w: key length %d", ErrInputTooLarge, len(key))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fp := hashKey(key)
	rowIdx := fp.row(t.rowCount)
	tag := fp.tag()
	r := rowView(t.header, rowIdx, t.slotsPerRow)
	rowStart := t.rowFileStart(rowIdx)

	var result []byte

	idx, found, err := r.findForRead(tag, func(s slotRecord) (bool, error) {
		match, kerr := t.keyMatches(s, key)
		if kerr != nil || !match {
			return false, kerr
		}

		_, v, verr := t.log.readEntry(int64(s.offset), s.keyLen, s.valLen)
		if verr != nil {
			return false, verr
		}

		result = v

		return true, nil
	})
	if err != nil {
		return nil, false, err
	}

	if !found {
		return nil, false, nil
	}

	var buf [SlotRecordSize]byte

	slotRecord{state: stateTombstone}.encode(buf[:])

	if err := pwriteAt(t.fd, buf[:], r.fileOffsetOf(rowStart, idx)); err != nil {
		return nil, false, err
	}

	t.occupied.Add(-1)

	if t.writeback == WritebackSync {
		if err := t.sync(); err != nil {
			return nil, false, err
		}
	}

	return result, true, nil
}

// Scan iterates every Occupied slot in row-major order, calling visit for
// each (key, value) pair (§4.4). Order is implementation-defined, not
// insertion order. Scan stops and returns visit's error if it returns one.
func (t *Table) Scan(visit func(key, val []byte) error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := t.totalSlots()

	for i := uint64(0); i < total; i++ {
		rowIdx := i / uint64(t.slotsPerRow)
		slotIdx := int(i % uint64(t.slotsPerRow))

		r := rowView(t.header, rowIdx, t.slotsPerRow)
		s := r.slot(slotIdx)

		if s.state != stateOccupied {
			continue
		}

		key, val, err := t.log.readEntry(int64(s.offset), s.keyLen, s.valLen)
		if err != nil {
			return err
		}

		if err := visit(key, val); err != nil {
			return err
		}
	}

	return nil
}

// MigrateBatch moves up to batch Occupied entries starting at the global
// slot index cursor into another table via moveFn, tombstoning each moved
// slot in this table (§4.5 migration step). It returns the slot index to
// resume from and whether the end of the table was reached.
func (t *Table) MigrateBatch(cursor uint64, batch int, moveFn func(key, val []byte) error) (next uint64, drained bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.totalSlots()
	moved := 0
	i := cursor

	for ; i < total && moved < batch; i++ {
		rowIdx := i / uint64(t.slotsPerRow)
		slotIdx := int(i % uint64(t.slotsPerRow))

		r := rowView(t.header, rowIdx, t.slotsPerRow)
		s := r.slot(slotIdx)

		if s.state != stateOccupied {
			continue
		}

		key, val, rerr := t.log.readEntry(int64(s.offset), s.keyLen, s.valLen)
		if rerr != nil {
			return cursor, false, rerr
		}

		if err := moveFn(key, val); err != nil {
			return cursor, false, err
		}

		t.demoteSlot(rowIdx, slotIdx)
		t.occupied.Add(-1)

		moved++
	}

	return i, i >= total, nil
}

// keyMatches reads the key bytes for a candidate slot and compares them.
func (t *Table) keyMatches(s slotRecord, key []byte) (bool, error) {
	if int(s.keyLen) != len(key) {
		return false, nil
	}

	got, err := t.log.readKey(int64(s.offset), s.keyLen)
	if err != nil {
		return false, err
	}

	return bytes.Equal(got, key), nil
}

// sync fsyncs the file descriptor, covering both header slot writes and
// value log appends (they share one fd's page cache).
func (t *Table) sync() error {
	return fsyncFd(t.fd)
}

// Sync durably flushes all writes made so far to this table's file.
func (t *Table) Sync() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.sync()
}

// Path returns the table's backing file path.
func (t *Table) Path() string {
	return t.path
}

// Close unmaps the header and closes the file descriptor. It does not
// remove the backing file.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true

	err := munmapHeader(t.header)
	if cerr := closeFd(t.fd); cerr != nil && err == nil {
		err = cerr
	}

	return err
}
