package engine

import "encoding/binary"

// fingerprint is a key's 64-bit hash, partitioned into a row selector and an
// in-row tag per §3.1. The "signature" bits the spec describes are never
// stored — the on-disk slot record (§6.2) carries only state, tag, lengths,
// and offset — so they're not modeled as a separate field here.
type fingerprint uint64

// hashKey computes a key's fingerprint using the format's hash algorithm.
//
// FNV-1a 64-bit: allocation-free, pure, and stable across processes and
// versions for the life of a table file, satisfying the Hasher contract in
// §4.1. Changing the constants below is a format-breaking change that needs
// a formatVersion bump: the file header records no separate hash field.
func hashKey(key []byte) fingerprint {
	const (
		offsetBasis = 14695981039346656037
		prime       = 1099511628211
	)

	h := uint64(offsetBasis)
	for _, b := range key {
		h ^= uint64(b)
		h *= prime
	}

	return fingerprint(h)
}

// row derives the row selector for a table with the given row count (a power
// of two), per §3.1: row = fingerprint mod RowCount, implemented as a mask.
func (f fingerprint) row(rowCount uint64) uint64 {
	return uint64(f) & (rowCount - 1)
}

// tag derives the 16-bit in-row tag stored in the slot record for fast
// filtering before a log read (§3.1). Taken from bits disjoint from the low
// bits used for the row selector so row and tag don't correlate for
// power-of-two row counts.
func (f fingerprint) tag() uint16 {
	return uint16(uint64(f) >> 32)
}

// slotRecord is the in-memory decoding of one 16-byte on-disk slot (§6.2).
type slotRecord struct {
	state  uint8
	tag    uint16
	keyLen uint16
	valLen uint16
	offset uint64
}

// encode writes the slot record into the given 16-byte buffer, bit-exact per
// §6.2: byte 0 state, byte 1 reserved (zero), bytes 2-4 tag LE, bytes 4-6
// key_len LE, bytes 6-8 val_len LE, bytes 8-16 offset LE.
func (s slotRecord) encode(buf []byte) {
	_ = buf[:SlotRecordSize]

	buf[0] = s.state
	buf[1] = 0
	binary.LittleEndian.PutUint16(buf[2:4], s.tag)
	binary.LittleEndian.PutUint16(buf[4:6], s.keyLen)
	binary.LittleEndian.PutUint16(buf[6:8], s.valLen)
	binary.LittleEndian.PutUint64(buf[8:16], s.offset)
}

// decodeSlot parses a 16-byte on-disk slot record.
func decodeSlot(buf []byte) slotRecord {
	_ = buf[:SlotRecordSize]

	return slotRecord{
		state:  buf[0],
		tag:    binary.LittleEndian.Uint16(buf[2:4]),
		keyLen: binary.LittleEndian.Uint16(buf[4:6]),
		valLen: binary.LittleEndian.Uint16(buf[6:8]),
		offset: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// fileHeader is the 16-byte magic+version preamble (§6.2 item 1): magic,
// format version, RowCount, SlotsPerRow — exactly 4 little-endian uint32
// fields, bit-exact with the spec's persisted layout. The hash algorithm
// isn't a separate persisted field; a format version bump implies whatever
// hash algorithm that version's implementation uses.
type fileHeader struct {
	magic       uint32
	version     uint32
	rowCount    uint32
	slotsPerRow uint32
}

func (h fileHeader) encode(buf []byte) {
	_ = buf[:headerMagicSize]

	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.version)
	binary.LittleEndian.PutUint32(buf[8:12], h.rowCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.slotsPerRow)
}

func decodeFileHeader(buf []byte) fileHeader {
	_ = buf[:headerMagicSize]

	return fileHeader{
		magic:       binary.LittleEndian.Uint32(buf[0:4]),
		version:     binary.LittleEndian.Uint32(buf[4:8]),
		rowCount:    binary.LittleEndian.Uint32(buf[8:12]),
		slotsPerRow: binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// headerBytesFor returns the total byte length of the magic preamble plus
// the row-major slot array for a table with the given geometry.
func headerBytesFor(rowCount uint64, slotsPerRow uint32) int64 {
	return headerMagicSize + int64(rowCount)*int64(slotsPerRow)*SlotRecordSize
}

// nextPow2 rounds n up to the next power of two (n itself if already one).
func nextPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}

	p := uint64(1)
	for p < n {
		p <<= 1
	}

	return p
}

// rowCountForCapacity derives a power-of-two RowCount that holds capacity
// slots at SlotsPerRow per row, per §3.1.
func rowCountForCapacity(capacity uint64) uint64 {
	rows := (capacity + SlotsPerRow - 1) / SlotsPerRow
	if rows == 0 {
		rows = 1
	}

	return nextPow2(rows)
}
