package engine

import (
	"sync/atomic"
)

// valueLog is the append-only data region of a table file, living
// immediately after the header (§3.1, §4.3). Entries are written
// back-to-back as key_bytes‖value_bytes with no per-entry framing; framing
// (lengths, offset) lives entirely in the owning slot record.
type valueLog struct {
	fd int

	// watermark is the current append position, equal to the file length.
	// Maintained in memory and recovered from the file's actual length on
	// open (§4.3): "on open it is set to file_len".
	watermark atomic.Int64
}

func newValueLog(fd int, initialWatermark int64) *valueLog {
	v := &valueLog{fd: fd}
	v.watermark.Store(initialWatermark)

	return v
}

// append writes key‖value at the current watermark using positioned I/O
// (§4.3: "writes use positioned I/O... at the table's append watermark")
// and advances the watermark. It does not fsync; callers decide durability
// policy (see Table.sync).
func (v *valueLog) append(key, val []byte) (offset int64, err error) {
	off := v.watermark.Load()

	buf := make([]byte, 0, len(key)+len(val))
	buf = append(buf, key...)
	buf = append(buf, val...)

	if err := pwriteAt(v.fd, buf, off); err != nil {
		return 0, err
	}

	v.watermark.Store(off + int64(len(buf)))

	return off, nil
}

// readKey reads only the key bytes of a blob at offset, for findForRead's
// key-comparison step without paying for a value read until confirmed.
func (v *valueLog) readKey(offset int64, keyLen uint16) ([]byte, error) {
	buf := make([]byte, keyLen)
	if err := preadAt(v.fd, buf, offset); err != nil {
		return nil, err
	}

	return buf, nil
}

// readEntry reads both key and value bytes of a blob at offset (§4.3).
func (v *valueLog) readEntry(offset int64, keyLen, valLen uint16) (key, val []byte, err error) {
	buf := make([]byte, int(keyLen)+int(valLen))
	if err := preadAt(v.fd, buf, offset); err != nil {
		return nil, nil, err
	}

	return buf[:keyLen], buf[keyLen:], nil
}

// size returns the current watermark, i.e. the logical end of written data.
func (v *valueLog) size() int64 {
	return v.watermark.Load()
}
