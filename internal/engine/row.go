package engine

// row is a view over one row's slot records within the mmapped header
// region: a contiguous run of SlotsPerRow fixed-size records (§3.1). It is
// the sole probing domain for a key — no cross-row probing is ever
// performed (§4.2).
type row []byte

// rowView returns the row containing the given row index within the mmapped
// header. data must be the full header mmap (magic preamble included).
func rowView(data []byte, rowIdx uint64, slotsPerRow uint32) row {
	start := int64(headerMagicSize) + int64(rowIdx)*int64(slotsPerRow)*SlotRecordSize
	end := start + int64(slotsPerRow)*SlotRecordSize

	return row(data[start:end])
}

func (r row) count() int {
	return len(r) / SlotRecordSize
}

func (r row) slot(i int) slotRecord {
	off := i * SlotRecordSize

	return decodeSlot(r[off : off+SlotRecordSize])
}

// fileOffsetOf returns the absolute file offset of slot i within this row,
// given the row's own starting file offset.
func (r row) fileOffsetOf(rowFileStart int64, i int) int64 {
	return rowFileStart + int64(i)*SlotRecordSize
}

// findForRead scans the row for an Occupied slot whose tag matches, calling
// verify for each candidate to confirm the full key (§4.2: "find_for_read").
// verify reads the blob at the candidate's offset and reports whether the
// key matches. Tombstones are skipped but never terminate the scan.
func (r row) findForRead(tag uint16, verify func(s slotRecord) (bool, error)) (idx int, found bool, err error) {
	for i := 0; i < r.count(); i++ {
		s := r.slot(i)
		if s.state != stateOccupied || s.tag != tag {
			continue
		}

		ok, verr := verify(s)
		if verr != nil {
			return 0, false, verr
		}

		if ok {
			return i, true, nil
		}
	}

	return 0, false, nil
}

// claimForWrite locates a slot to serve an insert/update (§4.2:
// "claim_for_write"). If a matching Occupied slot exists (confirmed via
// verify), its index is returned with isUpdate=true. Otherwise the first
// Empty or Tombstone slot is returned with isUpdate=false. If neither
// exists, ErrRowFull is returned.
func (r row) claimForWrite(tag uint16, verify func(s slotRecord) (bool, error)) (idx int, isUpdate bool, err error) {
	firstFree := -1

	for i := 0; i < r.count(); i++ {
		s := r.slot(i)

		switch {
		case s.state == stateOccupied && s.tag == tag:
			ok, verr := verify(s)
			if verr != nil {
				return 0, false, verr
			}

			if ok {
				return i, true, nil
			}
		case s.state != stateOccupied && firstFree == -1:
			firstFree = i
		}
	}

	if firstFree == -1 {
		return 0, false, ErrRowFull
	}

	return firstFree, false, nil
}
