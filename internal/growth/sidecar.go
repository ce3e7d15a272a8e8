package growth

import (
	"bytes"
	"encoding/binary"
	"os"

	natomic "github.com/natefinch/atomic"
)

// cursorSidecarName is the tiny file the controller uses to persist
// migration_cursor across restarts (§9 design note: "store it in a tiny
// sidecar file updated with fsync — trade-off: durability vs write
// amplification"). It is not required for correctness — if absent, a
// restart just restarts migration from the beginning (§4.6) — but persisting
// it avoids redoing a large migration after a clean-ish restart.
const cursorSidecarName = "migration_cursor"

// writeCursorSidecar durably persists cursor using the same atomic
// temp-file-plus-rename-plus-fsync pattern used elsewhere in this codebase
// for small, crash-safe config-style writes.
func writeCursorSidecar(path string, cursor uint64) error {
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], cursor)

	return natomic.WriteFile(path, bytes.NewReader(buf[:]))
}

// readCursorSidecar reads a persisted cursor. A missing file is not an
// error; it reports cursor 0 and ok=false so the caller restarts migration
// from the beginning.
func readCursorSidecar(path string) (cursor uint64, ok bool, err error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is controller-internal
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}

		return 0, false, err
	}

	if len(data) != 8 {
		return 0, false, nil
	}

	return binary.LittleEndian.Uint64(data), true, nil
}

func removeCursorSidecar(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
