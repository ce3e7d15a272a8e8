// Package turbocache provides an embedded, persistent key/value cache
// backed by a memory-mapped hash table with append-only value storage and
// crash-safe durability.
//
// turbocache is single-writer, single-process: it exposes Set, Get, Del, and
// Iter over byte-string keys and values, with automatic incremental growth
// as the table fills.
//
// # Basic Usage
//
//	cache, err := turbocache.Open(turbocache.Options{Dir: "/var/lib/mycache"})
//	if err != nil {
//	    // handle error
//	}
//	defer cache.Close()
//
//	_, err = cache.Set([]byte("apple"), []byte("red"))
//	val, found, err := cache.Get([]byte("apple"))
//
// # Concurrency
//
// Reads and writes on a Cache are safe for concurrent use by multiple
// goroutines within one process; mutations are internally serialized behind
// one coarse writer lock. Multiple processes opening the same directory
// concurrently are not supported — coordinate externally, or rely on the
// advisory lock file turbocache keeps at Dir+"/.lock" to detect (not
// prevent) that mistake.
//
// # Error Handling
//
// [ErrInputTooLarge] is returned for keys or values over the 4096-byte cap.
// [ErrCorrupt] and [ErrIncompatible] indicate the on-disk table can't be
// trusted or understood by this build; the usual recovery is to delete the
// directory and rebuild from the source of truth. All other errors wrap the
// underlying I/O failure.
package turbocache
