package engine

import "sync"

// Index is the authoritative in-memory key-value mapping.
//
// The stripe lock a caller holds (per LockTable) only serializes
// operations on a single key — it says nothing about a concurrent
// operation on a key hashing to a different stripe. Since every stripe
// shares this one backing map, two such operations can still race
// directly on the Go map itself (a write during another goroutine's
// write or read triggers "fatal error: concurrent map writes" / "...
// map read and map write" — a process abort the runtime does not allow
// catching). Index therefore carries its own internal mutex guarding
// the backing map, independent of whatever stripe lock(s) the caller
// holds. The stripe lock remains necessary above this layer for the
// ordering invariants (read-your-write, last-writer-wins, consistent
// multi-key snapshots) — it just no longer has to (and cannot, on its
// own) make the map itself safe.
type Index struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{data: make(map[string][]byte)}
}

// Put installs or overwrites the entry for key.
func (ix *Index) Put(key string, value []byte) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.data[key] = value
}

// Lookup returns the current value for key, if present.
func (ix *Index) Lookup(key string) ([]byte, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	v, ok := ix.data[key]
	return v, ok
}

// KeySnapshot returns a copy of the current key set.
//
// Callers relying on this being a consistent, point-in-time view of
// every key (as opposed to merely data-race-free) must still hold
// every stripe lock, acquired via LockTable.AcquireAll — this method's
// own mutex only prevents the underlying map access from crashing the
// process.
func (ix *Index) KeySnapshot() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	keys := make([]string, 0, len(ix.data))
	for k := range ix.data {
		keys = append(keys, k)
	}
	return keys
}

// Size returns the current entry count.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.data)
}
