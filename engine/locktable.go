package engine

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// LockTable is a fixed array of L independent mutual-exclusion locks. L
// is always a power of two so the stripe for a key is a plain mask:
// hash(key) & (L-1).
//
// Striping trades a small, bounded amount of lock metadata for
// near-linear write scaling across uncorrelated keys, while keeping
// per-key critical sections small.
type LockTable struct {
	mask  uint64
	locks []sync.Mutex
}

// NewLockTable builds a lock table with l stripes, rounding l up to the
// next power of two when it isn't one already. The reference value is
// 256.
func NewLockTable(l int) *LockTable {
	if l <= 0 {
		l = 1
	}
	l = nextPowerOfTwo(l)
	return &LockTable{
		mask:  uint64(l - 1),
		locks: make([]sync.Mutex, l),
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// StripeFor returns the stripe index that owns key. The hash function
// only needs to be deterministic within one process's lifetime; the
// unseeded xxhash used here also gives the same stripe across restarts,
// but nothing in the design relies on that.
func (lt *LockTable) StripeFor(key string) int {
	return int(xxhash.Sum64String(key) & lt.mask)
}

// Lock acquires the stripe lock owning key and returns its index, so
// the caller can release the exact same stripe with Unlock.
func (lt *LockTable) Lock(key string) int {
	i := lt.StripeFor(key)
	lt.locks[i].Lock()
	return i
}

// Unlock releases the stripe at index i, as returned by Lock.
func (lt *LockTable) Unlock(i int) {
	lt.locks[i].Unlock()
}

// AcquireAll takes every stripe lock in ascending index order. This is
// the one total order the design relies on to avoid deadlock; callers
// MUST release with ReleaseAll, which unlocks in descending order.
func (lt *LockTable) AcquireAll() {
	for i := range lt.locks {
		lt.locks[i].Lock()
	}
}

// ReleaseAll releases every stripe lock in descending index order.
func (lt *LockTable) ReleaseAll() {
	for i := len(lt.locks) - 1; i >= 0; i-- {
		lt.locks[i].Unlock()
	}
}

// Len returns the number of stripes, L.
func (lt *LockTable) Len() int {
	return len(lt.locks)
}
