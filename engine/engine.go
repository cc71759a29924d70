// Package engine implements the durable, striped key-value storage
// core: the in-memory index, the lock table that serializes access to
// it, and the WAL-backed durability protocol that ties the two
// together.
package engine

import (
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stripedkv/wal"
)

// ErrEngineClosed is returned by Put once the engine has moved to the
// Closed state. Get, GetPrefix, and Stat remain readable after Close —
// only durability-requiring operations are rejected.
var ErrEngineClosed = errors.New("engine: closed")

// DefaultLockStripes is the reference lock-table size: a power of two
// that keeps per-key contention low without excessive lock metadata.
const DefaultLockStripes = 256

// KV is a single key/value pair, as returned by GetPrefix.
type KV struct {
	Key   string
	Value []byte
}

// Engine is the storage core: Index + WAL + LockTable + Stats, wired
// together per the write/read/prefix-scan data flows.
//
// Engine has three states: Initializing (constructor running, WAL
// being replayed), Serving (operations accepted), and Closed (WAL
// handle released). The Initializing → Serving transition is
// unconditional at the end of New; Serving → Closed happens on Close.
type Engine struct {
	log   *zap.SugaredLogger
	wal   wal.WAL
	index *Index
	locks *LockTable
	stats *Stats

	closed atomic.Bool
}

// New constructs an Engine backed by w, replaying its WAL before
// returning. Construction is fallible: a failure during replay is
// returned to the caller rather than panicking, so the server can
// surface it at startup.
func New(w wal.WAL, lockStripes int, log *zap.SugaredLogger) (*Engine, error) {
	if lockStripes <= 0 {
		lockStripes = DefaultLockStripes
	}

	e := &Engine{
		log:   log,
		wal:   w,
		index: NewIndex(),
		locks: NewLockTable(lockStripes),
		stats: newStats(),
	}

	if err := e.replay(); err != nil {
		return nil, errors.Wrap(err, "replay wal")
	}

	return e, nil
}

// replay reconstructs the index from the WAL. No locking is needed: the
// engine is not yet serving requests, so there is no concurrent writer
// to race with.
func (e *Engine) replay() error {
	report, err := e.wal.Replay(func(rec wal.Record) error {
		e.index.Put(rec.Key, rec.Value)
		return nil
	})
	if err != nil {
		return err
	}

	if e.log != nil {
		e.log.Infow("wal replay complete", "records_applied", report.RecordsApplied)
		if report.Truncated {
			e.log.Warnw("wal replay stopped at a torn trailing record",
				"offset", report.FailureOffset)
		}
		if report.Corrupt {
			e.log.Errorw("wal replay stopped at a corrupt record (checksum mismatch)",
				"offset", report.FailureOffset)
		}
	}

	return nil
}

// Put installs key=value durably.
//
// Order of operations: acquire the stripe lock for key, append to the
// WAL (fsync'd before Append returns), install into the index, bump
// counters, release the lock. If the WAL append fails, the index is
// left untouched and the error is surfaced — the operation is
// atomic-fail, and the engine remains usable for subsequent operations.
func (e *Engine) Put(key string, value []byte) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	idx := e.locks.Lock(key)
	defer e.locks.Unlock(idx)

	if err := e.wal.Append(wal.Record{Key: key, Value: value}); err != nil {
		return errors.Wrap(err, "wal append")
	}

	e.index.Put(key, value)
	e.stats.recordSet()
	return nil
}

// Get reads the current value for key, if any. The returned slice is a
// copy: the caller may retain or mutate it freely after the stripe lock
// is released.
func (e *Engine) Get(key string) ([]byte, bool) {
	idx := e.locks.Lock(key)
	v, ok := e.index.Lookup(key)
	var out []byte
	if ok {
		out = append([]byte(nil), v...)
	}
	e.locks.Unlock(idx)

	e.stats.recordGet()
	return out, ok
}

// GetPrefix returns every key currently starting with prefix, along
// with a copy of its value.
//
// The key set is snapshotted under every stripe lock held at once (in
// ascending order; released in descending order — see LockTable), then
// each matching key is re-read under its own stripe lock to keep the
// returned value internally consistent with the key's existence. The
// returned set is therefore a subset of the keys that existed at
// snapshot time; it never includes a key that was deleted or
// overwritten out from under it without reflecting the overwrite. No
// cross-key atomicity is claimed.
//
// If maxResults is nonzero, the result is truncated to that many pairs
// after collection, matching the reference implementation's behavior
// of truncating post-hoc rather than stopping the scan early.
func (e *Engine) GetPrefix(prefix string, maxResults uint32) []KV {
	e.locks.AcquireAll()
	keys := e.index.KeySnapshot()
	e.locks.ReleaseAll()

	e.stats.recordGetPrefix()

	var results []KV
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}

		idx := e.locks.Lock(k)
		v, ok := e.index.Lookup(k)
		stillMatches := ok && strings.HasPrefix(k, prefix)
		var valCopy []byte
		if stillMatches {
			valCopy = append([]byte(nil), v...)
		}
		e.locks.Unlock(idx)

		if !stillMatches {
			continue
		}
		results = append(results, KV{Key: k, Value: valCopy})
	}

	if maxResults > 0 && uint32(len(results)) > maxResults {
		results = results[:maxResults]
	}

	return results
}

// Stat returns a snapshot of the engine's counters plus the current key
// count. It takes no stripe lock: counters are read with plain atomic
// loads, and Index.Size() is already race-free on its own internal
// mutex. The result may therefore be slightly stale relative to an
// in-flight Put by the time the caller observes it — §4.4 treats Stat
// as a best-effort, non-blocking read, and staleness (not a data race)
// is the acceptable cost of that.
func (e *Engine) Stat() Snapshot {
	keyCount := e.index.Size()

	return Snapshot{
		KeyCount:       uint64(keyCount),
		TotalRequests:  atomic.LoadUint64(&e.stats.totalRequests),
		SetCount:       atomic.LoadUint64(&e.stats.setCount),
		GetCount:       atomic.LoadUint64(&e.stats.getCount),
		GetPrefixCount: atomic.LoadUint64(&e.stats.getPrefixCount),
		StartTime:      e.stats.startTime,
	}
}

// Close transitions the engine to the Closed state and releases the WAL
// file handle. Operations after Close are undefined by the design
// (§4.4); Put is the one operation this implementation actively rejects
// post-close, since it is the one whose silent failure (a write that
// looks durable but isn't) would be worst.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return e.wal.Close()
}
