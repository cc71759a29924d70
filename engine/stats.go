package engine

import (
	"sync/atomic"
	"time"
)

// Stats holds the engine's request counters. They are incremented using
// atomic operations rather than under whichever stripe lock the caller
// already holds — §9 of the design notes treats both as equivalent, and
// atomics let Stat read them without taking any stripe lock at all.
type Stats struct {
	startTime      string
	totalRequests  uint64
	setCount       uint64
	getCount       uint64
	getPrefixCount uint64
}

func newStats() *Stats {
	return &Stats{
		startTime: time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
	}
}

func (s *Stats) recordSet() {
	atomic.AddUint64(&s.totalRequests, 1)
	atomic.AddUint64(&s.setCount, 1)
}

func (s *Stats) recordGet() {
	atomic.AddUint64(&s.totalRequests, 1)
	atomic.AddUint64(&s.getCount, 1)
}

func (s *Stats) recordGetPrefix() {
	atomic.AddUint64(&s.totalRequests, 1)
	atomic.AddUint64(&s.getPrefixCount, 1)
}

// Snapshot is the point-in-time view returned by Engine.Stat. It is not
// serialized against concurrent writers; counters may be slightly
// stale by the time the caller observes them. That is intentional.
type Snapshot struct {
	KeyCount       uint64
	TotalRequests  uint64
	SetCount       uint64
	GetCount       uint64
	GetPrefixCount uint64
	StartTime      string
}
