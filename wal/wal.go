package wal

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrWALClosed is returned when appending to a closed WAL.
	ErrWALClosed = errors.New("wal: closed")

	// ErrWorkerStuck protects against a wedged worker goroutine. This is
	// a safety guard, not a correctness mechanism.
	ErrWorkerStuck = errors.New("wal: worker stuck")
)

/*
WAL is an append-only write-ahead log for durable mutations.

Every implementation guarantees: append-only, ordered, synchronous
durability (one Append call produces exactly one fsync before it
returns), and a protocol-agnostic record shape — the WAL records (key,
value) intent, never internal index state.
*/
type WAL interface {
	Append(rec Record) error
	Replay(apply func(Record) error) (RecoveryReport, error)
	Close() error
}

// Config configures a file-backed WAL.
type Config struct {
	// Path is the WAL file's location on disk. Created if absent.
	Path string
}

/*
fileWAL is a single-writer WAL.

Concurrency model:
- many goroutines may call Append; exactly one goroutine (run) owns the file
- Multiple Producers (Append callers) -> Single Consumer (run goroutine).
- Ordering is guaranteed by the channel; writes are serialized FIFO.
- Durability is guaranteed by unbuffered channel hand-off (request-response):
  Append only returns once the worker has acknowledged the fsync, so no
  record can be lost in a user-space buffer across a crash, and no
  separate file-wide mutex is needed.
*/
type fileWAL struct {
	// path is persisted to allow Replay to re-open the file on recovery.
	path string

	// file is kept open for the lifetime of the WAL to amortize syscall overhead.
	file *os.File

	// reqChan is UNBUFFERED; forces the caller to wait until the worker
	// acknowledges the write (fsync), ensuring no data is lost in a
	// user-space buffer during a crash.
	reqChan chan request

	// doneChan acts as a broadcast signal (tombstone) to notify all writers
	// that the WAL is shutting down.
	doneChan chan struct{}

	// closeOnce ensures the teardown logic is idempotent and thread-safe.
	closeOnce sync.Once
}

// NewWAL opens (or creates) the WAL file at cfg.Path in append mode and
// starts its owning worker goroutine.
func NewWAL(cfg Config) (WAL, error) {
	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open wal file")
	}

	w := &fileWAL{
		path:     cfg.Path,
		file:     f,
		reqChan:  make(chan request), // unbuffered: every Append waits for the fsync handshake
		doneChan: make(chan struct{}),
	}

	go w.run()
	return w, nil
}

/*
Append durably records a mutation.

Callers block until the record is written, fsynced, and acknowledged.
Encoding happens here (in the caller's goroutine), not in the worker —
this parallelizes serialization across callers and leaves the
single-threaded worker free to focus solely on I/O syscalls.
*/
func (w *fileWAL) Append(rec Record) error {
	payload := encode(rec)

	reply := make(chan response, 1)

	select {
	case w.reqChan <- request{
		op:      opAppend,
		payload: payload,
		reply:   reply,
	}:
		resp := <-reply
		return resp.err

	case <-w.doneChan:
		// Fast-path: if the WAL is closed, don't even try to send the request.
		return ErrWALClosed
	}
}

/*
Close flushes and gracefully shuts down the WAL. Idempotent: safe to
call from multiple goroutines. Uses a timeout guard against a wedged
worker goroutine.
*/
func (w *fileWAL) Close() error {
	closed := false

	w.closeOnce.Do(func() {
		closed = true
		close(w.doneChan)
	})

	if !closed {
		return nil
	}

	reply := make(chan response, 1)

	select {
	case w.reqChan <- request{
		op:    opClose,
		reply: reply,
	}:
		resp := <-reply
		return resp.err

	case <-time.After(1 * time.Second):
		return ErrWorkerStuck
	}
}

// RecoveryReport summarizes what Replay observed while reconstructing
// state from the log.
type RecoveryReport struct {
	// RecordsApplied is the number of records successfully decoded and
	// handed to apply.
	RecordsApplied int

	// Truncated is true when replay stopped on a torn trailing record
	// (ErrShortRead) — the expected shape of a crash mid-append.
	Truncated bool

	// Corrupt is true when replay stopped on a structurally complete
	// record whose checksum failed (ErrChecksumMismatch) — a detected
	// data-loss event distinct from a torn write.
	Corrupt bool

	// FailureOffset is the byte offset at which Truncated or Corrupt was
	// observed. Zero when neither is set.
	FailureOffset int64
}

/*
Replay reconstructs state by decoding every record in file order and
invoking apply for each.

This is a blocking operation meant to run during the engine's
Initializing phase, before any concurrent Append can occur, so it reads
the file directly rather than going through the worker goroutine.

A decode failure of either kind stops replay at that point; records
before the failure are kept and applied, and the failure (along with any
bytes after it) is reported via RecoveryReport rather than returned as
an error — this is a startup-time event, not a client-facing one. The
file is left untouched: on the next Append, writes resume at the end of
the file, so any stale bytes past the failure point remain on disk
forever but are never read again. This preserves the original system's
behavior rather than silently truncating a file the operator hasn't had
a chance to inspect.
*/
func (w *fileWAL) Replay(apply func(Record) error) (RecoveryReport, error) {
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return RecoveryReport{}, nil
		}
		return RecoveryReport{}, errors.Wrap(err, "open wal for replay")
	}
	defer f.Close()

	var report RecoveryReport
	var offset int64

	for {
		rec, decErr := decode(f)
		if decErr != nil {
			if errors.Is(decErr, io.EOF) {
				break
			}
			if errors.Is(decErr, ErrShortRead) {
				report.Truncated = true
				report.FailureOffset = offset
				break
			}
			if errors.Is(decErr, ErrChecksumMismatch) {
				report.Corrupt = true
				report.FailureOffset = offset
				break
			}
			return report, errors.Wrap(decErr, "decode wal record")
		}

		if err := apply(rec); err != nil {
			return report, err
		}

		report.RecordsApplied++
		if pos, seekErr := f.Seek(0, io.SeekCurrent); seekErr == nil {
			offset = pos
		}
	}

	return report, nil
}
