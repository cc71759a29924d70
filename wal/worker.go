package wal

import "github.com/pkg/errors"

/*
walOp represents internal commands sent to the WAL worker.

The worker goroutine owns the WAL file exclusively. All file IO is
serialized through this channel-based protocol, avoiding locks around
file operations.
*/
type walOp int

const (
	opAppend walOp = iota
	opClose
)

/*
request represents a single unit of work for the WAL worker.

payload is already encoded before reaching the worker so the worker
remains a pure IO executor with no domain logic.
*/
type request struct {
	payload []byte
	op      walOp

	reply chan response
}

type response struct {
	err error
}

/*
run is the WAL event loop.

Exactly one goroutine executes this function. It provides ordered
writes, fsync correctness, and no concurrent file access — without a
file-wide lock.
*/
func (w *fileWAL) run() {
	for req := range w.reqChan {
		switch req.op {

		case opAppend:
			err := w.append(req.payload)
			req.reply <- response{
				err: err,
			}

		case opClose:
			err := w.close()
			req.reply <- response{
				err: err,
			}
			return
		}
	}
}

/*
append writes a single encoded record to disk and fsyncs it.

fsync is intentionally done per record, with no batching: one Append,
one fsync. This is the performance floor the benchmark harness measures
against.
*/
func (w *fileWAL) append(payload []byte) error {
	if _, err := w.file.Write(payload); err != nil {
		return errors.Wrap(err, "write wal record")
	}

	return errors.Wrap(w.file.Sync(), "fsync wal")
}

/*
close flushes all pending data and closes the WAL file.

After this point, no further writes are permitted.
*/
func (w *fileWAL) close() error {
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(err, "fsync wal on close")
	}

	return errors.Wrap(w.file.Close(), "close wal file")
}
