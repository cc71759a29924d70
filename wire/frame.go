// Package wire implements the binary length-framed protocol spoken
// between kvserver and its clients: one TCP connection, one frame per
// request and per response, no pipelining assumed.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrFrameTooLarge is returned by ReadFrame when a frame's declared
// length exceeds the configured maximum, protecting the reader from a
// malicious or corrupt length prefix causing an unbounded allocation.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum message size")

// DefaultMaxMessageBytes mirrors the reference server's message-size
// ceiling.
const DefaultMaxMessageBytes = 128 * 1024 * 1024

// ReadFrame reads one u32-length-prefixed frame from r, rejecting any
// frame whose declared length exceeds maxBytes before allocating a
// buffer for it.
func ReadFrame(r io.Reader, maxBytes uint32) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])

	if maxBytes > 0 && n > maxBytes {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read frame body")
	}
	return buf, nil
}

// WriteFrame writes payload prefixed with its u32 little-endian length.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "write frame length")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "write frame body")
	}
	return nil
}
