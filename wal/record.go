package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

// ErrShortRead indicates a torn trailing record: the stream ended in
// the middle of a length-prefixed field or its payload. This is the
// expected shape of a crash landing mid-append; replay treats it as a
// clean stopping point, not a corruption event.
var ErrShortRead = errors.New("wal: short read (torn trailing record)")

// ErrChecksumMismatch indicates a complete record whose trailing CRC32
// does not match its contents. Unlike ErrShortRead, every length-prefixed
// field was fully present — this is a detected data-loss event, not an
// artifact of an in-progress write.
var ErrChecksumMismatch = errors.New("wal: checksum mismatch")

// Record is the protocol-agnostic (key, value) pair recovered from, or
// appended to, the log.
type Record struct {
	Key   string
	Value []byte
}

// encode serializes rec as:
//
//	u32 key_len | key_bytes | u32 value_len | value_bytes | u32 crc32
//
// All integers are little-endian. The CRC32 trailer covers every
// preceding byte, so it catches corruption of either length field as
// well as the payload bytes themselves.
func encode(rec Record) []byte {
	keyLen := uint32(len(rec.Key))
	valLen := uint32(len(rec.Value))

	buf := make([]byte, 4+len(rec.Key)+4+len(rec.Value)+4)
	binary.LittleEndian.PutUint32(buf[0:4], keyLen)
	o := 4
	o += copy(buf[o:], rec.Key)

	binary.LittleEndian.PutUint32(buf[o:o+4], valLen)
	o += 4
	o += copy(buf[o:], rec.Value)

	sum := crc32.ChecksumIEEE(buf[:o])
	binary.LittleEndian.PutUint32(buf[o:o+4], sum)

	return buf
}

// decode reads exactly one record from r.
//
// io.EOF is returned verbatim when the stream ends cleanly between
// records — the expected end-of-log case. A failure to fill any
// length-prefixed field is reported as ErrShortRead. A structurally
// complete record whose CRC32 does not match is reported as
// ErrChecksumMismatch.
func decode(r io.Reader) (Record, error) {
	var keyLenBuf [4]byte
	if _, err := io.ReadFull(r, keyLenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, ErrShortRead
	}
	keyLen := binary.LittleEndian.Uint32(keyLenBuf[:])

	keyBuf := make([]byte, keyLen)
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		return Record{}, ErrShortRead
	}

	var valLenBuf [4]byte
	if _, err := io.ReadFull(r, valLenBuf[:]); err != nil {
		return Record{}, ErrShortRead
	}
	valLen := binary.LittleEndian.Uint32(valLenBuf[:])

	valBuf := make([]byte, valLen)
	if _, err := io.ReadFull(r, valBuf); err != nil {
		return Record{}, ErrShortRead
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return Record{}, ErrShortRead
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])

	h := crc32.NewIEEE()
	h.Write(keyLenBuf[:])
	h.Write(keyBuf)
	h.Write(valLenBuf[:])
	h.Write(valBuf)
	if h.Sum32() != wantCRC {
		return Record{}, ErrChecksumMismatch
	}

	return Record{Key: string(keyBuf), Value: valBuf}, nil
}
