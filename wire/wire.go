package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrMalformed is returned when a frame's payload does not decode into
// a well-formed request or response for its opcode/status.
var ErrMalformed = errors.New("wire: malformed payload")

// Opcode identifies which of the four RPC operations a request frame
// carries. The registry mirrors the reference command set: Set, Get,
// GetPrefix, Stat.
type Opcode uint8

const (
	OpSet Opcode = iota
	OpGet
	OpGetPrefix
	OpStat
)

// Status identifies the outcome category of a response frame.
type Status uint8

const (
	// StatusOK: the operation completed; the remainder of the payload
	// is the opcode-specific result.
	StatusOK Status = iota

	// StatusClientError: the request was malformed or otherwise
	// rejected without being executed. The remainder of the payload is
	// a UTF-8 error message.
	StatusClientError

	// StatusServerError: the request was valid but execution failed
	// (e.g. a WAL I/O error). The remainder of the payload is a UTF-8
	// error message.
	StatusServerError
)

// Request is a parsed client request, decoded from a single frame.
type Request struct {
	Op         Opcode
	Key        string // Set, Get
	Value      []byte // Set
	Prefix     string // GetPrefix
	MaxResults uint32 // GetPrefix; 0 means unbounded
}

// Response is a server result, encoded into a single frame.
type Response struct {
	Status Status
	Error  string // set when Status != StatusOK

	// Get
	Found bool
	Value []byte

	// GetPrefix
	Pairs []Pair

	// Stat
	Stat StatSnapshot
}

// Pair is a single key/value result row within a GetPrefix response.
type Pair struct {
	Key   string
	Value []byte
}

// StatSnapshot mirrors engine.Snapshot on the wire, decoupling the
// protocol's encoding from the engine package's internal type.
type StatSnapshot struct {
	KeyCount       uint64
	TotalRequests  uint64
	SetCount       uint64
	GetCount       uint64
	GetPrefixCount uint64
	StartTime      string
}

func putString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

func putBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, b...)
	return buf
}

func takeString(buf []byte) (string, []byte, error) {
	b, rest, err := takeBytes(buf)
	return string(b), rest, err
}

func takeBytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, ErrMalformed
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, ErrMalformed
	}
	return buf[:n], buf[n:], nil
}

// EncodeRequest serializes req into a frame payload.
func EncodeRequest(req Request) []byte {
	buf := []byte{byte(req.Op)}

	switch req.Op {
	case OpSet:
		buf = putString(buf, req.Key)
		buf = putBytes(buf, req.Value)
	case OpGet:
		buf = putString(buf, req.Key)
	case OpGetPrefix:
		buf = putString(buf, req.Prefix)
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], req.MaxResults)
		buf = append(buf, n[:]...)
	case OpStat:
		// no fields
	}

	return buf
}

// DecodeRequest parses a frame payload into a Request.
func DecodeRequest(payload []byte) (Request, error) {
	if len(payload) < 1 {
		return Request{}, ErrMalformed
	}
	op := Opcode(payload[0])
	rest := payload[1:]

	switch op {
	case OpSet:
		key, rest, err := takeString(rest)
		if err != nil {
			return Request{}, err
		}
		val, _, err := takeBytes(rest)
		if err != nil {
			return Request{}, err
		}
		return Request{Op: op, Key: key, Value: val}, nil

	case OpGet:
		key, _, err := takeString(rest)
		if err != nil {
			return Request{}, err
		}
		return Request{Op: op, Key: key}, nil

	case OpGetPrefix:
		prefix, rest, err := takeString(rest)
		if err != nil {
			return Request{}, err
		}
		if len(rest) < 4 {
			return Request{}, ErrMalformed
		}
		maxResults := binary.LittleEndian.Uint32(rest[:4])
		return Request{Op: op, Prefix: prefix, MaxResults: maxResults}, nil

	case OpStat:
		return Request{Op: op}, nil

	default:
		return Request{}, errors.Errorf("wire: unknown opcode %d", op)
	}
}

// EncodeResponse serializes resp into a frame payload.
func EncodeResponse(resp Response) []byte {
	buf := []byte{byte(resp.Status)}

	if resp.Status != StatusOK {
		return putString(buf, resp.Error)
	}

	return buf
}

// EncodeGetResponse, EncodeGetPrefixResponse, and EncodeStatResponse
// append opcode-specific payload to an OK status response. They are
// separate from EncodeResponse because the reader needs to know which
// request opcode it is decoding a response for.
func EncodeSetResponse() []byte {
	return []byte{byte(StatusOK)}
}

func EncodeErrorResponse(status Status, msg string) []byte {
	buf := []byte{byte(status)}
	return putString(buf, msg)
}

func EncodeGetResponse(found bool, value []byte) []byte {
	buf := []byte{byte(StatusOK)}
	if found {
		buf = append(buf, 1)
		buf = putBytes(buf, value)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func EncodeGetPrefixResponse(pairs []Pair) []byte {
	buf := []byte{byte(StatusOK)}
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(pairs)))
	buf = append(buf, countBuf[:]...)

	for _, p := range pairs {
		buf = putString(buf, p.Key)
		buf = putBytes(buf, p.Value)
	}
	return buf
}

func EncodeStatResponse(s StatSnapshot) []byte {
	buf := []byte{byte(StatusOK)}

	var n [8]byte
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(n[:], v)
		buf = append(buf, n[:]...)
	}
	putU64(s.KeyCount)
	putU64(s.TotalRequests)
	putU64(s.SetCount)
	putU64(s.GetCount)
	putU64(s.GetPrefixCount)
	buf = putString(buf, s.StartTime)
	return buf
}

// DecodeResponse parses a frame payload into a Response. op identifies
// the request opcode the response corresponds to, since the payload
// shape after the status byte is opcode-dependent.
func DecodeResponse(op Opcode, payload []byte) (Response, error) {
	if len(payload) < 1 {
		return Response{}, ErrMalformed
	}
	status := Status(payload[0])
	rest := payload[1:]

	if status != StatusOK {
		msg, _, err := takeString(rest)
		if err != nil {
			return Response{}, err
		}
		return Response{Status: status, Error: msg}, nil
	}

	switch op {
	case OpSet:
		return Response{Status: StatusOK}, nil

	case OpGet:
		if len(rest) < 1 {
			return Response{}, ErrMalformed
		}
		found := rest[0] == 1
		rest = rest[1:]
		if !found {
			return Response{Status: StatusOK, Found: false}, nil
		}
		val, _, err := takeBytes(rest)
		if err != nil {
			return Response{}, err
		}
		return Response{Status: StatusOK, Found: true, Value: val}, nil

	case OpGetPrefix:
		if len(rest) < 4 {
			return Response{}, ErrMalformed
		}
		count := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]

		pairs := make([]Pair, 0, count)
		for i := uint32(0); i < count; i++ {
			var key string
			var val []byte
			var err error

			key, rest, err = takeString(rest)
			if err != nil {
				return Response{}, err
			}
			val, rest, err = takeBytes(rest)
			if err != nil {
				return Response{}, err
			}
			pairs = append(pairs, Pair{Key: key, Value: val})
		}
		return Response{Status: StatusOK, Pairs: pairs}, nil

	case OpStat:
		if len(rest) < 8*5 {
			return Response{}, ErrMalformed
		}
		readU64 := func() uint64 {
			v := binary.LittleEndian.Uint64(rest[:8])
			rest = rest[8:]
			return v
		}
		var s StatSnapshot
		s.KeyCount = readU64()
		s.TotalRequests = readU64()
		s.SetCount = readU64()
		s.GetCount = readU64()
		s.GetPrefixCount = readU64()

		startTime, _, err := takeString(rest)
		if err != nil {
			return Response{}, err
		}
		s.StartTime = startTime

		return Response{Status: StatusOK, Stat: s}, nil

	default:
		return Response{}, errors.Errorf("wire: unknown opcode %d", op)
	}
}
