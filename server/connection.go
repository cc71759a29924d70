package server

import (
	"errors"
	"io"
	"net"
	"time"

	"stripedkv/wire"
)

/*
Timeouts protect the server from slow or stalled clients.
They are used as resource-guardrails, not client semantics.
*/
const (
	readTimeout  = time.Minute
	writeTimeout = time.Minute
)

/*
handleConnection owns the full lifecycle of a single client connection:
frame reads, request decoding, bounded execution against the engine,
and writing the response frame.
*/
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		payload, err := wire.ReadFrame(conn, s.maxMessageBytes)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, wire.ErrFrameTooLarge) {
				if s.log != nil {
					s.log.Warnw("frame too large, closing connection", "remote", remote)
				}
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if s.log != nil {
					s.log.Debugw("read timeout", "remote", remote)
				}
				return
			}
			if s.log != nil {
				s.log.Warnw("read error", "remote", remote, "error", err)
			}
			return
		}

		req, err := wire.DecodeRequest(payload)
		if err != nil {
			s.writeResponse(conn, remote, wire.EncodeErrorResponse(wire.StatusClientError, err.Error()))
			continue
		}

		respPayload := s.executeBounded(req)

		if !s.writeResponse(conn, remote, respPayload) {
			return
		}
	}
}

func (s *Server) writeResponse(conn net.Conn, remote string, payload []byte) bool {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wire.WriteFrame(conn, payload); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if s.log != nil {
				s.log.Debugw("write timeout", "remote", remote)
			}
			return false
		}
		if s.log != nil {
			s.log.Warnw("write error", "remote", remote, "error", err)
		}
		return false
	}
	return true
}

// executeBounded acquires a slot in the server's concurrency bound
// before executing req against the engine, releasing it immediately
// after. This is the "32 workers" reference ceiling: no more than
// Workers requests run against the engine at once, regardless of how
// many connections are open.
func (s *Server) executeBounded(req wire.Request) []byte {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	return s.executeRequest(req)
}
