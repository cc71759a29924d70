package server

import (
	"net"

	"stripedkv/wire"
)

// roundTrip writes req as a frame on conn and reads back the decoded
// response. Shared by every test file in this package that needs to
// speak the wire protocol against a live connection.
func roundTrip(conn net.Conn, req wire.Request) (wire.Response, error) {
	if err := wire.WriteFrame(conn, wire.EncodeRequest(req)); err != nil {
		return wire.Response{}, err
	}

	payload, err := wire.ReadFrame(conn, 0)
	if err != nil {
		return wire.Response{}, err
	}

	return wire.DecodeResponse(req.Op, payload)
}
