package server

import (
	"stripedkv/wire"
)

/*
executeRequest maps a decoded request to engine operations. It contains
no networking logic and no concurrency concerns beyond what the engine
itself already guarantees.
*/
func (s *Server) executeRequest(req wire.Request) []byte {
	switch req.Op {
	case wire.OpSet:
		if err := s.engine.Put(req.Key, req.Value); err != nil {
			return wire.EncodeErrorResponse(wire.StatusServerError, err.Error())
		}
		return wire.EncodeSetResponse()

	case wire.OpGet:
		val, found := s.engine.Get(req.Key)
		return wire.EncodeGetResponse(found, val)

	case wire.OpGetPrefix:
		kvs := s.engine.GetPrefix(req.Prefix, req.MaxResults)
		pairs := make([]wire.Pair, len(kvs))
		for i, kv := range kvs {
			pairs[i] = wire.Pair{Key: kv.Key, Value: kv.Value}
		}
		return wire.EncodeGetPrefixResponse(pairs)

	case wire.OpStat:
		snap := s.engine.Stat()
		return wire.EncodeStatResponse(wire.StatSnapshot{
			KeyCount:       snap.KeyCount,
			TotalRequests:  snap.TotalRequests,
			SetCount:       snap.SetCount,
			GetCount:       snap.GetCount,
			GetPrefixCount: snap.GetPrefixCount,
			StartTime:      snap.StartTime,
		})

	default:
		return wire.EncodeErrorResponse(wire.StatusClientError, "unknown opcode")
	}
}
