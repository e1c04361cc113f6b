package replication

import (
	"fmt"

	"github.com/ecsync/server/internal/wire"
)

// Transport-level message identifiers. Delta and Snapshot are owned by this
// package; Input carries an application-defined client payload the server
// driver hands to its input hook.
const (
	MsgDelta    byte = 0x01
	MsgSnapshot byte = 0x02
	MsgInput    byte = 0x03
)

// PackDelta frames one tick's observer and SoA payloads:
//
//	[u32 frame][u32 observerLen][observer][soa]
func PackDelta(frame uint32, observer, soa []byte) []byte {
	w := wire.NewWriterSize(8 + len(observer) + len(soa))
	w.WriteU32(frame)
	w.WriteU32(uint32(len(observer)))
	w.WriteRaw(observer)
	w.WriteRaw(soa)
	return w.Bytes()
}

// UnpackDelta is the total inverse of PackDelta for any of its outputs.
// Truncated or mis-prefixed input fails loudly.
func UnpackDelta(b []byte) (frame uint32, observer, soa []byte, err error) {
	r := wire.NewReader(b)
	frame = r.ReadU32()
	obsLen := int(r.ReadU32())
	observer = r.ReadRaw(obsLen)
	soa = r.ReadRaw(r.Remaining())
	if err := r.Err(); err != nil {
		return 0, nil, nil, fmt.Errorf("replication: delta frame: %w", err)
	}
	return frame, observer, soa, nil
}

// PackSnapshot frames a full-state payload:
//
//	[u32 frame][snapshot]
func PackSnapshot(frame uint32, snapshot []byte) []byte {
	w := wire.NewWriterSize(4 + len(snapshot))
	w.WriteU32(frame)
	w.WriteRaw(snapshot)
	return w.Bytes()
}

// UnpackSnapshot is the total inverse of PackSnapshot for any of its outputs.
func UnpackSnapshot(b []byte) (frame uint32, snapshot []byte, err error) {
	r := wire.NewReader(b)
	frame = r.ReadU32()
	snapshot = r.ReadRaw(r.Remaining())
	if err := r.Err(); err != nil {
		return 0, nil, fmt.Errorf("replication: snapshot frame: %w", err)
	}
	return frame, snapshot, nil
}
