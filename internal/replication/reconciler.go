package replication

import (
	"fmt"
	"time"

	"github.com/ecsync/server/internal/transport"
	"go.uber.org/zap"
)

// noSnapshot is the snapshot-frame marker before any snapshot has applied.
// Every delta passes the dedup check until the first snapshot lands.
const noSnapshot = int64(-1)

// Reconciler is the client-side tick driver. It drains its inbound queue once
// per tick: snapshots apply destructively and move the snapshot-frame marker;
// deltas at or below the marker are discarded, the rest apply observer then
// field decoding in that order.
type Reconciler struct {
	deser *Deserializer
	inbox *transport.MessageQueue

	ch      transport.Channel
	chUnsub func()

	snapshotFrame int64
	staleDeltas   uint64

	log *zap.Logger
}

func NewReconciler(deser *Deserializer, log *zap.Logger) *Reconciler {
	return &Reconciler{
		deser:         deser,
		inbox:         transport.NewMessageQueue(),
		snapshotFrame: noSnapshot,
		log:           log,
	}
}

// Attach subscribes the reconciler to a channel's inbound messages and keeps
// the channel for SendInput. Detaches from any previous channel.
func (c *Reconciler) Attach(ch transport.Channel) {
	if c.chUnsub != nil {
		c.chUnsub()
	}
	c.ch = ch
	c.chUnsub = ch.OnMessage(func(msgID byte, payload []byte) {
		c.inbox.Push("", msgID, payload)
	})
}

// Enqueue feeds one message directly, bypassing any channel. Used by replay
// tooling and tests.
func (c *Reconciler) Enqueue(msgID byte, payload []byte) {
	c.inbox.Push("", msgID, payload)
}

// SnapshotFrame returns the frame of the most recently applied snapshot, or
// -1 if none has been applied yet.
func (c *Reconciler) SnapshotFrame() int64 { return c.snapshotFrame }

// StaleDeltas returns how many deltas were discarded by the snapshot dedup.
func (c *Reconciler) StaleDeltas() uint64 { return c.staleDeltas }

// Tick drains and applies all inbound messages. A decode error is returned
// immediately: the payload is malformed or the peers' tracked-component
// lists differ, and the caller owns the drop-the-connection policy.
func (c *Reconciler) Tick(_ time.Duration) error {
	for _, m := range c.inbox.DrainAll() {
		switch m.MsgID {
		case MsgSnapshot:
			frame, payload, err := UnpackSnapshot(m.Payload)
			if err != nil {
				return err
			}
			if err := c.deser.DecodeSnapshot(payload); err != nil {
				return err
			}
			c.snapshotFrame = int64(frame)
			c.log.Debug("快照已套用", zap.Uint32("frame", frame))

		case MsgDelta:
			frame, observer, soa, err := UnpackDelta(m.Payload)
			if err != nil {
				return err
			}
			if int64(frame) <= c.snapshotFrame {
				c.staleDeltas++
				continue // already covered by the snapshot
			}
			if err := c.deser.DecodeObserver(observer); err != nil {
				return err
			}
			if err := c.deser.DecodeSoA(soa, c.deser.RawIDMap()); err != nil {
				return err
			}

		default:
			c.log.Warn("未預期的訊息類型", zap.Uint8("msg", m.MsgID))
		}
	}
	return nil
}

// SendInput sends an application-defined input payload to the server.
func (c *Reconciler) SendInput(payload []byte) error {
	if c.ch == nil {
		return fmt.Errorf("replication: reconciler has no channel attached")
	}
	return c.ch.Send(MsgInput, payload)
}

// Detach unsubscribes from the current channel. Idempotent.
func (c *Reconciler) Detach() {
	if c.chUnsub != nil {
		c.chUnsub()
		c.chUnsub = nil
	}
	c.ch = nil
}
