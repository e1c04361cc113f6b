package replication

import (
	"fmt"
	"time"

	"github.com/ecsync/server/internal/core/ecs"
	"github.com/ecsync/server/internal/transport"
	"go.uber.org/zap"
)

// ServerHooks are the collaborators the replication driver orchestrates but
// does not own. Resolved at construction time and passed explicitly, no
// dynamic lookup per tick.
type ServerHooks struct {
	// Spawn creates the entity representing a newly connected client and
	// returns it. Called while draining the connection queue.
	Spawn func(clientID string) ecs.EntityID
	// Despawn handles a disconnect. Entity removal policy is the
	// collaborator's call; the driver only reports the pairing.
	Despawn func(clientID string, entity ecs.EntityID)
	// Input applies one inbound client payload.
	Input func(clientID string, payload []byte)
	// Step advances the simulation by one tick.
	Step func(dt time.Duration)
}

// Journal optionally records every outbound frame for replay and audit.
// Recording failures are logged, never fatal to the tick.
type Journal interface {
	RecordDelta(frame uint32, packed []byte) error
	RecordSnapshot(clientID string, frame uint32, packed []byte) error
}

// Replicator is the server-side tick driver. Once per tick it drains
// connection events (spawning entities and sending late-join snapshots),
// drains inbound input, steps the simulation, then increments the frame
// counter and broadcasts one delta.
type Replicator struct {
	ser   *Serializer
	multi transport.Multi
	hooks ServerHooks

	conns *transport.ConnQueue
	msgs  *transport.MessageQueue

	players map[string]ecs.EntityID
	frame   uint32

	journal Journal
	log     *zap.Logger
}

func NewReplicator(ser *Serializer, multi transport.Multi, hooks ServerHooks, journal Journal, log *zap.Logger) *Replicator {
	r := &Replicator{
		ser:     ser,
		multi:   multi,
		hooks:   hooks,
		conns:   transport.NewConnQueue(),
		msgs:    transport.NewMessageQueue(),
		players: make(map[string]ecs.EntityID),
		journal: journal,
		log:     log,
	}
	multi.OnConnect(r.conns.PushConnect)
	multi.OnDisconnect(r.conns.PushDisconnect)
	multi.OnMessage(r.msgs.Push)
	return r
}

// Frame returns the last completed tick's frame number.
func (r *Replicator) Frame() uint32 { return r.frame }

// Tick runs one replication step. A send failure does not abort the tick;
// the first error is returned after the tick completes so the caller can
// decide connection policy. The driver never retries.
func (r *Replicator) Tick(dt time.Duration) error {
	var firstErr error

	// 1. Connection events. A joiner gets a snapshot framed with the frame
	// of the last completed tick: the delta broadcast later this tick will
	// carry frame+1 and apply on top of it.
	for _, ev := range r.conns.DrainAll() {
		if ev.Connected {
			entity := r.hooks.Spawn(ev.ClientID)
			r.players[ev.ClientID] = entity
			packed := PackSnapshot(r.frame, r.ser.EncodeSnapshot())
			if r.journal != nil {
				if err := r.journal.RecordSnapshot(ev.ClientID, r.frame, packed); err != nil {
					r.log.Warn("快照寫入日誌失敗", zap.String("client", ev.ClientID), zap.Error(err))
				}
			}
			if err := r.multi.Send(ev.ClientID, MsgSnapshot, packed); err != nil {
				r.log.Warn("快照發送失敗", zap.String("client", ev.ClientID), zap.Error(err))
				if firstErr == nil {
					firstErr = fmt.Errorf("snapshot to %s: %w", ev.ClientID, err)
				}
			}
			r.log.Info("玩家加入", zap.String("client", ev.ClientID), zap.Uint32("frame", r.frame))
		} else {
			if entity, ok := r.players[ev.ClientID]; ok {
				delete(r.players, ev.ClientID)
				r.hooks.Despawn(ev.ClientID, entity)
			}
			r.log.Info("玩家離開", zap.String("client", ev.ClientID))
		}
	}

	// 2. Inbound input.
	for _, m := range r.msgs.DrainAll() {
		if m.MsgID != MsgInput {
			r.log.Warn("未預期的訊息類型", zap.String("client", m.ClientID), zap.Uint8("msg", m.MsgID))
			continue
		}
		r.hooks.Input(m.ClientID, m.Payload)
	}

	// 3. Simulation.
	r.hooks.Step(dt)

	// 4. Frame increment and delta broadcast. The changelog has already
	// captured this tick's structural changes; the counter moves exactly
	// once per tick, before serialization.
	r.frame++
	observer := r.ser.EncodeObserver()
	soa := r.ser.EncodeSoA(r.ser.schema.NetworkedSlots(), true)
	packed := PackDelta(r.frame, observer, soa)
	if r.journal != nil {
		if err := r.journal.RecordDelta(r.frame, packed); err != nil {
			r.log.Warn("差分寫入日誌失敗", zap.Uint32("frame", r.frame), zap.Error(err))
		}
	}
	r.multi.Broadcast(MsgDelta, packed)

	return firstErr
}

// Entity returns the entity spawned for a connected client.
func (r *Replicator) Entity(clientID string) (ecs.EntityID, bool) {
	id, ok := r.players[clientID]
	return id, ok
}
