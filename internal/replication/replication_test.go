package replication

import (
	"testing"

	"github.com/ecsync/server/internal/core/ecs"
)

// testPos, testStat and testTag form the tracked component set used across
// the codec tests: two float fields, an integer field, and a string field.
type testPos struct{ X, Y float32 }

type testStat struct{ HP uint16 }

type testTag struct{ Name string }

// testWorld bundles one side of a replication pairing. Both sides build an
// identical schema over their own stores, which is the wire-compatibility
// requirement peers must meet.
type testWorld struct {
	world  *ecs.World
	pos    *ecs.Store[testPos]
	stat   *ecs.Store[testStat]
	tag    *ecs.Store[testTag]
	marker *ecs.Store[Networked]
	schema *Schema
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	tw := &testWorld{
		world:  ecs.NewWorld(),
		pos:    ecs.NewStore[testPos](),
		stat:   ecs.NewStore[testStat](),
		tag:    ecs.NewStore[testTag](),
		marker: ecs.NewStore[Networked](),
	}
	// Component stores before the marker store: on destroy the component
	// removals are observed while the entity is still marked.
	tw.world.Registry().Register(tw.pos)
	tw.world.Registry().Register(tw.stat)
	tw.world.Registry().Register(tw.tag)
	tw.world.Registry().Register(tw.marker)

	schema, err := NewSchema(tw.marker,
		NewComponent("pos", tw.pos,
			F32Field("x",
				func(s uint32) float32 { return tw.pos.Ensure(s).X },
				func(s uint32, v float32) { tw.pos.Ensure(s).X = v }),
			F32Field("y",
				func(s uint32) float32 { return tw.pos.Ensure(s).Y },
				func(s uint32, v float32) { tw.pos.Ensure(s).Y = v }),
		),
		NewComponent("stat", tw.stat,
			U16Field("hp",
				func(s uint32) uint16 { return tw.stat.Ensure(s).HP },
				func(s uint32, v uint16) { tw.stat.Ensure(s).HP = v }),
		),
		NewComponent("tag", tw.tag,
			StringField("name",
				func(s uint32) string { return tw.tag.Ensure(s).Name },
				func(s uint32, v string) { tw.tag.Ensure(s).Name = v }),
		),
	)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	tw.schema = schema
	return tw
}

// spawn creates a fully populated networked entity.
func (tw *testWorld) spawn(x, y float32, hp uint16, name string) ecs.EntityID {
	id := tw.world.CreateEntity()
	slot := id.Slot()
	tw.pos.Set(slot, testPos{X: x, Y: y})
	tw.stat.Set(slot, testStat{HP: hp})
	tw.tag.Set(slot, testTag{Name: name})
	tw.marker.Set(slot, Networked{})
	return id
}

// syncPair wires a server-side serializer to a client-side deserializer.
func syncPair(t *testing.T) (*testWorld, *Serializer, *testWorld, *Deserializer) {
	t.Helper()
	server := newTestWorld(t)
	ser := NewSerializer(server.schema, server.world.Pool())
	client := newTestWorld(t)
	deser := NewDeserializer(client.schema, client.world)
	return server, ser, client, deser
}

// applyDelta mirrors the reconciler's per-delta decode order.
func applyDelta(t *testing.T, deser *Deserializer, observer, soa []byte) {
	t.Helper()
	if err := deser.DecodeObserver(observer); err != nil {
		t.Fatalf("DecodeObserver: %v", err)
	}
	if err := deser.DecodeSoA(soa, deser.RawIDMap()); err != nil {
		t.Fatalf("DecodeSoA: %v", err)
	}
}

func TestObserverEmptyPayloadIsWellFormed(t *testing.T) {
	server := newTestWorld(t)
	ser := NewSerializer(server.schema, server.world.Pool())

	payload := ser.EncodeObserver()
	if len(payload) != 4 {
		t.Fatalf("empty observer payload is %d bytes, want 4", len(payload))
	}

	client := newTestWorld(t)
	deser := NewDeserializer(client.schema, client.world)
	if err := deser.DecodeObserver(payload); err != nil {
		t.Fatalf("decoding empty payload: %v", err)
	}
}

func TestStructuralRoundTrip(t *testing.T) {
	server, ser, client, deser := syncPair(t)

	a := server.spawn(1, 2, 30, "alpha")
	b := server.spawn(3, 4, 50, "beta")

	if err := deser.DecodeObserver(ser.EncodeObserver()); err != nil {
		t.Fatalf("DecodeObserver: %v", err)
	}
	if deser.IDMap().Len() != 2 {
		t.Fatalf("id map has %d entries, want 2", deser.IDMap().Len())
	}
	if client.marker.Len() != 2 {
		t.Fatalf("client has %d networked entities, want 2", client.marker.Len())
	}
	localA, ok := deser.IDMap().Get(a)
	if !ok {
		t.Fatal("entity a not mapped")
	}
	if !client.pos.Has(localA.Slot()) || !client.stat.Has(localA.Slot()) || !client.tag.Has(localA.Slot()) {
		t.Fatal("client mirror of a is missing tracked components")
	}

	// Component removal and entity destruction propagate.
	server.stat.Remove(a.Slot())
	server.world.Destroy(b)
	if err := deser.DecodeObserver(ser.EncodeObserver()); err != nil {
		t.Fatalf("DecodeObserver: %v", err)
	}
	if client.stat.Has(localA.Slot()) {
		t.Error("removed component still present on client")
	}
	localB, _ := deser.IDMap().Get(b)
	if client.world.Alive(localB) {
		t.Error("destroyed entity still alive on client")
	}
	// The id map is never pruned.
	if deser.IDMap().Len() != 2 {
		t.Errorf("id map has %d entries after removal, want 2", deser.IDMap().Len())
	}
}

func TestRemovalOfUnknownIDIsNoOp(t *testing.T) {
	server := newTestWorld(t)
	id := server.spawn(0, 0, 1, "ghost")
	// Hooks only observe mutations made after construction, so the client
	// receives removal events for an id it never saw added.
	ser := NewSerializer(server.schema, server.world.Pool())
	server.world.Destroy(id)

	client := newTestWorld(t)
	deser := NewDeserializer(client.schema, client.world)
	if err := deser.DecodeObserver(ser.EncodeObserver()); err != nil {
		t.Fatalf("DecodeObserver: %v", err)
	}
	if deser.IDMap().Len() != 0 {
		t.Error("removal events created a mapping")
	}
	if client.marker.Len() != 0 {
		t.Error("removal events created a mirror entity")
	}
	if deser.SkippedStructural() == 0 {
		t.Error("component events for an unmapped entity were not counted")
	}
}

func TestAddAndRemoveInOnePayload(t *testing.T) {
	server, ser, _, deser := syncPair(t)

	id := server.spawn(0, 0, 1, "flicker")
	server.world.Destroy(id)
	if err := deser.DecodeObserver(ser.EncodeObserver()); err != nil {
		t.Fatalf("DecodeObserver: %v", err)
	}
	// Events apply in emission order: the mirror is created, then destroyed.
	local, ok := deser.IDMap().Get(id)
	if !ok {
		t.Fatal("add event was not applied")
	}
	if deser.world.Alive(local) {
		t.Error("mirror still alive after remove in same payload")
	}
}

func TestSoARoundTripNonDiff(t *testing.T) {
	server, ser, client, deser := syncPair(t)

	id := server.spawn(1.5, -2.25, 77, "重生點")
	applyDelta(t, deser, ser.EncodeObserver(), ser.EncodeSoA(server.schema.NetworkedSlots(), false))

	local, _ := deser.IDMap().Get(id)
	slot := local.Slot()
	pos, _ := client.pos.Get(slot)
	if pos.X != 1.5 || pos.Y != -2.25 {
		t.Errorf("pos = %+v, want {1.5 -2.25}", *pos)
	}
	stat, _ := client.stat.Get(slot)
	if stat.HP != 77 {
		t.Errorf("hp = %d, want 77", stat.HP)
	}
	tag, _ := client.tag.Get(slot)
	if tag.Name != "重生點" {
		t.Errorf("name = %q", tag.Name)
	}
}

func TestDiffMinimality(t *testing.T) {
	server, ser, _, _ := syncPair(t)

	server.spawn(1, 2, 3, "a")
	server.spawn(4, 5, 6, "b")
	slots := server.schema.NetworkedSlots()

	first := ser.EncodeSoA(slots, true)
	if len(first) <= 4 {
		t.Fatal("first diff encode should carry every field")
	}

	// Nothing changed: the whole payload is an empty record list, zero
	// bytes for every entity's fields.
	second := ser.EncodeSoA(slots, true)
	if len(second) != 4 {
		t.Fatalf("unchanged diff encode is %d bytes, want 4", len(second))
	}

	// One entity moves: exactly one record follows.
	server.pos.Ensure(slots[1]).X = 100
	third := ser.EncodeSoA(slots, true)
	// [u32 count=1][u32 slot][u64 mask][f32 x]
	if len(third) != 4+4+8+4 {
		t.Fatalf("single-field diff encode is %d bytes, want 20", len(third))
	}
}

func TestDiffEpsilon(t *testing.T) {
	server, ser, _, _ := syncPair(t)
	id := server.spawn(1, 0, 10, "e")
	slots := []uint32{id.Slot()}
	ser.EncodeSoA(slots, true) // commit shadows

	// Below epsilon: treated as unchanged.
	server.pos.Ensure(id.Slot()).X += 5e-5
	if p := ser.EncodeSoA(slots, true); len(p) != 4 {
		t.Errorf("sub-epsilon float move was sent (%d bytes)", len(p))
	}

	// Above epsilon: sent.
	server.pos.Ensure(id.Slot()).X += 2e-4
	if p := ser.EncodeSoA(slots, true); len(p) == 4 {
		t.Error("super-epsilon float move was not sent")
	}

	// Integers compare exactly.
	server.stat.Ensure(id.Slot()).HP++
	if p := ser.EncodeSoA(slots, true); len(p) == 4 {
		t.Error("integer change was not sent")
	}
}

// The two-field scenario: tick 1 sets x=5, the diff encode emits only x, and
// a fresh client restored from a snapshot alone shows x=5, y=0.
func TestScenarioSingleFieldChange(t *testing.T) {
	server, ser, client, deser := syncPair(t)

	id := server.world.CreateEntity()
	server.pos.Set(id.Slot(), testPos{X: 0, Y: 0})
	server.marker.Set(id.Slot(), Networked{})

	obs := ser.EncodeObserver()
	base := ser.EncodeSoA([]uint32{id.Slot()}, true)
	applyDelta(t, deser, obs, base)

	server.pos.Ensure(id.Slot()).X = 5
	tick1 := ser.EncodeSoA([]uint32{id.Slot()}, true)
	// Exactly one record carrying one f32: only the x field.
	if len(tick1) != 4+4+8+4 {
		t.Fatalf("tick-1 diff payload is %d bytes, want 20", len(tick1))
	}
	if err := deser.DecodeSoA(tick1, deser.RawIDMap()); err != nil {
		t.Fatalf("DecodeSoA: %v", err)
	}
	local, _ := deser.IDMap().Get(id)
	if p, _ := client.pos.Get(local.Slot()); p.X != 5 || p.Y != 0 {
		t.Errorf("after delta: pos = %+v, want {5 0}", *p)
	}

	// Fresh client, snapshot only.
	fresh := newTestWorld(t)
	freshDeser := NewDeserializer(fresh.schema, fresh.world)
	if err := freshDeser.DecodeSnapshot(ser.EncodeSnapshot()); err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	flocal, ok := freshDeser.IDMap().Get(id)
	if !ok {
		t.Fatal("snapshot did not materialize the entity")
	}
	if p, _ := fresh.pos.Get(flocal.Slot()); p.X != 5 || p.Y != 0 {
		t.Errorf("after snapshot: pos = %+v, want {5 0}", *p)
	}
}

func TestSnapshotIsDestructiveAndScoped(t *testing.T) {
	server, ser, client, deser := syncPair(t)

	id := server.spawn(10, 20, 30, "real")
	if err := deser.DecodeSnapshot(ser.EncodeSnapshot()); err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}

	// A client-local entity absent from the payload must be untouched.
	strayID := client.world.CreateEntity()
	client.pos.Set(strayID.Slot(), testPos{X: -1, Y: -1})

	// Drift the mirror, then re-apply: the snapshot overwrites
	// unconditionally.
	local, _ := deser.IDMap().Get(id)
	client.pos.Ensure(local.Slot()).X = 999
	if err := deser.DecodeSnapshot(ser.EncodeSnapshot()); err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if p, _ := client.pos.Get(local.Slot()); p.X != 10 {
		t.Errorf("snapshot did not overwrite drifted value: x = %v", p.X)
	}
	if p, _ := client.pos.Get(strayID.Slot()); p.X != -1 {
		t.Errorf("snapshot touched an entity absent from the payload: %+v", *p)
	}
	// Snapshot encode never reads or writes diff shadows.
	if payload := ser.EncodeSoA(server.schema.NetworkedSlots(), true); len(payload) == 4 {
		t.Error("snapshot encode committed shadows; first diff encode sent nothing")
	}
}

func TestSoASkipsUnmappedEntities(t *testing.T) {
	server, ser, client, deser := syncPair(t)

	a := server.spawn(1, 1, 1, "known")
	server.spawn(2, 2, 2, "unknown")

	soa := ser.EncodeSoA(server.schema.NetworkedSlots(), false)
	raw := map[uint32]uint32{}

	// No mappings at all: every record is skipped, silently.
	if err := deser.DecodeSoA(soa, raw); err != nil {
		t.Fatalf("DecodeSoA with empty map: %v", err)
	}
	if deser.SkippedFieldRecords() != 2 {
		t.Errorf("skipped = %d, want 2", deser.SkippedFieldRecords())
	}

	// Map only a: its values land, b is skipped, and later records still
	// decode correctly after skipping variable-length fields.
	localA := client.world.CreateEntity()
	raw[a.Slot()] = localA.Slot()
	if err := deser.DecodeSoA(soa, raw); err != nil {
		t.Fatalf("DecodeSoA with partial map: %v", err)
	}
	if p, ok := client.pos.Get(localA.Slot()); !ok || p.X != 1 {
		t.Error("mapped entity's fields were not applied")
	}
}

func TestSoAMaskMismatchFailsLoudly(t *testing.T) {
	server, ser, _, deser := syncPair(t)
	server.spawn(1, 1, 1, "x")
	soa := ser.EncodeSoA(server.schema.NetworkedSlots(), false)

	// Corrupt the field mask to claim a field beyond the tracked list.
	soa[4+4] = 0xFF
	soa[4+4+7] = 0xFF
	if err := deser.DecodeSoA(soa, deser.RawIDMap()); err == nil {
		t.Fatal("mask beyond tracked fields must fail decode")
	}
}

func TestTruncatedPayloadFailsLoudly(t *testing.T) {
	server, ser, _, deser := syncPair(t)
	server.spawn(1, 1, 1, "x")

	obs := ser.EncodeObserver()
	if err := deser.DecodeObserver(obs[:len(obs)-3]); err == nil {
		t.Error("truncated observer payload must fail decode")
	}

	snap := ser.EncodeSnapshot()
	if err := deser.DecodeSnapshot(snap[:len(snap)-1]); err == nil {
		t.Error("truncated snapshot payload must fail decode")
	}
}

func TestIDStability(t *testing.T) {
	server, ser, client, deser := syncPair(t)

	id := server.spawn(0, 0, 5, "stable")
	applyDelta(t, deser, ser.EncodeObserver(), ser.EncodeSoA(server.schema.NetworkedSlots(), false))
	local, _ := deser.IDMap().Get(id)

	for i := 0; i < 5; i++ {
		server.pos.Ensure(id.Slot()).X = float32(i)
		applyDelta(t, deser, ser.EncodeObserver(), ser.EncodeSoA(server.schema.NetworkedSlots(), true))
		again, _ := deser.IDMap().Get(id)
		if again != local {
			t.Fatalf("mapped local id changed from %v to %v", local, again)
		}
	}

	// Recycling the server slot produces a distinct versioned id and a
	// fresh mapping; the old entry stays.
	server.world.Destroy(id)
	reborn := server.spawn(9, 9, 9, "reborn")
	if reborn.Slot() != id.Slot() {
		t.Fatalf("expected slot reuse, got %d and %d", id.Slot(), reborn.Slot())
	}
	applyDelta(t, deser, ser.EncodeObserver(), ser.EncodeSoA(server.schema.NetworkedSlots(), true))

	rebornLocal, ok := deser.IDMap().Get(reborn)
	if !ok {
		t.Fatal("recycled entity not mapped")
	}
	if rebornLocal == local {
		t.Error("recycled entity mapped to the dead mirror")
	}
	// The raw projection points the shared slot at the newest mirror.
	if got := deser.RawIDMap()[id.Slot()]; got != rebornLocal.Slot() {
		t.Errorf("raw map resolves slot %d to %d, want %d", id.Slot(), got, rebornLocal.Slot())
	}
	if p, _ := client.pos.Get(rebornLocal.Slot()); p.X != 9 {
		t.Errorf("reborn mirror x = %v, want 9", p.X)
	}
}

func TestShadowForgottenOnDespawn(t *testing.T) {
	server, ser, _, _ := syncPair(t)

	id := server.spawn(7, 7, 7, "first")
	ser.EncodeSoA([]uint32{id.Slot()}, true)
	server.world.Destroy(id)
	ser.EncodeObserver() // drain structural events

	// Recycled slot with identical values must still be sent in full: the
	// shadow of the dead entity may not leak into the new one.
	again := server.spawn(7, 7, 7, "second")
	if again.Slot() != id.Slot() {
		t.Fatalf("expected slot reuse, got %d and %d", id.Slot(), again.Slot())
	}
	if p := ser.EncodeSoA([]uint32{again.Slot()}, true); len(p) == 4 {
		t.Error("recycled slot diffed against dead entity's shadow")
	}
}
