package replicoretest

import (
	"testing"

	"replicore/internal/archetype"
	"replicore/internal/channel"
	"replicore/internal/entityid"
	"replicore/internal/registry"
)

func TestServerWorldTracksComponentsAndDespawns(t *testing.T) {
	w := NewServerWorld()
	entity := entityid.Entity{Index: 1}
	w.SetComponent(entity, 1, []byte{0xAB}, 3)

	value, changedAt, ok := w.Component(entity, 1)
	if !ok || changedAt != 3 {
		t.Fatalf("expected component present at tick 3, got ok=%v changedAt=%v", ok, changedAt)
	}
	if string(value.([]byte)) != "\xab" {
		t.Fatalf("unexpected component value %v", value)
	}

	w.RemoveComponent(entity, 1, 5)
	if _, _, ok := w.Component(entity, 1); ok {
		t.Fatalf("expected component to be absent after removal")
	}
	if !w.RemovedSince(entity, 1, 5) {
		t.Fatalf("expected RemovedSince to report the removal")
	}

	w.Despawn(entity, 6)
	despawned := w.DespawnedSince(6)
	if len(despawned) != 1 || despawned[0] != entity {
		t.Fatalf("expected entity in DespawnedSince, got %v", despawned)
	}
}

func TestServerWorldArchetypeDiscoveryRespectsGeneration(t *testing.T) {
	w := NewServerWorld()
	info := archetype.Info{ID: 1, HasMarker: true, Components: []registry.ComponentID{1}}
	w.AddArchetype(info, entityid.Entity{Index: 1})
	w.SetGeneration(1)

	if got := w.ArchetypesSince(0); len(got) != 1 {
		t.Fatalf("expected one new archetype since generation 0, got %d", len(got))
	}
	if got := w.ArchetypesSince(1); len(got) != 0 {
		t.Fatalf("expected no new archetypes since generation 1, got %d", len(got))
	}
}

func TestClientWorldSpawnExistsAndEchoComponent(t *testing.T) {
	reg := registry.New()
	EchoComponent(reg, "position", 1, false)

	w := NewClientWorld()
	client := w.Spawn()
	if !w.Exists(client) {
		t.Fatalf("expected spawned entity to exist")
	}

	entry, ok := reg.Get(0)
	if !ok {
		t.Fatalf("expected registered component at FnsID 0")
	}
	_ = entry

	w.setApplied(client, 1, []byte{0x01, 0x02})
	data, ok := w.Applied(client, 1)
	if !ok || string(data) != "\x01\x02" {
		t.Fatalf("expected applied bytes to round-trip, got %v ok=%v", data, ok)
	}

	w.setRemoved(client, 1)
	if !w.Removed(client, 1) {
		t.Fatalf("expected component marked removed")
	}
}

func TestLoopbackTransportDeliversToPeer(t *testing.T) {
	a, b := NewLoopback()

	a.Send(channel.Updates, []byte("hello"))
	msgs := b.Receive(channel.Updates)
	if len(msgs) != 1 || string(msgs[0]) != "hello" {
		t.Fatalf("expected peer to receive the sent payload, got %v", msgs)
	}
	if more := b.Receive(channel.Updates); len(more) != 0 {
		t.Fatalf("expected Receive to drain, got %v", more)
	}

	b.SetStatus(channel.Disconnected)
	if a.peer.Status() != channel.Disconnected {
		t.Fatalf("expected SetStatus to update the receiver's own status")
	}
}
