package replicore

import (
	"testing"

	"replicore/internal/archetype"
	"replicore/internal/channel"
	"replicore/internal/config"
	"replicore/internal/entitymap"
	"replicore/internal/registry"
	"replicore/internal/replicoretest"
	"replicore/internal/tick"
)

func TestClientTickAppliesNewEntityFromServer(t *testing.T) {
	reg, rules, componentID := newTestRegistryAndRules(t)
	cfg := &config.Config{MTU: 1200, AckTrackingEnabled: true}

	server := NewServer(reg, rules, cfg, nil)
	serverSide, clientSide := replicoretest.NewLoopback()
	server.Connect("c1", serverSide)

	world := replicoretest.NewServerWorld()
	entity := entitymap.ServerEntity{Index: 1}
	world.AddArchetype(archetype.Info{ID: 1, HasMarker: true, Components: []registry.ComponentID{componentID}}, entity)
	world.SetComponent(entity, componentID, []byte{0x05}, 1)
	world.SetGeneration(1)

	clientWorld := replicoretest.NewClientWorld()
	client := NewClient(reg, clientWorld, cfg, nil)
	client.Connect(clientSide)

	server.Tick(world, tick.Tick(1))
	if err := client.Tick(); err != nil {
		t.Fatalf("client tick: %v", err)
	}

	clientEntity, ok := client.ResolveClientEntity(entity)
	if !ok {
		t.Fatalf("expected server entity to be mapped after first Update")
	}
	value, applied := clientWorld.Applied(clientEntity, componentID)
	if !applied || string(value) != "\x05" {
		t.Fatalf("expected component applied, got %v ok=%v", value, applied)
	}
	if got := client.Metrics().Snapshot().MessagesReceived; got != 1 {
		t.Fatalf("expected one message received, got %d", got)
	}
}

func TestClientTickAppliesMutationAndFlushesAck(t *testing.T) {
	reg, rules, componentID := newTestRegistryAndRules(t)
	cfg := &config.Config{MTU: 1200, AckTrackingEnabled: true}

	server := NewServer(reg, rules, cfg, nil)
	serverSide, clientSide := replicoretest.NewLoopback()
	server.Connect("c1", serverSide)

	world := replicoretest.NewServerWorld()
	entity := entitymap.ServerEntity{Index: 1}
	world.AddArchetype(archetype.Info{ID: 1, HasMarker: true, Components: []registry.ComponentID{componentID}}, entity)
	world.SetComponent(entity, componentID, []byte{0x05}, 1)
	world.SetGeneration(1)

	clientWorld := replicoretest.NewClientWorld()
	client := NewClient(reg, clientWorld, cfg, nil)
	client.Connect(clientSide)

	server.Tick(world, tick.Tick(1))
	if err := client.Tick(); err != nil {
		t.Fatalf("client tick 1: %v", err)
	}

	world.SetComponent(entity, componentID, []byte{0x09}, 2)
	server.Tick(world, tick.Tick(2))
	if err := client.Tick(); err != nil {
		t.Fatalf("client tick 2: %v", err)
	}

	clientEntity, ok := client.ResolveClientEntity(entity)
	if !ok {
		t.Fatalf("expected entity to remain mapped")
	}
	value, applied := clientWorld.Applied(clientEntity, componentID)
	if !applied || string(value) != "\x09" {
		t.Fatalf("expected mutated component applied, got %v ok=%v", value, applied)
	}

	acks := serverSide.Receive(channel.Updates)
	if len(acks) == 0 {
		t.Fatalf("expected the client to flush a mutate ack on the Updates channel")
	}
}

func TestClientReconnectResetsState(t *testing.T) {
	reg, _, _ := newTestRegistryAndRules(t)
	cfg := &config.Config{MTU: 1200, AckTrackingEnabled: true}
	clientWorld := replicoretest.NewClientWorld()
	client := NewClient(reg, clientWorld, cfg, nil)

	_, clientSide := replicoretest.NewLoopback()
	client.Connect(clientSide)
	client.metrics.AddBytesReceived(128)

	client.Connect(clientSide)
	if got := client.Metrics().Snapshot().BytesReceived; got != 0 {
		t.Fatalf("expected Connect to reset counters, got %d", got)
	}
}

func TestClientStatsFalseForNonReportingTransport(t *testing.T) {
	reg, _, _ := newTestRegistryAndRules(t)
	cfg := &config.Config{MTU: 1200, AckTrackingEnabled: true}
	clientWorld := replicoretest.NewClientWorld()
	client := NewClient(reg, clientWorld, cfg, nil)

	_, clientSide := replicoretest.NewLoopback()
	client.Connect(clientSide)

	if _, ok := client.Stats(); ok {
		t.Fatal("expected Stats to report false for a transport without Stats support")
	}
}

func TestClientTickNoopWithoutTransport(t *testing.T) {
	reg, _, _ := newTestRegistryAndRules(t)
	cfg := &config.Config{MTU: 1200, AckTrackingEnabled: true}
	clientWorld := replicoretest.NewClientWorld()
	client := NewClient(reg, clientWorld, cfg, nil)

	if err := client.Tick(); err != nil {
		t.Fatalf("expected no-op tick without a transport, got %v", err)
	}
}
