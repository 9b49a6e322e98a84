// Package replicoretest provides shared in-memory World test doubles for
// exercising the replication engine end to end, generalizing the ad hoc
// fakeWorld types each package's own tests build locally (internal/archetype,
// internal/builder, internal/applier).
//
// Grounded on the teacher's table-driven test style: no mocking framework,
// small recording structs with plain map fields and direct field access for
// assertions, matching go-broker's *_test.go convention throughout.
package replicoretest

import (
	"bufio"
	"io"
	"sync"

	"replicore/internal/archetype"
	"replicore/internal/channel"
	"replicore/internal/entityid"
	"replicore/internal/entitymap"
	"replicore/internal/registry"
	"replicore/internal/tick"
)

// componentState is one component's current value and change-tracking
// bookkeeping for a single server-side entity.
type componentState struct {
	value     any
	changedAt tick.Tick
	removed   bool
	removedAt tick.Tick
}

// ServerWorld is an in-memory World double satisfying archetype.World and
// the superset internal/builder.World interface, usable wherever a test
// needs a server-side replicated world.
type ServerWorld struct {
	generation uint32
	archetypes []archetype.Info
	components map[entityid.Entity]map[registry.ComponentID]componentState
	entities   map[archetype.ID][]entitymap.ServerEntity
	despawned  map[entitymap.ServerEntity]tick.Tick
}

// NewServerWorld constructs an empty server-side world double.
func NewServerWorld() *ServerWorld {
	return &ServerWorld{
		components: make(map[entityid.Entity]map[registry.ComponentID]componentState),
		entities:   make(map[archetype.ID][]entitymap.ServerEntity),
		despawned:  make(map[entitymap.ServerEntity]tick.Tick),
	}
}

// SetGeneration sets the world's current generation counter.
func (w *ServerWorld) SetGeneration(g uint32) { w.generation = g }

// AddArchetype registers an archetype and its member entities.
func (w *ServerWorld) AddArchetype(info archetype.Info, entities ...entitymap.ServerEntity) {
	w.archetypes = append(w.archetypes, info)
	w.entities[info.ID] = append(w.entities[info.ID], entities...)
}

// SetComponent records component value for e as of changedAt.
func (w *ServerWorld) SetComponent(e entitymap.ServerEntity, id registry.ComponentID, value any, changedAt tick.Tick) {
	byComponent, ok := w.components[e]
	if !ok {
		byComponent = make(map[registry.ComponentID]componentState)
		w.components[e] = byComponent
	}
	byComponent[id] = componentState{value: value, changedAt: changedAt}
}

// RemoveComponent marks component id as removed from e as of removedAt.
func (w *ServerWorld) RemoveComponent(e entitymap.ServerEntity, id registry.ComponentID, removedAt tick.Tick) {
	byComponent, ok := w.components[e]
	if !ok {
		byComponent = make(map[registry.ComponentID]componentState)
		w.components[e] = byComponent
	}
	byComponent[id] = componentState{removed: true, removedAt: removedAt}
}

// Despawn marks e as despawned as of t.
func (w *ServerWorld) Despawn(e entitymap.ServerEntity, t tick.Tick) {
	w.despawned[e] = t
}

// Generation implements archetype.World.
func (w *ServerWorld) Generation() uint32 { return w.generation }

// ArchetypesSince implements archetype.World.
func (w *ServerWorld) ArchetypesSince(since uint32) []archetype.Info {
	var out []archetype.Info
	for _, info := range w.archetypes {
		if uint32(info.ID) > since {
			out = append(out, info)
		}
	}
	return out
}

// ComponentStorage implements archetype.World; every registered component is
// reported as table-stored.
func (w *ServerWorld) ComponentStorage(a archetype.Info, componentID registry.ComponentID) (archetype.StorageKind, bool) {
	return archetype.Table, true
}

// Entities implements the builder.World superset.
func (w *ServerWorld) Entities(a archetype.Replicated) []entitymap.ServerEntity {
	return w.entities[a.ID]
}

// Component implements the builder.World superset.
func (w *ServerWorld) Component(e entitymap.ServerEntity, componentID registry.ComponentID) (any, tick.Tick, bool) {
	byComponent, ok := w.components[e]
	if !ok {
		return nil, 0, false
	}
	state, ok := byComponent[componentID]
	if !ok || state.removed {
		return nil, 0, false
	}
	return state.value, state.changedAt, true
}

// RemovedSince implements the builder.World superset.
func (w *ServerWorld) RemovedSince(e entitymap.ServerEntity, componentID registry.ComponentID, sinceTick tick.Tick) bool {
	state, ok := w.components[e][componentID]
	if !ok || !state.removed {
		return false
	}
	return tick.AtLeast(state.removedAt, sinceTick)
}

// DespawnedSince implements the builder.World superset.
func (w *ServerWorld) DespawnedSince(sinceTick tick.Tick) []entitymap.ServerEntity {
	var out []entitymap.ServerEntity
	for e, at := range w.despawned {
		if tick.AtLeast(at, sinceTick) {
			out = append(out, e)
		}
	}
	return out
}

// EchoSerialize is a registry.SerializeFn that appends value's raw bytes
// unchanged, useful wherever a test only cares about byte-level plumbing and
// not a real component encoding.
func EchoSerialize(ctx registry.SerializeCtx, value any, dst []byte) ([]byte, error) {
	return append(dst, value.([]byte)...), nil
}

// ClientWorld is an in-memory World double satisfying the
// internal/applier.World interface, usable wherever a test needs a
// client-side mutation target.
type ClientWorld struct {
	nextSpawn        uint32
	existing         map[entitymap.ClientEntity]bool
	historyConsuming map[entitymap.ClientEntity]bool
	applied          map[entitymap.ClientEntity]map[registry.ComponentID][]byte
	removed          map[entitymap.ClientEntity]map[registry.ComponentID]bool
	despawned        map[entitymap.ClientEntity]bool
}

// NewClientWorld constructs an empty client-side world double.
func NewClientWorld() *ClientWorld {
	return &ClientWorld{
		existing:         make(map[entitymap.ClientEntity]bool),
		historyConsuming: make(map[entitymap.ClientEntity]bool),
		applied:          make(map[entitymap.ClientEntity]map[registry.ComponentID][]byte),
		removed:          make(map[entitymap.ClientEntity]map[registry.ComponentID]bool),
		despawned:        make(map[entitymap.ClientEntity]bool),
	}
}

// SetHistoryConsuming marks e as requesting history-window mutation merges.
func (w *ClientWorld) SetHistoryConsuming(e entitymap.ClientEntity, consuming bool) {
	w.historyConsuming[e] = consuming
}

// Applied reports the last-applied bytes for e's component, if any.
func (w *ClientWorld) Applied(e entitymap.ClientEntity, id registry.ComponentID) ([]byte, bool) {
	byComponent, ok := w.applied[e]
	if !ok {
		return nil, false
	}
	data, ok := byComponent[id]
	return data, ok
}

// Removed reports whether e's component id was removed.
func (w *ClientWorld) Removed(e entitymap.ClientEntity, id registry.ComponentID) bool {
	return w.removed[e][id]
}

// Despawned reports whether e was despawned.
func (w *ClientWorld) Despawned(e entitymap.ClientEntity) bool {
	return w.despawned[e]
}

func (w *ClientWorld) setApplied(e entitymap.ClientEntity, id registry.ComponentID, data []byte) {
	byComponent, ok := w.applied[e]
	if !ok {
		byComponent = make(map[registry.ComponentID][]byte)
		w.applied[e] = byComponent
	}
	byComponent[id] = append([]byte(nil), data...)
}

func (w *ClientWorld) setRemoved(e entitymap.ClientEntity, id registry.ComponentID) {
	byComponent, ok := w.removed[e]
	if !ok {
		byComponent = make(map[registry.ComponentID]bool)
		w.removed[e] = byComponent
	}
	byComponent[id] = true
}

// Despawn implements registry.World.
func (w *ClientWorld) Despawn(e entitymap.ClientEntity) error {
	w.despawned[e] = true
	return nil
}

// Spawn implements applier.World.
func (w *ClientWorld) Spawn() entitymap.ClientEntity {
	w.nextSpawn++
	e := entityid.Entity{Index: 9000 + w.nextSpawn}
	w.existing[e] = true
	return e
}

// Exists implements applier.World.
func (w *ClientWorld) Exists(e entitymap.ClientEntity) bool { return w.existing[e] }

// IsHistoryConsuming implements applier.World.
func (w *ClientWorld) IsHistoryConsuming(e entitymap.ClientEntity) bool {
	return w.historyConsuming[e]
}

// LoopbackTransport is an in-memory channel.Transport that delivers
// everything Send writes straight into its peer's inbox, for exercising
// Server and Client against each other without a real network connection.
type LoopbackTransport struct {
	mu     sync.Mutex
	status channel.Status
	inbox  map[channel.Channel][][]byte
	peer   *LoopbackTransport
}

// NewLoopback constructs a pair of connected LoopbackTransports: sending on
// one delivers to the other's Receive.
func NewLoopback() (*LoopbackTransport, *LoopbackTransport) {
	a := &LoopbackTransport{status: channel.Connected, inbox: make(map[channel.Channel][][]byte)}
	b := &LoopbackTransport{status: channel.Connected, inbox: make(map[channel.Channel][][]byte)}
	a.peer = b
	b.peer = a
	return a, b
}

// Send implements channel.Transport, delivering payload to the peer's inbox.
func (t *LoopbackTransport) Send(ch channel.Channel, payload []byte) {
	if len(payload) == 0 {
		return
	}
	cp := append([]byte(nil), payload...)
	t.peer.mu.Lock()
	t.peer.inbox[ch] = append(t.peer.inbox[ch], cp)
	t.peer.mu.Unlock()
}

// Receive implements channel.Transport, draining messages delivered since
// the last call.
func (t *LoopbackTransport) Receive(ch channel.Channel) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.inbox[ch]
	delete(t.inbox, ch)
	return msgs
}

// Status implements channel.Transport.
func (t *LoopbackTransport) Status() channel.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatus updates the transport's reported lifecycle state, letting tests
// simulate a disconnect.
func (t *LoopbackTransport) SetStatus(s channel.Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// EchoComponent registers a component on reg whose Deserialize/Remove write
// into a ClientWorld via setApplied/setRemoved and whose Consume discards
// bytes without recording them. It returns the assigned FnsID.
func EchoComponent(reg *registry.Registry, name string, id registry.ComponentID, historyOverwrite bool) registry.FnsID {
	return reg.Register(registry.Entry{
		Name:        name,
		ComponentID: id,
		Serialize:   EchoSerialize,
		Deserialize: func(ctx registry.WriteCtx, w registry.World, e entitymap.ClientEntity, r *bufio.Reader) error {
			data, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			w.(*ClientWorld).setApplied(e, id, data)
			return nil
		},
		Remove: func(ctx registry.RemoveCtx, w registry.World, e entitymap.ClientEntity) error {
			w.(*ClientWorld).setRemoved(e, id)
			return nil
		},
		Consume: func(r *bufio.Reader) error {
			_, err := io.ReadAll(r)
			return err
		},
		HistoryOverwrite: historyOverwrite,
	})
}
