// Package builder implements the server-side message builder (spec §4.8):
// for each connected client, each tick, it walks the replicated-archetypes
// cache and produces an Update message and zero or more Mutation message
// fragments, throttled by a per-client bandwidth budget.
package builder

import (
	"replicore/internal/archetype"
	"replicore/internal/entityid"
	"replicore/internal/entitymap"
	"replicore/internal/registry"
	"replicore/internal/tick"
	"replicore/internal/wire"
)

// World is the server-side collaborator the builder walks each tick, in
// addition to the archetype.World surface used to resolve replicated
// archetypes.
type World interface {
	archetype.World
	// Entities returns every entity currently in archetype a.
	Entities(a archetype.Replicated) []entitymap.ServerEntity
	// Component returns the current serialized-ready value for e's
	// component, along with the tick it last changed, or ok=false if the
	// entity no longer carries that component.
	Component(e entitymap.ServerEntity, componentID registry.ComponentID) (value any, changedAt tick.Tick, ok bool)
	// RemovedSince reports whether componentID was removed from e at or
	// after sinceTick.
	RemovedSince(e entitymap.ServerEntity, componentID registry.ComponentID, sinceTick tick.Tick) bool
	// DespawnedSince returns entities despawned at or after sinceTick.
	DespawnedSince(sinceTick tick.Tick) []entitymap.ServerEntity
}

// ClientState is the per-connection bookkeeping the builder needs: the
// entity map for this client, the tick it last acked, which server
// entities have already been replicated to it, and any mappings queued by
// a pre-spawned-entity hint still waiting to be sent.
type ClientState struct {
	ID              string
	EntityMap       *entitymap.Map
	AckedUpdateTick tick.Tick
	Known           map[entitymap.ServerEntity]bool
	PendingMappings map[entitymap.ServerEntity]entitymap.ClientEntity
}

// NewClientState constructs a fresh, empty per-client state.
func NewClientState(id string) *ClientState {
	return &ClientState{
		ID:              id,
		EntityMap:       entitymap.New(),
		Known:           make(map[entitymap.ServerEntity]bool),
		PendingMappings: make(map[entitymap.ServerEntity]entitymap.ClientEntity),
	}
}

// Reset discards all per-connection state, used on disconnect (spec §5).
func (c *ClientState) Reset() {
	c.EntityMap.Clear()
	c.Known = make(map[entitymap.ServerEntity]bool)
	c.PendingMappings = make(map[entitymap.ServerEntity]entitymap.ClientEntity)
	c.AckedUpdateTick = 0
}

// Builder walks replicated archetypes and builds per-client messages.
type Builder struct {
	registry *registry.Registry
	shared   *wire.SharedCache
	scratch  wire.Buffer
	mtu      int
}

// New constructs a Builder bound to reg for FnsID resolution, with mtu
// bounding a single mutation message's payload before fragmentation.
func New(reg *registry.Registry, mtu int) *Builder {
	if mtu <= 0 {
		mtu = 1200
	}
	return &Builder{registry: reg, shared: wire.NewSharedCache(), mtu: mtu}
}

// BeginTick resets the per-tick shared serialization cache (spec §4.8's
// shared-buffer-with-ranges optimization applies within a single tick
// across all clients).
func (b *Builder) BeginTick() {
	b.shared.Reset()
	b.scratch.Reset()
}

// UpdateMessage is one built Update message.
type UpdateMessage struct {
	Tick  tick.Tick
	Flags uint8
	Bytes []byte
}

type entityGroup struct {
	server     entitymap.ServerEntity
	components []componentEntry
}

type componentEntry struct {
	fnsID   registry.FnsID
	payload []byte // nil signals a removal rather than a change
}

type encodedPair struct {
	a []byte
	b []byte
}

// BuildUpdate produces the Update message for one client at currentTick,
// scanning archetypes resolved so far and diffing against what the client
// is already known to have (spec §4.8 construction rules).
func (b *Builder) BuildUpdate(w World, cache *archetype.Cache, client *ClientState, currentTick tick.Tick) UpdateMessage {
	var mappings []encodedPair
	var despawns [][]byte
	var removals []entityGroup
	var changes []entityGroup

	for server, clientEntity := range client.PendingMappings {
		mappings = append(mappings, encodedPair{a: encodeEntity(server), b: encodeEntity(clientEntity)})
	}
	client.PendingMappings = make(map[entitymap.ServerEntity]entitymap.ClientEntity)

	for _, server := range w.DespawnedSince(client.AckedUpdateTick) {
		if client.Known[server] {
			despawns = append(despawns, encodeEntity(server))
			delete(client.Known, server)
		}
	}

	for _, a := range cache.Archetypes() {
		for _, server := range w.Entities(a) {
			var removed []componentEntry
			for _, comp := range a.Components {
				if w.RemovedSince(server, comp.ComponentID, client.AckedUpdateTick) {
					removed = append(removed, componentEntry{fnsID: comp.FnsID})
				}
			}
			if len(removed) > 0 {
				removals = append(removals, entityGroup{server: server, components: removed})
			}

			if client.Known[server] {
				// Established entities' ongoing component value changes are
				// carried by Mutation messages over the unreliable channel
				// instead (see BuildMutations); CHANGES here is reserved for
				// an entity's first full sync to this client.
				continue
			}

			var changed []componentEntry
			for _, comp := range a.Components {
				if w.RemovedSince(server, comp.ComponentID, client.AckedUpdateTick) {
					continue
				}
				value, changedAt, ok := w.Component(server, comp.ComponentID)
				if !ok {
					continue
				}
				payload := b.serialize(comp.FnsID, value, currentTick, server, changedAt)
				if payload != nil {
					changed = append(changed, componentEntry{fnsID: comp.FnsID, payload: payload})
				}
			}
			if len(changed) > 0 {
				changes = append(changes, entityGroup{server: server, components: changed})
				client.Known[server] = true
			}
		}
	}

	var flags uint8
	if len(mappings) > 0 {
		flags |= wire.FlagMappings
	}
	if len(despawns) > 0 {
		flags |= wire.FlagDespawns
	}
	if len(removals) > 0 {
		flags |= wire.FlagRemovals
	}
	if len(changes) > 0 {
		flags |= wire.FlagChanges
	}
	lastFlag := highestSetFlag(flags)

	var buf wire.Buffer
	buf.WriteByte(flags)
	buf.WriteUvarint(uint64(currentTick))

	writePairs(&buf, mappings, lastFlag != wire.FlagMappings)
	writeEntities(&buf, despawns, lastFlag != wire.FlagDespawns)
	writeGroups(&buf, removals, lastFlag != wire.FlagRemovals)
	writeGroups(&buf, changes, lastFlag != wire.FlagChanges)

	return UpdateMessage{Tick: currentTick, Flags: flags, Bytes: buf.Bytes()}
}

// MutationMessage is one built Mutation message fragment.
type MutationMessage struct {
	MessageTick tick.Tick
	MutateIndex uint32
	Bytes       []byte
}

// BuildMutations produces zero or more Mutation message fragments for one
// client at currentTick (spec §4.8): established entities (already known to
// this client, i.e. not part of this tick's CHANGES) contribute their
// newly-mutated components here instead, over the unreliable channel. The
// payload is split across multiple fragments sharing MessageTick with
// incrementing MutateIndex whenever it would exceed the builder's MTU.
// ackTrackingEnabled controls whether each fragment carries the optional
// messages_count field (spec §6's "mutate header" handshake flag).
func (b *Builder) BuildMutations(w World, cache *archetype.Cache, client *ClientState, currentTick tick.Tick, ackTrackingEnabled bool) []MutationMessage {
	var elements [][]byte
	for _, a := range cache.Archetypes() {
		for _, server := range w.Entities(a) {
			if !client.Known[server] {
				continue
			}
			var entityData wire.Buffer
			for _, comp := range a.Components {
				if w.RemovedSince(server, comp.ComponentID, client.AckedUpdateTick) {
					continue
				}
				value, changedAt, ok := w.Component(server, comp.ComponentID)
				if !ok || !tick.After(changedAt, client.AckedUpdateTick) {
					continue
				}
				payload := b.serialize(comp.FnsID, value, currentTick, server, changedAt)
				if payload == nil {
					continue
				}
				entityData.WriteUvarint(uint64(comp.FnsID))
				entityData.WriteUvarint(uint64(len(payload)))
				entityData.WriteBytes(payload)
			}
			if entityData.Len() == 0 {
				continue
			}

			var elem wire.Buffer
			elem.WriteBytes(encodeEntity(server))
			elem.WriteUvarint(uint64(entityData.Len()))
			elem.WriteBytes(entityData.Bytes())
			elements = append(elements, append([]byte(nil), elem.Bytes()...))
		}
	}
	if len(elements) == 0 {
		return nil
	}

	var chunks [][]byte
	var current []byte
	for _, elem := range elements {
		if len(current) > 0 && len(current)+len(elem) > b.mtu {
			chunks = append(chunks, current)
			current = nil
		}
		current = append(current, elem...)
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	messages := make([]MutationMessage, 0, len(chunks))
	for i, chunk := range chunks {
		var buf wire.Buffer
		buf.WriteUvarint(uint64(currentTick))
		buf.WriteUvarint(uint64(currentTick))
		if ackTrackingEnabled {
			buf.WriteUvarint(uint64(len(chunks)))
		}
		buf.WriteUvarint(uint64(i))
		buf.WriteBytes(chunk)
		messages = append(messages, MutationMessage{
			MessageTick: currentTick,
			MutateIndex: uint32(i),
			Bytes:       append([]byte(nil), buf.Bytes()...),
		})
	}
	return messages
}

// serialize resolves FnsID's Serialize function via the registry and
// deduplicates identical (entity, component, changedAt) serializations
// within the current tick (spec §4.8).
func (b *Builder) serialize(fnsID registry.FnsID, value any, currentTick tick.Tick, server entitymap.ServerEntity, changedAt tick.Tick) []byte {
	entry, ok := b.registry.Get(fnsID)
	if !ok || entry.Serialize == nil {
		return nil
	}
	key := sharedKey{server: server, fnsID: fnsID, changedAt: changedAt}
	bytes, err := b.shared.GetOrWrite(&b.scratch, key, func(buf *wire.Buffer) error {
		encoded, err := entry.Serialize(registry.SerializeCtx{Tick: currentTick}, value, nil)
		if err != nil {
			return err
		}
		buf.WriteBytes(encoded)
		return nil
	})
	if err != nil {
		return nil
	}
	return bytes
}

type sharedKey struct {
	server    entitymap.ServerEntity
	fnsID     registry.FnsID
	changedAt tick.Tick
}

func highestSetFlag(flags uint8) uint8 {
	for _, f := range []uint8{wire.FlagChanges, wire.FlagRemovals, wire.FlagDespawns, wire.FlagMappings} {
		if flags&f != 0 {
			return f
		}
	}
	return 0
}

func writePairs(buf *wire.Buffer, pairs []encodedPair, sized bool) {
	if len(pairs) == 0 {
		return
	}
	if sized {
		buf.StartArray()
	}
	for _, p := range pairs {
		buf.WriteBytes(p.a)
		buf.WriteBytes(p.b)
		_ = buf.EndArrayElement()
	}
	if sized {
		_ = buf.EndArray()
	}
}

func writeEntities(buf *wire.Buffer, entities [][]byte, sized bool) {
	if len(entities) == 0 {
		return
	}
	if sized {
		buf.StartArray()
	}
	for _, e := range entities {
		buf.WriteBytes(e)
		_ = buf.EndArrayElement()
	}
	if sized {
		_ = buf.EndArray()
	}
}

func writeGroups(buf *wire.Buffer, groups []entityGroup, sized bool) {
	if len(groups) == 0 {
		return
	}
	if sized {
		buf.StartArray()
	}
	for _, g := range groups {
		buf.StartEntityData(encodeEntity(g.server))
		for _, c := range g.components {
			if c.payload == nil {
				_ = buf.WriteRemoval(uint32(c.fnsID))
			} else {
				_ = buf.WriteChange(uint32(c.fnsID), c.payload)
			}
		}
		_ = buf.EndEntityData()
	}
	if sized {
		_ = buf.EndArray()
	}
}

func encodeEntity(e entityid.Entity) []byte {
	return entityid.Encode(nil, e)
}
