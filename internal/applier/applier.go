// Package applier implements the client-side applier (spec §4.11): it
// decodes Update and Mutation messages, applies them to the local world
// through the replication registry, and tracks per-entity confirmed-tick
// history to drive the consume-or-write decision on out-of-order mutations.
//
// Grounded on original_source/src/client.rs's diff_receiving_system /
// deserialize_component_diffs / deserialize_despawns control flow, ported
// from that file's per-message-kind cursor framing to spec §4.7's
// flag-bitset Update framing and §4.8's Mutation framing.
package applier

import (
	"bufio"
	"bytes"
	"fmt"

	"replicore/internal/acktrack"
	"replicore/internal/entityid"
	"replicore/internal/entitymap"
	"replicore/internal/history"
	"replicore/internal/logging"
	"replicore/internal/metrics"
	"replicore/internal/mutatebuf"
	"replicore/internal/registry"
	"replicore/internal/tick"
	"replicore/internal/wire"
)

// World is the client-side mutation surface the applier drives, beyond the
// minimal registry.World despawn hook.
type World interface {
	registry.World
	// Spawn creates a new, empty client entity for a server entity with no
	// existing mapping.
	Spawn() entitymap.ClientEntity
	// Exists reports whether e is still present in the world, used to
	// validate a pre-spawned-entity mapping hint before it is adopted.
	Exists(e entitymap.ClientEntity) bool
	// IsHistoryConsuming reports whether e should retroactively apply
	// mutations within the confirmed-tick history window (spec §4.11's
	// "Tracked → Mutation(t') with t' ≤ last_tick and history" branch).
	IsHistoryConsuming(e entitymap.ClientEntity) bool
}

// Applier holds all client-side replication state: the entity map, the
// confirmed-tick history per tracked entity, and the buffer of mutate
// messages awaiting their precondition update tick.
type Applier struct {
	registry  *registry.Registry
	world     World
	entityMap *entitymap.Map
	mutateBuf *mutatebuf.Buffer
	histories map[entitymap.ClientEntity]*history.History
	log       *logging.Logger
	metrics   *metrics.Counters

	serverUpdateTick    tick.Tick
	hasServerUpdateTick bool
}

// New constructs an applier bound to reg for FnsID resolution and w for
// world mutation, sharing entityMap with the rest of the client engine. A
// nil logger falls back to the package-global logger; a nil metrics sink
// disables counter updates (metrics.Counters's methods are nil-safe).
func New(reg *registry.Registry, w World, entityMap *entitymap.Map, log *logging.Logger, counters *metrics.Counters) *Applier {
	if log == nil {
		log = logging.L()
	}
	return &Applier{
		registry:  reg,
		world:     w,
		entityMap: entityMap,
		mutateBuf: mutatebuf.New(),
		histories: make(map[entitymap.ClientEntity]*history.History),
		log:       log,
		metrics:   counters,
	}
}

// Reset discards all buffered mutations and confirmed-tick history, used on
// disconnect (spec §5, §6 set_status transition).
func (a *Applier) Reset() {
	a.mutateBuf.Reset()
	a.histories = make(map[entitymap.ClientEntity]*history.History)
	a.serverUpdateTick = 0
	a.hasServerUpdateTick = false
}

// ServerUpdateTick returns the highest update tick observed so far.
func (a *Applier) ServerUpdateTick() (tick.Tick, bool) {
	return a.serverUpdateTick, a.hasServerUpdateTick
}

// ApplyUpdate decodes and applies one Update message (spec §4.11 "Update
// processing"). Any returned error is a MalformedMessage condition, fatal
// to the message; the caller should treat it as a disconnection trigger.
func (a *Applier) ApplyUpdate(payload []byte) error {
	r := wire.NewReader(payload)
	flags, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("applier: read flags: %w", err)
	}
	rawTick, err := r.ReadUvarint()
	if err != nil {
		return fmt.Errorf("applier: read tick: %w", err)
	}
	updateTick := tick.Tick(rawTick)
	if a.hasServerUpdateTick && !tick.After(updateTick, a.serverUpdateTick) {
		return nil
	}
	a.serverUpdateTick = updateTick
	a.hasServerUpdateTick = true

	last := highestSetFlag(flags)
	for _, f := range []uint8{wire.FlagMappings, wire.FlagDespawns, wire.FlagRemovals, wire.FlagChanges} {
		if flags&f == 0 {
			continue
		}
		dynamic := f == last
		count := -1
		if !dynamic {
			n, err := r.ReadArrayLen()
			if err != nil {
				return fmt.Errorf("applier: read array length: %w", err)
			}
			count = int(n)
		}
		var applyOne func() error
		switch f {
		case wire.FlagMappings:
			applyOne = func() error { return a.applyMapping(r) }
		case wire.FlagDespawns:
			applyOne = func() error { return a.applyDespawn(r, updateTick) }
		case wire.FlagRemovals:
			applyOne = func() error { return a.applyRemovals(r, updateTick) }
		case wire.FlagChanges:
			applyOne = func() error { return a.applyChanges(r, updateTick) }
		}
		if err := forEach(r, count, applyOne); err != nil {
			return err
		}
	}
	return nil
}

func forEach(r *wire.Reader, count int, fn func() error) error {
	if count < 0 {
		for !r.AtEnd() {
			if err := fn(); err != nil {
				return err
			}
		}
		return nil
	}
	for i := 0; i < count; i++ {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func highestSetFlag(flags uint8) uint8 {
	for _, f := range []uint8{wire.FlagChanges, wire.FlagRemovals, wire.FlagDespawns, wire.FlagMappings} {
		if flags&f != 0 {
			return f
		}
	}
	return 0
}

func (a *Applier) applyMapping(r *wire.Reader) error {
	server, err := entityid.Decode(r)
	if err != nil {
		return fmt.Errorf("applier: decode mapping server entity: %w", err)
	}
	client, err := entityid.Decode(r)
	if err != nil {
		return fmt.Errorf("applier: decode mapping client entity: %w", err)
	}
	if !a.world.Exists(client) {
		a.log.Warn("dropping mapping to unknown client entity",
			logging.Int64("client_entity_bits", int64(client.Bits())))
		return nil
	}
	a.entityMap.Insert(server, client)
	a.markTracked(client, a.serverUpdateTick)
	a.metrics.AddMappingsLearned(1)
	return nil
}

func (a *Applier) applyDespawn(r *wire.Reader, t tick.Tick) error {
	server, err := entityid.Decode(r)
	if err != nil {
		return fmt.Errorf("applier: decode despawn entity: %w", err)
	}
	client, ok := a.entityMap.RemoveByServer(server)
	if !ok {
		return nil
	}
	delete(a.histories, client)
	if err := a.registry.DespawnFn()(registry.DespawnCtx{Tick: t}, a.world, client); err != nil {
		return fmt.Errorf("applier: despawn hook: %w", err)
	}
	a.metrics.AddDespawnsApplied(1)
	return nil
}

func (a *Applier) applyRemovals(r *wire.Reader, t tick.Tick) error {
	server, err := entityid.Decode(r)
	if err != nil {
		return fmt.Errorf("applier: decode removals entity: %w", err)
	}
	client := a.resolveOrSpawn(server, t)
	count, err := r.ReadEntityDataCount()
	if err != nil {
		return fmt.Errorf("applier: read removals count: %w", err)
	}
	for i := uint8(0); i < count; i++ {
		rawFnsID, err := r.ReadUvarint()
		if err != nil {
			return fmt.Errorf("applier: read removal FnsId: %w", err)
		}
		entry, ok := a.registry.Get(registry.FnsID(rawFnsID))
		if !ok {
			return fmt.Errorf("%w: unknown FnsId %d in removal", wire.ErrMalformed, rawFnsID)
		}
		if entry.Remove == nil {
			continue
		}
		if err := entry.Remove(registry.RemoveCtx{Tick: t}, a.world, client); err != nil {
			return fmt.Errorf("applier: remove %q: %w", entry.Name, err)
		}
	}
	return nil
}

func (a *Applier) applyChanges(r *wire.Reader, t tick.Tick) error {
	server, err := entityid.Decode(r)
	if err != nil {
		return fmt.Errorf("applier: decode changes entity: %w", err)
	}
	client := a.resolveOrSpawn(server, t)
	count, err := r.ReadEntityDataCount()
	if err != nil {
		return fmt.Errorf("applier: read changes count: %w", err)
	}
	if count > 0 {
		a.metrics.AddEntitiesChanged(1)
	}
	for i := uint8(0); i < count; i++ {
		entry, payload, err := a.readComponent(r)
		if err != nil {
			return err
		}
		if entry.Deserialize == nil {
			continue
		}
		ctx := registry.WriteCtx{Tick: t, EntityMap: a.entityMap}
		if err := entry.Deserialize(ctx, a.world, client, bufio.NewReader(bytes.NewReader(payload))); err != nil {
			return fmt.Errorf("applier: deserialize %q: %w", entry.Name, err)
		}
		a.metrics.AddComponentsChanged(1)
	}
	return nil
}

func (a *Applier) readComponent(r *wire.Reader) (registry.Entry, []byte, error) {
	rawFnsID, err := r.ReadUvarint()
	if err != nil {
		return registry.Entry{}, nil, fmt.Errorf("applier: read FnsId: %w", err)
	}
	size, err := r.ReadUvarint()
	if err != nil {
		return registry.Entry{}, nil, fmt.Errorf("applier: read component size: %w", err)
	}
	payload, err := r.ReadBytes(int(size))
	if err != nil {
		return registry.Entry{}, nil, fmt.Errorf("applier: read component payload: %w", err)
	}
	entry, ok := a.registry.Get(registry.FnsID(rawFnsID))
	if !ok {
		return registry.Entry{}, nil, fmt.Errorf("%w: unknown FnsId %d", wire.ErrMalformed, rawFnsID)
	}
	return entry, payload, nil
}

func (a *Applier) resolveOrSpawn(server entitymap.ServerEntity, t tick.Tick) entitymap.ClientEntity {
	client := a.entityMap.GetByServerOrInsert(server, a.world.Spawn)
	a.markTracked(client, t)
	return client
}

func (a *Applier) markTracked(e entitymap.ClientEntity, t tick.Tick) {
	if h, ok := a.histories[e]; ok {
		h.Set(t)
		return
	}
	a.histories[e] = history.New(t)
}

// BufferMutation decodes a Mutation message's header (spec §4.8) and queues
// its entity payload for a later drain pass, once update_tick has been
// observed. It returns the ack bytes for mutate_index, to be sent back on
// the Updates channel (spec §4.11 "Mutation processing" step 1).
func (a *Applier) BufferMutation(payload []byte, ackTrackingEnabled bool) ([]byte, error) {
	r := wire.NewReader(payload)
	rawUpdateTick, err := r.ReadUvarint()
	if err != nil {
		return nil, fmt.Errorf("applier: read mutation update_tick: %w", err)
	}
	rawMessageTick, err := r.ReadUvarint()
	if err != nil {
		return nil, fmt.Errorf("applier: read mutation message_tick: %w", err)
	}
	var messagesCount uint64
	if ackTrackingEnabled {
		messagesCount, err = r.ReadUvarint()
		if err != nil {
			return nil, fmt.Errorf("applier: read mutation messages_count: %w", err)
		}
	}
	mutateIndex, err := r.ReadUvarint()
	if err != nil {
		return nil, fmt.Errorf("applier: read mutation mutate_index: %w", err)
	}
	rest, err := r.ReadBytes(r.Remaining())
	if err != nil {
		return nil, fmt.Errorf("applier: read mutation body: %w", err)
	}

	a.mutateBuf.Insert(mutatebuf.Entry{
		UpdateTick:    tick.Tick(rawUpdateTick),
		MessageTick:   tick.Tick(rawMessageTick),
		MessagesCount: uint32(messagesCount),
		Payload:       append([]byte(nil), rest...),
	})

	return acktrack.EncodeAck(nil, uint16(mutateIndex)), nil
}

// DrainMutations runs the mutate-buffer drain (spec §4.10, §4.11 "Mutation
// processing" step 2) against the current ServerUpdateTick, applying every
// entry whose update_tick precondition has been observed.
func (a *Applier) DrainMutations() error {
	var firstErr error
	a.mutateBuf.Drain(a.serverUpdateTick, func(e mutatebuf.Entry) {
		if firstErr != nil {
			return
		}
		if err := a.applyMutationEntities(e.Payload, e.MessageTick); err != nil {
			firstErr = err
		}
	})
	return firstErr
}

func (a *Applier) applyMutationEntities(payload []byte, messageTick tick.Tick) error {
	r := wire.NewReader(payload)
	for !r.AtEnd() {
		server, err := entityid.Decode(r)
		if err != nil {
			return fmt.Errorf("applier: decode mutation entity: %w", err)
		}
		size, err := r.ReadUvarint()
		if err != nil {
			return fmt.Errorf("applier: read mutation data_size: %w", err)
		}
		data, err := r.ReadBytes(int(size))
		if err != nil {
			return fmt.Errorf("applier: read mutation data: %w", err)
		}

		client, ok := a.entityMap.GetByServer(server)
		if !ok {
			// UnknownEntity: non-fatal, cursor already advanced past data_size.
			continue
		}
		if err := a.applyEntityMutation(client, messageTick, data); err != nil {
			return err
		}
	}
	return nil
}

// applyEntityMutation implements spec §4.11's "Per-entity mutation
// application" and state-machine transitions for one entity's mutation data.
func (a *Applier) applyEntityMutation(client entitymap.ClientEntity, messageTick tick.Tick, data []byte) error {
	h, tracked := a.histories[client]
	if !tracked {
		// Mutation alone cannot establish Tracked (state machine only
		// allows that via a mapping or a first CHANGES); skip.
		return nil
	}

	isNewest := tick.After(messageTick, h.LastTick())
	if !isNewest && !a.world.IsHistoryConsuming(client) {
		// OutdatedMutation: dropped silently.
		return nil
	}
	if !isNewest {
		ago := tick.Ago(h.LastTick(), messageTick)
		if ago >= 64 {
			// StaleMutation: dropped silently.
			return nil
		}
	}
	h.Set(messageTick)

	rd := wire.NewReader(data)
	for !rd.AtEnd() {
		entry, componentPayload, err := a.readComponent(rd)
		if err != nil {
			return err
		}
		overwrite := isNewest || entry.HistoryOverwrite
		if overwrite {
			if entry.Deserialize == nil {
				continue
			}
			ctx := registry.WriteCtx{Tick: messageTick, EntityMap: a.entityMap}
			if err := entry.Deserialize(ctx, a.world, client, bufio.NewReader(bytes.NewReader(componentPayload))); err != nil {
				return fmt.Errorf("applier: deserialize mutation %q: %w", entry.Name, err)
			}
			a.metrics.AddComponentsChanged(1)
			continue
		}
		if entry.Consume == nil {
			continue
		}
		if err := entry.Consume(bufio.NewReader(bytes.NewReader(componentPayload))); err != nil {
			return fmt.Errorf("applier: consume mutation %q: %w", entry.Name, err)
		}
	}
	return nil
}
