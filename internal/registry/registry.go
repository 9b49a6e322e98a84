// Package registry implements the replication registry: the ordered,
// finite mapping from a stable function-set id to the serialize/deserialize
// /remove/consume quadruple that drives wire (de)serialization for one
// replicated component type (spec §4.4).
//
// Grounded on original_source/src/core/replication_fns/ctx.rs for the
// SerializeCtx/WriteCtx/DeleteCtx parameter shapes, and on the teacher's
// go-broker/internal/networking/tiers.go for the Go idiom of building a
// fixed dispatch table at configuration time rather than doing dynamic type
// lookups per spec §9's "Registry dispatch" note.
package registry

import (
	"bufio"
	"fmt"

	"replicore/internal/entitymap"
	"replicore/internal/tick"
)

// ComponentID identifies a component type as the World sees it. It is
// opaque to the registry; the World implementation defines its meaning.
type ComponentID uint32

// FnsID is the compact, registration-order-assigned identifier exchanged on
// the wire in place of a component type name. Server and client must
// register identical components in identical order for FnsIDs to agree.
type FnsID uint32

// SerializeCtx is passed to a Serialize function.
type SerializeCtx struct {
	Tick tick.Tick
}

// WriteCtx is passed to a Deserialize function. EntityMap allows
// entity-typed component fields to be rewritten from server-space to
// client-space during decode (spec §4.6).
type WriteCtx struct {
	Tick      tick.Tick
	EntityMap *entitymap.Map
}

// RemoveCtx is passed to a Remove function.
type RemoveCtx struct {
	Tick tick.Tick
}

// DespawnCtx is passed to a despawn hook.
type DespawnCtx struct {
	Tick tick.Tick
}

// SerializeFn encodes a component's current value for entity e, appending
// wire bytes to dst and returning the result.
type SerializeFn func(ctx SerializeCtx, value any, dst []byte) ([]byte, error)

// DeserializeFn decodes a component value from r and applies it to entity e
// in the target world.
type DeserializeFn func(ctx WriteCtx, w World, e entitymap.ClientEntity, r *bufio.Reader) error

// RemoveFn removes the component from entity e.
type RemoveFn func(ctx RemoveCtx, w World, e entitymap.ClientEntity) error

// ConsumeFn reads and discards a component value without applying it; used
// when a mutation is outdated and history has not been requested (spec §4.4).
type ConsumeFn func(r *bufio.Reader) error

// DespawnFn is invoked when an entity despawn message is applied.
type DespawnFn func(ctx DespawnCtx, w World, e entitymap.ClientEntity) error

// World is the minimal client-side mutation surface the registry's
// generated functions are allowed to call. Concrete worlds implement this
// alongside the richer server-side World in package archetype.
type World interface {
	// Despawn removes e entirely from the world.
	Despawn(e entitymap.ClientEntity) error
}

// Entry bundles one registered component type's dispatch quadruple.
//
// HistoryOverwrite controls the per-component "consume_or_write" decision
// the applier makes for a mutation that arrives within the confirmed-tick
// history window but at or before the entity's last confirmed tick (spec
// §4.11): when true the component is still deserialized and applied even
// though it is not the newest value seen; when false the bytes are merely
// consumed (cursor advanced) and discarded, leaving the previously-applied
// newer value in place. Components without meaningful out-of-order merge
// semantics should leave this false (the default).
type Entry struct {
	Name             string
	ComponentID      ComponentID
	Serialize        SerializeFn
	Deserialize      DeserializeFn
	Remove           RemoveFn
	Consume          ConsumeFn
	HistoryOverwrite bool
}

// Registry is the ordered, finite table of registered replicated component
// types. Registration must happen identically, in the same order, on both
// server and client before the engine starts (spec §4.4, §6).
type Registry struct {
	entries []Entry
	byID    map[ComponentID]FnsID
	despawn DespawnFn
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[ComponentID]FnsID)}
}

// Register appends a new component type to the registry and returns its
// assigned FnsID. Panics if componentID was already registered, since
// registration is a startup-time configuration error, not a runtime one.
func (r *Registry) Register(entry Entry) FnsID {
	if _, exists := r.byID[entry.ComponentID]; exists {
		panic(fmt.Sprintf("registry: component %d already registered", entry.ComponentID))
	}
	id := FnsID(len(r.entries))
	r.entries = append(r.entries, entry)
	r.byID[entry.ComponentID] = id
	return id
}

// SetDespawnFn installs the hook invoked for DESPAWNS entries (spec §4.11).
func (r *Registry) SetDespawnFn(fn DespawnFn) {
	r.despawn = fn
}

// DespawnFn returns the installed despawn hook, or a no-op if none was set.
func (r *Registry) DespawnFn() DespawnFn {
	if r.despawn != nil {
		return r.despawn
	}
	return func(DespawnCtx, World, entitymap.ClientEntity) error { return nil }
}

// Get returns the entry for id, or false if id was never registered (an
// unknown FnsID on the wire is a MalformedMessage condition per spec §7).
func (r *Registry) Get(id FnsID) (Entry, bool) {
	if int(id) < 0 || int(id) >= len(r.entries) {
		return Entry{}, false
	}
	return r.entries[id], true
}

// FnsIDFor returns the FnsID assigned to componentID.
func (r *Registry) FnsIDFor(componentID ComponentID) (FnsID, bool) {
	id, ok := r.byID[componentID]
	return id, ok
}

// Len reports how many component types are registered.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Claim pairs a component with the FnsID a matching rule registers it under.
type Claim struct {
	ComponentID ComponentID
	FnsID       FnsID
}

// Rule is a priority-ordered set of (component, FnsID) claims evaluated
// against matching archetypes. Rules of lower priority (later in Rules)
// cannot override a higher-priority claim for the same component (spec §4.4).
type Rule struct {
	// Claims lists every component this rule claims when it matches.
	Claims []Claim
	// Matches reports whether the rule applies to an archetype exposing the
	// given set of component ids.
	Matches func(has func(ComponentID) bool) bool
}

// Rules is the ordered (by descending priority) list of replication rules.
type Rules struct {
	ordered []Rule
}

// NewRules constructs an empty, priority-ordered rule set.
func NewRules() *Rules {
	return &Rules{}
}

// Add appends a rule at the next-lowest priority.
func (r *Rules) Add(rule Rule) {
	r.ordered = append(r.ordered, rule)
}

// Iterate calls fn for each rule in priority order (highest first), stopping
// early if fn returns false.
func (r *Rules) Iterate(fn func(Rule) bool) {
	for _, rule := range r.ordered {
		if !fn(rule) {
			return
		}
	}
}
