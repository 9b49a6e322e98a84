// Package archetype implements the server-side World abstraction and the
// incrementally-updated ReplicatedArchetypes cache (spec §4.5).
//
// Grounded line-for-line on
// original_source/src/server/replicated_archetypes.rs: archetypes are never
// removed, so Update only scans the slice added since the last seen
// generation; rules are evaluated in priority order and a component already
// claimed by an earlier rule for the same archetype is skipped (logged at
// debug level, matching the original's debug! diagnostic).
package archetype

import (
	"replicore/internal/logging"
	"replicore/internal/registry"
)

// ID identifies an archetype within a World. IDs are assigned by the World
// and are never reused or reordered.
type ID uint32

// StorageKind mirrors bevy's table/sparse-set storage distinction (spec §4.5).
type StorageKind uint8

const (
	// Table storage is dense, contiguous per-archetype column storage.
	Table StorageKind = iota
	// SparseSet storage trades iteration locality for cheap insert/remove.
	SparseSet
)

// Info describes one archetype as reported by a World: its identity, whether
// it carries the replication marker, and the full set of components present.
type Info struct {
	ID         ID
	HasMarker  bool
	Components []registry.ComponentID
}

// Has reports whether the archetype contains componentID.
func (a Info) Has(componentID registry.ComponentID) bool {
	for _, c := range a.Components {
		if c == componentID {
			return true
		}
	}
	return false
}

// World is the server-side collaborator the archetype cache scans. Spec §1
// treats the entity-component store as an external abstraction; this is its
// minimal interface, generalizing go-broker/internal/state.WorldState's
// hardcoded vehicle/projectile stores into arbitrary registered components.
type World interface {
	// Generation returns a monotonically increasing counter; archetypes
	// created since a previously observed generation can be discovered via
	// ArchetypesSince.
	Generation() uint32
	// ArchetypesSince returns, in ascending ID order, every archetype
	// created after the given generation (0 means "from the beginning").
	ArchetypesSince(since uint32) []Info
	// ComponentStorage reports how componentID is stored within archetype a.
	ComponentStorage(a Info, componentID registry.ComponentID) (StorageKind, bool)
}

// Component is one replicated component resolved for a specific archetype.
type Component struct {
	ComponentID registry.ComponentID
	FnsID       registry.FnsID
	Storage     StorageKind
}

// Replicated is an archetype containing the replication marker, with its
// resolved set of replicated components (spec §4.5).
type Replicated struct {
	ID         ID
	Components []Component
}

// Cache maintains the monotonically growing list of replicated archetypes.
type Cache struct {
	generation uint32
	archetypes []Replicated
	log        *logging.Logger
}

// NewCache constructs an empty cache. A nil logger falls back to the
// package-global logger.
func NewCache(log *logging.Logger) *Cache {
	if log == nil {
		log = logging.L()
	}
	return &Cache{log: log}
}

// Update scans archetypes created since the last call and resolves their
// replicated components against rules, in priority order. Safe to call every
// tick; a no-op when no new archetypes exist.
func (c *Cache) Update(w World, rules *registry.Rules) {
	if c == nil || w == nil || rules == nil {
		return
	}
	oldGeneration := c.generation
	c.generation = w.Generation()

	for _, info := range w.ArchetypesSince(oldGeneration) {
		if !info.HasMarker {
			continue
		}
		replicated := Replicated{ID: info.ID}
		rules.Iterate(func(rule registry.Rule) bool {
			if rule.Matches == nil || !rule.Matches(info.Has) {
				return true
			}
			for _, claim := range rule.Claims {
				if replicated.hasComponent(claim.ComponentID) {
					c.log.Debug("ignoring lower-priority component claim",
						logging.Int("component_id", int(claim.ComponentID)),
						logging.Int("archetype_id", int(info.ID)))
					continue
				}
				storage, ok := w.ComponentStorage(info, claim.ComponentID)
				if !ok {
					continue
				}
				replicated.Components = append(replicated.Components, Component{
					ComponentID: claim.ComponentID,
					FnsID:       claim.FnsID,
					Storage:     storage,
				})
			}
			return true
		})
		c.archetypes = append(c.archetypes, replicated)
	}
}

func (r Replicated) hasComponent(id registry.ComponentID) bool {
	for _, c := range r.Components {
		if c.ComponentID == id {
			return true
		}
	}
	return false
}

// Archetypes returns every replicated archetype resolved so far.
func (c *Cache) Archetypes() []Replicated {
	if c == nil {
		return nil
	}
	return c.archetypes
}

// Generation returns the highest archetype generation observed.
func (c *Cache) Generation() uint32 {
	if c == nil {
		return 0
	}
	return c.generation
}
