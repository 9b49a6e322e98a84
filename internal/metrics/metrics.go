// Package metrics tracks the observable resource counters spec.md §6
// names: bytes received, messages received, entities changed, components
// changed, mappings learned, despawns applied. They are updated only when a
// stats sink is present, matching spec.md's "diagnostics and metrics sinks"
// out-of-scope boundary — the engine itself never reads these back.
//
// Grounded on go-broker/internal/networking/metrics.go's SnapshotMetrics:
// a mutex-guarded struct of plain counters with small, named Observe/Add
// methods instead of a generic labeled-metric system.
package metrics

import "sync"

// Counters accumulates the six observable resources across the lifetime of
// one connection (client or server side). The zero value is ready to use.
type Counters struct {
	mu sync.RWMutex

	bytesReceived     int64
	messagesReceived  int64
	entitiesChanged   int64
	componentsChanged int64
	mappingsLearned   int64
	despawnsApplied   int64
}

// New constructs an empty counter set.
func New() *Counters {
	return &Counters{}
}

// AddBytesReceived accumulates the size of an inbound wire message.
func (c *Counters) AddBytesReceived(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.bytesReceived += int64(n)
	c.mu.Unlock()
}

// AddMessagesReceived records one fully-processed inbound message.
func (c *Counters) AddMessagesReceived(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.messagesReceived += int64(n)
	c.mu.Unlock()
}

// AddEntitiesChanged records entities whose changes from an Update message
// were applied this tick.
func (c *Counters) AddEntitiesChanged(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.entitiesChanged += int64(n)
	c.mu.Unlock()
}

// AddComponentsChanged records individual component values applied.
func (c *Counters) AddComponentsChanged(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.componentsChanged += int64(n)
	c.mu.Unlock()
}

// AddMappingsLearned records new server-to-client entity mappings applied.
func (c *Counters) AddMappingsLearned(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.mappingsLearned += int64(n)
	c.mu.Unlock()
}

// AddDespawnsApplied records entity despawns applied.
func (c *Counters) AddDespawnsApplied(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.despawnsApplied += int64(n)
	c.mu.Unlock()
}

// Snapshot is a point-in-time, race-free copy of all six counters.
type Snapshot struct {
	BytesReceived     int64
	MessagesReceived  int64
	EntitiesChanged   int64
	ComponentsChanged int64
	MappingsLearned   int64
	DespawnsApplied   int64
}

// Snapshot returns a copy of the current counter values.
func (c *Counters) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		BytesReceived:     c.bytesReceived,
		MessagesReceived:  c.messagesReceived,
		EntitiesChanged:   c.entitiesChanged,
		ComponentsChanged: c.componentsChanged,
		MappingsLearned:   c.mappingsLearned,
		DespawnsApplied:   c.despawnsApplied,
	}
}

// Reset zeroes all counters, used when a connection resets (spec §5).
func (c *Counters) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesReceived = 0
	c.messagesReceived = 0
	c.entitiesChanged = 0
	c.componentsChanged = 0
	c.mappingsLearned = 0
	c.despawnsApplied = 0
	c.mu.Unlock()
}
