package registry

// ConnectedClients is an ordered, replication-aware connection roster,
// grounded on original_source/src/core/connected_clients.rs's resource of
// the same name: besides tracking who is connected, each client carries a
// replicateAfterConnect flag gating whether it is immediately eligible for
// archetype scans or must be explicitly armed by the caller first.
type ConnectedClients struct {
	order []string
	armed map[string]bool
}

// NewConnectedClients returns an empty roster.
func NewConnectedClients() *ConnectedClients {
	return &ConnectedClients{armed: make(map[string]bool)}
}

// Add registers id, eligible for replication immediately if
// replicateAfterConnect is true, otherwise pending until Arm is called. A
// repeat Add for an already-connected id updates its armed state in place
// without disturbing its position in connection order.
func (c *ConnectedClients) Add(id string, replicateAfterConnect bool) {
	if _, exists := c.armed[id]; !exists {
		c.order = append(c.order, id)
	}
	c.armed[id] = replicateAfterConnect
}

// Remove discards id from the roster. A no-op if id is not connected.
func (c *ConnectedClients) Remove(id string) {
	if _, ok := c.armed[id]; !ok {
		return
	}
	delete(c.armed, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Arm marks id eligible for archetype scans and mutation replication. A
// no-op if id is not connected.
func (c *ConnectedClients) Arm(id string) {
	if _, ok := c.armed[id]; ok {
		c.armed[id] = true
	}
}

// IsArmed reports whether id is both connected and eligible for
// replication.
func (c *ConnectedClients) IsArmed(id string) bool {
	return c.armed[id]
}

// IDs returns every connected client id in connection order.
func (c *ConnectedClients) IDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len reports the number of connected clients, armed or pending.
func (c *ConnectedClients) Len() int {
	return len(c.order)
}
