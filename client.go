package replicore

import (
	"replicore/internal/applier"
	"replicore/internal/channel"
	"replicore/internal/config"
	"replicore/internal/entitymap"
	"replicore/internal/logging"
	"replicore/internal/metrics"
	"replicore/internal/registry"
	"replicore/internal/tick"
	"replicore/internal/transport"
)

// Client is the client-side replication engine: it owns the applier, the
// server-to-client entity map, and the observable counters for a single
// connection. Tick drives one Receive phase (spec §5, §6 ReceivePackets →
// Receive): every pending Update message is applied first, then every
// pending Mutation message is buffered and any due mutations are drained
// against the freshly observed update tick.
type Client struct {
	applier   *applier.Applier
	entityMap *entitymap.Map
	transport channel.Transport
	cfg       *config.Config
	log       *logging.Logger
	metrics   *metrics.Counters
	status    channel.Status
}

// NewClient constructs a Client bound to reg for FnsID resolution and w for
// world mutation. A nil logger falls back to the package-global logger.
func NewClient(reg *registry.Registry, w applier.World, cfg *config.Config, log *logging.Logger) *Client {
	if log == nil {
		log = logging.L()
	}
	entityMap := entitymap.New()
	counters := metrics.New()
	return &Client{
		applier:   applier.New(reg, w, entityMap, log, counters),
		entityMap: entityMap,
		cfg:       cfg,
		log:       log,
		metrics:   counters,
		status:    channel.Disconnected,
	}
}

// Metrics returns the client's observable counters.
func (c *Client) Metrics() *metrics.Counters {
	return c.metrics
}

// Stats reports the connection's RTT, packet loss, and throughput, if its
// transport exposes them (spec §7's RTT/packet-loss/throughput
// supplement). The second return is false if there is no transport
// attached or it does not report stats.
func (c *Client) Stats() (transport.Stats, bool) {
	reporter, ok := c.transport.(statsReporter)
	if !ok {
		return transport.Stats{}, false
	}
	return reporter.Stats(), true
}

// ResolveClientEntity looks up the local client entity mapped to server, for
// consumers that need to locate replicated state by its server-assigned
// identity.
func (c *Client) ResolveClientEntity(server entitymap.ServerEntity) (entitymap.ClientEntity, bool) {
	return c.entityMap.GetByServer(server)
}

// ServerUpdateTick returns the highest update tick observed so far.
func (c *Client) ServerUpdateTick() (tick.Tick, bool) {
	return c.applier.ServerUpdateTick()
}

// Connect attaches t as the client's transport and clears all replication
// state (spec §5, §6's ResetEvents hook on a fresh connection): a new
// session always starts from an empty entity map and history, since the
// server likewise starts the connection from a clean per-client state.
func (c *Client) Connect(t channel.Transport) {
	c.transport = t
	c.status = channel.Connected
	c.applier.Reset()
	c.entityMap.Clear()
	c.metrics.Reset()
}

// Reset discards all buffered mutations, the server entity map, and the
// observable counters, used on disconnect (spec §5 Reset hook).
func (c *Client) Reset() {
	c.applier.Reset()
	c.entityMap.Clear()
	c.metrics.Reset()
	c.status = channel.Disconnected
}

// Tick drives one Receive phase: it applies every pending Update message,
// buffers every pending Mutation message, drains the mutations that are now
// due, and flushes any accumulated mutate acks back to the server on the
// Updates channel (spec §4.11, §5).
func (c *Client) Tick() error {
	if c.transport == nil {
		return nil
	}
	if c.transport.Status() != channel.Connected {
		if c.status == channel.Connected {
			c.Reset()
		}
		return nil
	}

	for _, payload := range c.transport.Receive(channel.Updates) {
		c.metrics.AddBytesReceived(len(payload))
		c.metrics.AddMessagesReceived(1)
		if err := c.applier.ApplyUpdate(payload); err != nil {
			c.log.Error("dropping malformed update message", logging.Error(err))
			return err
		}
	}

	var acks []byte
	for _, payload := range c.transport.Receive(channel.Mutations) {
		c.metrics.AddBytesReceived(len(payload))
		c.metrics.AddMessagesReceived(1)
		ack, err := c.applier.BufferMutation(payload, c.cfg.AckTrackingEnabled)
		if err != nil {
			c.log.Error("dropping malformed mutation message", logging.Error(err))
			return err
		}
		acks = append(acks, ack...)
	}
	if len(acks) > 0 {
		c.transport.Send(channel.Updates, acks)
	}

	return c.applier.DrainMutations()
}
