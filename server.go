// Package replicore is the server- and client-side replication engine
// facade: it wires the registry, archetype cache, message builder, entity
// map, applier, and ack tracker packages behind the two-phase per-tick
// driver spec.md §5 describes (a cooperative Receive phase followed by a
// Send phase, with no concurrent access to shared replication state).
package replicore

import (
	"replicore/internal/acktrack"
	"replicore/internal/archetype"
	"replicore/internal/builder"
	"replicore/internal/channel"
	"replicore/internal/config"
	"replicore/internal/entitymap"
	"replicore/internal/logging"
	"replicore/internal/metrics"
	"replicore/internal/registry"
	"replicore/internal/tick"
	"replicore/internal/transport"
)

// statsReporter is satisfied by transport.WebSocket; Server.Stats type-
// asserts for it rather than widening channel.Transport, since RTT/loss/
// throughput accounting is a transport-specific extra, not a replication
// concern every Transport implementation needs.
type statsReporter interface {
	Stats() transport.Stats
}

// serverClient holds the per-connection state the server keeps for one
// client: its builder bookkeeping, ack tracker, the transport it is driven
// through, and a side table resolving an acked mutate_index back to the
// message_tick it was sent for (the wire ack payload carries only the
// index, spec §4.12).
type serverClient struct {
	state      *builder.ClientState
	transport  channel.Transport
	tracker    *acktrack.Tracker
	metrics    *metrics.Counters
	indexTicks map[uint16]tick.Tick

	// log is the per-connection logger, tagged with a trace ID generated at
	// Connect so every line for this client's lifetime can be correlated
	// without threading a context.Context through Tick.
	log *logging.Logger
}

// Server is the server-side replication engine. One Server instance serves
// every connected client; Tick drives one full Send phase (spec §5, §6
// Send → SendPackets) across all of them.
type Server struct {
	registry  *registry.Registry
	rules     *registry.Rules
	cache     *archetype.Cache
	builder   *builder.Builder
	bandwidth *builder.BandwidthRegulator
	roster    *registry.ConnectedClients
	cfg       *config.Config
	log       *logging.Logger

	clients map[string]*serverClient
}

// NewServer constructs a Server bound to reg and rules for archetype
// resolution, using cfg for MTU, per-client bandwidth budget, and
// ack-tracking behavior. A nil logger falls back to the package-global
// logger.
func NewServer(reg *registry.Registry, rules *registry.Rules, cfg *config.Config, log *logging.Logger) *Server {
	if log == nil {
		log = logging.L()
	}
	return &Server{
		registry:  reg,
		rules:     rules,
		cache:     archetype.NewCache(log),
		builder:   builder.New(reg, cfg.MTU),
		bandwidth: builder.NewBandwidthRegulator(float64(cfg.BandwidthBytesPerSec), float64(cfg.BandwidthBurstBytes), nil),
		roster:    registry.NewConnectedClients(),
		cfg:       cfg,
		log:       log,
		clients:   make(map[string]*serverClient),
	}
}

// Connect registers a newly accepted client connection under id, driven
// through t, and arms it for replication immediately. A fresh
// builder.ClientState and ack tracker are allocated; any previous
// connection state for id is discarded first.
func (s *Server) Connect(id string, t channel.Transport) {
	s.connect(id, t, true)
}

// ConnectPending registers id like Connect but leaves it unarmed: it is
// connected and can send mutate acks, but archetype scans skip it and it
// receives no Update or Mutation traffic until Arm(id) is called (spec §7's
// connection-roster supplement, grounded on
// original_source/src/core/connected_clients.rs's replicateAfterConnect
// flag — useful when a caller wants to finish out-of-band setup, such as
// QueuePreSpawnedMapping, before a client starts observing world state).
func (s *Server) ConnectPending(id string, t channel.Transport) {
	s.connect(id, t, false)
}

func (s *Server) connect(id string, t channel.Transport, replicateAfterConnect bool) {
	log, _ := logging.WithTrace(s.log, "")
	s.clients[id] = &serverClient{
		state:      builder.NewClientState(id),
		transport:  t,
		tracker:    acktrack.New(),
		metrics:    metrics.New(),
		indexTicks: make(map[uint16]tick.Tick),
		log:        log,
	}
	s.roster.Add(id, replicateAfterConnect)
	log.Info("client connected", logging.String("client_id", id), logging.Bool("armed", replicateAfterConnect))
}

// Arm marks a previously ConnectPending client eligible for replication. A
// no-op if id is not connected or already armed.
func (s *Server) Arm(id string) {
	s.roster.Arm(id)
}

// Disconnect discards id's connection state (spec §5 Reset hook).
func (s *Server) Disconnect(id string) {
	delete(s.clients, id)
	s.bandwidth.Forget(id)
	s.roster.Remove(id)
}

// Client returns id's observable counters, or nil if id is not connected.
func (s *Server) Client(id string) *metrics.Counters {
	c, ok := s.clients[id]
	if !ok {
		return nil
	}
	return c.metrics
}

// Stats reports id's connection-level RTT, packet loss, and throughput, if
// its transport exposes them (spec §7's RTT/packet-loss/throughput
// supplement). The second return is false if id is not connected or its
// transport does not report stats.
func (s *Server) Stats(id string) (transport.Stats, bool) {
	c, ok := s.clients[id]
	if !ok {
		return transport.Stats{}, false
	}
	reporter, ok := c.transport.(statsReporter)
	if !ok {
		return transport.Stats{}, false
	}
	return reporter.Stats(), true
}

// QueuePreSpawnedMapping records a mapping the caller has already
// established out of band (a pre-spawned-entity hint), to be sent to id in
// its next Update message.
func (s *Server) QueuePreSpawnedMapping(id string, server entitymap.ServerEntity, client entitymap.ClientEntity) {
	c, ok := s.clients[id]
	if !ok {
		return
	}
	c.state.PendingMappings[server] = client
}

// Tick drives one full Send phase at currentTick (spec §5, §6): it
// rescans w for newly discovered replicated archetypes, drains and applies
// any mutate acks each client has sent back since the last call, then
// builds and sends that client's Update message followed by zero or more
// Mutation message fragments.
func (s *Server) Tick(w builder.World, currentTick tick.Tick) {
	s.cache.Update(w, s.rules)
	s.builder.BeginTick()

	for id, c := range s.clients {
		if c.transport.Status() != channel.Connected {
			continue
		}
		s.receiveAcks(c)
		if !s.roster.IsArmed(id) {
			continue
		}

		// BuildMutations must run before BuildUpdate: the latter marks
		// newly-synced entities Known as it emits their CHANGES, and a
		// mutation fragment built afterwards would needlessly resend the
		// same value for an entity's very first tick.
		mutations := s.builder.BuildMutations(w, s.cache, c.state, currentTick, s.cfg.AckTrackingEnabled)
		sent := 0
		for _, m := range mutations {
			if !s.bandwidth.Allow(id, len(m.Bytes)) {
				// Over budget: drop this fragment for now. Since the
				// client's AckedUpdateTick hasn't advanced, the same
				// component change reappears in next tick's BuildMutations.
				continue
			}
			if s.cfg.AckTrackingEnabled {
				index := uint16(m.MutateIndex)
				c.tracker.Track(m.MessageTick, index)
				c.indexTicks[index] = m.MessageTick
			}
			c.transport.Send(channel.Mutations, m.Bytes)
			sent++
		}

		update := s.builder.BuildUpdate(w, s.cache, c.state, currentTick)
		c.transport.Send(channel.Updates, update.Bytes)
		c.log.Debug("built tick for client",
			logging.String("client_id", id),
			logging.Int("mutation_fragments", sent),
			logging.Int("mutation_fragments_throttled", len(mutations)-sent))
	}
}

// receiveAcks drains pending mutate acks from c's Updates channel and
// advances c's acked update tick whenever a tracked message tick becomes
// fully acknowledged (spec §4.12): this lets the builder stop resending
// CHANGES for entities the client has confirmed without waiting for a
// dedicated update-tick acknowledgment.
func (s *Server) receiveAcks(c *serverClient) {
	for _, payload := range c.transport.Receive(channel.Updates) {
		for _, index := range acktrack.DecodeAcks(payload) {
			messageTick, ok := c.indexTicks[index]
			if !ok {
				continue
			}
			if !c.tracker.Ack(messageTick, index) {
				continue
			}
			delete(c.indexTicks, index)
			if tick.After(messageTick, c.state.AckedUpdateTick) {
				c.state.AckedUpdateTick = messageTick
			}
		}
	}
}
