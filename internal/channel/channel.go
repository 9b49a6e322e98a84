// Package channel defines the two logical replication channels and the
// Transport boundary the engine is driven through (spec §4.3, §6).
//
// Grounded on bevy_replicon's RepliconClient/RepliconServer resources
// (original_source/src/core/replicon_client.rs,
// original_source/src/server/replicon_server.rs): per-channel send/receive
// queues decoupled from any specific messaging backend.
package channel

// Channel identifies one of the two logical replication streams.
type Channel uint8

const (
	// Updates is reliable and in-order: spawns, despawns, insertions,
	// removals, entity mappings, and client-to-server mutate acks.
	Updates Channel = iota
	// Mutations is unreliable or reliable-unordered: pure component-value
	// mutations, possibly fragmented across several messages.
	Mutations
)

func (c Channel) String() string {
	switch c {
	case Updates:
		return "updates"
	case Mutations:
		return "mutations"
	default:
		return "unknown"
	}
}

// Status describes the connection lifecycle state of a Transport.
type Status uint8

const (
	// Disconnected means no session is active.
	Disconnected Status = iota
	// Connecting means a session handshake is in flight.
	Connecting
	// Connected means the session is active and channels may carry traffic.
	Connected
)

// Transport is the external collaborator the engine is driven through
// (spec §6). A concrete implementation (see internal/transport) owns the
// actual datagram/stream delivery; the engine only ever calls Receive/Send
// and observes Status.
type Transport interface {
	// Receive drains all messages received on ch since the last call.
	Receive(ch Channel) [][]byte
	// Send enqueues payload for delivery on ch.
	Send(ch Channel, payload []byte)
	// Status reports the current connection lifecycle state.
	Status() Status
}
