// Package entitymap implements the bidirectional mapping between server and
// client entity identifiers used by the client applier (spec §4.6).
//
// Grounded on original_source/src/client.rs's NetworkEntityMap
// (get_by_server_or_spawn, remove_by_server) and
// original_source/src/core/replication_fns/ctx.rs's WriteCtx::map_entity
// (get_by_server_or_insert pattern), following the teacher's
// go-broker/internal/networking/chunks.go convention of a mutex-guarded
// index exposing small, explicit operations rather than exporting raw maps.
package entitymap

import (
	"sync"

	"replicore/internal/entityid"
)

// ServerEntity and ClientEntity are aliases of entityid.Entity that name the
// two identifier spaces at call sites. Being aliases, they are the same type,
// so the compiler does not catch one passed where the other is expected.
type (
	ServerEntity = entityid.Entity
	ClientEntity = entityid.Entity
)

// Map maintains the mutually consistent server<->client entity mapping for
// a single client connection (spec §4.6, invariant: both directions agree).
type Map struct {
	mu           sync.RWMutex
	serverToClient map[ServerEntity]ClientEntity
	clientToServer map[ClientEntity]ServerEntity
}

// New constructs an empty entity map.
func New() *Map {
	return &Map{
		serverToClient: make(map[ServerEntity]ClientEntity),
		clientToServer: make(map[ClientEntity]ServerEntity),
	}
}

// Insert records a server<->client entity pair, overwriting any prior
// mapping for either side.
func (m *Map) Insert(server ServerEntity, client ClientEntity) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(server, client)
}

func (m *Map) insertLocked(server ServerEntity, client ClientEntity) {
	if old, ok := m.serverToClient[server]; ok {
		delete(m.clientToServer, old)
	}
	m.serverToClient[server] = client
	m.clientToServer[client] = server
}

// RemoveByServer evicts the mapping for server, returning the client entity
// it was bound to, if any (spec §4.11 DESPAWNS handling).
func (m *Map) RemoveByServer(server ServerEntity) (ClientEntity, bool) {
	if m == nil {
		return ClientEntity{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.serverToClient[server]
	if !ok {
		return ClientEntity{}, false
	}
	delete(m.serverToClient, server)
	delete(m.clientToServer, client)
	return client, true
}

// GetByServer returns the client entity mapped to server, if any.
func (m *Map) GetByServer(server ServerEntity) (ClientEntity, bool) {
	if m == nil {
		return ClientEntity{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.serverToClient[server]
	return client, ok
}

// GetByClient returns the server entity mapped to client, if any.
func (m *Map) GetByClient(client ClientEntity) (ServerEntity, bool) {
	if m == nil {
		return ServerEntity{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	server, ok := m.clientToServer[client]
	return server, ok
}

// GetByServerOrInsert resolves server to its mapped client entity, or, on a
// miss, invokes spawn to create a fresh client entity, records the mapping,
// and returns it (spec §4.6 / §4.11 resolve-or-spawn).
func (m *Map) GetByServerOrInsert(server ServerEntity, spawn func() ClientEntity) ClientEntity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.serverToClient[server]; ok {
		return client
	}
	client := spawn()
	m.insertLocked(server, client)
	return client
}

// Len reports the number of mapped entity pairs.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.serverToClient)
}

// Clear removes every mapping, used on Reset after a disconnect (spec §5).
func (m *Map) Clear() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverToClient = make(map[ServerEntity]ClientEntity)
	m.clientToServer = make(map[ClientEntity]ServerEntity)
}
