// Package tokenmap owns the sorted token ring, the per-keyspace replica
// tables derived from it, and the routing-key lookup that load-balancing
// policies consult (spec.md §4.C).
package tokenmap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/partitioner"
	"github.com/scylladb/cqlcluster/replication"
)

type ringEntry struct {
	token partitioner.Token
	host  *host.Host
}

// Map is the generic-over-partitioner ring plus per-keyspace replicas
// (spec.md §3.1 "TokenRing" and "TokenReplicas"). The zero value is not
// usable; construct with New.
//
// Map is owned by the control-connection thread: add/remove/build calls
// must not race each other. get_replicas is safe for concurrent readers
// once a Build has published a ring.
type Map struct {
	partitioner partitioner.Partitioner

	mu       sync.RWMutex
	ring     []ringEntry          // sorted by token, invariant I3
	pending  []ringEntry          // queued by Add, merged on Build
	removed  map[host.Address]bool
	replicas map[string][]tokenReplica // keyspace -> sorted replica table
	specs    map[string]replication.Strategy
	pendingSpecs map[string]replication.Strategy
	droppedKS    map[string]bool
}

type tokenReplica struct {
	token partitioner.Token
	hosts []*host.Host
}

// New constructs an empty Map for the given partitioner.
func New(p partitioner.Partitioner) *Map {
	return &Map{
		partitioner:  p,
		removed:      make(map[host.Address]bool),
		replicas:     make(map[string][]tokenReplica),
		specs:        make(map[string]replication.Strategy),
		pendingSpecs: make(map[string]replication.Strategy),
		droppedKS:    make(map[string]bool),
	}
}

// FromPartitionerName resolves the partitioner by its reported class name
// (spec.md §4.G.4: "skip if unsupported, in that case log and continue
// without token-awareness"). It returns nil, nil if the partitioner is
// unrecognized — callers should treat that as "continue without a token
// map" rather than as an error.
func FromPartitionerName(name string) (*Map, error) {
	p := partitioner.ForName(name)
	if p == nil {
		return nil, nil //nolint:nilnil // unsupported partitioner is a valid, non-error outcome.
	}
	return New(p), nil
}

// Partitioner returns the partitioner this map hashes routing keys with.
func (m *Map) Partitioner() partitioner.Partitioner { return m.partitioner }

// AddHost queues host's tokens for the next Build (spec.md §4.C
// "add_host"). It does not rebuild the ring or any replica table.
func (m *Map) AddHost(h *host.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addHostLocked(h)
}

func (m *Map) addHostLocked(h *host.Host) error {
	delete(m.removed, h.Address)
	for _, ts := range h.Tokens {
		tok, err := m.partitioner.ParseString(ts)
		if err != nil {
			return fmt.Errorf("tokenmap: host %s: %w", h.Address, err)
		}
		m.pending = append(m.pending, ringEntry{token: tok, host: h})
	}
	return nil
}

// UpdateHostAndBuild replaces host's ring entries with its current token
// set and immediately rebuilds (spec.md §4.C "update_host_and_build").
func (m *Map) UpdateHostAndBuild(h *host.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeHostLocked(h.Address)
	if err := m.addHostLocked(h); err != nil {
		return err
	}
	m.buildLocked()
	return nil
}

// RemoveHostAndBuild deletes every ring entry owned by addr and rebuilds
// (spec.md §4.C "remove_host_and_build").
func (m *Map) RemoveHostAndBuild(addr host.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeHostLocked(addr)
	m.buildLocked()
}

func (m *Map) removeHostLocked(addr host.Address) {
	m.removed[addr] = true

	filtered := m.ring[:0]
	for _, e := range m.ring {
		if e.host.Address != addr {
			filtered = append(filtered, e)
		}
	}
	m.ring = filtered

	pendingFiltered := m.pending[:0]
	for _, e := range m.pending {
		if e.host.Address != addr {
			pendingFiltered = append(pendingFiltered, e)
		}
	}
	m.pending = pendingFiltered
}

// AddKeyspaces parses replication specs from system_schema.keyspaces rows
// and queues them for the next targeted rebuild (spec.md §4.C
// "add_keyspaces"). Each row must provide "keyspace_name" and
// "replication" (already decoded from the map<varchar,varchar> column).
func (m *Map) AddKeyspaces(rows []KeyspaceRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		spec, err := replication.ParseSpec(row.Replication)
		if err != nil {
			return fmt.Errorf("tokenmap: keyspace %s: %w", row.Name, err)
		}
		m.pendingSpecs[row.Name] = spec
		delete(m.droppedKS, row.Name)
	}
	return nil
}

// KeyspaceRow is a decoded system_schema.keyspaces row.
type KeyspaceRow struct {
	Name        string
	Replication map[string]string
}

// UpdateKeyspacesAndBuild parses rows and rebuilds replicas only for the
// keyspaces that changed (spec.md §4.C "update_keyspaces_and_build").
func (m *Map) UpdateKeyspacesAndBuild(rows []KeyspaceRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := make([]string, 0, len(rows))
	for _, row := range rows {
		spec, err := replication.ParseSpec(row.Replication)
		if err != nil {
			return fmt.Errorf("tokenmap: keyspace %s: %w", row.Name, err)
		}
		if existing, ok := m.specs[row.Name]; !ok || !existing.Equal(spec) {
			changed = append(changed, row.Name)
		}
		m.specs[row.Name] = spec
		delete(m.droppedKS, row.Name)
	}
	for _, ks := range changed {
		m.buildKeyspaceLocked(ks)
	}
	return nil
}

// DropKeyspace erases replicas and the strategy for name (spec.md §4.C
// "drop_keyspace").
func (m *Map) DropKeyspace(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.specs, name)
	delete(m.pendingSpecs, name)
	delete(m.replicas, name)
	m.droppedKS[name] = true
}

// Build sorts the ring, merging queued inserts into the existing sorted
// sequence, and materializes replicas for every known keyspace (spec.md
// §4.C "build"). Duplicate tokens resolve to the most recently inserted
// host.
func (m *Map) Build() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildLocked()
}

func (m *Map) buildLocked() {
	// Keyed by the token's string form: BytesToken (a slice) and BigToken
	// (a pointer) cannot be compared by value as map keys.
	merged := make(map[string]ringEntry, len(m.ring)+len(m.pending))
	for _, e := range m.ring {
		merged[e.token.String()] = e
	}
	for _, e := range m.pending {
		merged[e.token.String()] = e // last insertion wins
	}
	m.pending = nil

	ring := make([]ringEntry, 0, len(merged))
	for _, e := range merged {
		ring = append(ring, e)
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].token.Less(ring[j].token) })
	m.ring = ring

	for ks, spec := range m.pendingSpecs {
		m.specs[ks] = spec
	}
	m.pendingSpecs = make(map[string]replication.Strategy)

	for ks := range m.specs {
		m.buildKeyspaceLocked(ks)
	}
}

func (m *Map) buildKeyspaceLocked(ks string) {
	spec, ok := m.specs[ks]
	if !ok {
		delete(m.replicas, ks)
		return
	}
	placer, ok := spec.(replication.Placer)
	if !ok {
		delete(m.replicas, ks)
		return
	}

	n := len(m.ring)
	table := make([]tokenReplica, n)
	for i, e := range m.ring {
		walk := make([]replication.RingHost, n)
		for j := 0; j < n; j++ {
			re := m.ring[(i+j)%n]
			walk[j] = replication.RingHost{Host: re.host, Datacenter: re.host.Datacenter, Rack: re.host.Rack}
		}
		table[i] = tokenReplica{token: e.token, hosts: placer.Place(walk)}
	}
	m.replicas[ks] = table
}

// GetReplicas computes t = partitioner.Hash(routingKey), binary-searches
// for the first ring entry with token > t (wrapping), and returns its
// replica list for keyspace, or nil if the keyspace is unknown (spec.md
// §4.C "get_replicas").
func (m *Map) GetReplicas(keyspace string, routingKey []byte) []*host.Host {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, ok := m.replicas[keyspace]
	if !ok || len(table) == 0 {
		return nil
	}

	t := m.partitioner.Hash(routingKey)
	idx := sort.Search(len(table), func(i int) bool { return t.Less(table[i].token) })
	if idx >= len(table) {
		idx = 0
	}
	return table[idx].hosts
}

// RingSize reports the number of ring entries, for diagnostics and tests.
func (m *Map) RingSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ring)
}

// Keyspaces lists the keyspaces currently replicated, for diagnostics.
func (m *Map) Keyspaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.specs))
	for ks := range m.specs {
		out = append(out, ks)
	}
	sort.Strings(out)
	return out
}
