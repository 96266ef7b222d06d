package host

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// LatencyStats is a timestamped snapshot of a host's moving-average request
// latency, as consulted by the LatencyAware policy (spec.md §4.F.4).
type LatencyStats struct {
	Average   time.Duration
	Samples   int64
	UpdatedAt time.Time
}

// Host is owned by the Registry; it is shared, via pointer, between the
// registry and every load-balancing policy's query plans (spec.md §3.1).
// Everything but IsUp and latency bookkeeping is immutable after
// construction, mirroring the teacher's nodeStatus = atomic.Bool pattern
// (transport/node.go) extended to the rest of the mutable surface.
type Host struct {
	Address         Address
	Rack            string
	Datacenter      string
	HostID          uuid.UUID
	Tokens          []string
	ListenAddress   Address
	CassandraVersion string
	DSEVersion      string // empty if not a DSE node

	up      atomic.Bool
	latency atomic.Value // stores LatencyStats
}

// New constructs a Host; it starts marked up with no latency samples.
func New(addr Address) *Host {
	h := &Host{Address: addr}
	h.up.Store(true)
	h.latency.Store(LatencyStats{})
	return h
}

// IsUp reports the host's current liveness.
func (h *Host) IsUp() bool { return h.up.Load() }

// SetUp flips liveness. Returns true if this call changed the state, so
// callers can decide whether to fire on_host_up/on_host_down exactly once
// per transition (spec.md invariant I5).
func (h *Host) SetUp(up bool) bool {
	return h.up.Swap(up) != up
}

// Latency returns the current latency snapshot.
func (h *Host) Latency() LatencyStats {
	return h.latency.Load().(LatencyStats)
}

// UpdateLatency lock-free-replaces the latency snapshot. Callers read-modify
// under their own EWMA math and publish the result; concurrent writers may
// race and the last write wins, which is acceptable for a statistic used
// only to bias, never to gate, routing decisions.
func (h *Host) UpdateLatency(s LatencyStats) {
	h.latency.Store(s)
}

// String renders a short debug form, e.g. for log lines.
func (h *Host) String() string {
	return h.Address.String()
}
