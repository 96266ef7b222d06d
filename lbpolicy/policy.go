// Package lbpolicy implements the pluggable, composable load-balancing
// policy chain (spec.md §4.F): round-robin, datacenter-aware, token-aware,
// latency-aware, allow/deny lists and host-targeting, plus the bottom-up
// chain builder from §4.F.7.
package lbpolicy

import (
	"math/rand"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/plan"
	"github.com/scylladb/cqlcluster/tokenmap"
)

// Distance classifies how a policy wants a host treated (spec.md §4.F).
type Distance int

const (
	Local Distance = iota
	Remote
	Ignore
)

// Policy is the capability set every load-balancing policy implements
// (spec.md §4.F). Policy satisfies host.Listener so it can be registered
// directly on a host.Registry.
type Policy interface {
	host.Listener

	// Init seeds the policy with the host set known at connect time, the
	// host the control connection is on, the session RNG, and the local
	// datacenter (possibly empty, meaning "infer from connectedHost").
	Init(connectedHost *host.Host, hosts []*host.Host, rng *rand.Rand, localDC string)

	// Distance classifies h for pool-sizing / consideration purposes.
	Distance(h *host.Host) Distance

	// NewQueryPlan builds a plan for one request. tm may be nil if no
	// token map has been built yet (spec.md §4.G.4: unsupported
	// partitioner means "continue without token-awareness").
	NewQueryPlan(req plan.RequestHandler, tm *tokenmap.Map) plan.Plan

	// IsHostUp reports whether addr is currently considered up by this
	// policy's bookkeeping (not necessarily identical to Host.IsUp: list
	// policies report IGNOREd hosts as always down to callers that only
	// check liveness).
	IsHostUp(addr host.Address) bool
}

// ChildPolicy is implemented by policies that wrap another policy (every
// layer BuildChain composes), letting a caller walk a chain down to its
// base — used by the cluster connector to tailor its "no hosts available"
// message to the load-balancing scheme actually in effect (spec.md §4.H).
type ChildPolicy interface {
	Child() Policy
}

// Builder produces independent Policy instances from shared configuration,
// replacing the source driver's Policy::new_instance cloning (spec.md §9
// design notes: "Replace with an explicit Policy::Builder that yields
// independent policy instances from a shared configuration and a freshly
// initialized state"). Each execution profile calls Build once to get its
// own mutable policy state.
type Builder interface {
	Build() Policy
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func() Policy

func (f BuilderFunc) Build() Policy { return f() }
