// Package plan defines the lazy host-iterator abstraction that
// load-balancing policies produce and request handlers consume (spec.md
// §4.E).
package plan

import (
	"github.com/scylladb/cqlcluster/host"
)

// Plan is a lazy, finite, non-restartable sequence of candidate hosts for
// one request. It retains no locks and may safely outlive the
// copy-on-write snapshot it was built from.
type Plan interface {
	// Next returns the next candidate host, or nil when the plan is
	// exhausted. A well-formed Plan never returns the same address twice
	// (spec.md invariant I7) and always eventually returns nil.
	Next() *host.Host
}

// Func adapts a plain function to the Plan interface.
type Func func() *host.Host

func (f Func) Next() *host.Host { return f() }

// Empty is a Plan that immediately returns nil.
var Empty Plan = Func(func() *host.Host { return nil })

// Slice returns a Plan that yields hosts in order and then stops.
func Slice(hosts []*host.Host) Plan {
	i := 0
	return Func(func() *host.Host {
		if i >= len(hosts) {
			return nil
		}
		h := hosts[i]
		i++
		return h
	})
}

// Chain returns a Plan that exhausts first, then second, skipping any host
// from second whose address already appeared from first (maintaining
// invariant I7 across composed plans).
func Chain(first, second Plan) Plan {
	seen := make(map[host.Address]bool)
	var fromFirst = true
	return Func(func() *host.Host {
		if fromFirst {
			if h := first.Next(); h != nil {
				seen[h.Address] = true
				return h
			}
			fromFirst = false
		}
		for {
			h := second.Next()
			if h == nil {
				return nil
			}
			if !seen[h.Address] {
				seen[h.Address] = true
				return h
			}
		}
	})
}

// Filter returns a Plan that only yields hosts from p for which keep
// returns true.
func Filter(p Plan, keep func(*host.Host) bool) Plan {
	return Func(func() *host.Host {
		for {
			h := p.Next()
			if h == nil {
				return nil
			}
			if keep(h) {
				return h
			}
		}
	})
}

// RequestHandler carries the routing context a policy needs to build a
// plan for one request (spec.md §4.E).
type RequestHandler struct {
	KeyspaceOverride string
	RoutingKey       []byte
	// Composite is true when RoutingKey was built with
	// partitioner.EncodeComposite rather than being a single raw
	// component.
	Composite bool
	// PreferredHost, if non-nil, is consulted by the HostTargeting policy.
	PreferredHost *host.Host
	Consistency   Consistency
}

// Consistency mirrors the CQL consistency level byte; the core only needs
// to know LOCAL_* from non-LOCAL_* for DCAware's skip_remote_dcs_for_local_cl
// (spec.md §4.F.2).
type Consistency uint16

const (
	Any Consistency = iota
	One
	Two
	Three
	Quorum
	All
	LocalQuorum
	EachQuorum
	Serial
	LocalSerial
	LocalOne
)

// IsLocal reports whether cl is one of the LOCAL_* consistency levels.
func (cl Consistency) IsLocal() bool {
	switch cl {
	case LocalQuorum, LocalSerial, LocalOne:
		return true
	default:
		return false
	}
}
