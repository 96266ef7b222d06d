// Package replication turns a ring plus a keyspace's replication spec into
// per-token replica lists (spec.md §4.B).
package replication

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/go-cmp/cmp"
)

// Strategy computes, for a ring entry's token, the ordered list of hosts
// that replicate it. Implementations are compared for equality (used to
// decide whether a keyspace's replicas need to be rebuilt, spec.md §4.B)
// via the Equal method rather than struct identity, since two independently
// parsed specs for the same keyspace are routinely different values.
type Strategy interface {
	fmt.Stringer

	// ReplicationFactor returns the total number of replicas this
	// strategy asks for across all datacenters.
	ReplicationFactor() int

	// Equal reports whether other describes the same replication spec.
	Equal(other Strategy) bool
}

// Simple replicates every token to rf distinct hosts cluster-wide,
// ignoring datacenter/rack.
type Simple struct {
	RF uint16
}

func (s Simple) ReplicationFactor() int { return int(s.RF) }

func (s Simple) String() string {
	return fmt.Sprintf("SimpleStrategy{replication_factor=%d}", s.RF)
}

func (s Simple) Equal(other Strategy) bool {
	o, ok := other.(Simple)
	return ok && cmp.Equal(s, o)
}

// NetworkTopology replicates per-datacenter, honoring rack placement
// within each DC (spec.md §4.B).
type NetworkTopology struct {
	RFPerDC map[string]uint16
}

func (n NetworkTopology) ReplicationFactor() int {
	total := 0
	for _, rf := range n.RFPerDC {
		total += int(rf)
	}
	return total
}

func (n NetworkTopology) String() string {
	dcs := make([]string, 0, len(n.RFPerDC))
	for dc := range n.RFPerDC {
		dcs = append(dcs, dc)
	}
	sort.Strings(dcs)
	s := "NetworkTopologyStrategy{"
	for i, dc := range dcs {
		if i > 0 {
			s += ", "
		}
		s += dc + "=" + strconv.Itoa(int(n.RFPerDC[dc]))
	}
	return s + "}"
}

func (n NetworkTopology) Equal(other Strategy) bool {
	o, ok := other.(NetworkTopology)
	return ok && cmp.Equal(n.RFPerDC, o.RFPerDC)
}

// NonReplicated is identical to Simple{RF: 1} (spec.md §4.B).
type NonReplicated struct{}

func (NonReplicated) ReplicationFactor() int { return 1 }
func (NonReplicated) String() string         { return "org.apache.cassandra.locator.LocalStrategy" }
func (n NonReplicated) Equal(other Strategy) bool {
	o, ok := other.(NonReplicated)
	return ok && cmp.Equal(n, o)
}

// ParseSpec interprets system_schema.keyspaces.replication, a
// map<varchar,varchar> whose "class" entry names the strategy (spec.md
// §6.3). A value ending in "SimpleStrategy" selects Simple with
// replication_factor; one ending in "NetworkTopologyStrategy" treats every
// remaining key as a DC name with a decimal per-DC RF.
func ParseSpec(m map[string]string) (Strategy, error) {
	class := m["class"]
	switch {
	case hasSuffix(class, "SimpleStrategy"):
		rf, err := strconv.ParseUint(m["replication_factor"], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("replication: parsing replication_factor %q: %w", m["replication_factor"], err)
		}
		return Simple{RF: uint16(rf)}, nil
	case hasSuffix(class, "NetworkTopologyStrategy"):
		dcs := make(map[string]uint16, len(m)-1)
		for k, v := range m {
			if k == "class" {
				continue
			}
			rf, err := strconv.ParseUint(v, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("replication: parsing RF for dc %q: %w", k, err)
			}
			dcs[k] = uint16(rf)
		}
		return NetworkTopology{RFPerDC: dcs}, nil
	case hasSuffix(class, "LocalStrategy"), class == "":
		return NonReplicated{}, nil
	default:
		return nil, fmt.Errorf("replication: unsupported strategy class %q", class)
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
