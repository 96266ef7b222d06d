package replication

import "github.com/scylladb/cqlcluster/host"

// RingHost is one step of a ring walk starting at the ring position being
// replicated, already rotated and de-duplicated by position (but not by
// host identity — the same host may legitimately own several ring
// positions and will appear once per owned token encountered during the
// walk).
type RingHost struct {
	Host       *host.Host
	Datacenter string
	Rack       string
}

// Placer is implemented by every Strategy to turn one ring walk into an
// ordered replica list, per spec.md §4.B. It is kept separate from the
// Strategy interface's Equal/String/ReplicationFactor so that tests can
// build fake strategies without also faking placement.
type Placer interface {
	Place(walk []RingHost) []*host.Host
}

var (
	_ Placer = Simple{}
	_ Placer = NetworkTopology{}
	_ Placer = NonReplicated{}
)

// Place walks the ring starting at the token and collects distinct hosts
// until min(rf, total_hosts) have been gathered (spec.md §4.B).
func (s Simple) Place(walk []RingHost) []*host.Host {
	return placeSimple(int(s.RF), walk)
}

func (NonReplicated) Place(walk []RingHost) []*host.Host {
	return placeSimple(1, walk)
}

func placeSimple(rf int, walk []RingHost) []*host.Host {
	seen := make(map[host.Address]bool, rf)
	out := make([]*host.Host, 0, rf)
	for _, rh := range walk {
		if len(out) >= rf {
			break
		}
		if seen[rh.Host.Address] {
			continue
		}
		seen[rh.Host.Address] = true
		out = append(out, rh.Host)
	}
	return out
}

// Place implements the rack-aware NetworkTopologyStrategy walk described in
// spec.md §4.B step 7. Replicas are emitted in ring-encounter order; DC
// grouping is not enforced in the output sequence.
func (n NetworkTopology) Place(walk []RingHost) []*host.Host {
	racksInDC := make(map[string]map[string]bool)
	for _, rh := range walk {
		if _, ok := n.RFPerDC[rh.Datacenter]; !ok {
			continue
		}
		if racksInDC[rh.Datacenter] == nil {
			racksInDC[rh.Datacenter] = make(map[string]bool)
		}
		if rh.Rack != "" {
			racksInDC[rh.Datacenter][rh.Rack] = true
		}
	}

	type dcState struct {
		quota     int
		accepted  []*host.Host
		seenAddr  map[host.Address]bool
		racksSeen map[string]bool
		skipped   []RingHost
	}
	states := make(map[string]*dcState, len(n.RFPerDC))
	for dc, rf := range n.RFPerDC {
		states[dc] = &dcState{
			quota:     int(rf),
			seenAddr:  make(map[host.Address]bool),
			racksSeen: make(map[string]bool),
		}
	}

	remaining := len(n.RFPerDC)
	for _, rh := range walk {
		if remaining == 0 {
			break
		}
		st, ok := states[rh.Datacenter]
		if !ok {
			continue
		}
		if len(st.accepted) >= st.quota {
			continue
		}
		if st.seenAddr[rh.Host.Address] {
			continue
		}

		totalRacks := len(racksInDC[rh.Datacenter])
		allRacksSeen := totalRacks == 0 || len(st.racksSeen) == totalRacks

		if allRacksSeen || rh.Rack == "" {
			st.seenAddr[rh.Host.Address] = true
			st.accepted = append(st.accepted, rh.Host)
			if len(st.accepted) >= st.quota {
				remaining--
			}
			continue
		}

		if st.racksSeen[rh.Rack] {
			st.skipped = append(st.skipped, rh)
			continue
		}

		st.seenAddr[rh.Host.Address] = true
		st.accepted = append(st.accepted, rh.Host)
		st.racksSeen[rh.Rack] = true
		if len(st.accepted) >= st.quota {
			remaining--
			continue
		}

		if len(st.racksSeen) == totalRacks {
			drained := st.skipped[:0]
			for _, sk := range st.skipped {
				if len(st.accepted) >= st.quota {
					drained = append(drained, sk)
					continue
				}
				if st.seenAddr[sk.Host.Address] {
					continue
				}
				st.seenAddr[sk.Host.Address] = true
				st.accepted = append(st.accepted, sk.Host)
				if len(st.accepted) >= st.quota {
					remaining--
				}
			}
			st.skipped = drained
		}
	}

	// Emit in ring-encounter order across all DCs, deduplicated against
	// the per-DC accepted sets built above.
	accepted := make(map[host.Address]bool)
	for _, st := range states {
		for _, h := range st.accepted {
			accepted[h.Address] = true
		}
	}
	out := make([]*host.Host, 0, n.ReplicationFactor())
	emitted := make(map[host.Address]bool, len(accepted))
	for _, rh := range walk {
		if accepted[rh.Host.Address] && !emitted[rh.Host.Address] {
			emitted[rh.Host.Address] = true
			out = append(out, rh.Host)
		}
	}
	return out
}
