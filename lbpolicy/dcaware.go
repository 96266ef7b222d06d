package lbpolicy

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/plan"
	"github.com/scylladb/cqlcluster/tokenmap"
)

// DCAware implements spec.md §4.F.2: local-DC hosts round-robin first,
// then up to usedHostsPerRemoteDC hosts from each remote DC.
type DCAware struct {
	localDC              string
	usedHostsPerRemoteDC int
	skipRemoteForLocalCL bool

	mu          sync.RWMutex
	byDC        map[string][]*host.Host
	up          map[host.Address]bool
	localIdx    uint64
	remoteIdx   map[string]uint64
}

// NewDCAware returns a Builder for DCAware policies. localDC may be empty,
// meaning "adopt the connected host's datacenter" (spec.md §4.F.2).
func NewDCAware(localDC string, usedHostsPerRemoteDC int, skipRemoteForLocalCL bool) Builder {
	return BuilderFunc(func() Policy {
		return &DCAware{
			localDC:              localDC,
			usedHostsPerRemoteDC: usedHostsPerRemoteDC,
			skipRemoteForLocalCL: skipRemoteForLocalCL,
			byDC:                 make(map[string][]*host.Host),
			up:                   make(map[host.Address]bool),
			remoteIdx:            make(map[string]uint64),
		}
	})
}

const unlabeledRemoteDC = "\x00remote-unlabeled"

func (p *DCAware) dcOf(h *host.Host) string {
	if h.Datacenter == "" {
		if p.localDC == "" {
			return p.localDC // empty DC treated as local when localDC unset
		}
		return unlabeledRemoteDC // placed last, per spec.md §4.F.2
	}
	return h.Datacenter
}

func (p *DCAware) Init(connectedHost *host.Host, hosts []*host.Host, _ *rand.Rand, localDC string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if localDC != "" {
		p.localDC = localDC
	}
	if p.localDC == "" && connectedHost != nil {
		p.localDC = connectedHost.Datacenter
	}

	p.byDC = make(map[string][]*host.Host)
	p.up = make(map[host.Address]bool, len(hosts))
	for _, h := range hosts {
		dc := p.dcOf(h)
		p.byDC[dc] = append(p.byDC[dc], h)
		p.up[h.Address] = h.IsUp()
	}
}

func (p *DCAware) Distance(h *host.Host) Distance {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.distanceLocked(h)
}

func (p *DCAware) distanceLocked(h *host.Host) Distance {
	dc := p.dcOf(h)
	if dc == p.localDC {
		return Local
	}
	if p.usedHostsPerRemoteDC <= 0 {
		return Ignore
	}
	hosts := p.byDC[dc]
	for i, rh := range hosts {
		if rh.Address == h.Address {
			if i < p.usedHostsPerRemoteDC {
				return Remote
			}
			return Ignore
		}
	}
	return Ignore
}

func (p *DCAware) IsHostUp(addr host.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.up[addr]
}

func (p *DCAware) NewQueryPlan(req plan.RequestHandler, _ *tokenmap.Map) plan.Plan {
	p.mu.Lock()
	local := append([]*host.Host(nil), p.byDC[p.localDC]...)
	localStart := p.localIdx
	p.localIdx++

	skipRemote := p.skipRemoteForLocalCL && req.Consistency.IsLocal()

	var remoteDCs []string
	remoteStart := make(map[string]uint64)
	if !skipRemote && p.usedHostsPerRemoteDC > 0 {
		for dc := range p.byDC {
			if dc == p.localDC {
				continue
			}
			remoteDCs = append(remoteDCs, dc)
			remoteStart[dc] = p.remoteIdx[dc]
			p.remoteIdx[dc]++
		}
		sort.SliceStable(remoteDCs, func(i, j int) bool {
			return remoteDCs[i] != unlabeledRemoteDC && remoteDCs[j] == unlabeledRemoteDC
		})
	}
	remoteHosts := make(map[string][]*host.Host, len(remoteDCs))
	for _, dc := range remoteDCs {
		remoteHosts[dc] = append([]*host.Host(nil), p.byDC[dc]...)
	}
	p.mu.Unlock()

	n := len(local)
	li := 0
	localPlan := plan.Func(func() *host.Host {
		for li < n {
			h := local[(int(localStart)+li)%n]
			li++
			if p.IsHostUp(h.Address) {
				return h
			}
		}
		return nil
	})

	dcCursor := 0
	perDCEmitted := make(map[string]int)
	remotePlan := plan.Func(func() *host.Host {
		for dcCursor < len(remoteDCs) {
			dc := remoteDCs[dcCursor]
			hosts := remoteHosts[dc]
			limit := p.usedHostsPerRemoteDC
			if limit > len(hosts) {
				limit = len(hosts)
			}
			for perDCEmitted[dc] < limit {
				idx := (int(remoteStart[dc]) + perDCEmitted[dc]) % len(hosts)
				perDCEmitted[dc]++
				h := hosts[idx]
				if p.IsHostUp(h.Address) {
					return h
				}
			}
			dcCursor++
		}
		return nil
	})

	return plan.Chain(localPlan, remotePlan)
}

func (p *DCAware) OnHostAdded(h *host.Host) {
	p.mu.Lock()
	dc := p.dcOf(h)
	p.byDC[dc] = append(p.byDC[dc], h)
	p.up[h.Address] = h.IsUp()
	p.mu.Unlock()
}

func (p *DCAware) OnHostRemoved(h *host.Host) {
	p.mu.Lock()
	dc := p.dcOf(h)
	hosts := p.byDC[dc]
	for i, rh := range hosts {
		if rh.Address == h.Address {
			p.byDC[dc] = append(hosts[:i], hosts[i+1:]...)
			break
		}
	}
	delete(p.up, h.Address)
	p.mu.Unlock()
}

func (p *DCAware) OnHostUp(h *host.Host) {
	p.mu.Lock()
	p.up[h.Address] = true
	p.mu.Unlock()
}

func (p *DCAware) OnHostDown(h *host.Host) {
	p.mu.Lock()
	p.up[h.Address] = false
	p.mu.Unlock()
}

func (p *DCAware) OnTokenMapUpdated() {}
func (p *DCAware) OnClose()           {}
func (p *DCAware) OnReconnect()       {}
