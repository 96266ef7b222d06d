package lbpolicy

import (
	"math/rand"
	"sync"

	"go.uber.org/atomic"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/plan"
	"github.com/scylladb/cqlcluster/tokenmap"
)

// RoundRobin implements spec.md §4.F.1: a copy-on-write host vector walked
// starting from an atomically-advancing index, skipping hosts the policy
// considers down.
type RoundRobin struct {
	hosts *host.Holder
	index atomic.Uint64

	mu sync.RWMutex
	up map[host.Address]bool
}

// NewRoundRobin returns a Builder producing fresh RoundRobin instances.
func NewRoundRobin() Builder {
	return BuilderFunc(func() Policy {
		return &RoundRobin{up: make(map[host.Address]bool)}
	})
}

func (p *RoundRobin) Init(connectedHost *host.Host, hosts []*host.Host, rng *rand.Rand, _ string) {
	p.hosts = host.NewHolder(hosts)
	p.mu.Lock()
	p.up = make(map[host.Address]bool, len(hosts))
	for _, h := range hosts {
		p.up[h.Address] = h.IsUp()
	}
	p.mu.Unlock()

	if rng != nil && len(hosts) > 0 {
		p.index.Store(uint64(rng.Intn(len(hosts))))
	}
}

func (p *RoundRobin) Distance(*host.Host) Distance { return Local }

func (p *RoundRobin) IsHostUp(addr host.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.up[addr]
}

func (p *RoundRobin) NewQueryPlan(_ plan.RequestHandler, _ *tokenmap.Map) plan.Plan {
	snapshot := p.hosts.Load().Hosts()
	n := len(snapshot)
	if n == 0 {
		return plan.Empty
	}
	start := int(p.index.Add(1) - 1)
	i := 0
	return plan.Func(func() *host.Host {
		for i < n {
			h := snapshot[(start+i)%n]
			i++
			if p.IsHostUp(h.Address) {
				return h
			}
		}
		return nil
	})
}

func (p *RoundRobin) OnHostAdded(h *host.Host) {
	p.hosts.Store(p.hosts.Load().With(h))
	p.mu.Lock()
	p.up[h.Address] = h.IsUp()
	p.mu.Unlock()
}

func (p *RoundRobin) OnHostRemoved(h *host.Host) {
	p.hosts.Store(p.hosts.Load().Without(h.Address))
	p.mu.Lock()
	delete(p.up, h.Address)
	p.mu.Unlock()
}

func (p *RoundRobin) OnHostUp(h *host.Host) {
	p.mu.Lock()
	p.up[h.Address] = true
	p.mu.Unlock()
}

func (p *RoundRobin) OnHostDown(h *host.Host) {
	p.mu.Lock()
	p.up[h.Address] = false
	p.mu.Unlock()
}

func (p *RoundRobin) OnTokenMapUpdated() {}
func (p *RoundRobin) OnClose()           {}
func (p *RoundRobin) OnReconnect()       {}
