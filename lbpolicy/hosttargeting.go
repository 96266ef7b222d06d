package lbpolicy

import (
	"math/rand"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/plan"
	"github.com/scylladb/cqlcluster/tokenmap"
)

// HostTargeting wraps a child policy, putting req.PreferredHost first in
// the plan whenever it is set and the child still considers it up, without
// otherwise changing the child's ordering (spec.md §4.F.6 — used for
// retries that must land back on the host that returned the original
// error, e.g. prepared-statement re-preparation).
type HostTargeting struct {
	child Policy
}

// NewHostTargeting returns a Builder wrapping child with preferred-host
// targeting.
func NewHostTargeting(child Builder) Builder {
	return BuilderFunc(func() Policy {
		return &HostTargeting{child: child.Build()}
	})
}

func (p *HostTargeting) Child() Policy { return p.child }

func (p *HostTargeting) Init(connectedHost *host.Host, hosts []*host.Host, rng *rand.Rand, localDC string) {
	p.child.Init(connectedHost, hosts, rng, localDC)
}

func (p *HostTargeting) Distance(h *host.Host) Distance { return p.child.Distance(h) }

func (p *HostTargeting) IsHostUp(addr host.Address) bool { return p.child.IsHostUp(addr) }

func (p *HostTargeting) NewQueryPlan(req plan.RequestHandler, tm *tokenmap.Map) plan.Plan {
	child := p.child.NewQueryPlan(req, tm)

	if req.PreferredHost == nil || !p.child.IsHostUp(req.PreferredHost.Address) {
		return child
	}

	preferred := req.PreferredHost
	served := false
	return plan.Func(func() *host.Host {
		if !served {
			served = true
			return preferred
		}
		for {
			h := child.Next()
			if h == nil {
				return nil
			}
			if h.Address == preferred.Address {
				continue
			}
			return h
		}
	})
}

func (p *HostTargeting) OnHostAdded(h *host.Host)   { p.child.OnHostAdded(h) }
func (p *HostTargeting) OnHostRemoved(h *host.Host) { p.child.OnHostRemoved(h) }
func (p *HostTargeting) OnHostUp(h *host.Host)      { p.child.OnHostUp(h) }
func (p *HostTargeting) OnHostDown(h *host.Host)    { p.child.OnHostDown(h) }
func (p *HostTargeting) OnTokenMapUpdated()         { p.child.OnTokenMapUpdated() }
func (p *HostTargeting) OnClose()                   { p.child.OnClose() }
func (p *HostTargeting) OnReconnect()               { p.child.OnReconnect() }
