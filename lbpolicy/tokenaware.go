package lbpolicy

import (
	"math/rand"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/plan"
	"github.com/scylladb/cqlcluster/tokenmap"
)

// TokenAware wraps a child policy, preferring up, LOCAL-distance replicas
// of the request's routing key before falling through to the child's plan
// (spec.md §4.F.3).
type TokenAware struct {
	child   Policy
	shuffle bool
	rng     *rand.Rand
}

// NewTokenAware returns a Builder wrapping child with token-aware replica
// preference. If shuffle is true, replica order is randomized per plan
// using the session RNG (spec.md §4.F.3).
func NewTokenAware(child Builder, shuffle bool) Builder {
	return BuilderFunc(func() Policy {
		return &TokenAware{child: child.Build(), shuffle: shuffle}
	})
}

func (p *TokenAware) Init(connectedHost *host.Host, hosts []*host.Host, rng *rand.Rand, localDC string) {
	p.rng = rng
	p.child.Init(connectedHost, hosts, rng, localDC)
}

func (p *TokenAware) Child() Policy { return p.child }

func (p *TokenAware) Distance(h *host.Host) Distance { return p.child.Distance(h) }

func (p *TokenAware) IsHostUp(addr host.Address) bool { return p.child.IsHostUp(addr) }

func (p *TokenAware) NewQueryPlan(req plan.RequestHandler, tm *tokenmap.Map) plan.Plan {
	if tm == nil || req.RoutingKey == nil || req.KeyspaceOverride == "" {
		return p.child.NewQueryPlan(req, tm)
	}

	replicas := tm.GetReplicas(req.KeyspaceOverride, req.RoutingKey)
	candidates := make([]*host.Host, 0, len(replicas))
	for _, h := range replicas {
		if p.child.Distance(h) == Local && p.child.IsHostUp(h.Address) {
			candidates = append(candidates, h)
		}
	}

	if p.shuffle && len(candidates) > 1 {
		rng := p.rng
		if rng == nil {
			rng = rand.New(rand.NewSource(rand.Int63())) //nolint:gosec // routing-order jitter, not security sensitive.
		}
		rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
	}

	return plan.Chain(plan.Slice(candidates), p.child.NewQueryPlan(req, tm))
}

func (p *TokenAware) OnHostAdded(h *host.Host)   { p.child.OnHostAdded(h) }
func (p *TokenAware) OnHostRemoved(h *host.Host) { p.child.OnHostRemoved(h) }
func (p *TokenAware) OnHostUp(h *host.Host)      { p.child.OnHostUp(h) }
func (p *TokenAware) OnHostDown(h *host.Host)    { p.child.OnHostDown(h) }
func (p *TokenAware) OnTokenMapUpdated()         { p.child.OnTokenMapUpdated() }
func (p *TokenAware) OnClose()                   { p.child.OnClose() }
func (p *TokenAware) OnReconnect()               { p.child.OnReconnect() }
