package lbpolicy

import (
	"math/rand"
	"sync"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/plan"
	"github.com/scylladb/cqlcluster/tokenmap"
)

// listFilter is the shared machinery behind the four list policies in
// spec.md §4.F.5: each wraps a child policy and forces Distance to Ignore
// for hosts the filter predicate rejects.
type listFilter struct {
	child Policy
	deny  func(h *host.Host) bool

	mu    sync.RWMutex
	known map[host.Address]*host.Host
}

func newListFilter(child Policy, deny func(*host.Host) bool) *listFilter {
	return &listFilter{child: child, deny: deny, known: make(map[host.Address]*host.Host)}
}

func (f *listFilter) Child() Policy { return f.child }

func (f *listFilter) Init(connectedHost *host.Host, hosts []*host.Host, rng *rand.Rand, localDC string) {
	f.child.Init(connectedHost, hosts, rng, localDC)
	f.mu.Lock()
	for _, h := range hosts {
		f.known[h.Address] = h
	}
	f.mu.Unlock()
}

func (f *listFilter) Distance(h *host.Host) Distance {
	if f.deny(h) {
		return Ignore
	}
	return f.child.Distance(h)
}

func (f *listFilter) IsHostUp(addr host.Address) bool {
	f.mu.RLock()
	h, ok := f.known[addr]
	f.mu.RUnlock()
	if ok && f.deny(h) {
		return false
	}
	return f.child.IsHostUp(addr)
}

func (f *listFilter) NewQueryPlan(req plan.RequestHandler, tm *tokenmap.Map) plan.Plan {
	return plan.Filter(f.child.NewQueryPlan(req, tm), func(h *host.Host) bool {
		return !f.deny(h)
	})
}

func (f *listFilter) OnHostAdded(h *host.Host) {
	f.child.OnHostAdded(h)
	f.mu.Lock()
	f.known[h.Address] = h
	f.mu.Unlock()
}

func (f *listFilter) OnHostRemoved(h *host.Host) {
	f.child.OnHostRemoved(h)
	f.mu.Lock()
	delete(f.known, h.Address)
	f.mu.Unlock()
}

func (f *listFilter) OnHostUp(h *host.Host)   { f.child.OnHostUp(h) }
func (f *listFilter) OnHostDown(h *host.Host) { f.child.OnHostDown(h) }
func (f *listFilter) OnTokenMapUpdated()      { f.child.OnTokenMapUpdated() }
func (f *listFilter) OnClose()                { f.child.OnClose() }
func (f *listFilter) OnReconnect()            { f.child.OnReconnect() }

// NewBlacklist returns a Builder that forces Ignore for every host in addrs,
// deferring everything else to child (spec.md §4.F.5).
func NewBlacklist(child Builder, addrs []host.Address) Builder {
	set := toAddrSet(addrs)
	return BuilderFunc(func() Policy {
		return newListFilter(child.Build(), func(h *host.Host) bool { return set[h.Address] })
	})
}

// NewWhitelist returns a Builder that forces Ignore for every host not in
// addrs (spec.md §4.F.5).
func NewWhitelist(child Builder, addrs []host.Address) Builder {
	set := toAddrSet(addrs)
	return BuilderFunc(func() Policy {
		return newListFilter(child.Build(), func(h *host.Host) bool { return !set[h.Address] })
	})
}

// NewBlacklistDC returns a Builder that forces Ignore for every host whose
// Datacenter is in dcs (spec.md §4.F.5).
func NewBlacklistDC(child Builder, dcs []string) Builder {
	set := toStringSet(dcs)
	return BuilderFunc(func() Policy {
		return newListFilter(child.Build(), func(h *host.Host) bool { return set[h.Datacenter] })
	})
}

// NewWhitelistDC returns a Builder that forces Ignore for every host whose
// Datacenter is not in dcs (spec.md §4.F.5).
func NewWhitelistDC(child Builder, dcs []string) Builder {
	set := toStringSet(dcs)
	return BuilderFunc(func() Policy {
		return newListFilter(child.Build(), func(h *host.Host) bool { return !set[h.Datacenter] })
	})
}

func toAddrSet(addrs []host.Address) map[host.Address]bool {
	set := make(map[host.Address]bool, len(addrs))
	for _, a := range addrs {
		set[a] = true
	}
	return set
}

func toStringSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}
