package lbpolicy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/plan"
)

func newTestHost(addr string, dc, rack string) *host.Host {
	h := host.New(host.Address{Host: addr, Port: 9042})
	h.Datacenter = dc
	h.Rack = rack
	return h
}

func drain(p plan.Plan) []string {
	var out []string
	for {
		h := p.Next()
		if h == nil {
			return out
		}
		out = append(out, h.Address.Host)
	}
}

func TestRoundRobinCyclesAndSkipsDown(t *testing.T) {
	hosts := []*host.Host{
		newTestHost("10.0.0.1", "dc1", "r1"),
		newTestHost("10.0.0.2", "dc1", "r1"),
		newTestHost("10.0.0.3", "dc1", "r1"),
	}
	hosts[1].SetUp(false)

	pol := NewRoundRobin().Build()
	pol.Init(hosts[0], hosts, rand.New(rand.NewSource(1)), "")

	plan1 := pol.NewQueryPlan(plan.RequestHandler{}, nil)
	got := drain(plan1)
	require.Len(t, got, 2)
	require.NotContains(t, got, "10.0.0.2")
}

func TestRoundRobinAdvancesStartEachPlan(t *testing.T) {
	hosts := []*host.Host{
		newTestHost("10.0.0.1", "dc1", "r1"),
		newTestHost("10.0.0.2", "dc1", "r1"),
	}
	pol := NewRoundRobin().Build()
	pol.Init(hosts[0], hosts, nil, "")

	first := drain(pol.NewQueryPlan(plan.RequestHandler{}, nil))
	second := drain(pol.NewQueryPlan(plan.RequestHandler{}, nil))
	require.NotEqual(t, first, second)
	require.ElementsMatch(t, first, second)
}

func TestRoundRobinOnHostRemovedPrunesPlan(t *testing.T) {
	hosts := []*host.Host{
		newTestHost("10.0.0.1", "dc1", "r1"),
		newTestHost("10.0.0.2", "dc1", "r1"),
	}
	pol := NewRoundRobin().Build()
	pol.Init(hosts[0], hosts, nil, "")
	pol.OnHostRemoved(hosts[1])

	got := drain(pol.NewQueryPlan(plan.RequestHandler{}, nil))
	require.Equal(t, []string{"10.0.0.1"}, got)
}

func TestDCAwareLocalBeforeRemote(t *testing.T) {
	local1 := newTestHost("10.0.0.1", "dc1", "r1")
	local2 := newTestHost("10.0.0.2", "dc1", "r1")
	remote1 := newTestHost("10.0.1.1", "dc2", "r1")
	remote2 := newTestHost("10.0.1.2", "dc2", "r1")
	hosts := []*host.Host{local1, local2, remote1, remote2}

	pol := NewDCAware("dc1", 1, false).Build()
	pol.Init(local1, hosts, nil, "")

	got := drain(pol.NewQueryPlan(plan.RequestHandler{}, nil))
	require.Len(t, got, 3) // 2 local + 1 remote (quota 1)
	require.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, got[:2])
}

func TestDCAwareAdoptsConnectedHostDC(t *testing.T) {
	local := newTestHost("10.0.0.1", "dc1", "r1")
	pol := NewDCAware("", 0, false).Build()
	pol.Init(local, []*host.Host{local}, nil, "")

	require.Equal(t, Local, pol.Distance(local))
}

func TestDCAwareSkipsRemoteForLocalConsistency(t *testing.T) {
	local := newTestHost("10.0.0.1", "dc1", "r1")
	remote := newTestHost("10.0.1.1", "dc2", "r1")
	hosts := []*host.Host{local, remote}

	pol := NewDCAware("dc1", 1, true).Build()
	pol.Init(local, hosts, nil, "")

	got := drain(pol.NewQueryPlan(plan.RequestHandler{Consistency: plan.LocalQuorum}, nil))
	require.Equal(t, []string{"10.0.0.1"}, got)

	got = drain(pol.NewQueryPlan(plan.RequestHandler{Consistency: plan.Quorum}, nil))
	require.ElementsMatch(t, []string{"10.0.0.1", "10.0.1.1"}, got)
}

func TestHostTargetingPrefersThenFallsBack(t *testing.T) {
	h1 := newTestHost("10.0.0.1", "dc1", "r1")
	h2 := newTestHost("10.0.0.2", "dc1", "r1")
	hosts := []*host.Host{h1, h2}

	pol := NewHostTargeting(NewRoundRobin()).Build()
	pol.Init(h1, hosts, nil, "")

	got := drain(pol.NewQueryPlan(plan.RequestHandler{PreferredHost: h2}, nil))
	require.Equal(t, "10.0.0.2", got[0])
	require.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, got)
}

func TestHostTargetingIgnoresDownPreferred(t *testing.T) {
	h1 := newTestHost("10.0.0.1", "dc1", "r1")
	h2 := newTestHost("10.0.0.2", "dc1", "r1")
	h2.SetUp(false)
	hosts := []*host.Host{h1, h2}

	pol := NewHostTargeting(NewRoundRobin()).Build()
	pol.Init(h1, hosts, nil, "")

	got := drain(pol.NewQueryPlan(plan.RequestHandler{PreferredHost: h2}, nil))
	require.Equal(t, []string{"10.0.0.1"}, got)
}

func TestBlacklistExcludesHost(t *testing.T) {
	h1 := newTestHost("10.0.0.1", "dc1", "r1")
	h2 := newTestHost("10.0.0.2", "dc1", "r1")
	hosts := []*host.Host{h1, h2}

	pol := NewBlacklist(NewRoundRobin(), []host.Address{h2.Address}).Build()
	pol.Init(h1, hosts, nil, "")

	got := drain(pol.NewQueryPlan(plan.RequestHandler{}, nil))
	require.Equal(t, []string{"10.0.0.1"}, got)
	require.False(t, pol.IsHostUp(h2.Address))
}

func TestWhitelistKeepsOnlyListed(t *testing.T) {
	h1 := newTestHost("10.0.0.1", "dc1", "r1")
	h2 := newTestHost("10.0.0.2", "dc1", "r1")
	hosts := []*host.Host{h1, h2}

	pol := NewWhitelist(NewRoundRobin(), []host.Address{h1.Address}).Build()
	pol.Init(h1, hosts, nil, "")

	got := drain(pol.NewQueryPlan(plan.RequestHandler{}, nil))
	require.Equal(t, []string{"10.0.0.1"}, got)
}

func TestWhitelistDCKeepsOnlyListedDC(t *testing.T) {
	h1 := newTestHost("10.0.0.1", "dc1", "r1")
	h2 := newTestHost("10.0.1.1", "dc2", "r1")
	hosts := []*host.Host{h1, h2}

	pol := NewWhitelistDC(NewRoundRobin(), []string{"dc1"}).Build()
	pol.Init(h1, hosts, nil, "")

	got := drain(pol.NewQueryPlan(plan.RequestHandler{}, nil))
	require.Equal(t, []string{"10.0.0.1"}, got)
}

func TestChainOrderingAppliesAllLayers(t *testing.T) {
	h1 := newTestHost("10.0.0.1", "dc1", "r1")
	h2 := newTestHost("10.0.0.2", "dc1", "r1")
	h3 := newTestHost("10.0.1.1", "dc2", "r1")
	hosts := []*host.Host{h1, h2, h3}

	cfg := ChainConfig{
		BlacklistHosts: []host.Address{h2.Address},
		HostTargeting:  true,
	}
	builder := BuildChain(NewDCAware("dc1", 1, false), cfg)
	pol := builder.Build()
	pol.Init(h1, hosts, nil, "")

	got := drain(pol.NewQueryPlan(plan.RequestHandler{PreferredHost: h3}, nil))
	require.Equal(t, "10.0.1.1", got[0])
	require.NotContains(t, got, "10.0.0.2")
}
