package lbpolicy

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/partitioner"
	"github.com/scylladb/cqlcluster/plan"
	"github.com/scylladb/cqlcluster/tokenmap"
)

func TestTokenAwarePrefersReplicaOverChildOrder(t *testing.T) {
	routingKey := []byte("some-partition-key")
	p := partitioner.Murmur3{}
	hashed := p.Hash(routingKey)
	value, err := strconv.ParseInt(hashed.String(), 10, 64)
	require.NoError(t, err)

	below := newTestHost("10.0.0.1", "dc1", "r1")
	below.Tokens = []string{strconv.FormatInt(value-1000, 10)}
	above := newTestHost("10.0.0.2", "dc1", "r1")
	above.Tokens = []string{strconv.FormatInt(value+1000, 10)}
	other := newTestHost("10.0.0.3", "dc1", "r1")
	other.Tokens = []string{strconv.FormatInt(value+2000, 10)}

	tm := tokenmap.New(p)
	require.NoError(t, tm.AddHost(below))
	require.NoError(t, tm.AddHost(above))
	require.NoError(t, tm.AddHost(other))
	require.NoError(t, tm.AddKeyspaces([]tokenmap.KeyspaceRow{
		{Name: "ks", Replication: map[string]string{"class": "SimpleStrategy", "replication_factor": "1"}},
	}))
	tm.Build()

	require.Equal(t, []*host.Host{above}, tm.GetReplicas("ks", routingKey))

	hosts := []*host.Host{below, above, other}
	pol := NewTokenAware(NewRoundRobin(), false).Build()
	pol.Init(below, hosts, nil, "")

	req := plan.RequestHandler{KeyspaceOverride: "ks", RoutingKey: routingKey}
	got := drain(pol.NewQueryPlan(req, tm))
	require.Equal(t, "10.0.0.2", got[0])
	require.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, got)
}

func TestTokenAwareFallsBackWithoutRoutingKey(t *testing.T) {
	h1 := newTestHost("10.0.0.1", "dc1", "r1")
	h2 := newTestHost("10.0.0.2", "dc1", "r1")
	hosts := []*host.Host{h1, h2}

	pol := NewTokenAware(NewRoundRobin(), false).Build()
	pol.Init(h1, hosts, nil, "")

	got := drain(pol.NewQueryPlan(plan.RequestHandler{}, nil))
	require.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, got)
}
