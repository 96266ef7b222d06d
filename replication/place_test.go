package replication

import (
	"testing"

	"github.com/scylladb/cqlcluster/host"
	"github.com/stretchr/testify/require"
)

func newHost(addr string) *host.Host {
	return host.New(host.Address{Host: addr, Port: 9042})
}

func addrs(hosts []*host.Host) []string {
	out := make([]string, len(hosts))
	for i, h := range hosts {
		out[i] = h.Address.Host
	}
	return out
}

// spec.md §8.3 fixture 7.
func TestSimplePlaceFixture(t *testing.T) {
	t.Parallel()

	h1, h2, h3, h4 := newHost("1.0.0.1"), newHost("1.0.0.2"), newHost("1.0.0.3"), newHost("1.0.0.4")
	// Ring sorted by token: h1 (INT64_MIN/2), h2 (0), h3 (INT64_MAX/2), h4 (INT64_MAX).
	// Walk for token 0 starts at h2's own ring position, inclusive, wrapping.
	walk := []RingHost{{Host: h2}, {Host: h3}, {Host: h4}, {Host: h1}}

	s := Simple{RF: 3}
	require.Equal(t, []string{"1.0.0.2", "1.0.0.3", "1.0.0.4"}, addrs(s.Place(walk)))
}

func TestSimplePlaceCapsAtDistinctHostCount(t *testing.T) {
	t.Parallel()

	h1, h2 := newHost("1.0.0.1"), newHost("1.0.0.2")
	// h1 owns two ring tokens; rf=5 but only 2 distinct hosts exist.
	walk := []RingHost{{Host: h1}, {Host: h2}, {Host: h1}}

	s := Simple{RF: 5}
	require.Equal(t, []string{"1.0.0.1", "1.0.0.2"}, addrs(s.Place(walk)))
}

func TestNetworkTopologyRacksUsedRule(t *testing.T) {
	t.Parallel()

	// dc1 wants 2 replicas, has two racks (r1, r2); dc2 wants 2, single rack.
	a := newHost("dc1-r1-a")
	b := newHost("dc1-r1-b") // same rack as a: deferred until r2 is seen once
	c := newHost("dc1-r2-a")
	d := newHost("dc2-a")
	e := newHost("dc2-b")

	walk := []RingHost{
		{Host: a, Datacenter: "dc1", Rack: "r1"},
		{Host: b, Datacenter: "dc1", Rack: "r1"},
		{Host: d, Datacenter: "dc2", Rack: "r1"},
		{Host: c, Datacenter: "dc1", Rack: "r2"},
		{Host: e, Datacenter: "dc2", Rack: "r1"},
	}

	n := NetworkTopology{RFPerDC: map[string]uint16{"dc1": 2, "dc2": 2}}
	got := n.Place(walk)

	// dc1: a accepted (rack r1 first-seen), b deferred (rack r1 repeat),
	// c accepted (rack r2, completes rack set) -> dc1 = {a, c}; accepting c
	// fills the quota, so the deferred b is never drained.
	// dc2: single rack, d and e both accepted directly.
	gotAddrs := addrs(got)
	require.ElementsMatch(t, []string{"dc1-r1-a", "dc1-r2-a", "dc2-a", "dc2-b"}, gotAddrs)
	require.Len(t, got, 4)
}

func TestNetworkTopologyUnknownDCSkipped(t *testing.T) {
	t.Parallel()

	a := newHost("dc1-a")
	x := newHost("dc3-x")
	walk := []RingHost{{Host: x, Datacenter: "dc3"}, {Host: a, Datacenter: "dc1"}}

	n := NetworkTopology{RFPerDC: map[string]uint16{"dc1": 1}}
	require.Equal(t, []string{"dc1-a"}, addrs(n.Place(walk)))
}

func TestParseSpec(t *testing.T) {
	t.Parallel()

	s, err := ParseSpec(map[string]string{
		"class":               "org.apache.cassandra.locator.SimpleStrategy",
		"replication_factor":  "3",
	})
	require.NoError(t, err)
	require.Equal(t, Simple{RF: 3}, s)

	s, err = ParseSpec(map[string]string{
		"class": "org.apache.cassandra.locator.NetworkTopologyStrategy",
		"dc1":   "3",
		"dc2":   "2",
	})
	require.NoError(t, err)
	require.Equal(t, NetworkTopology{RFPerDC: map[string]uint16{"dc1": 3, "dc2": 2}}, s)

	_, err = ParseSpec(map[string]string{"class": "com.example.WeirdStrategy"})
	require.Error(t, err)
}

func TestStrategyEqual(t *testing.T) {
	t.Parallel()

	require.True(t, Simple{RF: 3}.Equal(Simple{RF: 3}))
	require.False(t, Simple{RF: 3}.Equal(Simple{RF: 2}))
	require.False(t, Simple{RF: 3}.Equal(NonReplicated{}))

	a := NetworkTopology{RFPerDC: map[string]uint16{"dc1": 1, "dc2": 2}}
	b := NetworkTopology{RFPerDC: map[string]uint16{"dc2": 2, "dc1": 1}}
	require.True(t, a.Equal(b))
}
