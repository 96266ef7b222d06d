package tokenmap

import (
	"testing"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/partitioner"
	"github.com/stretchr/testify/require"
)

func hostWithTokens(addr string, tokens ...string) *host.Host {
	h := host.New(host.Address{Host: addr, Port: 9042})
	h.Tokens = tokens
	return h
}

// spec.md §8.3 fixture 7, exercised end to end through Map instead of
// replication.Place directly.
func TestMapSimpleStrategyFixture(t *testing.T) {
	t.Parallel()

	m := New(partitioner.Murmur3{})

	hosts := []*host.Host{
		hostWithTokens("1.0.0.1", "-4611686018427387904"), // INT64_MIN/2
		hostWithTokens("1.0.0.2", "0"),
		hostWithTokens("1.0.0.3", "4611686018427387903"), // INT64_MAX/2
		hostWithTokens("1.0.0.4", "9223372036854775807"), // INT64_MAX
	}
	for _, h := range hosts {
		require.NoError(t, m.AddHost(h))
	}
	require.NoError(t, m.AddKeyspaces([]KeyspaceRow{{
		Name: "ks",
		Replication: map[string]string{
			"class":               "org.apache.cassandra.locator.SimpleStrategy",
			"replication_factor":  "3",
		},
	}}))
	m.Build()

	require.Equal(t, 4, m.RingSize())

	// compute_replicas builds the per-entry table starting at each ring
	// position inclusive (spec.md §4.B), so the entry owning token 0
	// itself carries [1.0.0.2, 1.0.0.3, 1.0.0.4]; inspect the table
	// directly rather than reverse-engineering a routing key that hashes
	// to exactly 0.
	table := m.replicas["ks"]
	require.Len(t, table, 4)
	var found bool
	for _, tr := range table {
		if tr.token.String() == "0" {
			found = true
			got := make([]string, len(tr.hosts))
			for i, h := range tr.hosts {
				got[i] = h.Address.Host
			}
			require.Equal(t, []string{"1.0.0.2", "1.0.0.3", "1.0.0.4"}, got)
		}
	}
	require.True(t, found, "expected a ring entry at token 0")
}

func TestMapUnknownKeyspaceReturnsNil(t *testing.T) {
	t.Parallel()

	m := New(partitioner.Murmur3{})
	require.NoError(t, m.AddHost(hostWithTokens("1.0.0.1", "0")))
	m.Build()

	require.Nil(t, m.GetReplicas("nope", []byte("x")))
}

func TestMapRemoveHostAndBuild(t *testing.T) {
	t.Parallel()

	m := New(partitioner.Murmur3{})
	h1 := hostWithTokens("1.0.0.1", "0")
	h2 := hostWithTokens("1.0.0.2", "100")
	require.NoError(t, m.AddHost(h1))
	require.NoError(t, m.AddHost(h2))
	m.Build()
	require.Equal(t, 2, m.RingSize())

	m.RemoveHostAndBuild(h1.Address)
	require.Equal(t, 1, m.RingSize())
}

func TestMapDropKeyspace(t *testing.T) {
	t.Parallel()

	m := New(partitioner.Murmur3{})
	require.NoError(t, m.AddHost(hostWithTokens("1.0.0.1", "0")))
	require.NoError(t, m.AddKeyspaces([]KeyspaceRow{{
		Name:        "ks",
		Replication: map[string]string{"class": "SimpleStrategy", "replication_factor": "1"},
	}}))
	m.Build()
	require.Contains(t, m.Keyspaces(), "ks")

	m.DropKeyspace("ks")
	require.NotContains(t, m.Keyspaces(), "ks")
	require.Nil(t, m.GetReplicas("ks", []byte("x")))
}

func TestFromPartitionerNameUnsupportedIsNilNotError(t *testing.T) {
	t.Parallel()

	m, err := FromPartitionerName("org.apache.cassandra.dht.OrderPreservingPartitioner")
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestUpdateKeyspacesAndBuildOnlyRebuildsChanged(t *testing.T) {
	t.Parallel()

	m := New(partitioner.Murmur3{})
	require.NoError(t, m.AddHost(hostWithTokens("1.0.0.1", "0")))
	require.NoError(t, m.AddHost(hostWithTokens("1.0.0.2", "100")))
	m.Build()

	require.NoError(t, m.UpdateKeyspacesAndBuild([]KeyspaceRow{
		{Name: "ks1", Replication: map[string]string{"class": "SimpleStrategy", "replication_factor": "1"}},
	}))
	require.Contains(t, m.Keyspaces(), "ks1")
	require.Len(t, m.replicas["ks1"], 2)

	// Re-submitting the identical spec should not error and should keep
	// the same replica count.
	require.NoError(t, m.UpdateKeyspacesAndBuild([]KeyspaceRow{
		{Name: "ks1", Replication: map[string]string{"class": "SimpleStrategy", "replication_factor": "1"}},
	}))
	require.Len(t, m.replicas["ks1"], 2)
}
