package lbpolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/plan"
)

func newLatencyAwarePolicy(t *testing.T, cfg LatencyAwareConfig) *LatencyAware {
	t.Helper()
	built := NewLatencyAware(NewRoundRobin(), cfg).Build()
	pol, ok := built.(*LatencyAware)
	require.True(t, ok)
	return pol
}

func TestLatencyAwareDefersSlowHosts(t *testing.T) {
	h1 := newTestHost("10.0.0.1", "dc1", "r1")
	h2 := newTestHost("10.0.0.2", "dc1", "r1")
	hosts := []*host.Host{h1, h2}

	cfg := LatencyAwareConfig{
		ScaleNS:            float64(time.Second),
		MinMeasured:        10,
		ExclusionThreshold: 2.0,
		RetryPeriod:        time.Hour,
		UpdateRate:         time.Hour, // don't let the background ticker race the test
	}
	pol := newLatencyAwarePolicy(t, cfg)
	pol.Init(h1, hosts, nil, "")
	defer pol.OnClose()

	for i := 0; i < 12; i++ {
		pol.Record(h1.Address, time.Millisecond, nil)
		pol.Record(h2.Address, 50*time.Millisecond, nil)
	}
	pol.refreshMinimum()

	excluded, stale := pol.isExcluded(h2.Address)
	require.True(t, excluded)
	require.False(t, stale)

	fastExcluded, _ := pol.isExcluded(h1.Address)
	require.False(t, fastExcluded)

	got := drain(pol.NewQueryPlan(plan.RequestHandler{}, nil))
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, got)
}

func TestLatencyAwareIgnoresUnderThresholdSamples(t *testing.T) {
	h1 := newTestHost("10.0.0.1", "dc1", "r1")
	hosts := []*host.Host{h1}

	cfg := LatencyAwareConfig{MinMeasured: 100, UpdateRate: time.Hour, RetryPeriod: time.Hour}
	pol := newLatencyAwarePolicy(t, cfg)
	pol.Init(h1, hosts, nil, "")
	defer pol.OnClose()

	pol.Record(h1.Address, 5*time.Second, nil)
	pol.refreshMinimum()

	excluded, _ := pol.isExcluded(h1.Address)
	require.False(t, excluded)
}

func TestLatencyAwareOnHostRemovedDropsRecord(t *testing.T) {
	h1 := newTestHost("10.0.0.1", "dc1", "r1")
	hosts := []*host.Host{h1}

	pol := newLatencyAwarePolicy(t, LatencyAwareConfig{UpdateRate: time.Hour, RetryPeriod: time.Hour})
	pol.Init(h1, hosts, nil, "")
	defer pol.OnClose()

	pol.Record(h1.Address, time.Millisecond, nil)
	pol.OnHostRemoved(h1)

	pol.mu.RLock()
	_, ok := pol.records[h1.Address]
	pol.mu.RUnlock()
	require.False(t, ok)
}
