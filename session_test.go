package cqlcluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/lbpolicy"
	"github.com/scylladb/cqlcluster/transport"
)

// fakeConn is a scripted transport.FrameConn exercising just enough of
// the bootstrap sequence for the session state machine's tests. Mirrors
// the fakes in control/control_test.go and connector/connector_test.go.
type fakeConn struct {
	events chan transport.Event
}

func (f *fakeConn) SendRequest(_ context.Context, req transport.Request) (transport.Response, error) {
	switch req.Opcode {
	case transport.OpStartup:
		return transport.Response{Opcode: transport.OpReady}, nil
	case transport.OpQuery:
		switch {
		case contains(req.Query, "system.local"):
			return transport.Response{
				Opcode: transport.OpResult, ResultKind: transport.ResultRows,
				Rows: &transport.Rows{Rows: []map[string]string{{
					"rpc_address": "10.0.0.1", "data_center": "dc1",
					"partitioner": "org.apache.cassandra.dht.Murmur3Partitioner", "tokens": "0",
				}}},
			}, nil
		case contains(req.Query, "system_schema.keyspaces"):
			return transport.Response{
				Opcode: transport.OpResult, ResultKind: transport.ResultRows,
				Rows: &transport.Rows{Rows: []map[string]string{{"keyspace_name": "ks", "replication": "class=SimpleStrategy,replication_factor=1"}}},
			}, nil
		default:
			return transport.Response{Opcode: transport.OpResult, ResultKind: transport.ResultRows, Rows: &transport.Rows{}}, nil
		}
	default:
		return transport.Response{}, nil
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func (f *fakeConn) SubscribeEvents(context.Context, bool, bool, bool) (<-chan transport.Event, error) {
	if f.events == nil {
		f.events = make(chan transport.Event)
	}
	return f.events, nil
}

func (f *fakeConn) SupportedOptions(context.Context) (map[string][]string, error) { return nil, nil }

func (f *fakeConn) Close() error {
	if f.events != nil {
		close(f.events)
	}
	return nil
}

type fakeDialer struct{ fail bool }

func (d *fakeDialer) Dial(context.Context, host.Address, transport.ProtocolVersion, *transport.SSLContext) (transport.FrameConn, error) {
	if d.fail {
		return nil, transport.NewClusterError(transport.NoHostsAvailable, "fixture refuses to dial")
	}
	return &fakeConn{}, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, contactPoints []string) (transport.ResolvedContactPoints, error) {
	out := transport.ResolvedContactPoints{LocalDC: "dc1"}
	for _, cp := range contactPoints {
		out.Addresses = append(out.Addresses, host.Address{Host: cp, Port: 9042})
	}
	return out, nil
}

func testSettings(dialer transport.Dialer) transport.ClusterSettings {
	s := transport.DefaultClusterSettings("10.0.0.1")
	s.Dialer = dialer
	s.MetadataResolverFactory = fakeResolver{}
	s.LoadBalancingPolicy = lbpolicy.NewRoundRobin()
	return s
}

func TestConnectTransitionsClosedToConnected(t *testing.T) {
	c := New(testSettings(&fakeDialer{}))
	require.Equal(t, Closed, c.State())

	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, Connected, c.State())
	require.NotNil(t, c.Conn())
	require.Equal(t, "dc1", c.Conn().LocalDatacenter())

	require.NoError(t, c.Close())
	require.Equal(t, Closed, c.State())
}

func TestConnectFailureReturnsToClosed(t *testing.T) {
	c := New(testSettings(&fakeDialer{fail: true}))

	err := c.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, Closed, c.State())
}

func TestSecondConnectRejectsWhileConnected(t *testing.T) {
	c := New(testSettings(&fakeDialer{}))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	err := c.Connect(context.Background())
	require.Error(t, err)
	ce, ok := err.(*transport.ClusterError)
	require.True(t, ok)
	require.Equal(t, transport.AlreadyConnected, ce.Kind)
}

func TestCloseOnNeverConnectedSessionFailsWithUnableToClose(t *testing.T) {
	c := New(testSettings(&fakeDialer{}))

	err := c.Close()
	require.Error(t, err)
	ce, ok := err.(*transport.ClusterError)
	require.True(t, ok)
	require.Equal(t, transport.UnableToClose, ce.Kind)
}

func TestDoubleCloseFailsOnSecondCall(t *testing.T) {
	c := New(testSettings(&fakeDialer{}))
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Close())
	err := c.Close()
	require.Error(t, err)
}

func TestEventLoopExitsCleanlyOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := New(testSettings(&fakeDialer{}))
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return c.Conn() != nil }, time.Second, time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case <-c.loopDone:
	case <-time.After(time.Second):
		t.Fatal("event loop did not stop after Close")
	}
}
