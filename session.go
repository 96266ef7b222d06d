// Package cqlcluster is the public surface: it wires the connector, the
// control connection, and the host registry into the session state
// machine from spec.md §4.I, scheduled the way spec.md §5 describes ("one
// dedicated, single-threaded cooperative event loop owns the control
// connection, topology state, and policy mutations"). It is grounded on
// the teacher's session.go entry points (Query/Prepare/Close) and on
// transport/node.go's connect-then-pump-events shape, generalized from a
// single synchronous NewSession call into an explicit connect()/close()
// state machine with single-shot futures.
package cqlcluster

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/scylladb/cqlcluster/connector"
	"github.com/scylladb/cqlcluster/control"
	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/plan"
	"github.com/scylladb/cqlcluster/transport"
)

// State is one of the four states spec.md §4.I's transition table names.
type State int

const (
	Closed State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Closing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// defaultResolver is the DNS-and-port MetadataResolverFactory spec.md
// §4.H step 1 names as the default, ahead of any cloud/SNI override a
// caller supplies via ClusterSettings.MetadataResolverFactory.
type defaultResolver struct{ port uint16 }

func (d defaultResolver) Resolve(ctx context.Context, contactPoints []string) (transport.ResolvedContactPoints, error) {
	out := transport.ResolvedContactPoints{}
	for _, cp := range contactPoints {
		addrs, err := host.ResolveDNS(ctx, cp, d.port)
		if err != nil {
			continue
		}
		out.Addresses = append(out.Addresses, addrs...)
	}
	return out, nil
}

// Cluster is the top-level session handle: the state machine from spec.md
// §4.I plus the registry and policies every query plan reads from.
// Construct with New, then Connect before submitting any work.
type Cluster struct {
	settings transport.ClusterSettings
	registry *host.Registry
	logger   transport.Logger

	mu        sync.Mutex
	state     State
	conn      *control.Connection
	connector *connector.Connector
	localDC   string

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New constructs a Cluster in the CLOSED state. It does not dial anything;
// call Connect to arm the connector (spec.md §4.I "CLOSED --connect()->
// CONNECTING").
func New(settings transport.ClusterSettings) *Cluster {
	logger := settings.Logger
	if logger == nil {
		logger = transport.DefaultLogger{}
	}
	if settings.MetadataResolverFactory == nil {
		settings.MetadataResolverFactory = defaultResolver{port: settings.Port}
	}
	return &Cluster{
		settings: settings,
		registry: host.NewRegistry(),
		logger:   transport.PrefixLogger{Prefix: "cqlcluster", Next: logger},
		state:    Closed,
	}
}

// Registry exposes the host membership driving load-balancing policies.
func (c *Cluster) Registry() *host.Registry { return c.registry }

// State reports the current state machine position.
func (c *Cluster) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect runs spec.md §4.H's connector against the configured contact
// points and, on success, starts the event-loop goroutine that owns the
// control connection for the lifetime of the session (spec.md §4.I
// "CONNECTING --success-> CONNECTED"; §5 "one dedicated, single-threaded
// cooperative event loop"). A second call while CONNECTING, CONNECTED, or
// CLOSING rejects with ALREADY_CONNECTING/ALREADY_CONNECTED.
func (c *Cluster) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Connecting:
		c.mu.Unlock()
		return transport.NewClusterError(transport.AlreadyConnecting, "connect already in progress")
	case Connected, Closing:
		c.mu.Unlock()
		return transport.NewClusterError(transport.AlreadyConnected, "session is already connected")
	}
	c.state = Connecting
	conn := connector.New(c.settings, c.settings.Dialer, c.registry)
	c.connector = conn
	c.mu.Unlock()

	res, err := conn.Connect(ctx, c.settings.MetadataResolverFactory)
	c.mu.Lock()
	if err != nil {
		c.state = Closed
		c.connector = nil
		c.mu.Unlock()
		return err
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c.conn = res.Connection
	c.localDC = res.LocalDC
	if c.localDC == "" {
		c.localDC = res.Connection.LocalDatacenter()
	}
	c.loopCtx = loopCtx
	c.loopCancel = loopCancel
	c.loopDone = make(chan struct{})
	c.state = Connected
	c.mu.Unlock()

	go c.runLoop(loopCtx)
	return nil
}

// runLoop is spec.md §5's dedicated event-loop goroutine: it pumps the
// control connection's events and, on an unexpected close, drives the
// reconnection loop (spec.md §4.G step 7) against the session's base
// load-balancing policy, replacing the dead Connection in place so
// in-flight query plans observe the new topology without a session
// restart.
func (c *Cluster) runLoop(ctx context.Context) {
	defer close(c.loopDone)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		err := conn.DispatchEvents(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}

		c.logger.Printf("control connection lost: %v; reconnecting", err)
		c.registry.NotifyDown(conn.Address())

		newConn, rerr := c.reconnect(ctx)
		if rerr != nil {
			c.logger.Printf("reconnection loop exhausted: %v", rerr)
			return
		}

		c.mu.Lock()
		c.conn = newConn
		c.mu.Unlock()
	}
}

func (c *Cluster) reconnect(ctx context.Context) (*control.Connection, error) {
	builder := c.settings.LoadBalancingPolicy
	if builder == nil {
		return nil, transport.NewClusterError(transport.NoHostsAvailable, "no load-balancing policy configured for reconnection")
	}
	built := builder.Build()
	hosts := c.registry.Hosts().Slice()
	var seed *host.Host
	if len(hosts) > 0 {
		seed = hosts[0]
	}
	c.mu.Lock()
	localDC := c.localDC
	c.mu.Unlock()
	built.Init(seed, hosts, rand.New(rand.NewSource(time.Now().UnixNano())), localDC)

	dial := func(ctx context.Context, h *host.Host) (*control.Connection, error) {
		return control.Bootstrap(ctx, c.settings.Dialer, h.Address, c.settings, c.registry)
	}
	r := &control.Reconnector{
		Policy:   reconnectPolicy(c.settings),
		Registry: c.registry,
		Logger:   c.logger,
		Dial:     dial,
	}
	return r.Run(ctx, func() plan.Plan {
		return built.NewQueryPlan(plan.RequestHandler{}, nil)
	})
}

func reconnectPolicy(settings transport.ClusterSettings) transport.ReconnectionPolicy {
	if settings.ReconnectionPolicy != nil {
		return settings.ReconnectionPolicy
	}
	return transport.Exponential{Base: settings.ReconnectTimeout, Max: settings.ReconnectTimeout}
}

// Close implements spec.md §4.I's CONNECTED --close()-> CLOSING ->
// CLOSED path: it stops the event loop, closes the control connection,
// and fires OnClose on every registered listener. Closing a CLOSED
// session rejects with UNABLE_TO_CLOSE.
func (c *Cluster) Close() error {
	c.mu.Lock()
	if c.state != Connected {
		state := c.state
		c.mu.Unlock()
		if state == Closed {
			return transport.NewClusterError(transport.UnableToClose, "session was never connected")
		}
		return transport.NewClusterError(transport.UnableToClose, "session is not in a closeable state: "+state.String())
	}
	c.state = Closing
	cancel := c.loopCancel
	conn := c.conn
	done := c.loopDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.registry.NotifyClose()

	c.mu.Lock()
	c.state = Closed
	c.conn = nil
	c.mu.Unlock()
	return err
}

// Conn exposes the live control connection for callers that need direct
// access to topology (e.g. cmd/clusterctl). Returns nil unless CONNECTED.
func (c *Cluster) Conn() *control.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return nil
	}
	return c.conn
}
