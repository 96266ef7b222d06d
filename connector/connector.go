// Package connector implements the top-level cluster connector (spec.md
// §4.H): it resolves contact points, races one control-connection attempt
// per resolved address, and delivers the first success while canceling
// the rest. It is grounded on the teacher's session.go connection
// bootstrap (itself built on transport/node.go's Init), generalized from
// a single ordered attempt into the parallel race spec.md §4.H describes.
package connector

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/scylladb/cqlcluster/control"
	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/lbpolicy"
	"github.com/scylladb/cqlcluster/plan"
	"github.com/scylladb/cqlcluster/transport"
)

// Result is what a successful connector run delivers to its caller.
type Result struct {
	Connection *control.Connection
	LocalDC    string
}

// Connector is the top-level orchestrator from spec.md §4.H. The zero
// value is not usable; construct with New.
type Connector struct {
	settings transport.ClusterSettings
	dialer   transport.Dialer
	registry *host.Registry
	logger   transport.Logger

	mu       sync.Mutex
	canceled bool
	cancelFn context.CancelFunc
}

// New constructs a Connector for one connection attempt.
func New(settings transport.ClusterSettings, dialer transport.Dialer, registry *host.Registry) *Connector {
	logger := settings.Logger
	if logger == nil {
		logger = transport.DefaultLogger{}
	}
	return &Connector{
		settings: settings,
		dialer:   dialer,
		registry: registry,
		logger:   transport.PrefixLogger{Prefix: "connector", Next: logger},
	}
}

// Cancel implements spec.md §4.H step 6: idempotent, aborts all pending
// attempts, and causes Connect to report Canceled unless a sub-connector
// had already won the race.
func (c *Connector) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled {
		return
	}
	c.canceled = true
	if c.cancelFn != nil {
		c.cancelFn()
	}
}

// Connect implements spec.md §4.H steps 1-5. resolver resolves each
// contact point into zero or more addresses (the "metadata-resolver";
// spec.md §3.1 cluster_metadata_resolver_factory lets callers plug in a
// cloud/SNI-aware strategy here instead of DNS-and-port).
func (c *Connector) Connect(ctx context.Context, resolver transport.MetadataResolverFactory) (*Result, error) {
	c.mu.Lock()
	if c.canceled {
		c.mu.Unlock()
		return nil, transport.NewClusterError(transport.Canceled, "connector already canceled")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFn = cancel
	c.mu.Unlock()
	defer cancel()

	contactPoints := append([]string(nil), c.settings.ContactPoints...)
	if c.settings.UseRandomizedContactPoints {
		rand.Shuffle(len(contactPoints), func(i, j int) { contactPoints[i], contactPoints[j] = contactPoints[j], contactPoints[i] })
	}

	resolved, err := resolver.Resolve(ctx, contactPoints)
	if err != nil {
		return nil, transport.WrapClusterError(transport.NoHostsAvailable, "resolving contact points", err)
	}
	if len(resolved.Addresses) == 0 {
		return nil, transport.NewClusterError(transport.NoHostsAvailable, "contact-point resolution yielded no addresses")
	}

	type attemptResult struct {
		conn *control.Connection
		err  error
	}
	results := make(chan attemptResult, len(resolved.Addresses))

	var wg sync.WaitGroup
	for _, addr := range resolved.Addresses {
		addr := addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := control.Bootstrap(ctx, c.dialer, addr, c.settings, c.registry)
			results <- attemptResult{conn: conn, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var worst error
	for res := range results {
		if res.err == nil {
			if err := c.checkInitialQueryPlan(res.conn, resolved.LocalDC); err != nil {
				res.conn.Close()
				worst = worseError(worst, err)
				continue
			}
			cancel() // spec.md §4.H step 4: on first success, cancel the others.
			// Drain remaining results in the background so their
			// connections get closed rather than leaked.
			go func() {
				for leftover := range results {
					if leftover.conn != nil {
						leftover.conn.Close()
					}
				}
			}()
			return &Result{Connection: res.conn, LocalDC: resolved.LocalDC}, nil
		}

		c.mu.Lock()
		wasCanceled := c.canceled
		c.mu.Unlock()
		if wasCanceled {
			continue
		}

		worst = worseError(worst, res.err)
	}

	c.mu.Lock()
	canceled := c.canceled
	c.mu.Unlock()
	if canceled {
		return nil, transport.NewClusterError(transport.Canceled, "connector canceled before any attempt succeeded")
	}
	if worst == nil {
		worst = transport.NewClusterError(transport.NoHostsAvailable, "no contact points available")
	}
	return nil, worst
}

// checkInitialQueryPlan implements spec.md §4.H step 5's post-bootstrap
// guard: build the configured load-balancing policy against the discovered
// host set and require its first query plan to produce at least one host
// before the connect is allowed to succeed. Mirrors
// ClusterConnector::on_connect's post-bootstrap new_query_plan/
// compute_next check in the original driver (original_source/src/
// cluster_connector.cpp), including its DC-aware-specific message, so an
// invalid local datacenter fails the connect instead of surfacing only
// once a later reconnect is attempted.
func (c *Connector) checkInitialQueryPlan(conn *control.Connection, localDC string) error {
	builder := c.settings.LoadBalancingPolicy
	if builder == nil {
		return nil
	}

	connectedHost, ok := c.registry.Get(conn.Address())
	if !ok {
		return transport.NewClusterError(transport.NoHostsAvailable, "control connection host is not found in hosts metadata")
	}
	hosts := c.registry.Hosts().Slice()

	dc := localDC
	if dc == "" {
		dc = conn.LocalDatacenter()
	}

	policy := builder.Build()
	policy.Init(connectedHost, hosts, rand.New(rand.NewSource(time.Now().UnixNano())), dc)
	defer policy.OnClose()

	if policy.NewQueryPlan(plan.RequestHandler{}, conn.TokenMap()).Next() != nil {
		return nil
	}

	if isDCAware(policy) {
		return transport.NewClusterError(transport.NoHostsAvailable,
			"No hosts available for the control connection using the DC-aware load balancing policy. "+
				"Check to see if the configured local datacenter is valid")
	}
	return transport.NewClusterError(transport.NoHostsAvailable,
		"No hosts available for the control connection using the configured load balancing policy")
}

// isDCAware walks a policy chain down to its base, spec.md §4.F.7's
// composition order, looking for DCAware.
func isDCAware(p lbpolicy.Policy) bool {
	for {
		if _, ok := p.(*lbpolicy.DCAware); ok {
			return true
		}
		cp, ok := p.(lbpolicy.ChildPolicy)
		if !ok {
			return false
		}
		p = cp.Child()
	}
}

// worseError implements spec.md §4.H step 5's classification priority:
// "SSL_ERROR > AUTH_ERROR > INVALID_PROTOCOL > NO_HOSTS_AVAILABLE".
func worseError(current, candidate error) error {
	if current == nil {
		return candidate
	}
	cur, ok1 := current.(*transport.ClusterError)
	cand, ok2 := candidate.(*transport.ClusterError)
	if !ok1 || !ok2 {
		return current
	}
	if transport.WorseOf(cur.Kind, cand.Kind) == cand.Kind && cand.Kind != cur.Kind {
		return cand
	}
	return cur
}
