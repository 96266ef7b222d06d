package control

import (
	"context"
	"time"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/plan"
	"github.com/scylladb/cqlcluster/transport"
)

// Dial attempts a full Bootstrap against h, the host Reconnector.Run took
// next from the load-balancing policy plan it was given (spec.md §4.G
// step 7: "driven by the
// configured reconnection policy against the current load-balancing
// policy's query plan").
type Dial func(ctx context.Context, h *host.Host) (*Connection, error)

// Reconnector runs the control connection's reconnection loop (spec.md
// §4.G step 7): on unexpected close, it walks the supplied query plan,
// delaying between attempts per the configured ReconnectionPolicy, until
// one attempt succeeds or the plan is exhausted.
type Reconnector struct {
	Policy   transport.ReconnectionPolicy
	Registry *host.Registry
	Logger   transport.Logger
	Dial     Dial
}

// Run walks planFn() — called once per outage to get a fresh plan reflecting
// current topology — attempting Dial against each candidate host with
// Policy-governed delays between attempts. It returns the new Connection on
// success. If the plan is exhausted without success, it returns
// NoHostsAvailable (spec.md §4.G step 7: "If the outage plan exhausts,
// transition to closed").
func (r *Reconnector) Run(ctx context.Context, planFn func() plan.Plan) (*Connection, error) {
	p := planFn()
	attempt := 0

	for {
		h := p.Next()
		if h == nil {
			return nil, transport.NewClusterError(transport.NoHostsAvailable, "reconnection plan exhausted")
		}
		attempt++

		conn, err := r.Dial(ctx, h)
		if err == nil {
			r.Registry.NotifyReconnect()
			return conn, nil
		}
		r.Logger.Printf("reconnection attempt %d against %s failed: %v", attempt, h.Address, err)

		delay := r.Policy.NextDelay(attempt)
		select {
		case <-ctx.Done():
			return nil, transport.WrapClusterError(transport.UnableToConnect, "reconnection loop canceled", ctx.Err())
		case <-time.After(delay):
		}
	}
}
