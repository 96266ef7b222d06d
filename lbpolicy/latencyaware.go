package lbpolicy

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/plan"
	"github.com/scylladb/cqlcluster/tokenmap"
)

// LatencyAwareConfig configures LatencyAware per spec.md §4.F.4.
type LatencyAwareConfig struct {
	ScaleNS            float64
	MinMeasured        int64
	ExclusionThreshold float64
	RetryPeriod        time.Duration
	UpdateRate         time.Duration
}

func (c LatencyAwareConfig) withDefaults() LatencyAwareConfig {
	if c.ScaleNS <= 0 {
		c.ScaleNS = float64(100 * time.Millisecond)
	}
	if c.MinMeasured <= 0 {
		c.MinMeasured = 50
	}
	if c.ExclusionThreshold <= 0 {
		c.ExclusionThreshold = 2.0
	}
	if c.RetryPeriod <= 0 {
		c.RetryPeriod = 10 * time.Second
	}
	if c.UpdateRate <= 0 {
		c.UpdateRate = 100 * time.Millisecond
	}
	return c
}

// thresholdToAccount is the warm-up sample count below which a host's
// average does not yet count, per spec.md §4.F.4: (30 * min_measured) / 100.
func (c LatencyAwareConfig) thresholdToAccount() int64 {
	return (30 * c.MinMeasured) / 100
}

type latencyRecord struct {
	average      float64 // nanoseconds, EWMA
	samples      int64
	lastHighSeen time.Time
}

// LatencyAware wraps a child policy, deferring candidates whose EWMA
// latency exceeds exclusion_threshold * cluster-wide-minimum to the tail of
// the plan, unless their last high-latency sample is stale (spec.md
// §4.F.4).
type LatencyAware struct {
	child Policy
	cfg   LatencyAwareConfig

	mu      sync.RWMutex
	records map[host.Address]*latencyRecord
	minAvg  float64

	stop chan struct{}
}

// NewLatencyAware returns a Builder wrapping child with latency-aware
// re-ranking.
func NewLatencyAware(child Builder, cfg LatencyAwareConfig) Builder {
	cfg = cfg.withDefaults()
	return BuilderFunc(func() Policy {
		return &LatencyAware{
			child:   child.Build(),
			cfg:     cfg,
			records: make(map[host.Address]*latencyRecord),
			stop:    make(chan struct{}),
		}
	})
}

func (p *LatencyAware) Init(connectedHost *host.Host, hosts []*host.Host, rng *rand.Rand, localDC string) {
	p.child.Init(connectedHost, hosts, rng, localDC)
	go p.refreshLoop()
}

func (p *LatencyAware) refreshLoop() {
	t := time.NewTicker(p.cfg.UpdateRate)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.refreshMinimum()
		}
	}
}

func (p *LatencyAware) refreshMinimum() {
	p.mu.Lock()
	defer p.mu.Unlock()
	min := math.Inf(1)
	for _, r := range p.records {
		if r.samples < p.cfg.thresholdToAccount() {
			continue
		}
		if r.average < min {
			min = r.average
		}
	}
	if !math.IsInf(min, 1) {
		p.minAvg = min
	}
}

// Record folds a completed request's latency into addr's EWMA. This is the
// hook the (out-of-scope) request execution layer calls after each attempt
// completes; a non-nil err still counts as a sample (a slow failure is as
// informative as a slow success for exclusion purposes) and also stamps
// lastHighSeen, so a failing host whose average is over the exclusion
// threshold stays deferred until RetryPeriod has passed, mirroring spec.md
// §4.F.4's "high-latency sample" wording rather than treating errors as a
// separate signal. A failure alone does not defer a host.
func (p *LatencyAware) Record(addr host.Address, latency time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.records[addr]
	if !ok {
		r = &latencyRecord{}
		p.records[addr] = r
	}
	sample := float64(latency.Nanoseconds())
	if r.samples == 0 {
		r.average = sample
	} else {
		decay := math.Exp(-sample / p.cfg.ScaleNS)
		r.average = r.average*decay + sample*(1-decay)
	}
	r.samples++
	if err != nil || (p.minAvg > 0 && r.average > p.cfg.ExclusionThreshold*p.minAvg) {
		r.lastHighSeen = time.Now()
	}
}

func (p *LatencyAware) isExcluded(addr host.Address) (excluded bool, stale bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.records[addr]
	if !ok || r.samples < p.cfg.thresholdToAccount() || p.minAvg == 0 {
		return false, false
	}
	if r.average <= p.cfg.ExclusionThreshold*p.minAvg {
		return false, false
	}
	// A zero lastHighSeen means no high sample has been stamped yet, which
	// counts as recent.
	stale = !r.lastHighSeen.IsZero() && time.Since(r.lastHighSeen) > p.cfg.RetryPeriod
	return true, stale
}

func (p *LatencyAware) Child() Policy { return p.child }

func (p *LatencyAware) Distance(h *host.Host) Distance  { return p.child.Distance(h) }
func (p *LatencyAware) IsHostUp(addr host.Address) bool { return p.child.IsHostUp(addr) }

func (p *LatencyAware) NewQueryPlan(req plan.RequestHandler, tm *tokenmap.Map) plan.Plan {
	child := p.child.NewQueryPlan(req, tm)

	var deferred []*host.Host
	return plan.Func(func() *host.Host {
		for {
			h := child.Next()
			if h == nil {
				if len(deferred) == 0 {
					return nil
				}
				h = deferred[0]
				deferred = deferred[1:]
				return h
			}
			excluded, stale := p.isExcluded(h.Address)
			if excluded && !stale {
				deferred = append(deferred, h)
				continue
			}
			return h
		}
	})
}

func (p *LatencyAware) OnHostAdded(h *host.Host) { p.child.OnHostAdded(h) }

func (p *LatencyAware) OnHostRemoved(h *host.Host) {
	p.child.OnHostRemoved(h)
	p.mu.Lock()
	delete(p.records, h.Address)
	p.mu.Unlock()
}

func (p *LatencyAware) OnHostUp(h *host.Host)   { p.child.OnHostUp(h) }
func (p *LatencyAware) OnHostDown(h *host.Host) { p.child.OnHostDown(h) }
func (p *LatencyAware) OnTokenMapUpdated()      { p.child.OnTokenMapUpdated() }

func (p *LatencyAware) OnClose() {
	close(p.stop)
	p.child.OnClose()
}

func (p *LatencyAware) OnReconnect() { p.child.OnReconnect() }
