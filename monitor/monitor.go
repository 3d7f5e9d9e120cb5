// Package monitor drives the sampling schedule: one concurrent probe
// per endpoint per tick, every result funneled into the endpoint's
// ring buffer and the attached recorders by a single aggregator loop.
package monitor

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/digineo/go-logwrap"
	"golang.org/x/sync/errgroup"

	"github.com/pathmon/pathmon"
	"github.com/pathmon/pathmon/trace"
)

var (
	log = &logwrap.Instance{}

	// SetLogger allows updating the Logger. For details, see
	// "github.com/digineo/go-logwrap".Instance.SetLogger.
	SetLogger = log.SetLogger
)

const (
	defaultHistorySize = 150
	defaultMaxHops     = trace.DefaultMaxHops

	// DefaultInterval is the sampling cadence applied when none is
	// configured.
	DefaultInterval = 200 * time.Millisecond
)

// Prober issues a single echo probe. *pathmon.Transport implements it.
type Prober interface {
	Probe(ctx context.Context, remote *net.IPAddr, ttl int, timeout time.Duration) (pathmon.Outcome, error)
}

// Recorder consumes the sample stream: one call per endpoint per
// tick, invoked from the aggregator loop in tick order.
type Recorder interface {
	Record(tick int64, endpoint string, rtt time.Duration, lost bool)
}

// Monitor manages the sampling of a set of targets and their hops.
// Configure it fully (targets, recorders, HistorySize, MaxHops)
// before calling Run.
type Monitor struct {
	HistorySize int // number of samples per endpoint to keep
	MaxHops     int // hop slots per target

	prober    Prober
	interval  time.Duration
	timeout   time.Duration
	targets   []*Target
	recorders []Recorder

	paths chan targetPath
	tick  int64

	mtx sync.RWMutex
}

type targetPath struct {
	target *Target
	path   trace.Path
}

// New creates a Monitor probing through prober. The per-probe timeout
// is capped at the sampling interval, so a tick's probes are always
// settled before the next tick fires.
func New(prober Prober, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}

	return &Monitor{
		HistorySize: defaultHistorySize,
		MaxHops:     defaultMaxHops,
		prober:      prober,
		interval:    interval,
		timeout:     timeout,
		paths:       make(chan targetPath, 64),
	}
}

// Interval returns the sampling cadence.
func (m *Monitor) Interval() time.Duration { return m.interval }

// Timeout returns the per-probe deadline.
func (m *Monitor) Timeout() time.Duration { return m.timeout }

// AddTarget registers a destination for monitoring and returns its
// handle. Duplicate hosts return the existing handle.
func (m *Monitor) AddTarget(host string, addr *net.IPAddr) *Target {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, t := range m.targets {
		if t.Host == host {
			return t
		}
	}

	t := newTarget(host, addr, m.MaxHops, m.HistorySize)
	m.targets = append(m.targets, t)
	return t
}

// Targets returns the monitored destinations in registration order.
func (m *Monitor) Targets() []*Target {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	out := make([]*Target, len(m.targets))
	copy(out, m.targets)
	return out
}

// AddRecorder attaches a sample consumer. Not safe to call once Run
// has started.
func (m *Monitor) AddRecorder(r Recorder) {
	m.recorders = append(m.recorders, r)
}

// ApplyPath hands a discovery result to the aggregator loop, which
// folds it in between two ticks. Never blocks; with a congested
// monitor the pass is dropped and the next re-validation delivers a
// fresh one.
func (m *Monitor) ApplyPath(t *Target, p trace.Path) {
	select {
	case m.paths <- targetPath{t, p}:
	default:
		log.Debugf("discovery result for %s dropped", t.Host)
	}
}

// Run drives the sampling loop until ctx is cancelled. The first tick
// fires immediately.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.drainPaths()
	m.step(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case tp := <-m.paths:
			tp.target.applyPath(tp.path)
		case <-ticker.C:
			m.step(ctx)
		}
	}
}

// drainPaths applies queued discovery results without blocking.
func (m *Monitor) drainPaths() {
	for {
		select {
		case tp := <-m.paths:
			tp.target.applyPath(tp.path)
		default:
			return
		}
	}
}

type probeResult struct {
	endpoint *Endpoint
	outcome  pathmon.Outcome
}

// step runs a single sampling tick: one probe per endpoint, all
// concurrent, then one sequential pass applying the answers. Since
// the per-probe timeout never exceeds the interval, the whole tick is
// settled before the next one is due.
func (m *Monitor) step(ctx context.Context) {
	tick := m.tick
	m.tick++

	endpoints := m.probeList()
	if len(endpoints) == 0 {
		return
	}

	results := make(chan probeResult, len(endpoints))
	g, ctx := errgroup.WithContext(ctx)

	for _, e := range endpoints {
		addr := e.Addr()
		g.Go(func() error {
			out, err := m.prober.Probe(ctx, addr, 0, m.timeout)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err() // shutting down, abandon the tick
				}
				// a local failure still yields a lost sample, so a
				// broken address family cannot starve its endpoints
				log.Errorf("probing %s: %v", e.Label(), err)
				out = pathmon.Outcome{Kind: pathmon.Timeout}
			}
			results <- probeResult{e, out}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return
	}
	close(results)

	for res := range results {
		sample := normalize(tick, res.outcome)
		res.endpoint.buffer.Add(sample)
		for _, r := range m.recorders {
			r.Record(tick, res.endpoint.label, sample.RTT, sample.Lost)
		}
	}
}

// probeList snapshots the endpoints due for sampling: every target
// plus its hop slots with a known address.
func (m *Monitor) probeList() []*Endpoint {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	var list []*Endpoint
	for _, t := range m.targets {
		list = append(list, t.self)
		for _, h := range t.hops {
			if h.probeable() {
				list = append(list, h)
			}
		}
	}
	return list
}

// normalize maps a probe outcome onto the recorded sample. Anything
// but a reply counts as lost and carries the sentinel.
func normalize(tick int64, out pathmon.Outcome) Sample {
	if out.Kind == pathmon.Reply {
		return Sample{Tick: tick, RTT: out.RTT}
	}
	return Sample{Tick: tick, RTT: SentinelRTT, Lost: true}
}
