// Package trace locates the first routers on the path to a target by
// probing with increasing hop limits.
package trace

import (
	"context"
	"net"
	"time"

	"github.com/digineo/go-logwrap"

	"github.com/pathmon/pathmon"
)

var (
	log = &logwrap.Instance{}

	// SetLogger allows updating the Logger. For details, see
	// "github.com/digineo/go-logwrap".Instance.SetLogger.
	SetLogger = log.SetLogger
)

// DefaultMaxHops bounds discovery to the leading hops, where the
// local-network-vs-upstream distinction lives.
const DefaultMaxHops = 3

// HopState describes what a discovery pass learned about one ordinal.
type HopState int

const (
	// Unknown means the probe for this ordinal went unanswered. Later
	// passes will try again.
	Unknown HopState = iota

	// Responded means a router answered with time-exceeded, or the
	// target itself turned out to sit at this depth.
	Responded

	// Unreached means the target was reached at a lower ordinal, so
	// this ordinal does not exist on the path.
	Unreached
)

func (s HopState) String() string {
	switch s {
	case Responded:
		return "responded"
	case Unreached:
		return "unreached"
	}
	return "unknown"
}

// Hop is one slot of a discovered path.
type Hop struct {
	TTL   int
	State HopState
	Addr  *net.IPAddr // nil unless State is Responded
	Final bool        // the target itself answered at this ordinal
}

// Path is the outcome of one discovery pass over a target.
type Path struct {
	Target *net.IPAddr
	Hops   []Hop
}

// Known reports how many hops responded.
func (p Path) Known() int {
	n := 0
	for _, h := range p.Hops {
		if h.State == Responded {
			n++
		}
	}
	return n
}

// Prober issues a single hop-limited probe. *pathmon.Transport
// implements it.
type Prober interface {
	Probe(ctx context.Context, remote *net.IPAddr, ttl int, timeout time.Duration) (pathmon.Outcome, error)
}

// Discoverer resolves the leading routers towards targets. A zero
// MaxHops means DefaultMaxHops; Timeout is the per-probe deadline and
// Interval the re-validation cadence of Run.
type Discoverer struct {
	Prober   Prober
	MaxHops  int
	Timeout  time.Duration
	Interval time.Duration
}

// Discover runs one pass: a single probe per ordinal with hop limits
// 1..MaxHops. A time-exceeded answer pins the router at that ordinal.
// The target answering directly means the path is shorter than
// MaxHops: the target's own address becomes that hop and everything
// deeper is Unreached. Unanswered ordinals stay Unknown for this pass.
func (d *Discoverer) Discover(ctx context.Context, target *net.IPAddr) (Path, error) {
	maxHops := d.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}

	path := Path{Target: target, Hops: make([]Hop, maxHops)}
	for i := range path.Hops {
		path.Hops[i].TTL = i + 1
	}

	for i := 0; i < maxHops; i++ {
		if err := ctx.Err(); err != nil {
			return path, err
		}

		out, err := d.Prober.Probe(ctx, target, i+1, d.Timeout)
		if err != nil {
			return path, err
		}

		switch out.Kind {
		case pathmon.TTLExceeded:
			path.Hops[i].State = Responded
			path.Hops[i].Addr = &net.IPAddr{IP: out.Peer}

		case pathmon.Reply:
			path.Hops[i].State = Responded
			path.Hops[i].Addr = &net.IPAddr{IP: target.IP, Zone: target.Zone}
			path.Hops[i].Final = true
			for j := i + 1; j < maxHops; j++ {
				path.Hops[j].State = Unreached
			}
			return path, nil

		default:
			// timeouts and prohibitive routers leave the slot unknown
		}
	}

	return path, nil
}

// Run re-validates the path every Interval until ctx is cancelled,
// handing every completed pass to fn. The first pass starts
// immediately.
func (d *Discoverer) Run(ctx context.Context, target *net.IPAddr, fn func(Path)) {
	interval := d.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		path, err := d.Discover(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("discovering path to %v: %v", target, err)
		} else {
			fn(path)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
