package monitor

import (
	"fmt"
	"net"
	"sync"

	"github.com/pathmon/pathmon/trace"
)

// Endpoint is one monitored address: a target itself, or one of the
// hop slots in front of it. The monitor loop is the only writer of
// the address and state; render code reads through the accessors.
type Endpoint struct {
	label   string // stable row identifier, also used in the sample log
	ordinal int    // 0 for the target itself, 1..n for hops
	buffer  Buffer

	addr  *net.IPAddr // nil while undiscovered
	state trace.HopState
	final bool // hop slot occupied by the target itself
	sync.RWMutex
}

// Label returns the endpoint's stable identifier.
func (e *Endpoint) Label() string { return e.label }

// Ordinal returns the endpoint's position on the path, 0 for the
// target itself.
func (e *Endpoint) Ordinal() int { return e.ordinal }

// Buffer returns the endpoint's sample history.
func (e *Endpoint) Buffer() *Buffer { return &e.buffer }

// Addr returns the endpoint's current address, nil while unknown.
func (e *Endpoint) Addr() *net.IPAddr {
	e.RLock()
	defer e.RUnlock()
	return e.addr
}

// State returns what the latest discovery pass knew about this slot.
func (e *Endpoint) State() trace.HopState {
	e.RLock()
	defer e.RUnlock()
	return e.state
}

// Final reports whether this hop slot is occupied by the target
// itself, i.e. the path is shorter than the slot count.
func (e *Endpoint) Final() bool {
	e.RLock()
	defer e.RUnlock()
	return e.final
}

// probeable reports whether the sampling loop should probe this
// endpoint. Final hop slots duplicate the target and are skipped; the
// target's own samples cover that stretch.
func (e *Endpoint) probeable() bool {
	e.RLock()
	defer e.RUnlock()
	return e.addr != nil && !e.final
}

// setResponded records a discovered router (or the target itself when
// final). Changing the address discards the history: samples from two
// different routers must not mix, and the caller runs on the monitor
// loop so no probe is in flight while this happens.
func (e *Endpoint) setResponded(addr *net.IPAddr, final bool) {
	e.Lock()
	changed := e.addr == nil || !e.addr.IP.Equal(addr.IP)
	e.addr = addr
	e.state = trace.Responded
	e.final = final
	e.Unlock()

	if changed {
		e.buffer.Reset()
	}
}

// setUnreached marks the slot as lying beyond the target.
func (e *Endpoint) setUnreached() {
	e.Lock()
	had := e.addr != nil
	e.addr = nil
	e.state = trace.Unreached
	e.final = false
	e.Unlock()

	if had {
		e.buffer.Reset()
	}
}

// setUnknown records an unanswered discovery probe. A slot that
// already has an address keeps it; a single silent pass does not mean
// the router went away.
func (e *Endpoint) setUnknown() {
	e.Lock()
	defer e.Unlock()

	if e.addr != nil {
		return
	}
	e.state = trace.Unknown
}

// Target is one monitored destination plus its hop slots.
type Target struct {
	Host    string // as configured by the user
	Display string // human readable, includes the resolved address

	self *Endpoint
	hops []*Endpoint
}

func newTarget(host string, addr *net.IPAddr, maxHops, capacity int) *Target {
	if capacity <= 0 {
		capacity = defaultHistorySize
	}

	display := host
	if host != addr.String() {
		display = fmt.Sprintf("%s (%s)", host, addr)
	}

	t := &Target{
		Host:    host,
		Display: display,
		self: &Endpoint{
			label:  host,
			buffer: NewBuffer(capacity),
			addr:   addr,
			state:  trace.Responded,
		},
		hops: make([]*Endpoint, maxHops),
	}

	for i := range t.hops {
		t.hops[i] = &Endpoint{
			label:   fmt.Sprintf("%s/hop%d", host, i+1),
			ordinal: i + 1,
			buffer:  NewBuffer(capacity),
		}
	}

	return t
}

// Self returns the endpoint for the destination itself.
func (t *Target) Self() *Endpoint { return t.self }

// Hops returns the hop slots in ordinal order.
func (t *Target) Hops() []*Endpoint { return t.hops }

// applyPath folds a discovery pass into the hop slots. Runs on the
// monitor loop between ticks, so address swaps and buffer resets are
// atomic with respect to sampling.
func (t *Target) applyPath(p trace.Path) {
	for i, e := range t.hops {
		if i >= len(p.Hops) {
			break
		}

		switch h := p.Hops[i]; h.State {
		case trace.Responded:
			e.setResponded(h.Addr, h.Final)
		case trace.Unreached:
			e.setUnreached()
		default:
			e.setUnknown()
		}
	}
}
