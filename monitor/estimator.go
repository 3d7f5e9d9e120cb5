package monitor

import (
	"net"
	"time"

	"github.com/pathmon/pathmon/trace"
)

// Segment is one stretch of a target's path, annotated with the share
// of the total latency attributed to it.
type Segment struct {
	Label   string
	Ordinal int         // 1-based position, the last segment ends at the target
	Addr    *net.IPAddr // nil while the hop is undiscovered
	RTT     time.Duration
	Delta   time.Duration // estimated latency contribution, never negative
	Known   bool          // a usable measurement exists for this position
	Final   bool          // segment ending at the target itself
}

// Estimate decomposes the target's latest round-trip times into
// per-segment contributions: each position is charged the difference
// between its rtt and the rtt of the nearest measured predecessor,
// with the probing device itself counting as zero. Differences are
// clamped at zero since rtts of intermediate routers are not
// guaranteed monotonic; estimates are derived from the latest
// answered samples, so a momentary loss shows up as Known == false
// instead of a bogus spike. Cheap enough to recompute on every
// redraw.
func Estimate(t *Target) []Segment {
	segments := make([]Segment, 0, len(t.hops)+1)
	var prev time.Duration

	for _, h := range t.hops {
		if h.Final() || h.State() == trace.Unreached {
			break // the target segment below ends the path
		}

		seg := Segment{
			Label:   h.Label(),
			Ordinal: h.ordinal,
			Addr:    h.Addr(),
		}
		if s, ok := h.buffer.LatestMeasured(); ok {
			seg.Known = true
			seg.RTT = s.RTT
			seg.Delta = clamp(s.RTT - prev)
			prev = s.RTT
		}
		segments = append(segments, seg)
	}

	seg := Segment{
		Label:   t.Host,
		Ordinal: len(segments) + 1,
		Addr:    t.self.Addr(),
		Final:   true,
	}
	if s, ok := t.self.buffer.LatestMeasured(); ok {
		seg.Known = true
		seg.RTT = s.RTT
		seg.Delta = clamp(s.RTT - prev)
	}

	return append(segments, seg)
}

func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
