package monitor

import (
	"math"
	"sort"
	"time"
)

// Stats is a dumb data point computed from the samples in a Buffer.
// Lost samples count towards the packet figures but contribute nothing
// to the round-trip times.
type Stats struct {
	PacketsSent int           // number of samples in the window
	PacketsLost int           // number of lost samples
	Last        time.Duration // most recent measured rtt
	Best        time.Duration // best rtt
	Worst       time.Duration // worst rtt
	Median      time.Duration // median rtt
	Mean        time.Duration // mean rtt
	StdDev      time.Duration // std deviation
}

// Loss returns the fraction of lost samples, 0..1.
func (s *Stats) Loss() float64 {
	if s.PacketsSent == 0 {
		return 0
	}
	return float64(s.PacketsLost) / float64(s.PacketsSent)
}

// Stats aggregates the buffered samples into a single data point.
// Returns nil while the buffer is empty.
func (b *Buffer) Stats() *Stats {
	b.RLock()
	defer b.RUnlock()

	numFailure := 0
	numTotal := b.count

	if numTotal == 0 {
		return nil
	}

	data := make([]float64, 0, numTotal)
	var best, worst, stddev, median time.Duration
	var total, sumSquares, mean float64
	var extremeFound bool

	for i := 0; i < numTotal; i++ {
		curr := &b.samples[i]
		if curr.Lost {
			numFailure++
		} else {
			data = append(data, float64(curr.RTT))

			if !extremeFound || curr.RTT < best {
				best = curr.RTT
			}
			if !extremeFound || curr.RTT > worst {
				worst = curr.RTT
			}

			extremeFound = true
			total += float64(curr.RTT)
		}
	}

	if numFailure < numTotal {
		size := numTotal - numFailure
		mean = total / float64(size)
		for _, rtt := range data {
			sumSquares += math.Pow(rtt-mean, 2)
		}
		stddev = time.Duration(math.Sqrt(sumSquares / float64(size)))

		sort.Float64Slice(data).Sort()
		if size%2 == 0 {
			median = time.Duration((data[size/2-1] + data[size/2]) / 2)
		} else {
			median = time.Duration(data[size/2])
		}
	}

	st := Stats{
		PacketsSent: numTotal,
		PacketsLost: numFailure,
		Best:        best,
		Worst:       worst,
		Median:      median,
		Mean:        time.Duration(mean),
		StdDev:      stddev,
	}

	// most recent measured rtt, scanning backwards from the newest
	for i := 0; i < b.count; i++ {
		if s := b.samples[b.prev(i)]; !s.Lost {
			st.Last = s.RTT
			break
		}
	}

	return &st
}
