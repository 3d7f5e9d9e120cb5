// Package report aggregates a complete run into per-endpoint
// summaries and a rendered chart. Unlike the live chart window it
// never evicts samples.
package report

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/wcharczuk/go-chart/v2"
)

// ErrNoSamples is returned when a chart is requested for a run in
// which nothing answered.
var ErrNoSamples = errors.New("no measured samples to plot")

// series is the full-run record for one endpoint. Lost probes are
// tallied but keep no data point.
type series struct {
	label string
	ticks []int64
	rtts  []time.Duration
	sent  int
	lost  int
}

// Collector consumes the sample stream for the duration of a run.
// It implements the monitor's Recorder.
type Collector struct {
	interval time.Duration

	mtx    sync.Mutex
	order  []string
	series map[string]*series
}

// NewCollector creates a Collector for a run sampled at the given
// interval.
func NewCollector(interval time.Duration) *Collector {
	return &Collector{
		interval: interval,
		series:   make(map[string]*series),
	}
}

// Record adds one sample to the endpoint's tally.
func (c *Collector) Record(tick int64, endpoint string, rtt time.Duration, lost bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	s := c.series[endpoint]
	if s == nil {
		s = &series{label: endpoint}
		c.series[endpoint] = s
		c.order = append(c.order, endpoint)
	}

	s.sent++
	if lost {
		s.lost++
		return
	}
	s.ticks = append(s.ticks, tick)
	s.rtts = append(s.rtts, rtt)
}

// Summary is the end-of-run aggregation for one endpoint. The
// percentiles are taken over answered probes only.
type Summary struct {
	Endpoint string
	Sent     int
	Lost     int
	Average  time.Duration
	P95      time.Duration
	P99      time.Duration
}

// Summaries computes the per-endpoint summaries in first-seen order.
func (c *Collector) Summaries() []Summary {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	out := make([]Summary, 0, len(c.order))
	for _, label := range c.order {
		s := c.series[label]
		sum := Summary{Endpoint: label, Sent: s.sent, Lost: s.lost}

		if len(s.rtts) > 0 {
			sorted := make([]time.Duration, len(s.rtts))
			copy(sorted, s.rtts)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			var total time.Duration
			for _, rtt := range sorted {
				total += rtt
			}
			sum.Average = total / time.Duration(len(sorted))
			sum.P95 = percentile(sorted, 0.95)
			sum.P99 = percentile(sorted, 0.99)
		}

		out = append(out, sum)
	}
	return out
}

// percentile picks the value at index floor(len×q) of the sorted set,
// clamped to the last element.
func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// WriteSummary emits the summaries as CSV.
func (c *Collector) WriteSummary(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"endpoint", "sent", "lost", "avg_ms", "p95_ms", "p99_ms"}); err != nil {
		return err
	}

	for _, s := range c.Summaries() {
		row := []string{
			s.Endpoint,
			strconv.Itoa(s.Sent),
			strconv.Itoa(s.Lost),
			formatMs(s.Average),
			formatMs(s.P95),
			formatMs(s.P99),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteChart renders the run as a round-trip-time-over-seconds PNG,
// one line per endpoint.
func (c *Collector) WriteChart(w io.Writer) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	graph := chart.Chart{
		Title:  "round trip time",
		Width:  1280,
		Height: 720,
		XAxis:  chart.XAxis{Name: "seconds"},
		YAxis:  chart.YAxis{Name: "rtt (ms)"},
	}

	for i, label := range c.order {
		s := c.series[label]
		if len(s.rtts) == 0 {
			continue
		}

		xs := make([]float64, len(s.rtts))
		ys := make([]float64, len(s.rtts))
		for j := range s.rtts {
			xs[j] = float64(s.ticks[j]*c.interval.Milliseconds()) / 1000
			ys[j] = float64(s.rtts[j]) / float64(time.Millisecond)
		}

		graph.Series = append(graph.Series, chart.ContinuousSeries{
			Name:    s.label,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: chart.GetDefaultColor(i),
			},
		})
	}

	if len(graph.Series) == 0 {
		return ErrNoSamples
	}

	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph.Render(chart.PNG, w)
}

// WriteFiles persists the run as base+".summary.csv" and base+".png".
// A run in which nothing answered still gets a summary, but no chart.
func (c *Collector) WriteFiles(base string) error {
	f, err := os.Create(base + ".summary.csv")
	if err != nil {
		return err
	}
	err = c.WriteSummary(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	f, err = os.Create(base + ".png")
	if err != nil {
		return err
	}
	err = c.WriteChart(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, ErrNoSamples) {
		os.Remove(base + ".png")
		return nil
	}
	return err
}

func formatMs(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64)
}
