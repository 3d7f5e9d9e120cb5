// Package csvlog persists the raw sample stream as CSV, one file per
// run, so interrupted sessions can still be analyzed afterwards.
package csvlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/digineo/go-logwrap"
)

var (
	log = &logwrap.Instance{}

	// SetLogger allows updating the Logger. For details, see
	// "github.com/digineo/go-logwrap".Instance.SetLogger.
	SetLogger = log.SetLogger
)

// maxRuns bounds the search for a free run file name.
const maxRuns = 9999

var header = []string{"timestamp", "endpoint", "rtt_ms"}

// Logger appends one row per sample to this run's file. All methods
// are safe on a nil receiver: a run without persistence uses a nil
// *Logger and every call degrades to a no-op, keeping the measurement
// loop oblivious.
type Logger struct {
	file     *os.File
	w        *csv.Writer
	interval time.Duration
	path     string
	failed   bool
}

// Create claims the lowest-numbered unused ping<N>.csv in dir and
// writes the header row. Files of earlier runs are never reopened or
// truncated; the number simply moves on.
func Create(dir string, interval time.Duration) (*Logger, error) {
	for n := 1; n <= maxRuns; n++ {
		path := filepath.Join(dir, fmt.Sprintf("ping%d.csv", n))

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, err
		}

		l := &Logger{
			file:     file,
			w:        csv.NewWriter(file),
			interval: interval,
			path:     path,
		}
		if err := l.writeRow(header); err != nil {
			file.Close()
			os.Remove(path)
			return nil, err
		}
		return l, nil
	}

	return nil, fmt.Errorf("all run files up to ping%d.csv taken in %s", maxRuns, dir)
}

// Path returns the run file's location.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record appends one sample row. The timestamp is derived from the
// tick index, not from the wall clock, so rows land on exact multiples
// of the sampling interval no matter how late a probe resolved. Lost
// samples carry the literal 1000.
func (l *Logger) Record(tick int64, endpoint string, rtt time.Duration, lost bool) {
	if l == nil || l.failed {
		return
	}

	rttMs := "1000"
	if !lost {
		rttMs = formatMs(rtt)
	}

	if err := l.writeRow([]string{l.timestamp(tick), endpoint, rttMs}); err != nil {
		// one warning, then stay quiet; the monitoring itself goes on
		l.failed = true
		log.Errorf("sample log %s failed, samples no longer persisted: %v", l.path, err)
	}
}

// writeRow emits and flushes a single row, row-by-row durability being
// the point of this log.
func (l *Logger) writeRow(row []string) error {
	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

// Close flushes and closes the run file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	l.w.Flush()
	err := l.w.Error()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// timestamp renders tick × interval as seconds with millisecond
// precision. Computed in integer milliseconds so consecutive rows
// differ by exactly the interval, with no float drift.
func (l *Logger) timestamp(tick int64) string {
	ms := tick * l.interval.Milliseconds()
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

func formatMs(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64)
}
