// Command pathmon pings targets and the first routers in front of
// them, showing live latency charts, a path minimap with per-hop
// latency shares, and logging every sample to a CSV file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackpal/gateway"
	"github.com/sirupsen/logrus"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/pathmon/pathmon"
	"github.com/pathmon/pathmon/csvlog"
	"github.com/pathmon/pathmon/monitor"
	"github.com/pathmon/pathmon/report"
	"github.com/pathmon/pathmon/trace"
)

const defaultTarget = "google.com"

var opts = struct {
	interval    time.Duration
	timeout     time.Duration
	buffer      uint
	discovery   time.Duration
	hops        uint
	bind4       string
	bind6       string
	privileged  bool
	mark        uint
	force4      bool
	force6      bool
	writeReport bool
}{
	interval:    200 * time.Millisecond,
	buffer:      150,
	discovery:   10 * time.Second,
	hops:        trace.DefaultMaxHops,
	bind4:       "0.0.0.0",
	bind6:       "::",
	privileged:  true,
	writeReport: true,
}

func main() {
	loadEnvFile()

	flag.DurationVar(&opts.interval, "n", envDuration("PATHMON_INTERVAL", opts.interval), "sampling interval")
	flag.DurationVar(&opts.timeout, "timeout", envDuration("PATHMON_TIMEOUT", 0), "deadline for a single probe (0: one interval)")
	flag.UintVar(&opts.buffer, "buffer", envUint("PATHMON_BUFFER", opts.buffer), "number of samples in the chart window")
	flag.DurationVar(&opts.discovery, "discovery", envDuration("PATHMON_DISCOVERY_INTERVAL", opts.discovery), "hop re-validation interval")
	flag.UintVar(&opts.hops, "hops", opts.hops, "number of leading hops to monitor (0 disables)")
	flag.StringVar(&opts.bind4, "bind", opts.bind4, "IPv4 bind address")
	flag.StringVar(&opts.bind6, "bind6", opts.bind6, "IPv6 bind address")
	flag.BoolVar(&opts.privileged, "privileged", opts.privileged, "use raw ICMP sockets")
	flag.UintVar(&opts.mark, "mark", 0, "SO_MARK to set on probe packets (Linux)")
	flag.BoolVar(&opts.force4, "4", false, "resolve targets to IPv4 addresses")
	flag.BoolVar(&opts.force6, "6", false, "resolve targets to IPv6 addresses")
	flag.BoolVar(&opts.writeReport, "report", opts.writeReport, "write summary CSV and chart PNG on exit")
	flag.Parse()

	hosts := flag.Args()
	if len(hosts) == 0 {
		hosts = envList("PATHMON_TARGETS")
	}
	if len(hosts) == 0 {
		hosts = []string{defaultTarget}
		logrus.Infof("no targets given, monitoring %s", defaultTarget)
	}

	if err := run(hosts); err != nil {
		logrus.WithError(err).Fatal("pathmon failed")
	}
}

func run(hosts []string) error {
	std := logrus.StandardLogger()
	pathmon.SetLogger(std)
	trace.SetLogger(std)
	monitor.SetLogger(std)
	csvlog.SetLogger(std)

	bind4, bind6 := opts.bind4, opts.bind6
	if opts.force4 {
		bind6 = ""
	}
	if opts.force6 {
		bind4 = ""
	}

	transport, err := pathmon.New(bind4, bind6, opts.privileged)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to bind: %s\nRunning as root? Raw sockets need CAP_NET_RAW; -privileged=false uses datagram ICMP instead.\n", err)
		os.Exit(2)
	}
	defer transport.Close()

	if opts.mark > 0 {
		if err := transport.SetMark(opts.mark); err != nil {
			logrus.WithError(err).Warn("cannot mark probe packets")
		}
	}

	mon := monitor.New(transport, opts.interval, opts.timeout)
	mon.HistorySize = int(opts.buffer)
	mon.MaxHops = int(opts.hops)

	for _, host := range hosts {
		addr, err := resolve(host, 5*time.Second)
		if err != nil {
			logrus.WithError(err).Errorf("skipping %s", host)
			continue
		}
		mon.AddTarget(host, addr)
	}

	targets := mon.Targets()
	if len(targets) == 0 {
		return errors.New("no usable targets")
	}

	logger, err := csvlog.Create(logDir(), mon.Interval())
	if err != nil {
		logrus.WithError(err).Warn("sample log disabled")
	} else {
		logrus.Infof("logging samples to %s", logger.Path())
		mon.AddRecorder(logger)
	}
	defer logger.Close()

	var collector *report.Collector
	if opts.writeReport {
		collector = report.NewCollector(mon.Interval())
		mon.AddRecorder(collector)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	discoverer := &trace.Discoverer{
		Prober:   transport,
		MaxHops:  int(opts.hops),
		Timeout:  2 * mon.Timeout(),
		Interval: opts.discovery,
	}

	if opts.hops > 0 {
		discoverAll(ctx, discoverer, mon, targets)
		for _, t := range targets {
			go discoverer.Run(ctx, t.Self().Addr(), func(p trace.Path) {
				mon.ApplyPath(t, p)
			})
		}
	}

	monDone := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(monDone)
	}()

	gw, err := gateway.DiscoverGateway()
	if err != nil {
		logrus.WithError(err).Debug("cannot determine home gateway")
		gw = nil
	}

	// logs would tear the terminal apart while the UI owns it
	li := interceptLogs(100)
	ui := buildUI(mon, newNameCache(), gw)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		ui.app.Stop()
	}()

	uiErr := ui.Run(ctx)

	cancel()
	<-monDone

	logrus.SetOutput(os.Stderr)
	li.replay(os.Stderr)

	if uiErr != nil {
		return uiErr
	}

	if collector != nil {
		writeReports(collector, logger.Path())
	}
	return nil
}

// discoverAll runs the first discovery pass for every target before
// the UI starts, with a progress bar so the quiet first seconds do
// not look like a hang.
func discoverAll(ctx context.Context, d *trace.Discoverer, mon *monitor.Monitor, targets []*monitor.Target) {
	bar := pb.StartNew(len(targets)).Prefix("discovering hops")
	defer bar.Finish()

	for _, t := range targets {
		path, err := d.Discover(ctx, t.Self().Addr())
		if err != nil {
			logrus.WithError(err).Warnf("discovering path to %s", t.Host)
		} else {
			mon.ApplyPath(t, path)
		}
		bar.Increment()
	}
}

// logDir places run files next to the binary.
func logDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// writeReports persists the end-of-run summary and chart next to the
// sample log, and echoes the summary to the terminal.
func writeReports(collector *report.Collector, logPath string) {
	base := strings.TrimSuffix(logPath, ".csv")
	if base == "" {
		base = filepath.Join(logDir(), "ping")
	}

	for _, s := range collector.Summaries() {
		logrus.WithFields(logrus.Fields{
			"sent": s.Sent,
			"lost": s.Lost,
			"avg":  s.Average,
			"p95":  s.P95,
			"p99":  s.P99,
		}).Infof("endpoint %s", s.Endpoint)
	}

	if err := collector.WriteFiles(base); err != nil {
		logrus.WithError(err).Error("cannot write run report")
		return
	}
	logrus.Infof("run report written to %s.summary.csv", base)
}
