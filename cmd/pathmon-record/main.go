// Command pathmon-record samples targets and their leading hops
// without a UI: every sample goes to the CSV log, statistics are
// printed periodically. Meant for long unattended runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pathmon/pathmon"
	"github.com/pathmon/pathmon/csvlog"
	"github.com/pathmon/pathmon/monitor"
	"github.com/pathmon/pathmon/report"
	"github.com/pathmon/pathmon/trace"
)

var opts = struct {
	interval    time.Duration
	timeout     time.Duration
	discovery   time.Duration
	hops        uint
	bind4       string
	bind6       string
	privileged  bool
	stats       time.Duration
	writeReport bool
	verbose     bool
}{
	interval:    200 * time.Millisecond,
	discovery:   10 * time.Second,
	hops:        trace.DefaultMaxHops,
	bind4:       "0.0.0.0",
	bind6:       "::",
	privileged:  true,
	stats:       time.Minute,
	writeReport: true,
}

func main() {
	flag.DurationVar(&opts.interval, "n", opts.interval, "sampling interval")
	flag.DurationVar(&opts.timeout, "timeout", 0, "deadline for a single probe (0: one interval)")
	flag.DurationVar(&opts.discovery, "discovery", opts.discovery, "hop re-validation interval")
	flag.UintVar(&opts.hops, "hops", opts.hops, "number of leading hops to monitor (0 disables)")
	flag.StringVar(&opts.bind4, "bind", opts.bind4, "IPv4 bind address")
	flag.StringVar(&opts.bind6, "bind6", opts.bind6, "IPv6 bind address")
	flag.BoolVar(&opts.privileged, "privileged", opts.privileged, "use raw ICMP sockets")
	flag.DurationVar(&opts.stats, "stats", opts.stats, "statistics print interval")
	flag.BoolVar(&opts.writeReport, "report", opts.writeReport, "write summary CSV and chart PNG on exit")
	flag.BoolVar(&opts.verbose, "v", false, "debug logging")
	flag.Parse()
	targets := flag.Args()

	if len(targets) == 0 {
		fmt.Println("Usage:", os.Args[0], "[options] target1 target2 ...")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if opts.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	std := logrus.StandardLogger()
	pathmon.SetLogger(std)
	trace.SetLogger(std)
	monitor.SetLogger(std)
	csvlog.SetLogger(std)

	transport, err := pathmon.New(opts.bind4, opts.bind6, opts.privileged)
	if err != nil {
		fmt.Printf("Unable to bind: %s\nRunning as root?\n", err)
		os.Exit(2)
	}
	defer transport.Close()

	mon := monitor.New(transport, opts.interval, opts.timeout)
	mon.MaxHops = int(opts.hops)

	for _, target := range targets {
		addr, err := net.ResolveIPAddr("", target)
		if err != nil {
			logrus.Errorf("invalid target %q: %v", target, err)
			continue
		}
		mon.AddTarget(target, addr)
	}
	if len(mon.Targets()) == 0 {
		os.Exit(1)
	}

	logger, err := csvlog.Create(".", mon.Interval())
	if err != nil {
		logrus.WithError(err).Fatal("cannot create sample log")
	}
	defer logger.Close()
	logrus.Infof("logging samples to %s", logger.Path())
	mon.AddRecorder(logger)

	var collector *report.Collector
	if opts.writeReport {
		collector = report.NewCollector(mon.Interval())
		mon.AddRecorder(collector)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if opts.hops > 0 {
		discoverer := &trace.Discoverer{
			Prober:   transport,
			MaxHops:  int(opts.hops),
			Timeout:  2 * mon.Timeout(),
			Interval: opts.discovery,
		}
		for _, t := range mon.Targets() {
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

	ticker := time.NewTicker(opts.stats)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			printStats(mon)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	logrus.Infof("received %v, shutting down", <-ch)

	cancel()
	<-monDone
	printStats(mon)

	if collector != nil {
		base := strings.TrimSuffix(logger.Path(), ".csv")
		if err := collector.WriteFiles(base); err != nil {
			logrus.WithError(err).Error("cannot write run report")
		} else {
			logrus.Infof("run report written to %s.summary.csv", base)
		}
	}
}

func printStats(mon *monitor.Monitor) {
	for _, t := range mon.Targets() {
		logEndpoint(t.Display, t.Self())
		for _, hop := range t.Hops() {
			if hop.State() == trace.Responded && !hop.Final() {
				logEndpoint(hop.Label(), hop)
			}
		}
	}
}

func logEndpoint(name string, e *monitor.Endpoint) {
	stats := e.Buffer().Stats()
	if stats == nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"sent":   stats.PacketsSent,
		"loss":   fmt.Sprintf("%0.2f%%", stats.Loss()*100),
		"last":   stats.Last,
		"best":   stats.Best,
		"worst":  stats.Worst,
		"median": stats.Median,
		"mean":   stats.Mean,
		"stddev": stats.StdDev,
	}).Info(name)
}
