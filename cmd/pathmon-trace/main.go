// Command pathmon-trace runs a single discovery pass and prints the
// leading hops on the path to a target.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pathmon/pathmon"
	"github.com/pathmon/pathmon/trace"
)

var opts = struct {
	hops       uint
	timeout    time.Duration
	bind4      string
	bind6      string
	privileged bool
}{
	hops:       trace.DefaultMaxHops,
	timeout:    time.Second,
	bind4:      "0.0.0.0",
	bind6:      "::",
	privileged: true,
}

func main() {
	flag.UintVar(&opts.hops, "hops", opts.hops, "number of leading hops to probe")
	flag.DurationVar(&opts.timeout, "timeout", opts.timeout, "deadline for a single probe")
	flag.StringVar(&opts.bind4, "bind", opts.bind4, "IPv4 bind address")
	flag.StringVar(&opts.bind6, "bind6", opts.bind6, "IPv6 bind address")
	flag.BoolVar(&opts.privileged, "privileged", opts.privileged, "use raw ICMP sockets")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Println("Usage:", os.Args[0], "[options] target")
		flag.PrintDefaults()
		os.Exit(1)
	}
	target := flag.Arg(0)

	addr, err := net.ResolveIPAddr("", target)
	if err != nil {
		fmt.Printf("invalid target %q: %v\n", target, err)
		os.Exit(1)
	}

	transport, err := pathmon.New(opts.bind4, opts.bind6, opts.privileged)
	if err != nil {
		fmt.Printf("Unable to bind: %s\nRunning as root?\n", err)
		os.Exit(2)
	}
	defer transport.Close()

	d := trace.Discoverer{
		Prober:  transport,
		MaxHops: int(opts.hops),
		Timeout: opts.timeout,
	}

	path, err := d.Discover(context.Background(), addr)
	if err != nil {
		fmt.Println("discovery failed:", err)
		os.Exit(1)
	}

	fmt.Printf("path to %s (%s):\n", target, addr)
	for _, hop := range path.Hops {
		switch hop.State {
		case trace.Responded:
			suffix := ""
			if hop.Final {
				suffix = " (destination)"
			}
			fmt.Printf("%3d  %s%s\n", hop.TTL, hop.Addr, suffix)
		case trace.Unreached:
			fmt.Printf("%3d  -\n", hop.TTL)
		default:
			fmt.Printf("%3d  *\n", hop.TTL)
		}
	}
}
