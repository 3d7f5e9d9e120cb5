package main

import (
	"context"
	"fmt"
	"net"
	"time"
)

// resolve picks a probe address for host, honoring the -4/-6 flags.
func resolve(host string, timeout time.Duration) (*net.IPAddr, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}

	for i, addr := range addrs {
		if ip4 := addr.IP.To4(); ip4 != nil {
			if opts.force6 {
				continue
			}
		} else if opts.force4 {
			continue
		}
		return &addrs[i], nil
	}
	return nil, fmt.Errorf("no suitable address for %s", host)
}
