package main

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// nameCache resolves hop addresses to PTR names in the background.
// The UI reads whatever is known at draw time; a miss kicks off a
// single lookup. Negative results stay cached, a hop without a PTR
// record would get asked on every redraw otherwise.
type nameCache struct {
	mtx     sync.Mutex
	names   map[string]string
	pending map[string]bool

	client *dns.Client
	server string
}

func newNameCache() *nameCache {
	nc := &nameCache{
		names:   make(map[string]string),
		pending: make(map[string]bool),
		client:  &dns.Client{Timeout: 2 * time.Second},
	}

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		logrus.WithError(err).Debug("reverse DNS disabled")
		return nc
	}
	if len(conf.Servers) > 0 {
		nc.server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return nc
}

// lookup returns the cached name for ip, or "" while none is known.
func (nc *nameCache) lookup(ip net.IP) string {
	if nc.server == "" || ip == nil {
		return ""
	}

	key := ip.String()

	nc.mtx.Lock()
	defer nc.mtx.Unlock()

	if name, ok := nc.names[key]; ok {
		return name
	}
	if !nc.pending[key] {
		nc.pending[key] = true
		go nc.resolve(key)
	}
	return ""
}

func (nc *nameCache) resolve(key string) {
	name := nc.query(key)

	nc.mtx.Lock()
	nc.names[key] = name
	delete(nc.pending, key)
	nc.mtx.Unlock()
}

func (nc *nameCache) query(key string) string {
	rev, err := dns.ReverseAddr(key)
	if err != nil {
		return ""
	}

	m := new(dns.Msg)
	m.SetQuestion(rev, dns.TypePTR)

	in, _, err := nc.client.Exchange(m, nc.server)
	if err != nil || in == nil {
		return ""
	}
	for _, ans := range in.Answer {
		if ptr, ok := ans.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ""
}
