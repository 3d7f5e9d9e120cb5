// Package pathmon probes network paths with ICMP echo requests. The
// Transport sends echoes with an arbitrary hop limit and classifies
// whatever comes back, which is enough to both measure a target's
// round-trip time and locate the routers in front of it.
package pathmon

import (
	"os"
	"sync"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	// ProtocolICMP is the number of the Internet Control Message Protocol
	ProtocolICMP = 1

	// ProtocolICMPv6 is the IPv6 Next Header value for ICMPv6
	ProtocolICMPv6 = 58
)

// DefaultTTL applies to probes that do not restrict the hop count.
const DefaultTTL = 64

// sequence number for this process
var sequence uint32

// Transport is an open pair of ICMP sockets. It correlates incoming
// answers with in-flight probes; one Transport serves any number of
// concurrent Probe calls.
type Transport struct {
	requests map[uint16]*request // currently running requests
	mtx      sync.Mutex          // lock for the requests map
	id       uint16
	conn4    *icmp.PacketConn
	conn6    *icmp.PacketConn
	pc4      *ipv4.PacketConn // hop limit control for conn4
	pc6      *ipv6.PacketConn // hop limit control for conn6
	send4    sync.Mutex       // serializes TTL change and write on conn4
	send6    sync.Mutex

	privileged bool
	payload    Payload
	payloadMtx sync.RWMutex
	wg         sync.WaitGroup
}

// New opens the sockets and starts the receiving logic. An empty bind
// address skips that address family. Privileged mode uses raw ICMP
// sockets and needs CAP_NET_RAW (or root); the unprivileged fallback
// uses datagram ICMP sockets, which many kernels restrict via the
// net.ipv4.ping_group_range sysctl. Call Close to clean up.
func New(bind4, bind6 string, privileged bool) (*Transport, error) {
	network4, network6 := "udp4", "udp6"
	if privileged {
		network4, network6 = "ip4:icmp", "ip6:ipv6-icmp"
	}

	conn4, err := connectICMP(network4, bind4)
	if err != nil {
		return nil, err
	}

	conn6, err := connectICMP(network6, bind6)
	if err != nil {
		if conn4 != nil {
			conn4.Close()
		}
		return nil, err
	}

	if conn4 == nil && conn6 == nil {
		return nil, errNotBound
	}

	tr := Transport{
		conn4:      conn4,
		conn6:      conn6,
		id:         uint16(os.Getpid()),
		privileged: privileged,
		requests:   make(map[uint16]*request),
	}
	tr.payload.Resize(56)

	if conn4 != nil {
		tr.pc4 = conn4.IPv4PacketConn()
		tr.wg.Add(1)
		go tr.receiver(ProtocolICMP, conn4)
	}
	if conn6 != nil {
		tr.pc6 = conn6.IPv6PacketConn()
		tr.wg.Add(1)
		go tr.receiver(ProtocolICMPv6, conn6)
	}

	return &tr, nil
}

// Close shuts the sockets down and waits for the receivers to exit.
// Probes still in flight resolve as timeouts.
func (tr *Transport) Close() {
	tr.close(tr.conn4)
	tr.close(tr.conn6)
	tr.wg.Wait()
}

// SetPayloadSize regenerates the data appended to outgoing echo
// requests with the given size.
func (tr *Transport) SetPayloadSize(size uint16) {
	tr.payloadMtx.Lock()
	tr.payload.Resize(size)
	tr.payloadMtx.Unlock()
}

// connectICMP opens a new ICMP connection, iff network and address are not empty.
func connectICMP(network, address string) (*icmp.PacketConn, error) {
	if network == "" || address == "" {
		return nil, nil
	}

	return icmp.ListenPacket(network, address)
}

func (tr *Transport) close(conn *icmp.PacketConn) {
	if conn != nil {
		conn.Close()
	}
}
