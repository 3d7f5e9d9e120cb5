package pathmon

import (
	"net"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// receiver listens on the socket and correlates incoming ICMP traffic
// with currently running probes.
func (tr *Transport) receiver(proto int, conn *icmp.PacketConn) {
	defer tr.wg.Done()

	rb := make([]byte, 1500)
	for {
		n, source, err := conn.ReadFrom(rb)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Temporary() {
				continue
			}
			return // socket gone
		}

		var peer net.IP
		switch addr := source.(type) {
		case *net.UDPAddr:
			peer = addr.IP
		case *net.IPAddr:
			peer = addr.IP
		}

		tr.receive(proto, rb[:n], peer, time.Now())
	}
}

// receive parses one incoming datagram and resolves the matching
// probe, if any. Packets that answer nobody are dropped silently; a
// raw socket sees every echo on the host, not just ours.
func (tr *Transport) receive(proto int, b []byte, peer net.IP, tRecv time.Time) {
	m, err := icmp.ParseMessage(proto, b)
	if err != nil {
		return
	}

	switch m.Type {
	case ipv4.ICMPTypeEchoReply, ipv6.ICMPTypeEchoReply:
		echo, ok := m.Body.(*icmp.Echo)
		if !ok || echo == nil {
			return
		}
		if tr.privileged && uint16(echo.ID) != tr.id {
			return // somebody else's echo
		}
		tr.resolve(uint16(echo.Seq), func(req *request) Outcome {
			return Outcome{Kind: Reply, RTT: tRecv.Sub(req.tStart), Peer: peer}
		})

	case ipv4.ICMPTypeTimeExceeded, ipv6.ICMPTypeTimeExceeded:
		body, ok := m.Body.(*icmp.TimeExceeded)
		if !ok || body == nil {
			return
		}
		if echo := tr.quotedEcho(proto, body.Data); echo != nil {
			tr.resolve(uint16(echo.Seq), func(*request) Outcome {
				return Outcome{Kind: TTLExceeded, Peer: peer}
			})
		}

	case ipv4.ICMPTypeDestinationUnreachable, ipv6.ICMPTypeDestinationUnreachable:
		body, ok := m.Body.(*icmp.DstUnreach)
		if !ok || body == nil {
			return
		}
		if echo := tr.quotedEcho(proto, body.Data); echo != nil {
			tr.resolve(uint16(echo.Seq), func(*request) Outcome {
				return Outcome{Kind: Unreachable, Peer: peer}
			})
		}
	}
}

// quotedEcho digs the original echo request out of an ICMP error body:
// the offending packet's IP header followed by its leading bytes. It
// returns nil unless that quote is one of our own requests.
func (tr *Transport) quotedEcho(proto int, data []byte) *icmp.Echo {
	var inner []byte
	switch proto {
	case ProtocolICMP:
		hdr, err := ipv4.ParseHeader(data)
		if err != nil || hdr.Len > len(data) {
			return nil
		}
		inner = data[hdr.Len:]
	case ProtocolICMPv6:
		// we don't need the actual header, but want to detect garbage
		if _, err := ipv6.ParseHeader(data); err != nil {
			return nil
		}
		inner = data[ipv6.HeaderLen:]
	default:
		return nil
	}

	msg, err := icmp.ParseMessage(proto, inner)
	if err != nil {
		return nil
	}

	echo, ok := msg.Body.(*icmp.Echo)
	if !ok || echo == nil {
		log.Debugf("expected *icmp.Echo in quote, got %#v", msg.Body)
		return nil
	}
	// datagram sockets rewrite the ID, so it only identifies us on raw ones
	if tr.privileged && uint16(echo.ID) != tr.id {
		return nil // quotes somebody else's probe
	}
	return echo
}

// resolve finishes the probe waiting on seq, if it is still in flight,
// with the outcome built by fn.
func (tr *Transport) resolve(seq uint16, fn func(*request) Outcome) {
	tr.mtx.Lock()
	req := tr.requests[seq]
	delete(tr.requests, seq)
	tr.mtx.Unlock()

	if req != nil {
		req.respond(fn(req))
	}
}
