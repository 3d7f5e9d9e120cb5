package pathmon

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Probe sends a single echo request to remote and waits for the
// answer. ttl caps the probe's hop count, with 0 applying DefaultTTL;
// a request that dies on the way back as time-exceeded or unreachable
// resolves the probe just like a reply does. After timeout without an
// answer the Outcome is Timeout. The error return covers local
// failures (closed socket, unbound address family, cancelled context).
func (tr *Transport) Probe(ctx context.Context, remote *net.IPAddr, ttl int, timeout time.Duration) (Outcome, error) {
	seq := uint16(atomic.AddUint32(&sequence, 1))

	wb, err := tr.marshal(remote, seq)
	if err != nil {
		return Outcome{}, err
	}

	// enqueue before sending; the reply can beat us to the map otherwise
	req := newRequest()
	tr.mtx.Lock()
	tr.requests[seq] = req
	tr.mtx.Unlock()
	defer tr.dequeue(seq)

	if err := tr.write(remote, wb, ttl); err != nil {
		return Outcome{}, err
	}

	select {
	case <-req.done:
		return req.outcome, nil
	case <-time.After(timeout):
		return Outcome{Kind: Timeout}, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// marshal builds the serialized echo request for remote's address
// family. On datagram sockets the kernel assigns the ID itself.
func (tr *Transport) marshal(remote *net.IPAddr, seq uint16) ([]byte, error) {
	tr.payloadMtx.RLock()
	defer tr.payloadMtx.RUnlock()

	echo := icmp.Echo{
		Seq:  int(seq),
		Data: tr.payload,
	}
	if tr.privileged {
		echo.ID = int(tr.id)
	}
	wm := icmp.Message{
		Code: 0,
		Body: &echo,
	}

	if remote.IP.To4() != nil {
		wm.Type = ipv4.ICMPTypeEcho
	} else {
		wm.Type = ipv6.ICMPTypeEchoRequest
	}

	return wm.Marshal(nil)
}

// write puts the packet on the wire with the requested hop limit. The
// TTL is a socket option, not a packet attribute, so the option change
// and the write happen under a per-family lock.
func (tr *Transport) write(remote *net.IPAddr, wb []byte, ttl int) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	var dst net.Addr = remote
	if !tr.privileged {
		dst = &net.UDPAddr{IP: remote.IP, Zone: remote.Zone}
	}

	var err error
	if remote.IP.To4() != nil {
		if tr.conn4 == nil {
			return errSocketMissing
		}
		tr.send4.Lock()
		defer tr.send4.Unlock()
		if err = tr.pc4.SetTTL(ttl); err != nil {
			return err
		}
		_, err = tr.conn4.WriteTo(wb, dst)
	} else {
		if tr.conn6 == nil {
			return errSocketMissing
		}
		tr.send6.Lock()
		defer tr.send6.Unlock()
		if err = tr.pc6.SetHopLimit(ttl); err != nil {
			return err
		}
		_, err = tr.conn6.WriteTo(wb, dst)
	}
	return err
}

func (tr *Transport) dequeue(seq uint16) {
	tr.mtx.Lock()
	delete(tr.requests, seq)
	tr.mtx.Unlock()
}
