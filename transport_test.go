package pathmon

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// testTransport builds a Transport without sockets, enough to exercise
// the receive path with hand-crafted packets.
func testTransport() *Transport {
	return &Transport{
		id:         0x1234,
		privileged: true,
		requests:   make(map[uint16]*request),
	}
}

func enqueue(tr *Transport, seq uint16) *request {
	req := newRequest()
	tr.mtx.Lock()
	tr.requests[seq] = req
	tr.mtx.Unlock()
	return req
}

func await(t *testing.T, req *request) Outcome {
	t.Helper()
	select {
	case <-req.done:
		return req.outcome
	case <-time.After(time.Second):
		t.Fatal("request not resolved")
		return Outcome{}
	}
}

// echoReply serializes an echo reply carrying the given id and seq.
func echoReply(t *testing.T, id, seq uint16) []byte {
	t.Helper()
	wm := icmp.Message{
		Type: ipv4.ICMPTypeEchoReply,
		Body: &icmp.Echo{ID: int(id), Seq: int(seq), Data: []byte("ab")},
	}
	b, err := wm.Marshal(nil)
	require.NoError(t, err)
	return b
}

// icmpError serializes a time-exceeded or unreachable message quoting
// an echo request with the given id and seq.
func icmpError(t *testing.T, typ ipv4.ICMPType, id, seq uint16) []byte {
	t.Helper()

	inner, err := (&icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: int(id), Seq: int(seq), Data: []byte("ab")},
	}).Marshal(nil)
	require.NoError(t, err)

	hdr := ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(inner),
		TTL:      1,
		Protocol: ProtocolICMP,
		Src:      net.IPv4(192, 0, 2, 1),
		Dst:      net.IPv4(192, 0, 2, 99),
	}
	quote, err := hdr.Marshal()
	require.NoError(t, err)
	quote = append(quote, inner...)

	var body icmp.MessageBody
	if typ == ipv4.ICMPTypeTimeExceeded {
		body = &icmp.TimeExceeded{Data: quote}
	} else {
		body = &icmp.DstUnreach{Data: quote}
	}
	b, err := (&icmp.Message{Type: typ, Body: body}).Marshal(nil)
	require.NoError(t, err)
	return b
}

func TestReceiveReply(t *testing.T) {
	assert := assert.New(t)

	tr := testTransport()
	req := enqueue(tr, 7)

	peer := net.ParseIP("192.0.2.99")
	tr.receive(ProtocolICMP, echoReply(t, tr.id, 7), peer, time.Now())

	out := await(t, req)
	assert.Equal(Reply, out.Kind)
	assert.True(out.Peer.Equal(peer))
	assert.NotZero(out.RTT)
}

func TestReceiveForeignReply(t *testing.T) {
	tr := testTransport()
	enqueue(tr, 7)

	// same seq, different id: must stay pending
	tr.receive(ProtocolICMP, echoReply(t, tr.id+1, 7), net.ParseIP("192.0.2.99"), time.Now())

	tr.mtx.Lock()
	defer tr.mtx.Unlock()
	assert.Len(t, tr.requests, 1)
}

func TestReceiveTimeExceeded(t *testing.T) {
	assert := assert.New(t)

	tr := testTransport()
	req := enqueue(tr, 42)

	router := net.ParseIP("10.0.0.1")
	tr.receive(ProtocolICMP, icmpError(t, ipv4.ICMPTypeTimeExceeded, tr.id, 42), router, time.Now())

	out := await(t, req)
	assert.Equal(TTLExceeded, out.Kind)
	assert.True(out.Peer.Equal(router))
}

func TestReceiveUnreachable(t *testing.T) {
	assert := assert.New(t)

	tr := testTransport()
	req := enqueue(tr, 42)

	router := net.ParseIP("10.0.0.1")
	tr.receive(ProtocolICMP, icmpError(t, ipv4.ICMPTypeDestinationUnreachable, tr.id, 42), router, time.Now())

	out := await(t, req)
	assert.Equal(Unreachable, out.Kind)
}

func TestReceiveForeignQuote(t *testing.T) {
	tr := testTransport()
	enqueue(tr, 42)

	tr.receive(ProtocolICMP, icmpError(t, ipv4.ICMPTypeTimeExceeded, tr.id+1, 42), net.ParseIP("10.0.0.1"), time.Now())

	tr.mtx.Lock()
	defer tr.mtx.Unlock()
	assert.Len(t, tr.requests, 1)
}

func TestReceiveGarbage(t *testing.T) {
	tr := testTransport()
	enqueue(tr, 1)

	tr.receive(ProtocolICMP, []byte{0xff, 0x00, 0x01}, net.ParseIP("10.0.0.1"), time.Now())
	tr.receive(ProtocolICMP, nil, net.ParseIP("10.0.0.1"), time.Now())

	tr.mtx.Lock()
	defer tr.mtx.Unlock()
	assert.Len(t, tr.requests, 1)
}

func TestTransportLocalhost(t *testing.T) {
	assert := assert.New(t)

	tr, err := New("0.0.0.0", "::", false)
	if err != nil {
		t.Skipf("cannot open ICMP sockets: %v", err)
	}
	defer tr.Close()

	// the loopback address family may still be unrouteable, so a local
	// write error only skips that leg
	for _, target := range []string{"127.0.0.1", "::1"} {
		out, err := tr.Probe(context.Background(), &net.IPAddr{IP: net.ParseIP(target)}, 0, time.Second)
		if err != nil {
			t.Logf("skipping %s: %v", target, err)
			continue
		}
		if out.Kind == Reply {
			assert.NotZero(out.RTT, target)
		}
	}
}
