package trace

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathmon/pathmon"
)

// fakeProber answers by hop limit.
type fakeProber struct {
	outcomes map[int]pathmon.Outcome
	calls    []int
}

func (f *fakeProber) Probe(_ context.Context, _ *net.IPAddr, ttl int, _ time.Duration) (pathmon.Outcome, error) {
	f.calls = append(f.calls, ttl)
	return f.outcomes[ttl], nil
}

func addr(s string) *net.IPAddr {
	return &net.IPAddr{IP: net.ParseIP(s)}
}

func TestDiscoverFullPath(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	prober := &fakeProber{outcomes: map[int]pathmon.Outcome{
		1: {Kind: pathmon.TTLExceeded, Peer: net.ParseIP("192.168.1.1")},
		2: {Kind: pathmon.TTLExceeded, Peer: net.ParseIP("10.11.0.1")},
		3: {Kind: pathmon.TTLExceeded, Peer: net.ParseIP("10.11.12.1")},
	}}
	d := Discoverer{Prober: prober, Timeout: time.Second}

	path, err := d.Discover(context.Background(), addr("198.51.100.7"))
	require.NoError(err)
	require.Len(path.Hops, 3)

	assert.Equal([]int{1, 2, 3}, prober.calls)
	assert.Equal(3, path.Known())
	for i, want := range []string{"192.168.1.1", "10.11.0.1", "10.11.12.1"} {
		assert.Equal(Responded, path.Hops[i].State)
		assert.Equal(i+1, path.Hops[i].TTL)
		assert.Equal(want, path.Hops[i].Addr.String())
		assert.False(path.Hops[i].Final)
	}
}

func TestDiscoverNearbyTarget(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// target two hops away: probing stops once it answers itself
	prober := &fakeProber{outcomes: map[int]pathmon.Outcome{
		1: {Kind: pathmon.TTLExceeded, Peer: net.ParseIP("192.168.1.1")},
		2: {Kind: pathmon.Reply, RTT: 3 * time.Millisecond, Peer: net.ParseIP("192.168.0.10")},
	}}
	d := Discoverer{Prober: prober, Timeout: time.Second}

	path, err := d.Discover(context.Background(), addr("192.168.0.10"))
	require.NoError(err)

	assert.Equal([]int{1, 2}, prober.calls)
	assert.Equal(2, path.Known())

	assert.Equal(Responded, path.Hops[0].State)
	assert.Equal(Responded, path.Hops[1].State)
	assert.Equal("192.168.0.10", path.Hops[1].Addr.String())
	assert.True(path.Hops[1].Final)
	assert.Equal(Unreached, path.Hops[2].State)
	assert.Nil(path.Hops[2].Addr)
}

func TestDiscoverSilentHop(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	prober := &fakeProber{outcomes: map[int]pathmon.Outcome{
		1: {Kind: pathmon.TTLExceeded, Peer: net.ParseIP("192.168.1.1")},
		2: {Kind: pathmon.Timeout},
		3: {Kind: pathmon.TTLExceeded, Peer: net.ParseIP("10.11.12.1")},
	}}
	d := Discoverer{Prober: prober, Timeout: time.Second}

	path, err := d.Discover(context.Background(), addr("198.51.100.7"))
	require.NoError(err)

	assert.Equal([]int{1, 2, 3}, prober.calls)
	assert.Equal(2, path.Known())
	assert.Equal(Unknown, path.Hops[1].State)
	assert.Nil(path.Hops[1].Addr)
}

func TestDiscoverAllSilent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	prober := &fakeProber{outcomes: map[int]pathmon.Outcome{}}
	d := Discoverer{Prober: prober, Timeout: time.Second}

	path, err := d.Discover(context.Background(), addr("198.51.100.7"))
	require.NoError(err)
	assert.Zero(path.Known())
}

func TestDiscoverMaxHops(t *testing.T) {
	prober := &fakeProber{outcomes: map[int]pathmon.Outcome{}}
	d := Discoverer{Prober: prober, MaxHops: 5, Timeout: time.Second}

	path, err := d.Discover(context.Background(), addr("198.51.100.7"))
	require.NoError(t, err)
	assert.Len(t, path.Hops, 5)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, prober.calls)
}

func TestDiscoverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := Discoverer{Prober: &fakeProber{}, Timeout: time.Second}
	_, err := d.Discover(ctx, addr("198.51.100.7"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunDeliversPasses(t *testing.T) {
	prober := &fakeProber{outcomes: map[int]pathmon.Outcome{
		1: {Kind: pathmon.TTLExceeded, Peer: net.ParseIP("192.168.1.1")},
	}}
	d := Discoverer{Prober: prober, Timeout: time.Second, Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	paths := make(chan Path, 1)
	go d.Run(ctx, addr("198.51.100.7"), func(p Path) {
		paths <- p
		cancel()
	})

	select {
	case p := <-paths:
		assert.Equal(t, 1, p.Known())
	case <-time.After(time.Second):
		t.Fatal("no discovery pass delivered")
	}
}
