package agent

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ipnet(ip string, ones int) *net.IPNet {
	return &net.IPNet{IP: net.ParseIP(ip).To4(), Mask: net.CIDRMask(ones, 32)}
}

func TestSweepableNetworks(t *testing.T) {
	addrs := []net.Addr{
		ipnet("10.0.0.5", 24),
		ipnet("172.16.0.1", 8),
		ipnet("192.168.7.9", 16),
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPAddr{IP: net.ParseIP("10.1.1.1")},
	}

	got := sweepable(addrs)

	require.Len(t, got, 2)
	assert.Equal(t, "10.0.0.5/24", got[0].String())
	assert.Equal(t, "192.168.7.9/16", got[1].String())
}

func TestSweepVisitsEveryHost(t *testing.T) {
	var sent []string
	err := sweep(context.Background(), []*net.IPNet{ipnet("192.168.1.2", 29)}, func(ip net.IP) {
		sent = append(sent, ip.String())
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.1.1", "192.168.1.3", "192.168.1.4", "192.168.1.5", "192.168.1.6"}, sent)
}

func TestSweepSkipsPointToPointPrefixes(t *testing.T) {
	sent := 0
	err := sweep(context.Background(), []*net.IPNet{ipnet("10.0.0.1", 31), ipnet("10.0.0.9", 32)}, func(net.IP) {
		sent++
	})

	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestSweepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sent := 0
	err := sweep(ctx, []*net.IPNet{ipnet("10.20.0.1", 16)}, func(net.IP) { sent++ })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, sent, 256)
}

func TestScanSweepsBeforeReadingNeighbors(t *testing.T) {
	lan := newFakeLAN()
	sweeps := 0
	s := NewScanner(ScannerConfig{}, 9993, time.Second, zap.NewNop(),
		WithNeighborSource(lan.list),
		WithProber(lan.probe),
		WithClock(lan.clock),
		WithSweep(func(context.Context) error {
			sweeps++
			// An idle deck only shows up once something has talked to it.
			lan.set("10.0.0.20", "7c:2e:0d:01:02:03")
			return nil
		}))

	devices, err := s.Scan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, sweeps)
	require.Len(t, devices, 1)
	assert.Equal(t, "10.0.0.20", devices[0].IPAddress)
	assert.True(t, devices[0].Commandable())
}

func TestScanContinuesAfterSweepFailure(t *testing.T) {
	lan := newFakeLAN()
	lan.set("10.0.0.30", "aa:bb:cc:dd:ee:ff")
	s := NewScanner(ScannerConfig{}, 9993, time.Second, zap.NewNop(),
		WithNeighborSource(lan.list),
		WithProber(lan.probe),
		WithSweep(func(context.Context) error { return errors.New("network is unreachable") }))

	devices, err := s.Scan(context.Background())

	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "10.0.0.30", devices[0].IPAddress)
}

func TestScanStopsWhenSweepCancelled(t *testing.T) {
	lan := newFakeLAN()
	lan.set("10.0.0.30", "aa:bb:cc:dd:ee:ff")
	s := NewScanner(ScannerConfig{}, 9993, time.Second, zap.NewNop(),
		WithNeighborSource(lan.list),
		WithSweep(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Scan(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestScannerSweepsOnlyWhenConfigured(t *testing.T) {
	assert.Nil(t, NewScanner(ScannerConfig{}, 9993, time.Second, zap.NewNop()).sweep)
	assert.NotNil(t, NewScanner(ScannerConfig{Sweep: true}, 9993, time.Second, zap.NewNop()).sweep)
}
