package agent

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/protocol"
)

type fakeLAN struct {
	mu        sync.Mutex
	neighbors []Neighbor
	probes    map[string]int
	fail      map[string]bool
	now       time.Time
}

func newFakeLAN() *fakeLAN {
	return &fakeLAN{
		probes: map[string]int{},
		fail:   map[string]bool{},
		now:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (l *fakeLAN) set(entries ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.neighbors = nil
	for i := 0; i < len(entries); i += 2 {
		mac, _ := net.ParseMAC(entries[i+1])
		l.neighbors = append(l.neighbors, Neighbor{IP: net.ParseIP(entries[i]), MAC: mac})
	}
}

func (l *fakeLAN) advance(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = l.now.Add(d)
}

func (l *fakeLAN) clock() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

func (l *fakeLAN) list() ([]Neighbor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Neighbor(nil), l.neighbors...), nil
}

func (l *fakeLAN) probe(_ context.Context, ip string) (*protocol.HyperDeckDetails, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.probes[ip]++
	if l.fail[ip] {
		return nil, errors.New("connection refused")
	}
	return &protocol.HyperDeckDetails{ModelName: "HyperDeck Studio Mini", ProtocolVersion: "1.11", UniqueID: ip}, nil
}

func (l *fakeLAN) probeCount(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.probes[ip]
}

func newTestScanner(lan *fakeLAN) *Scanner {
	return NewScanner(ScannerConfig{
		Interval:      15 * time.Second,
		DeviceTimeout: 60 * time.Second,
		ProbeInterval: 60 * time.Second,
	}, 9993, time.Second, zap.NewNop(),
		WithNeighborSource(lan.list),
		WithProber(lan.probe),
		WithClock(lan.clock))
}

func TestScanProbesOnlyBlackmagicDevices(t *testing.T) {
	lan := newFakeLAN()
	lan.set(
		"10.0.0.20", "7C:2E:0D:01:02:03",
		"10.0.0.30", "aa:bb:cc:dd:ee:ff",
		"10.0.0.40", "00:00:00:00:00:00",
	)
	s := newTestScanner(lan)

	devices, err := s.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, devices, 2)
	assert.Equal(t, "7c:2e:0d:01:02:03", devices[0].MACAddress)
	assert.Equal(t, "10.0.0.20", devices[0].IPAddress)
	require.True(t, devices[0].Commandable())
	assert.Equal(t, "HyperDeck Studio Mini", devices[0].Details.HyperDeck.ModelName)

	assert.Equal(t, "aa:bb:cc:dd:ee:ff", devices[1].MACAddress)
	assert.False(t, devices[1].Commandable())
	assert.Equal(t, 0, lan.probeCount("10.0.0.30"))
}

func TestScanReprobesAfterProbeInterval(t *testing.T) {
	lan := newFakeLAN()
	lan.set("10.0.0.20", "7c:2e:0d:01:02:03")
	s := newTestScanner(lan)

	s.Scan(context.Background())
	lan.advance(15 * time.Second)
	s.Scan(context.Background())
	assert.Equal(t, 1, lan.probeCount("10.0.0.20"))

	lan.advance(45 * time.Second)
	s.Scan(context.Background())
	assert.Equal(t, 2, lan.probeCount("10.0.0.20"))
}

func TestScanBacksOffFailedProbes(t *testing.T) {
	lan := newFakeLAN()
	lan.set("10.0.0.20", "7c:2e:0d:01:02:03")
	lan.fail["10.0.0.20"] = true
	s := newTestScanner(lan)

	devices, _ := s.Scan(context.Background())
	require.Len(t, devices, 1)
	assert.False(t, devices[0].Commandable())

	for i := 0; i < 3; i++ {
		lan.advance(15 * time.Second)
		s.Scan(context.Background())
	}
	assert.Equal(t, 1, lan.probeCount("10.0.0.20"), "unreachable device is not probed every scan")

	lan.fail["10.0.0.20"] = false
	lan.advance(16 * time.Second)
	devices, _ = s.Scan(context.Background())
	assert.Equal(t, 2, lan.probeCount("10.0.0.20"))
	assert.True(t, devices[0].Commandable())
}

func TestScanExpiresDevices(t *testing.T) {
	lan := newFakeLAN()
	lan.set("10.0.0.30", "aa:bb:cc:dd:ee:ff", "10.0.0.31", "aa:bb:cc:dd:ee:00")
	s := newTestScanner(lan)
	s.Scan(context.Background())

	lan.set("10.0.0.31", "aa:bb:cc:dd:ee:00")
	lan.advance(30 * time.Second)
	devices, _ := s.Scan(context.Background())
	assert.Len(t, devices, 2, "still within the device timeout")

	lan.advance(30 * time.Second)
	devices, _ = s.Scan(context.Background())
	require.Len(t, devices, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:00", devices[0].MACAddress)
}

func TestScanTracksAddressChanges(t *testing.T) {
	lan := newFakeLAN()
	lan.set("10.0.0.30", "aa:bb:cc:dd:ee:ff")
	s := newTestScanner(lan)
	s.Scan(context.Background())

	lan.set("10.0.0.99", "aa:bb:cc:dd:ee:ff")
	devices, _ := s.Scan(context.Background())
	require.Len(t, devices, 1)
	assert.Equal(t, "10.0.0.99", devices[0].IPAddress)
}

func TestRunReports(t *testing.T) {
	lan := newFakeLAN()
	lan.set("10.0.0.30", "aa:bb:cc:dd:ee:ff")
	s := NewScanner(ScannerConfig{Interval: 10 * time.Millisecond}, 9993, time.Second, zap.NewNop(),
		WithNeighborSource(lan.list), WithProber(lan.probe))

	ctx, cancel := context.WithCancel(context.Background())
	reports := make(chan []protocol.NetworkDevice, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, func(d []protocol.NetworkDevice) {
			select {
			case reports <- d:
			default:
			}
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case d := <-reports:
			assert.Len(t, d, 1)
		case <-time.After(5 * time.Second):
			t.Fatal("no report")
		}
	}
	cancel()
	<-done
}

func TestProcNeighbors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0o755))
	arp := "IP address       HW type     Flags       HW address            Mask     Device\n" +
		"10.0.0.20        0x1         0x2         7c:2e:0d:01:02:03     *        eth0\n" +
		"10.0.0.30        0x1         0x2         aa:bb:cc:dd:ee:ff     *        eth0\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "net", "arp"), []byte(arp), 0o644))

	neighbors, err := ProcNeighbors(root)()
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "10.0.0.20", neighbors[0].IP.String())
	assert.Equal(t, "7c:2e:0d:01:02:03", neighbors[0].MAC.String())
}

func TestProcNeighborsMissingTable(t *testing.T) {
	_, err := ProcNeighbors(t.TempDir())()
	assert.Error(t, err)
}

func TestHyperDeckProbe(t *testing.T) {
	port := fakeDeck(t, "500 connection info:\nprotocol version: 1.11\n\n"+
		"204 device info:\nprotocol version: 1.11\nmodel: HyperDeck Studio Mini\nunique id: abc123\n\n")

	details, err := HyperDeckProbe(port, time.Second)(context.Background(), "127.0.0.1")

	require.NoError(t, err)
	assert.Equal(t, &protocol.HyperDeckDetails{
		ModelName:       "HyperDeck Studio Mini",
		ProtocolVersion: "1.11",
		UniqueID:        "abc123",
	}, details)
}

func TestHyperDeckProbeRejectsFailureCodes(t *testing.T) {
	port := fakeDeck(t, "100 syntax error\n")

	_, err := HyperDeckProbe(port, time.Second)(context.Background(), "127.0.0.1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected response code: 100")
}
