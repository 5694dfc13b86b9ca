package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/theaaf/blackmagic-c2/internal/hyperdeck"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/resilience"
	"github.com/theaaf/blackmagic-c2/internal/protocol"
)

// ScannerConfig controls LAN discovery.
type ScannerConfig struct {
	Interval      time.Duration
	DeviceTimeout time.Duration
	ProbeInterval time.Duration
	// ProcRoot is where procfs is mounted; the neighbour table is read
	// from <ProcRoot>/net/arp.
	ProcRoot string
	// MaxProbes bounds concurrent probes in one scan.
	MaxProbes int
	// Sweep pings every local subnet before reading the neighbour table,
	// then waits SweepWindow for replies.
	Sweep       bool
	SweepWindow time.Duration
}

func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Interval:      15 * time.Second,
		DeviceTimeout: 60 * time.Second,
		ProbeInterval: 60 * time.Second,
		ProcRoot:      procfs.DefaultMountPoint,
		MaxProbes:     8,
		Sweep:         true,
		SweepWindow:   8 * time.Second,
	}
}

// Neighbor is one entry of the kernel's neighbour table.
type Neighbor struct {
	IP  net.IP
	MAC net.HardwareAddr
}

// NeighborSource lists the hosts currently seen on the LAN.
type NeighborSource func() ([]Neighbor, error)

// ProcNeighbors reads the IPv4 ARP table under root.
func ProcNeighbors(root string) NeighborSource {
	return func() ([]Neighbor, error) {
		fs, err := procfs.NewFS(root)
		if err != nil {
			return nil, err
		}
		entries, err := fs.GatherARPEntries()
		if err != nil {
			return nil, err
		}
		out := make([]Neighbor, 0, len(entries))
		for _, e := range entries {
			out = append(out, Neighbor{IP: e.IPAddr, MAC: e.HWAddr})
		}
		return out, nil
	}
}

// ProbeFunc asks the device at ip to identify itself.
type ProbeFunc func(ctx context.Context, ip string) (*protocol.HyperDeckDetails, error)

// HyperDeckProbe identifies a HyperDeck with "device info".
func HyperDeckProbe(port int, timeout time.Duration) ProbeFunc {
	return func(ctx context.Context, ip string) (*protocol.HyperDeckDetails, error) {
		resp, err := hyperdeck.Command(ctx, ip, port, timeout, "device info")
		if err != nil {
			return nil, err
		}
		if resp.Code < 200 || resp.Code >= 300 {
			return nil, fmt.Errorf("unexpected response code: %d", resp.Code)
		}
		params, err := resp.Parameters()
		if err != nil {
			return nil, fmt.Errorf("error parsing payload parameters: %w", err)
		}
		return &protocol.HyperDeckDetails{
			ModelName:       params["model"],
			ProtocolVersion: params["protocol version"],
			UniqueID:        params["unique id"],
		}, nil
	}
}

type device struct {
	ip        string
	lastSeen  time.Time
	lastProbe time.Time
	details   *protocol.NetworkDeviceDetails
}

type ScannerOption func(*Scanner)

func WithNeighborSource(src NeighborSource) ScannerOption {
	return func(s *Scanner) { s.neighbors = src }
}

// WithSweep replaces the active sweep run before each scan.
func WithSweep(sweep SweepFunc) ScannerOption {
	return func(s *Scanner) { s.sweep = sweep }
}

func WithProber(probe ProbeFunc) ScannerOption {
	return func(s *Scanner) { s.probe = probe }
}

func WithClock(now func() time.Time) ScannerOption {
	return func(s *Scanner) { s.now = now }
}

// Scanner tracks the devices on the agent's LAN and identifies the
// Blackmagic ones. Each probed device has its own circuit breaker, so a
// device that failed is not probed again until ProbeInterval has passed.
type Scanner struct {
	cfg       ScannerConfig
	neighbors NeighborSource
	sweep     SweepFunc
	probe     ProbeFunc
	breakers  *resilience.Group
	now       func() time.Time
	logger    *zap.Logger

	mu      sync.Mutex
	devices map[string]*device // by lower-case MAC
}

// NewScanner creates a scanner. Without options it sweeps the local
// networks when cfg.Sweep is set, reads the ARP table under cfg.ProcRoot
// and probes HyperDecks on probePort.
func NewScanner(cfg ScannerConfig, probePort int, probeTimeout time.Duration, logger *zap.Logger, opts ...ScannerOption) *Scanner {
	def := DefaultScannerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DeviceTimeout <= 0 {
		cfg.DeviceTimeout = def.DeviceTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = def.ProcRoot
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = def.MaxProbes
	}
	if cfg.SweepWindow <= 0 {
		cfg.SweepWindow = def.SweepWindow
	}

	s := &Scanner{
		cfg:       cfg,
		neighbors: ProcNeighbors(cfg.ProcRoot),
		probe:     HyperDeckProbe(probePort, probeTimeout),
		now:       time.Now,
		logger:    logger,
		devices:   make(map[string]*device),
	}
	if cfg.Sweep {
		s.sweep = UDPSweep(cfg.SweepWindow)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.breakers = resilience.NewGroup(resilience.Settings{
		Timeout:     cfg.ProbeInterval,
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 1 },
		Now:         s.now,
	})
	return s
}

// Run scans immediately and then every Interval, passing each result to
// report, until ctx is done.
func (s *Scanner) Run(ctx context.Context, report func([]protocol.NetworkDevice)) {
	s.logger.Info("Network scanner started", zap.Duration("interval", s.cfg.Interval))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		devices, err := s.Scan(ctx)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			s.logger.Error("Error scanning networks", zap.Error(err))
		default:
			report(devices)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type probeTarget struct {
	mac string
	ip  string
}

// Scan runs one pass: sweep the local networks, refresh the device table
// from the neighbour table, expire devices not seen within DeviceTimeout,
// and probe Blackmagic devices that are due. A failed sweep is logged and
// the table is read anyway.
func (s *Scanner) Scan(ctx context.Context) ([]protocol.NetworkDevice, error) {
	if s.sweep != nil {
		if err := s.sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("Network sweep failed", zap.Error(err))
		}
	}

	neighbors, err := s.neighbors()
	if err != nil {
		return nil, fmt.Errorf("read neighbor table: %w", err)
	}
	now := s.now()

	var due []probeTarget
	s.mu.Lock()
	for _, n := range neighbors {
		if len(n.MAC) == 0 || isZeroMAC(n.MAC) || n.IP == nil {
			continue
		}
		mac := strings.ToLower(n.MAC.String())
		d, ok := s.devices[mac]
		if !ok {
			d = &device{}
			s.devices[mac] = d
		}
		d.ip = n.IP.String()
		d.lastSeen = now

		if strings.HasPrefix(mac, protocol.BlackmagicOUI) &&
			(d.details == nil || now.Sub(d.lastProbe) >= s.cfg.ProbeInterval) {
			due = append(due, probeTarget{mac: mac, ip: d.ip})
		}
	}
	for mac, d := range s.devices {
		if now.Sub(d.lastSeen) >= s.cfg.DeviceTimeout {
			delete(s.devices, mac)
		}
	}
	s.breakers.Retain(func(mac string) bool {
		_, ok := s.devices[mac]
		return ok
	})
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxProbes)
	for _, target := range due {
		target := target
		g.Go(func() error {
			s.probeDevice(gctx, target, now)
			return nil
		})
	}
	g.Wait()

	return s.Devices(), nil
}

func (s *Scanner) probeDevice(ctx context.Context, target probeTarget, now time.Time) {
	var details *protocol.HyperDeckDetails
	err := s.breakers.Get(target.mac).Do(func() error {
		var err error
		details, err = s.probe(ctx, target.ip)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[target.mac]
	if !ok {
		return
	}
	d.lastProbe = now
	if err != nil {
		// Failures are expected when probing black boxes.
		s.logger.Debug("Probe failed", zap.String("mac", target.mac), zap.String("ip", target.ip), zap.Error(err))
		return
	}
	d.details = &protocol.NetworkDeviceDetails{HyperDeck: details}
	s.logger.Info("Identified HyperDeck",
		zap.String("mac", target.mac),
		zap.String("ip", target.ip),
		zap.String("model", details.ModelName))
}

// Devices returns the current device table ordered by MAC.
func (s *Scanner) Devices() []protocol.NetworkDevice {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.NetworkDevice, 0, len(s.devices))
	for mac, d := range s.devices {
		out = append(out, protocol.NetworkDevice{
			IPAddress:  d.ip,
			MACAddress: mac,
			Details:    d.details,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MACAddress < out[j].MACAddress })
	return out
}

func isZeroMAC(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return true
}
