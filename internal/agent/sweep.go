package agent

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// MinSweepPrefix is the widest network a sweep will cover.
const MinSweepPrefix = 16

// SweepFunc makes the kernel resolve every host on the local networks so
// the neighbour table holds idle devices too. It returns once the replies
// have had time to arrive.
type SweepFunc func(ctx context.Context) error

// discardPort is the UDP discard service. Nothing needs to listen on it:
// sending any datagram is enough for the kernel to ARP the destination.
const discardPort = 9

// UDPSweep sends one empty datagram to every host address of the swept
// networks, then waits window for ARP replies to land in the table.
func UDPSweep(window time.Duration) SweepFunc {
	return func(ctx context.Context) error {
		nets, err := SweepNetworks()
		if err != nil {
			return err
		}
		if len(nets) == 0 {
			return nil
		}

		conn, err := net.ListenPacket("udp4", ":0")
		if err != nil {
			return fmt.Errorf("open sweep socket: %w", err)
		}
		defer conn.Close()

		// Unreachable hosts fail individually; the rest still go out.
		err = sweep(ctx, nets, func(ip net.IP) {
			conn.WriteTo(nil, &net.UDPAddr{IP: ip, Port: discardPort})
		})
		if err != nil {
			return err
		}

		timer := time.NewTimer(window)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}

// SweepNetworks lists the IPv4 networks of every interface that is up, not
// loopback and not point-to-point, with a prefix of at least MinSweepPrefix.
func SweepNetworks() ([]*net.IPNet, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var out []*net.IPNet
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagPointToPoint != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, sweepable(addrs)...)
	}
	return out, nil
}

func sweepable(addrs []net.Addr) []*net.IPNet {
	var out []*net.IPNet
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.To4() == nil {
			continue
		}
		ones, bits := ipnet.Mask.Size()
		if bits != 32 || ones < MinSweepPrefix {
			continue
		}
		out = append(out, ipnet)
	}
	return out
}

// sweep calls send for every host address of nets, skipping the network
// and broadcast addresses and the interface's own address.
func sweep(ctx context.Context, nets []*net.IPNet, send func(net.IP)) error {
	for _, n := range nets {
		self := binary.BigEndian.Uint32(n.IP.To4())
		mask := binary.BigEndian.Uint32(net.IP(n.Mask).To4())
		first := self & mask
		last := first | ^mask

		for a := first + 1; a < last; a++ {
			if a == self {
				continue
			}
			if a&0xff == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			ip := make(net.IP, 4)
			binary.BigEndian.PutUint32(ip, a)
			send(ip)
		}
	}
	return ctx.Err()
}
