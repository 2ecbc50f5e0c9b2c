package discovery

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog"
)

// DefaultBroadcastPort is the UDP port probed when none is configured
const DefaultBroadcastPort = 3289

// DefaultProbe is the datagram sent to ask printers to answer
var DefaultProbe = []byte("ESC/POS DISCOVER")

// BroadcastProber sends one UDP datagram to every IPv4 broadcast address and
// treats the source of each reply as a printer
type BroadcastProber struct {
	Port    int
	Payload []byte
	// Targets overrides the interface broadcast addresses
	Targets []string
	// Match filters replies. Nil accepts any non-empty reply.
	Match func(reply []byte) bool

	log zerolog.Logger
}

// NewBroadcastProber creates a prober for port with the given probe payload
func NewBroadcastProber(port int, payload []byte, log zerolog.Logger) *BroadcastProber {
	if port == 0 {
		port = DefaultBroadcastPort
	}
	if len(payload) == 0 {
		payload = DefaultProbe
	}
	return &BroadcastProber{
		Port:    port,
		Payload: payload,
		log:     log.With().Str("prober", "broadcast").Logger(),
	}
}

// Name implements Prober
func (p *BroadcastProber) Name() string { return "broadcast" }

// Probe implements Prober
func (p *BroadcastProber) Probe(ctx context.Context, found func(address string)) error {
	targets := p.Targets
	if len(targets) == 0 {
		addrs, err := broadcastAddresses()
		if err != nil {
			return fmt.Errorf("list broadcast addresses: %w", err)
		}
		targets = addrs
	}
	if len(targets) == 0 {
		return errors.New("no IPv4 interfaces to broadcast on")
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	sent := 0
	for _, target := range targets {
		addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(target, strconv.Itoa(p.Port)))
		if err != nil {
			p.log.Debug().Err(err).Str("target", target).Msg("resolve broadcast target")
			continue
		}
		if _, err := conn.WriteToUDP(p.Payload, addr); err != nil {
			p.log.Debug().Err(err).Str("target", target).Msg("send probe")
			continue
		}
		sent++
	}
	if sent == 0 {
		return errors.New("probe could not be sent to any target")
	}

	buf := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return fmt.Errorf("read reply: %w", err)
		}

		reply := buf[:n]
		if n == 0 || bytes.Equal(reply, p.Payload) {
			continue
		}
		if p.Match != nil && !p.Match(reply) {
			continue
		}
		found(from.IP.String())
	}
}

func broadcastAddresses() ([]string, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var addrs []string
	for _, iface := range ifs {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		ifAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range ifAddrs {
			n, ok := addr.(*net.IPNet)
			if !ok || n.IP.IsLoopback() {
				continue
			}
			if s := directedBroadcast(n); s != "" && !seen[s] {
				seen[s] = true
				addrs = append(addrs, s)
			}
		}
	}
	return addrs, nil
}

// directedBroadcast returns the broadcast address of an IPv4 network
func directedBroadcast(n *net.IPNet) string {
	v4 := n.IP.To4()
	if v4 == nil {
		return ""
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return ""
	}

	baddr := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(baddr, binary.BigEndian.Uint32(v4)|^binary.BigEndian.Uint32(mask))
	return baddr.String()
}
