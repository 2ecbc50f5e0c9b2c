package discovery

import (
	"context"
	"fmt"

	"github.com/grandcat/zeroconf"
)

// DefaultMDNSService is the service type raw port-9100 printers advertise
const DefaultMDNSService = "_pdl-datastream._tcp"

// MDNSProber browses multicast DNS for printer services
type MDNSProber struct {
	Service string
	Domain  string
}

// NewMDNSProber creates a prober for service in the local. domain
func NewMDNSProber(service string) *MDNSProber {
	if service == "" {
		service = DefaultMDNSService
	}
	return &MDNSProber{
		Service: service,
		Domain:  "local.",
	}
}

// Name implements Prober
func (p *MDNSProber) Name() string { return "mdns" }

// Probe implements Prober
func (p *MDNSProber) Probe(ctx context.Context, found func(address string)) error {
	resolver, err := zeroconf.NewResolver(zeroconf.SelectIPTraffic(zeroconf.IPv4))
	if err != nil {
		return fmt.Errorf("create mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, p.Service, p.Domain, entries); err != nil {
		return fmt.Errorf("browse %s: %w", p.Service, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			for _, ip := range entry.AddrIPv4 {
				found(ip.String())
			}
		}
	}
}
