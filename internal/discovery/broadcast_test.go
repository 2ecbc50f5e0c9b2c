package discovery

import (
	"context"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// startResponder answers every probe on loopback, twice
func startResponder(t *testing.T, answer []byte) int {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) != string(DefaultProbe) {
				continue
			}
			conn.WriteToUDP(answer, from)
			conn.WriteToUDP(answer, from)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestBroadcastProber_CollectsReplies(t *testing.T) {
	port := startResponder(t, []byte("TM-T20 ready"))

	prober := NewBroadcastProber(port, nil, zerolog.Nop())
	prober.Targets = []string{"127.0.0.1"}
	svc := New(zerolog.Nop(), prober)

	got := svc.Discover(context.Background(), 300*time.Millisecond)
	if !reflect.DeepEqual(got, []string{"127.0.0.1"}) {
		t.Errorf("Expected [127.0.0.1], got %v", got)
	}
}

func TestBroadcastProber_MatchFiltersReplies(t *testing.T) {
	port := startResponder(t, []byte("not a printer"))

	prober := NewBroadcastProber(port, nil, zerolog.Nop())
	prober.Targets = []string{"127.0.0.1"}
	prober.Match = func(reply []byte) bool { return string(reply) == "printer" }

	var found []string
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := prober.Probe(ctx, func(addr string) { found = append(found, addr) }); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("Expected filtered replies, got %v", found)
	}
}

func TestNewBroadcastProber_Defaults(t *testing.T) {
	p := NewBroadcastProber(0, nil, zerolog.Nop())
	if p.Port != DefaultBroadcastPort {
		t.Errorf("Expected default port, got %d", p.Port)
	}
	if string(p.Payload) != string(DefaultProbe) {
		t.Errorf("Expected default probe, got %q", p.Payload)
	}
	if p.Name() != "broadcast" {
		t.Errorf("Unexpected name %q", p.Name())
	}
}
