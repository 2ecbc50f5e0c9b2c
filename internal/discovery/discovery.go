// Package discovery finds raw-text printers on the local network
package discovery

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Prober is one way of asking the LAN for printers. Probe reports every
// responding address through found and returns once ctx is done.
type Prober interface {
	Name() string
	Probe(ctx context.Context, found func(address string)) error
}

// Service runs probers for a bounded window and collects what they find
type Service struct {
	probers []Prober
	log     zerolog.Logger

	mu      sync.RWMutex
	onFound func(address string)
}

// New creates a discovery service
func New(log zerolog.Logger, probers ...Prober) *Service {
	return &Service{
		probers: probers,
		log:     log.With().Str("component", "discovery").Logger(),
	}
}

// OnFound sets a callback invoked once for every new address as it arrives
func (s *Service) OnFound(callback func(address string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFound = callback
}

// Discover probes for up to timeout and returns the de-duplicated, sorted
// set of responding addresses. A non-positive timeout returns immediately.
func (s *Service) Discover(ctx context.Context, timeout time.Duration) []string {
	if timeout <= 0 || len(s.probers) == 0 {
		return []string{}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.mu.RLock()
	onFound := s.onFound
	s.mu.RUnlock()

	set := NewSet()
	found := func(address string) {
		if normalized, added := set.Add(address); added {
			s.log.Debug().Str("printer", normalized).Msg("printer responded")
			if onFound != nil {
				onFound(normalized)
			}
		}
	}

	var wg sync.WaitGroup
	for _, p := range s.probers {
		wg.Add(1)
		go func(p Prober) {
			defer wg.Done()
			if err := p.Probe(ctx, found); err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Str("prober", p.Name()).Msg("probe failed")
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	result := set.Close()
	s.log.Info().Int("count", len(result)).Dur("window", timeout).Msg("discovery finished")
	return result
}

// Set is a de-duplicated collection of printer addresses. Once closed it
// ignores further additions.
type Set struct {
	mu     sync.Mutex
	items  map[string]struct{}
	closed bool
}

// NewSet creates an empty set
func NewSet() *Set {
	return &Set{items: make(map[string]struct{})}
}

// Add inserts address and reports its normalized form and whether it was new
func (s *Set) Add(address string) (string, bool) {
	normalized := Normalize(address)
	if normalized == "" {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return normalized, false
	}
	if _, exists := s.items[normalized]; exists {
		return normalized, false
	}
	s.items[normalized] = struct{}{}
	return normalized, true
}

// Close freezes the set and returns its contents sorted
func (s *Set) Close() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	result := make([]string, 0, len(s.items))
	for addr := range s.items {
		result = append(result, addr)
	}
	sort.Strings(result)
	return result
}

// Normalize strips ports and whitespace and canonicalizes IP literals
func Normalize(address string) string {
	address = strings.TrimSpace(address)
	if host, _, err := net.SplitHostPort(address); err == nil {
		address = host
	}
	if ip := net.ParseIP(address); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return address
}
