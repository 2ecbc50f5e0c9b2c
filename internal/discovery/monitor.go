package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Finder runs one bounded discovery window
type Finder interface {
	Discover(ctx context.Context, timeout time.Duration) []string
}

// Monitor rescans the network on an interval and reports printers that
// appeared or stopped answering since the previous scan
type Monitor struct {
	finder   Finder
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	onAdded   func(address string)
	onRemoved func(address string)
	known     map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor that scans for window every interval
func NewMonitor(finder Finder, interval, window time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		finder:   finder,
		interval: interval,
		window:   window,
		log:      log.With().Str("component", "monitor").Logger(),
		known:    make(map[string]struct{}),
	}
}

// OnAdded sets the callback for printers seen for the first time
func (m *Monitor) OnAdded(callback func(address string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAdded = callback
}

// OnRemoved sets the callback for printers missing from the latest scan
func (m *Monitor) OnRemoved(callback func(address string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRemoved = callback
}

// Start scans once immediately and then every interval until Stop
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		m.Scan(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Scan(ctx)
			}
		}
	}()
}

// Stop stops the monitor and waits for a running scan to end
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Scan runs one discovery window and reports the differences
func (m *Monitor) Scan(ctx context.Context) {
	current := m.finder.Discover(ctx, m.window)
	if ctx.Err() != nil {
		return
	}

	currentSet := make(map[string]struct{}, len(current))
	for _, addr := range current {
		currentSet[addr] = struct{}{}
	}

	m.mu.Lock()
	var added, removed []string
	for addr := range currentSet {
		if _, ok := m.known[addr]; !ok {
			added = append(added, addr)
		}
	}
	for addr := range m.known {
		if _, ok := currentSet[addr]; !ok {
			removed = append(removed, addr)
		}
	}
	m.known = currentSet
	onAdded, onRemoved := m.onAdded, m.onRemoved
	m.mu.Unlock()

	for _, addr := range added {
		m.log.Info().Str("printer", addr).Msg("printer appeared")
		if onAdded != nil {
			onAdded(addr)
		}
	}
	for _, addr := range removed {
		m.log.Info().Str("printer", addr).Msg("printer stopped answering")
		if onRemoved != nil {
			onRemoved(addr)
		}
	}
}
