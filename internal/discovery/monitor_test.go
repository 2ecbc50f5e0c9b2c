package discovery

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// sequenceFinder returns one scripted result per scan, repeating the last
type sequenceFinder struct {
	mu    sync.Mutex
	scans [][]string
	calls int
}

func (f *sequenceFinder) Discover(ctx context.Context, timeout time.Duration) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	if i >= len(f.scans) {
		i = len(f.scans) - 1
	}
	f.calls++
	return f.scans[i]
}

func (f *sequenceFinder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestMonitor_ScanReportsChanges(t *testing.T) {
	finder := &sequenceFinder{scans: [][]string{
		{"10.0.0.5", "10.0.0.6"},
		{"10.0.0.6", "10.0.0.7"},
	}}
	m := NewMonitor(finder, time.Hour, time.Second, zerolog.Nop())

	var added, removed []string
	m.OnAdded(func(addr string) { added = append(added, addr) })
	m.OnRemoved(func(addr string) { removed = append(removed, addr) })

	m.Scan(context.Background())
	sort.Strings(added)
	if len(added) != 2 || added[0] != "10.0.0.5" || added[1] != "10.0.0.6" || len(removed) != 0 {
		t.Fatalf("Unexpected first scan: added %v removed %v", added, removed)
	}

	added, removed = nil, nil
	m.Scan(context.Background())
	if len(added) != 1 || added[0] != "10.0.0.7" {
		t.Errorf("Expected 10.0.0.7 added, got %v", added)
	}
	if len(removed) != 1 || removed[0] != "10.0.0.5" {
		t.Errorf("Expected 10.0.0.5 removed, got %v", removed)
	}

	added, removed = nil, nil
	m.Scan(context.Background())
	if len(added) != 0 || len(removed) != 0 {
		t.Errorf("Expected no changes, got added %v removed %v", added, removed)
	}
}

func TestMonitor_CancelledScanKeepsState(t *testing.T) {
	finder := &sequenceFinder{scans: [][]string{{"10.0.0.5"}, {}}}
	m := NewMonitor(finder, time.Hour, time.Second, zerolog.Nop())

	removedCount := 0
	m.OnRemoved(func(string) { removedCount++ })

	m.Scan(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Scan(ctx)

	if removedCount != 0 {
		t.Error("A cancelled scan must not report printers as gone")
	}
}

func TestMonitor_StartStop(t *testing.T) {
	finder := &sequenceFinder{scans: [][]string{{"10.0.0.5"}}}
	m := NewMonitor(finder, 10*time.Millisecond, time.Millisecond, zerolog.Nop())

	m.Start()
	deadline := time.Now().Add(2 * time.Second)
	for finder.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()

	if finder.count() < 3 {
		t.Fatalf("Expected repeated scans, got %d", finder.count())
	}

	calls := finder.count()
	time.Sleep(30 * time.Millisecond)
	if finder.count() != calls {
		t.Error("Monitor kept scanning after Stop")
	}
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	m := NewMonitor(&sequenceFinder{scans: [][]string{{}}}, time.Second, time.Millisecond, zerolog.Nop())
	m.Stop()
}
