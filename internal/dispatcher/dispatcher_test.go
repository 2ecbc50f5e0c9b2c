package dispatcher

import (
	"context"
	"net"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/thereceipt/netprint/internal/printer"
	"github.com/thereceipt/netprint/internal/transport"
	"github.com/thereceipt/netprint/internal/transport/transporttest"
)

type fakeDiscoverer struct {
	delay  time.Duration
	result []string
}

func (f *fakeDiscoverer) Discover(ctx context.Context, timeout time.Duration) []string {
	if timeout <= 0 {
		return []string{}
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
	}
	return f.result
}

func newDispatcher(tr transport.Transport, opts printer.Options, disc Discoverer) *Dispatcher {
	if disc == nil {
		disc = &fakeDiscoverer{}
	}
	session := printer.NewSession(tr, opts, zerolog.Nop())
	return New(session, disc, zerolog.Nop())
}

func TestPrintJob_Success(t *testing.T) {
	fake := transporttest.New()
	d := newDispatcher(fake, printer.DefaultOptions(), nil)

	result := d.PrintJob(context.Background(), "10.0.0.5", "Hello")
	if !result.OK {
		t.Fatalf("Expected success, got %+v", result)
	}
	if result.Message != "Print successful to 10.0.0.5" {
		t.Errorf("Unexpected message %q", result.Message)
	}
	if result.Reason != "" {
		t.Errorf("Expected empty reason, got %q", result.Reason)
	}
	if fake.Count("open", "") != fake.Count("close", "") {
		t.Error("Open/close calls are unbalanced")
	}
}

func TestPrintJob_DroppedMidStream(t *testing.T) {
	fake := transporttest.New()
	fake.Script("10.0.0.5", transporttest.Printer{FailWrite: 3})
	d := newDispatcher(fake, printer.DefaultOptions(), nil)

	result := d.PrintJob(context.Background(), "10.0.0.5", "Hello")
	if result.OK {
		t.Fatal("Expected failure")
	}
	if result.Reason != "print_data_failed" {
		t.Errorf("Expected print_data_failed, got %q", result.Reason)
	}
	if n := fake.Count("close", "10.0.0.5"); n != 1 {
		t.Errorf("Expected exactly one close, got %d", n)
	}
}

func TestPrintJob_NothingListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	opts := printer.DefaultOptions()
	opts.Port = port
	d := newDispatcher(transport.NewTCP(time.Second), opts, nil)

	start := time.Now()
	result := d.PrintJob(context.Background(), "127.0.0.1", "Hello")

	if result.OK {
		t.Fatal("Expected failure")
	}
	if result.Reason != "port_open_failed" {
		t.Errorf("Expected port_open_failed, got %q", result.Reason)
	}
	if !strings.Contains(result.Message, "unreachable") {
		t.Errorf("Expected message to mention unreachability, got %q", result.Message)
	}
	if elapsed := time.Since(start); elapsed > opts.ConnectTimeout+time.Second {
		t.Errorf("Took too long: %v", elapsed)
	}
}

func TestPrintJob_ConnectTimeoutBoundsJob(t *testing.T) {
	fake := transporttest.New()
	fake.Script("10.0.0.99", transporttest.Printer{OpenDelay: 10 * time.Second})

	opts := printer.DefaultOptions()
	opts.ConnectTimeout = 100 * time.Millisecond
	d := newDispatcher(fake, opts, nil)

	start := time.Now()
	result := d.PrintJob(context.Background(), "10.0.0.99", "Hello")
	elapsed := time.Since(start)

	if result.Reason != "port_open_failed" {
		t.Errorf("Expected port_open_failed, got %q", result.Reason)
	}
	if !strings.Contains(result.Message, "timeout") {
		t.Errorf("Expected timeout in message, got %q", result.Message)
	}
	if elapsed > opts.ConnectTimeout+500*time.Millisecond {
		t.Errorf("Expected job bounded by connect timeout, took %v", elapsed)
	}
}

func TestPrintJob_EmptyAddress(t *testing.T) {
	fake := transporttest.New()
	d := newDispatcher(fake, printer.DefaultOptions(), nil)

	result := d.PrintJob(context.Background(), "  ", "Hello")
	if result.OK {
		t.Fatal("Expected failure for empty address")
	}
	if len(fake.Events()) != 0 {
		t.Error("Expected no transport calls")
	}
}

func TestPrintJob_SerializesConcurrentJobs(t *testing.T) {
	fake := transporttest.New()
	fake.Script("10.0.0.5", transporttest.Printer{OpenDelay: 50 * time.Millisecond})
	fake.Script("10.0.0.6", transporttest.Printer{OpenDelay: 50 * time.Millisecond})
	d := newDispatcher(fake, printer.DefaultOptions(), nil)

	var wg sync.WaitGroup
	for _, addr := range []string{"10.0.0.5", "10.0.0.6", "10.0.0.5", "10.0.0.6"} {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			if r := d.PrintJob(context.Background(), addr, "Hello "+addr); !r.OK {
				t.Errorf("Job to %s failed: %s", addr, r.Message)
			}
		}(addr)
	}
	wg.Wait()

	if fake.MaxConcurrent() != 1 {
		t.Errorf("Expected at most one open connection, saw %d", fake.MaxConcurrent())
	}

	// Every open must be followed by writes to the same host and its close
	// before the next open begins.
	var current string
	for _, e := range fake.Events() {
		switch e.Op {
		case "open":
			if current != "" {
				t.Fatalf("Open of %s began before %s was closed", e.Host, current)
			}
			current = e.Host
		case "write":
			if e.Host != current {
				t.Fatalf("Write to %s interleaved with job for %s", e.Host, current)
			}
		case "close":
			current = ""
		}
	}
	if fake.Count("open", "") != 4 || fake.Count("close", "") != 4 {
		t.Errorf("Expected 4 opens and 4 closes, got %d/%d", fake.Count("open", ""), fake.Count("close", ""))
	}
}

func TestPrintJobAsync_DoesNotBlockCaller(t *testing.T) {
	fake := transporttest.New()
	fake.Script("10.0.0.5", transporttest.Printer{OpenDelay: 200 * time.Millisecond})
	d := newDispatcher(fake, printer.DefaultOptions(), nil)

	start := time.Now()
	ch := d.PrintJobAsync(context.Background(), "10.0.0.5", "Hello")
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("PrintJobAsync blocked for %v", elapsed)
	}

	select {
	case r := <-ch:
		if !r.OK {
			t.Errorf("Expected success, got %s", r.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for result")
	}
}

func TestDiscover_Delegates(t *testing.T) {
	disc := &fakeDiscoverer{result: []string{"10.0.0.5", "10.0.0.6"}}
	d := newDispatcher(transporttest.New(), printer.DefaultOptions(), disc)

	got := d.Discover(context.Background(), 3*time.Second)
	if !reflect.DeepEqual(got, disc.result) {
		t.Errorf("Expected %v, got %v", disc.result, got)
	}

	if got := d.Discover(context.Background(), 0); len(got) != 0 {
		t.Errorf("Expected empty result for zero timeout, got %v", got)
	}
}

func TestDiscover_RunsAlongsidePrintJob(t *testing.T) {
	disc := &fakeDiscoverer{delay: 300 * time.Millisecond, result: []string{"10.0.0.5"}}
	fake := transporttest.New()
	d := newDispatcher(fake, printer.DefaultOptions(), disc)

	discovered := d.DiscoverAsync(context.Background(), time.Second)

	start := time.Now()
	if r := d.PrintJob(context.Background(), "10.0.0.5", "Hello"); !r.OK {
		t.Fatalf("Print failed: %s", r.Message)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Print job waited on discovery: %v", elapsed)
	}

	if got := <-discovered; !reflect.DeepEqual(got, []string{"10.0.0.5"}) {
		t.Errorf("Unexpected discovery result %v", got)
	}
}

func TestReconfigure(t *testing.T) {
	fake := transporttest.New()
	d := newDispatcher(fake, printer.DefaultOptions(), nil)

	d.Reconfigure(printer.Options{Port: 9101, ConnectTimeout: time.Second, FeedLines: 1})
	d.PrintJob(context.Background(), "10.0.0.5", "Hello")

	if port := fake.Events()[0].Port; port != 9101 {
		t.Errorf("Expected reconfigured port 9101, got %d", port)
	}
}
