// Package transporttest provides an in-memory printer transport that records
// every open, write and close for assertions.
package transporttest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thereceipt/netprint/internal/transport"
)

// Event is one recorded transport call
type Event struct {
	Op   string // open, write, close
	Host string
	Port int
	Data []byte
	At   time.Time
}

// Printer scripts how a fake host behaves
type Printer struct {
	// OpenErr is returned by Open when set
	OpenErr error
	// FailWrite makes the write with this 1-based index fail. Zero never fails.
	FailWrite int
	// WriteErr is returned by the failing write. Defaults to a disconnected WriteError.
	WriteErr error
	// FailOnce fails only the FailWrite-th write instead of every write from
	// that point on
	FailOnce bool
	// OpenDelay is slept inside Open before returning. A shorter connect
	// timeout turns it into a Timeout ConnectError.
	OpenDelay time.Duration
}

// Transport is a scripted transport.Transport
type Transport struct {
	mu       sync.Mutex
	printers map[string]*Printer
	events   []Event
	open     int
	maxOpen  int
}

// New creates a fake transport where every host accepts connections
func New() *Transport {
	return &Transport{printers: make(map[string]*Printer)}
}

// Script sets the behaviour of host
func (f *Transport) Script(host string, p Printer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.printers[host] = &p
}

// Open implements transport.Transport
func (f *Transport) Open(ctx context.Context, host string, port int, timeout time.Duration) (transport.Connection, error) {
	f.mu.Lock()
	p := f.printers[host]
	f.mu.Unlock()

	if p != nil && p.OpenDelay > 0 {
		wait := p.OpenDelay
		if timeout > 0 && timeout < wait {
			wait = timeout
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, &transport.ConnectError{Kind: transport.Timeout, Addr: host, Err: ctx.Err()}
		}
		if wait < p.OpenDelay {
			f.record(Event{Op: "open", Host: host, Port: port, At: time.Now()})
			return nil, &transport.ConnectError{Kind: transport.Timeout, Addr: host, Err: context.DeadlineExceeded}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, Event{Op: "open", Host: host, Port: port, At: time.Now()})
	if p != nil && p.OpenErr != nil {
		return nil, p.OpenErr
	}

	f.open++
	if f.open > f.maxOpen {
		f.maxOpen = f.open
	}

	conn := &Conn{fake: f, host: host}
	if p != nil {
		conn.failAt = p.FailWrite
		conn.writeErr = p.WriteErr
		conn.failOnce = p.FailOnce
	}
	return conn, nil
}

func (f *Transport) record(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

// Events returns a copy of the recorded calls
func (f *Transport) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

// Count returns how many events of op were recorded for host. An empty host
// matches all hosts.
func (f *Transport) Count(op, host string) int {
	n := 0
	for _, e := range f.Events() {
		if e.Op == op && (host == "" || e.Host == host) {
			n++
		}
	}
	return n
}

// Written returns everything successfully written to host
func (f *Transport) Written(host string) []byte {
	var buf bytes.Buffer
	for _, e := range f.Events() {
		if e.Op == "write" && e.Host == host {
			buf.Write(e.Data)
		}
	}
	return buf.Bytes()
}

// OpenConnections returns the number of connections not yet closed
func (f *Transport) OpenConnections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// MaxConcurrent returns the highest number of simultaneously open connections
func (f *Transport) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxOpen
}

// Conn is a fake printer connection
type Conn struct {
	fake     *Transport
	host     string
	writes   int
	failAt   int
	writeErr error
	failOnce bool
	closed   bool
}

// Write implements transport.Connection
func (c *Conn) Write(data []byte) error {
	f := c.fake
	f.mu.Lock()
	defer f.mu.Unlock()

	if c.closed {
		return &transport.WriteError{Kind: transport.Disconnected, Err: transport.ErrClosed}
	}

	c.writes++
	failing := c.writes >= c.failAt
	if c.failOnce {
		failing = c.writes == c.failAt
	}
	if c.failAt > 0 && failing {
		if c.writeErr != nil {
			return c.writeErr
		}
		return &transport.WriteError{Kind: transport.Disconnected, Err: fmt.Errorf("connection reset by %s", c.host)}
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	f.events = append(f.events, Event{Op: "write", Host: c.host, Data: buf, At: time.Now()})
	return nil
}

// Close implements transport.Connection
func (c *Conn) Close() error {
	f := c.fake
	f.mu.Lock()
	defer f.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	f.open--
	f.events = append(f.events, Event{Op: "close", Host: c.host, At: time.Now()})
	return nil
}
