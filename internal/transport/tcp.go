// Package transport owns the raw TCP connection to a single printer
package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPort is the conventional raw-text printing port
const DefaultPort = 9100

// Transport opens connections to printers
type Transport interface {
	Open(ctx context.Context, host string, port int, timeout time.Duration) (Connection, error)
}

// Connection is one open printer socket. Close must be idempotent.
type Connection interface {
	Write(data []byte) error
	Close() error
}

// TCP dials printers over plain TCP
type TCP struct {
	// writeTimeout bounds every Write. Zero disables the deadline.
	writeTimeout atomic.Int64
}

// NewTCP creates a TCP transport with the given send deadline
func NewTCP(writeTimeout time.Duration) *TCP {
	t := &TCP{}
	t.SetWriteTimeout(writeTimeout)
	return t
}

// SetWriteTimeout changes the send deadline for connections opened from now on
func (t *TCP) SetWriteTimeout(d time.Duration) {
	t.writeTimeout.Store(int64(d))
}

// WriteTimeout returns the current send deadline
func (t *TCP) WriteTimeout() time.Duration {
	return time.Duration(t.writeTimeout.Load())
}

// Open connects to host:port, failing with *ConnectError if the handshake
// does not complete within timeout
func (t *TCP) Open(ctx context.Context, host string, port int, timeout time.Duration) (Connection, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, classifyDial(address, err)
	}

	return &TCPConnection{
		conn:         conn,
		writeTimeout: t.WriteTimeout(),
	}, nil
}

// TCPConnection is a printer socket opened by TCP
type TCPConnection struct {
	conn         net.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       bool
}

// Write sends data to the printer
func (c *TCPConnection) Write(data []byte) error {
	if c == nil {
		return &WriteError{Kind: Disconnected, Err: ErrClosed}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil {
		return &WriteError{Kind: Disconnected, Err: ErrClosed}
	}

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return classifyWrite(err)
		}
	}

	if _, err := c.conn.Write(data); err != nil {
		return classifyWrite(err)
	}

	return nil
}

// Close releases the socket. Calling it more than once, or on a nil
// connection, is a no-op.
func (c *TCPConnection) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}

// Close closes conn if it was ever opened
func Close(conn Connection) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}
