package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ConnectKind classifies why a connection could not be opened
type ConnectKind int

const (
	Unreachable ConnectKind = iota
	Timeout
	Refused
)

func (k ConnectKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Refused:
		return "refused"
	default:
		return "unreachable"
	}
}

// ConnectError is returned by Open when the TCP handshake does not complete
type ConnectError struct {
	Kind ConnectKind
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// WriteKind classifies why a write failed
type WriteKind int

const (
	Disconnected WriteKind = iota
	WriteTimeout
)

func (k WriteKind) String() string {
	if k == WriteTimeout {
		return "timeout"
	}
	return "disconnected"
}

// WriteError is returned by Connection.Write when the peer is gone or the
// send deadline passes
type WriteError struct {
	Kind WriteKind
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write: %s: %v", e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ErrClosed is wrapped by WriteError when writing to a closed connection
var ErrClosed = errors.New("connection closed")

func classifyDial(addr string, err error) *ConnectError {
	kind := Unreachable
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = Refused
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		kind = Timeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = Timeout
	}
	return &ConnectError{Kind: kind, Addr: addr, Err: err}
}

func classifyWrite(err error) *WriteError {
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &WriteError{Kind: WriteTimeout, Err: err}
	}
	return &WriteError{Kind: Disconnected, Err: err}
}
