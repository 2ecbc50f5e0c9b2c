// Package printer drives ESC/POS text jobs over a raw printer transport
package printer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/thereceipt/netprint/internal/transport"
)

// Reason is the job-level failure category
type Reason int

const (
	ReasonNone Reason = iota
	PortOpenFailed
	PrintDataFailed
)

func (r Reason) String() string {
	switch r {
	case PortOpenFailed:
		return "port_open_failed"
	case PrintDataFailed:
		return "print_data_failed"
	default:
		return ""
	}
}

// Outcome is the result of one job
type Outcome struct {
	Address string
	Reason  Reason
	Err     error
}

// Success reports whether the text body reached the printer
func (o Outcome) Success() bool {
	return o.Reason == ReasonNone
}

// Message is a human-readable summary that tells network problems apart from
// printer problems
func (o Outcome) Message() string {
	switch o.Reason {
	case PortOpenFailed:
		detail := "connection failed"
		var connectErr *transport.ConnectError
		if errors.As(o.Err, &connectErr) {
			detail = "connection " + connectErr.Kind.String()
		}
		return fmt.Sprintf("Printer %s is unreachable (%s): check the network and that the printer is powered on", o.Address, detail)
	case PrintDataFailed:
		detail := "write failed"
		var writeErr *transport.WriteError
		if errors.As(o.Err, &writeErr) {
			detail = "write " + writeErr.Kind.String()
		}
		return fmt.Sprintf("Reached printer %s but failed to send print data (%s): check paper and printer hardware", o.Address, detail)
	default:
		return fmt.Sprintf("Print successful to %s", o.Address)
	}
}

// Options controls how a session talks to printers
type Options struct {
	Port           int
	ConnectTimeout time.Duration
	FeedLines      int
	Cut            bool
}

// DefaultOptions returns the stock raw-text printer settings
func DefaultOptions() Options {
	return Options{
		Port:           transport.DefaultPort,
		ConnectTimeout: 5 * time.Second,
		FeedLines:      3,
	}
}

// Session runs text jobs one at a time. Callers must not overlap RunJob
// calls; the dispatcher serializes them.
type Session struct {
	transport transport.Transport
	log       zerolog.Logger

	mu     sync.Mutex
	opts   Options
	active transport.Connection
}

// NewSession creates a session on top of t
func NewSession(t transport.Transport, opts Options, log zerolog.Logger) *Session {
	return &Session{
		transport: t,
		opts:      opts,
		log:       log.With().Str("component", "session").Logger(),
	}
}

// Options returns the current settings
func (s *Session) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// SetOptions replaces the settings used by subsequent jobs
func (s *Session) SetOptions(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
}

// RunJob opens address, configures the printer for UTF-8, prints text and
// feeds paper. The connection is closed on every path.
func (s *Session) RunJob(ctx context.Context, address, text string) Outcome {
	opts := s.Options()
	log := s.log.With().Str("printer", address).Logger()

	s.closeStale()

	host, port := splitAddress(address, opts.Port)
	conn, err := s.transport.Open(ctx, host, port, opts.ConnectTimeout)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open printer port")
		return Outcome{Address: address, Reason: PortOpenFailed, Err: err}
	}

	s.mu.Lock()
	s.active = conn
	s.mu.Unlock()
	defer s.release(conn, log)

	s.advisory(conn, "reset", ResetCommand(), log)
	s.advisory(conn, "select utf8", SelectUTF8Command(), log)

	if err := conn.Write(TextPayload(text)); err != nil {
		log.Warn().Err(err).Msg("failed to send print data")
		return Outcome{Address: address, Reason: PrintDataFailed, Err: err}
	}

	s.advisory(conn, "feed", FeedCommand(opts.FeedLines, opts.Cut), log)

	log.Debug().Int("bytes", len(text)).Msg("print job sent")
	return Outcome{Address: address}
}

// splitAddress accepts "host" or "host:port"; a bare host uses defaultPort
func splitAddress(address string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return address, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return host, defaultPort
	}
	return host, port
}

// closeStale closes a connection left behind by a job that never released it
func (s *Session) closeStale() {
	s.mu.Lock()
	stale := s.active
	s.active = nil
	s.mu.Unlock()

	if stale != nil {
		s.log.Warn().Msg("closing connection left open by previous job")
		if err := transport.Close(stale); err != nil {
			s.log.Debug().Err(err).Msg("close stale connection")
		}
	}
}

func (s *Session) release(conn transport.Connection, log zerolog.Logger) {
	s.mu.Lock()
	if s.active == conn {
		s.active = nil
	}
	s.mu.Unlock()

	if err := transport.Close(conn); err != nil {
		log.Debug().Err(err).Msg("close printer connection")
	}
}

// advisory writes a configuration frame the printer tolerates missing
func (s *Session) advisory(conn transport.Connection, step string, frame []byte, log zerolog.Logger) {
	if err := conn.Write(frame); err != nil {
		log.Debug().Err(err).Str("step", step).Msg("advisory command not acknowledged")
	}
}
