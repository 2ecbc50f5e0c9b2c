// Package dispatcher is the public surface for printing and discovery.
// Print jobs are serialized so only one printer connection is open at a time;
// discovery runs independently.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/thereceipt/netprint/internal/printer"
)

// Result is what callers see for one print job
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Discoverer finds printers within a bounded window
type Discoverer interface {
	Discover(ctx context.Context, timeout time.Duration) []string
}

// Dispatcher serializes print jobs onto a single session
type Dispatcher struct {
	session   *printer.Session
	discovery Discoverer
	log       zerolog.Logger

	// jobMu guards the printer port, not the struct
	jobMu sync.Mutex
}

// New creates a dispatcher
func New(session *printer.Session, discovery Discoverer, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		session:   session,
		discovery: discovery,
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

// PrintJob sends text to the printer at address and blocks until the
// outcome is known
func (d *Dispatcher) PrintJob(ctx context.Context, address, text string) Result {
	return <-d.PrintJobAsync(ctx, address, text)
}

// PrintJobAsync runs the job on its own goroutine. The channel receives
// exactly one Result.
func (d *Dispatcher) PrintJobAsync(ctx context.Context, address, text string) <-chan Result {
	out := make(chan Result, 1)

	address = strings.TrimSpace(address)
	if address == "" {
		out <- Result{OK: false, Message: "printer address is empty"}
		return out
	}

	go func() {
		out <- d.runJob(ctx, address, text)
	}()

	return out
}

func (d *Dispatcher) runJob(ctx context.Context, address, text string) (result Result) {
	d.jobMu.Lock()
	defer d.jobMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("printer", address).Msg("print job panicked")
			result = Result{OK: false, Message: fmt.Sprintf("Print error: %v", r)}
		}
	}()

	start := time.Now()
	outcome := d.session.RunJob(ctx, address, text)

	event := d.log.Info()
	if !outcome.Success() {
		event = d.log.Warn().Err(outcome.Err).Str("reason", outcome.Reason.String())
	}
	event.Str("printer", address).Dur("took", time.Since(start)).Msg("print job finished")

	return Result{
		OK:      outcome.Success(),
		Message: outcome.Message(),
		Reason:  outcome.Reason.String(),
	}
}

// Discover blocks for up to timeout and returns responding printer addresses
func (d *Dispatcher) Discover(ctx context.Context, timeout time.Duration) []string {
	return <-d.DiscoverAsync(ctx, timeout)
}

// DiscoverAsync runs discovery on its own goroutine. The channel receives
// exactly one address list.
func (d *Dispatcher) DiscoverAsync(ctx context.Context, timeout time.Duration) <-chan []string {
	out := make(chan []string, 1)
	go func() {
		out <- d.discovery.Discover(ctx, timeout)
	}()
	return out
}

// Reconfigure applies new session options. Jobs already running keep the
// options they started with.
func (d *Dispatcher) Reconfigure(opts printer.Options) {
	d.session.SetOptions(opts)
	d.log.Info().
		Int("port", opts.Port).
		Dur("connect_timeout", opts.ConnectTimeout).
		Int("feed_lines", opts.FeedLines).
		Bool("cut", opts.Cut).
		Msg("printer options updated")
}
