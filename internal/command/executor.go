// Package command provides a text command system for the print dispatcher
package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/thereceipt/netprint/internal/dispatcher"
	"github.com/thereceipt/netprint/internal/jobs"
	"github.com/thereceipt/netprint/internal/registry"
)

// Executor executes commands
type Executor struct {
	dispatcher *dispatcher.Dispatcher
	queue      *jobs.Queue
	registry   *registry.Registry

	mu               sync.Mutex
	discoveryTimeout time.Duration
	printerPort      int
}

// NewExecutor creates a new command executor. discoveryTimeout is used when
// a discover command names no window; printerPort is recorded for
// discovered printers.
func NewExecutor(d *dispatcher.Dispatcher, q *jobs.Queue, reg *registry.Registry, discoveryTimeout time.Duration, printerPort int) *Executor {
	return &Executor{
		dispatcher:       d,
		queue:            q,
		registry:         reg,
		discoveryTimeout: discoveryTimeout,
		printerPort:      printerPort,
	}
}

// SetDefaults replaces the discovery window and printer port after a config reload
func (e *Executor) SetDefaults(discoveryTimeout time.Duration, printerPort int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discoveryTimeout = discoveryTimeout
	e.printerPort = printerPort
}

// Defaults returns the discovery window and printer port in effect
func (e *Executor) Defaults() (time.Duration, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discoveryTimeout, e.printerPort
}

// Result represents the result of executing a command
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func failure(format string, args ...interface{}) *Result {
	return &Result{
		Success: false,
		Error:   fmt.Sprintf(format, args...),
	}
}

// Execute executes a command string and returns a result
func (e *Executor) Execute(ctx context.Context, cmdStr string) *Result {
	parts := parseCommand(cmdStr)
	if len(parts) == 0 {
		return failure("empty command")
	}

	command := parts[0]
	args := parts[1:]

	switch command {
	case "print":
		return e.handlePrint(ctx, args)
	case "submit":
		return e.handleSubmit(args)
	case "discover":
		return e.handleDiscover(ctx, args)
	case "printer":
		return e.handlePrinter(args)
	case "job":
		return e.handleJob(args)
	case "help":
		return e.handleHelp(args)
	default:
		return failure("unknown command: %s. Type 'help' for available commands", command)
	}
}

// parseCommand parses a command string into parts, handling quoted strings
func parseCommand(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return []string{}
	}

	var parts []string
	var current strings.Builder
	inQuotes := false
	quoted := false
	quoteChar := byte(0)

	flush := func() {
		if current.Len() > 0 || quoted {
			parts = append(parts, current.String())
			current.Reset()
		}
		quoted = false
	}

	for i := 0; i < len(cmdStr); i++ {
		char := cmdStr[i]

		switch {
		case (char == '"' || char == '\'') && !inQuotes:
			inQuotes = true
			quoted = true
			quoteChar = char
		case inQuotes && char == quoteChar:
			inQuotes = false
			quoteChar = 0
		case (char == ' ' || char == '\t') && !inQuotes:
			flush()
		default:
			current.WriteByte(char)
		}
	}
	flush()

	return parts
}

// bodyText joins the remaining arguments into the text to print. A literal
// \n becomes a line break since commands are single lines.
func bodyText(args []string) string {
	return strings.ReplaceAll(strings.Join(args, " "), `\n`, "\n")
}
