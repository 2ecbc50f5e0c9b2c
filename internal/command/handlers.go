package command

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/thereceipt/netprint/internal/jobs"
	"github.com/thereceipt/netprint/internal/registry"
	"github.com/thereceipt/netprint/internal/transport"
)

// handlePrint prints text and waits for the outcome
// Usage: print <printer> <text...>
func (e *Executor) handlePrint(ctx context.Context, args []string) *Result {
	if len(args) < 2 {
		return failure("usage: print <printer> <text...>")
	}

	address := e.registry.Resolve(args[0])
	result := e.dispatcher.PrintJob(ctx, address, bodyText(args[1:]))

	res := &Result{
		Success: result.OK,
		Message: result.Message,
		Data: map[string]interface{}{
			"printer": address,
		},
	}
	if !result.OK {
		res.Error = result.Message
		if result.Reason != "" {
			res.Data["reason"] = result.Reason
		}
	}
	return res
}

// handleSubmit queues text for background printing
// Usage: submit <printer> <text...>
func (e *Executor) handleSubmit(args []string) *Result {
	if len(args) < 2 {
		return failure("usage: submit <printer> <text...>")
	}

	address := e.registry.Resolve(args[0])
	jobID := e.queue.Enqueue(address, bodyText(args[1:]))

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Print job queued: %s", jobID),
		Data: map[string]interface{}{
			"job_id":  jobID,
			"printer": address,
		},
	}
}

// handleDiscover searches the network and registers what it finds
// Usage: discover [timeout]
func (e *Executor) handleDiscover(ctx context.Context, args []string) *Result {
	timeout, port := e.Defaults()
	if len(args) > 0 {
		d, err := parseTimeout(args[0])
		if err != nil {
			return failure("invalid timeout: %s", args[0])
		}
		timeout = d
	}

	addresses := e.dispatcher.Discover(ctx, timeout)
	ids := e.registry.RegisterDiscovered(addresses, port)

	found := make([]map[string]interface{}, len(addresses))
	for i, addr := range addresses {
		found[i] = map[string]interface{}{
			"id":      ids[i],
			"address": addr,
		}
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Discovered %d printer(s)", len(addresses)),
		Data: map[string]interface{}{
			"printers": found,
		},
	}
}

// parseTimeout accepts a Go duration ("5s") or plain milliseconds ("1500")
func parseTimeout(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative timeout")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout")
	}
	return d, nil
}

// handlePrinter handles printer commands
// Usage: printer list | add <host> [port] | rename <id> <name> | remove <id>
func (e *Executor) handlePrinter(args []string) *Result {
	if len(args) == 0 {
		return failure("usage: printer <list|add|rename|remove>")
	}

	switch subcommand := args[0]; subcommand {
	case "list":
		printers := e.registry.List()
		printerList := make([]map[string]interface{}, len(printers))
		for i, p := range printers {
			printerList[i] = printerData(p)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Found %d printer(s)", len(printers)),
			Data: map[string]interface{}{
				"printers": printerList,
			},
		}

	case "add":
		if len(args) < 2 {
			return failure("usage: printer add <host> [port]")
		}
		host := args[1]
		port := transport.DefaultPort
		if len(args) >= 3 {
			p, err := strconv.Atoi(args[2])
			if err != nil || p < 1 || p > 65535 {
				return failure("invalid port: %s", args[2])
			}
			port = p
		}
		printerID := e.registry.GetPrinterID(registry.PrinterInfo{
			Host:   host,
			Port:   port,
			Source: registry.SourceManual,
		})
		entry := e.registry.GetPrinterInfo(printerID)
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Added network printer: %s", entry.DisplayName()),
			Data: map[string]interface{}{
				"printer_id": printerID,
				"printer":    printerData(entry),
			},
		}

	case "rename":
		if len(args) < 3 {
			return failure("usage: printer rename <id> <name>")
		}
		printerID := args[1]
		name := args[2]
		found, err := e.registry.SetPrinterName(printerID, name)
		if !found {
			return failure("printer not found: %s", printerID)
		}
		if err != nil {
			return failure("rename failed: %v", err)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Renamed printer %s to %s", printerID, name),
		}

	case "remove":
		if len(args) < 2 {
			return failure("usage: printer remove <id>")
		}
		found, err := e.registry.RemovePrinter(args[1])
		if !found {
			return failure("printer not found: %s", args[1])
		}
		if err != nil {
			return failure("remove failed: %v", err)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Removed printer %s", args[1]),
		}

	default:
		return failure("unknown printer subcommand: %s. Use: list, add, rename, remove", subcommand)
	}
}

func printerData(p *registry.PrinterEntry) map[string]interface{} {
	data := map[string]interface{}{
		"id":           p.ID,
		"host":         p.Host,
		"port":         p.Port,
		"description":  p.Description,
		"display_name": p.DisplayName(),
		"source":       p.Source,
		"last_seen":    p.LastSeen,
	}
	if p.Name != "" {
		data["name"] = p.Name
	}
	return data
}

// handleJob handles job commands
// Usage: job list | status <id> | clear
func (e *Executor) handleJob(args []string) *Result {
	if len(args) == 0 {
		return failure("usage: job <list|status|clear>")
	}

	switch subcommand := args[0]; subcommand {
	case "list":
		all := e.queue.GetAllJobs()
		jobList := make([]map[string]interface{}, len(all))
		for i, job := range all {
			jobList[i] = jobData(job)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Found %d job(s)", len(all)),
			Data: map[string]interface{}{
				"jobs": jobList,
			},
		}

	case "status":
		if len(args) < 2 {
			return failure("usage: job status <id>")
		}
		job := e.queue.GetJob(args[1])
		if job == nil {
			return failure("job not found: %s", args[1])
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Job %s is %s", job.ID, job.Status),
			Data:    jobData(job),
		}

	case "clear":
		removed := e.queue.ClearCompleted()
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Cleared %d completed job(s)", removed),
			Data: map[string]interface{}{
				"removed": removed,
			},
		}

	default:
		return failure("unknown job subcommand: %s. Use: list, status, clear", subcommand)
	}
}

func jobData(job *jobs.Job) map[string]interface{} {
	data := map[string]interface{}{
		"id":         job.ID,
		"printer":    job.Address,
		"status":     job.Status,
		"retries":    job.Retries,
		"created_at": job.CreatedAt,
	}
	if job.Result.Message != "" {
		data["message"] = job.Result.Message
	}
	if job.Result.Reason != "" {
		data["reason"] = job.Result.Reason
	}
	return data
}

// handleHelp handles help command
func (e *Executor) handleHelp(args []string) *Result {
	helpText := `Available Commands:

  print <printer> <text...>
    Print text and wait for the result. <printer> is an IP address,
    host:port, a printer ID or a custom name. Use \n for line breaks.

  submit <printer> <text...>
    Queue text for printing in the background and return the job ID

  discover [timeout]
    Search the network for printers (timeout as 5s or milliseconds)

  printer list
    List known printers

  printer add <host> [port]
    Add a network printer (default port: 9100)

  printer rename <id> <name>
    Set a custom name for a printer

  printer remove <id>
    Forget a printer

  job list
    List all print jobs

  job status <id>
    Get status of a specific job

  job clear
    Clear completed jobs from the queue

  help
    Show this help message

Examples:
  print 192.168.1.50 "Table 4\nTotal: 12.50"
  submit "Kitchen Printer" "2x Soup"
  discover 5s
  printer add 192.168.1.100 9100
  printer rename 1b4e28ba-2fa1-11d2-883f-0016d3cca427 "Kitchen Printer"
`

	return &Result{
		Success: true,
		Message: helpText,
	}
}
