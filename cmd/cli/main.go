package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultServerURL = "http://localhost:12212"
)

var exampleUsage = strings.TrimSpace(`
  netprint-cli print 192.168.1.50 "Table 4\nTotal: 12.50"
  netprint-cli submit "Kitchen Printer" "2x Soup"
  netprint-cli discover 5s
  netprint-cli printer add 192.168.1.100 9100
  netprint-cli printer rename <id> "Kitchen Printer"
  netprint-cli job status <job-id>
  netprint-cli -s http://10.0.0.2:12212 printer list
`)

func main() {
	var serverURL string
	var timeout time.Duration

	root := &cobra.Command{
		Use:     "netprint-cli [flags] <command>",
		Short:   "Send commands to a running netprint server",
		Long:    "Send commands to a running netprint server. Run 'netprint-cli help' for the command list.",
		Example: exampleUsage,
		Args:    cobra.MinimumNArgs(1),
		// Errors are printed by run
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: timeout}
			result := executeCommand(client, serverURL, buildCommand(args))

			if !result.Success {
				printError(os.Stderr, result)
				os.Exit(1)
			}
			printSuccess(os.Stdout, result)
			return nil
		},
	}

	// Everything after the first argument belongs to the remote command
	root.Flags().SetInterspersed(false)
	root.Flags().StringVarP(&serverURL, "server", "s", defaultServerURL, "server URL")
	root.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "HTTP request timeout")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildCommand joins args back into one command line, quoting arguments the
// server would otherwise split
func buildCommand(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = quoteArg(arg)
	}
	return strings.Join(quoted, " ")
}

// quoteArg quotes arg for the server's parser, which joins adjacent quoted
// segments. A single quote inside single quotes is written as '"'"'.
func quoteArg(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\"'") {
		return arg
	}
	if !strings.Contains(arg, `"`) {
		return `"` + arg + `"`
	}
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

// CommandResult is the /command reply. The server merges command data into
// the top level object, so it is kept in Data.
type CommandResult struct {
	Success bool
	Message string
	Error   string
	Data    map[string]interface{}
}

func executeCommand(client *http.Client, serverURL, command string) *CommandResult {
	url := strings.TrimSuffix(serverURL, "/") + "/command"

	jsonData, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return &CommandResult{Error: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return &CommandResult{Error: fmt.Sprintf("failed to connect to server: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &CommandResult{Error: fmt.Sprintf("failed to read response: %v", err)}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return &CommandResult{Error: fmt.Sprintf("failed to parse response (HTTP %d): %v", resp.StatusCode, err)}
	}

	result := &CommandResult{Data: raw}
	result.Success, _ = raw["success"].(bool)
	result.Message, _ = raw["message"].(string)
	result.Error, _ = raw["error"].(string)
	delete(raw, "success")
	delete(raw, "message")
	delete(raw, "error")

	return result
}

func printSuccess(w io.Writer, result *CommandResult) {
	if result.Message != "" {
		fmt.Fprintln(w, result.Message)
	}

	if printers, ok := result.Data["printers"].([]interface{}); ok && len(printers) > 0 {
		fmt.Fprintln(w, "\nPrinters:")
		for _, p := range printers {
			printer, ok := p.(map[string]interface{})
			if !ok {
				continue
			}
			if addr, ok := printer["address"]; ok {
				fmt.Fprintf(w, "  %s: %s\n", printer["id"], addr)
				continue
			}
			name, _ := printer["display_name"].(string)
			fmt.Fprintf(w, "  %s: %s (%v:%v, %v)\n", printer["id"], name, printer["host"], printer["port"], printer["source"])
		}
	}

	if jobs, ok := result.Data["jobs"].([]interface{}); ok && len(jobs) > 0 {
		fmt.Fprintln(w, "\nJobs:")
		for _, j := range jobs {
			if job, ok := j.(map[string]interface{}); ok {
				fmt.Fprintf(w, "  %s: %s (printer: %s)\n", job["id"], job["status"], job["printer"])
			}
		}
	}

	if jobID, ok := result.Data["job_id"].(string); ok {
		fmt.Fprintf(w, "Job ID: %s\n", jobID)
	}

	if printerID, ok := result.Data["printer_id"].(string); ok {
		fmt.Fprintf(w, "Printer ID: %s\n", printerID)
	}
}

func printError(w io.Writer, result *CommandResult) {
	switch {
	case result.Error != "":
		fmt.Fprintf(w, "Error: %s\n", result.Error)
	case result.Message != "":
		fmt.Fprintf(w, "%s\n", result.Message)
	default:
		fmt.Fprintln(w, "Error: command failed")
	}
}
