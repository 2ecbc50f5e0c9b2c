package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"job", "list"}, "job list"},
		{[]string{"print", "10.0.0.5", "Table 4"}, `print 10.0.0.5 "Table 4"`},
		{[]string{"printer", "rename", "abc", `Bar "Main"`}, `printer rename abc 'Bar "Main"'`},
		{[]string{"print", "10.0.0.5", ""}, `print 10.0.0.5 ""`},
		{[]string{"print", "10.0.0.5", "it's"}, `print 10.0.0.5 "it's"`},
		{[]string{"print", "10.0.0.5", `Joe's "Diner"`}, `print 10.0.0.5 'Joe'"'"'s "Diner"'`},
	}

	for _, tt := range tests {
		if got := buildCommand(tt.args); got != tt.want {
			t.Errorf("buildCommand(%q) = %s, want %s", tt.args, got, tt.want)
		}
	}
}

func TestExecuteCommand(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/command" {
			http.NotFound(w, r)
			return
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		received = req["command"]

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"Print job queued: j1","job_id":"j1"}`))
	}))
	defer srv.Close()

	result := executeCommand(srv.Client(), srv.URL+"/", `submit 10.0.0.5 "hi there"`)
	if !result.Success {
		t.Fatalf("Expected success, got %+v", result)
	}
	if received != `submit 10.0.0.5 "hi there"` {
		t.Errorf("Unexpected command sent: %q", received)
	}

	var out bytes.Buffer
	printSuccess(&out, result)
	if !strings.Contains(out.String(), "Job ID: j1") {
		t.Errorf("Expected job ID in output, got %q", out.String())
	}
	if _, ok := result.Data["success"]; ok {
		t.Error("Status fields should not be left in Data")
	}
}

func TestExecuteCommand_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"error":"printer not found: x"}`))
	}))
	defer srv.Close()

	result := executeCommand(srv.Client(), srv.URL, "printer remove x")
	if result.Success {
		t.Fatal("Expected failure")
	}

	var out bytes.Buffer
	printError(&out, result)
	if out.String() != "Error: printer not found: x\n" {
		t.Errorf("Unexpected error output %q", out.String())
	}
}

func TestExecuteCommand_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	result := executeCommand(http.DefaultClient, url, "help")
	if result.Success || !strings.Contains(result.Error, "failed to connect") {
		t.Errorf("Expected connection error, got %+v", result)
	}
}

func TestPrintSuccess_Printers(t *testing.T) {
	result := &CommandResult{
		Success: true,
		Message: "Found 1 printer(s)",
		Data: map[string]interface{}{
			"printers": []interface{}{
				map[string]interface{}{"id": "p1", "display_name": "Bar", "host": "10.0.0.5", "port": 9100.0, "source": "manual"},
			},
		},
	}

	var out bytes.Buffer
	printSuccess(&out, result)
	if !strings.Contains(out.String(), "p1: Bar (10.0.0.5:9100, manual)") {
		t.Errorf("Unexpected output %q", out.String())
	}
}
