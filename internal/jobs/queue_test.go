package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/thereceipt/netprint/internal/dispatcher"
)

// scriptedPrinter returns results in order, repeating the last one
type scriptedPrinter struct {
	mu      sync.Mutex
	results []dispatcher.Result
	calls   []string
}

func (p *scriptedPrinter) PrintJob(ctx context.Context, address, text string) dispatcher.Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, address)
	r := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return r
}

func (p *scriptedPrinter) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

var (
	ok          = dispatcher.Result{OK: true, Message: "Print successful to 10.0.0.5"}
	unreachable = dispatcher.Result{Message: "Printer 10.0.0.5 is unreachable", Reason: "port_open_failed"}
	sendFailed  = dispatcher.Result{Message: "Reached printer 10.0.0.5 but failed", Reason: "print_data_failed"}
)

func waitForStatus(t *testing.T, q *Queue, id string, want Status) *Job {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job := q.GetJob(id); job != nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Job %s never reached status %s (now %+v)", id, want, q.GetJob(id))
	return nil
}

func TestQueue_CompletesJob(t *testing.T) {
	p := &scriptedPrinter{results: []dispatcher.Result{ok}}
	q := NewQueue(p, 3, 10*time.Millisecond, zerolog.Nop())
	defer q.Stop()

	id := q.Enqueue("10.0.0.5", "Hello")
	if id == "" {
		t.Fatal("Expected job ID")
	}

	job := waitForStatus(t, q, id, StatusCompleted)
	if !job.Result.OK {
		t.Errorf("Expected OK result, got %+v", job.Result)
	}
	if job.Retries != 0 {
		t.Errorf("Expected no retries, got %d", job.Retries)
	}
}

func TestQueue_RetriesUnreachablePrinter(t *testing.T) {
	p := &scriptedPrinter{results: []dispatcher.Result{unreachable, unreachable, ok}}
	q := NewQueue(p, 3, 10*time.Millisecond, zerolog.Nop())
	defer q.Stop()

	id := q.Enqueue("10.0.0.5", "Hello")

	job := waitForStatus(t, q, id, StatusCompleted)
	if job.Retries != 2 {
		t.Errorf("Expected 2 retries, got %d", job.Retries)
	}
	if p.callCount() != 3 {
		t.Errorf("Expected 3 attempts, got %d", p.callCount())
	}
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	p := &scriptedPrinter{results: []dispatcher.Result{unreachable}}
	q := NewQueue(p, 2, 5*time.Millisecond, zerolog.Nop())
	defer q.Stop()

	id := q.Enqueue("10.0.0.5", "Hello")

	job := waitForStatus(t, q, id, StatusFailed)
	if job.Retries != 2 {
		t.Errorf("Expected 2 retries, got %d", job.Retries)
	}
	if p.callCount() != 3 {
		t.Errorf("Expected 3 attempts, got %d", p.callCount())
	}
	if job.Result.Reason != "port_open_failed" {
		t.Errorf("Expected last result kept, got %+v", job.Result)
	}
}

func TestQueue_DoesNotRetrySendFailure(t *testing.T) {
	p := &scriptedPrinter{results: []dispatcher.Result{sendFailed, ok}}
	q := NewQueue(p, 3, 5*time.Millisecond, zerolog.Nop())
	defer q.Stop()

	id := q.Enqueue("10.0.0.5", "Hello")

	waitForStatus(t, q, id, StatusFailed)
	time.Sleep(30 * time.Millisecond)
	if p.callCount() != 1 {
		t.Errorf("Expected a single attempt, got %d", p.callCount())
	}
}

func TestQueue_OnUpdate(t *testing.T) {
	p := &scriptedPrinter{results: []dispatcher.Result{ok}}
	q := NewQueue(p, 0, 0, zerolog.Nop())
	defer q.Stop()

	var mu sync.Mutex
	var statuses []Status
	done := make(chan struct{})
	q.OnUpdate(func(job Job) {
		mu.Lock()
		statuses = append(statuses, job.Status)
		mu.Unlock()
		if job.Status == StatusCompleted {
			close(done)
		}
	})

	q.Enqueue("10.0.0.5", "Hello")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for completion")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusQueued, StatusPrinting, StatusCompleted}
	if len(statuses) != len(want) {
		t.Fatalf("Expected %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, statuses)
			break
		}
	}
}

func TestQueue_ClearCompleted(t *testing.T) {
	p := &scriptedPrinter{results: []dispatcher.Result{ok, sendFailed}}
	q := NewQueue(p, 0, 0, zerolog.Nop())
	defer q.Stop()

	first := q.Enqueue("10.0.0.5", "one")
	waitForStatus(t, q, first, StatusCompleted)
	second := q.Enqueue("10.0.0.6", "two")
	waitForStatus(t, q, second, StatusFailed)

	if removed := q.ClearCompleted(); removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}

	all := q.GetAllJobs()
	if len(all) != 1 || all[0].ID != second {
		t.Errorf("Expected only the failed job to remain, got %d jobs", len(all))
	}
	if q.GetJob(first) != nil {
		t.Error("Expected completed job to be gone")
	}
}

func TestQueue_GetJobReturnsCopy(t *testing.T) {
	p := &scriptedPrinter{results: []dispatcher.Result{ok}}
	q := NewQueue(p, 0, 0, zerolog.Nop())
	defer q.Stop()

	id := q.Enqueue("10.0.0.5", "Hello")
	waitForStatus(t, q, id, StatusCompleted)

	job := q.GetJob(id)
	job.Status = StatusFailed

	if q.GetJob(id).Status != StatusCompleted {
		t.Error("Mutating a returned job changed the queue")
	}
}
