// Package jobs runs print jobs in the background and tracks their status
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thereceipt/netprint/internal/dispatcher"
	"github.com/thereceipt/netprint/internal/printer"
)

// Status of a queued job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusPrinting  Status = "printing"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// Printer runs a single print job
type Printer interface {
	PrintJob(ctx context.Context, address, text string) dispatcher.Result
}

// Job represents a print job
type Job struct {
	ID        string            `json:"id"`
	Address   string            `json:"printer_ip"`
	Text      string            `json:"-"`
	Status    Status            `json:"status"`
	Retries   int               `json:"retries"`
	Result    dispatcher.Result `json:"result"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`

	notBefore time.Time
}

// Queue manages print jobs with retry logic. Jobs are kept in memory only.
type Queue struct {
	jobs       []*Job
	mu         sync.Mutex
	printer    Printer
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger
	onUpdate   func(Job)

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a queue and starts its worker. A job whose printer could
// not be reached is retried up to maxRetries times, retryDelay apart.
func NewQueue(p Printer, maxRetries int, retryDelay time.Duration, log zerolog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		jobs:       make([]*Job, 0),
		printer:    p,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        log.With().Str("component", "jobs").Logger(),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	q.wg.Add(1)
	go q.worker()

	return q
}

// OnUpdate sets a callback for every job status change
func (q *Queue) OnUpdate(callback func(Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onUpdate = callback
}

// SetRetryPolicy changes the retry limits for jobs that fail from now on
func (q *Queue) SetRetryPolicy(maxRetries int, retryDelay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxRetries = maxRetries
	q.retryDelay = retryDelay
}

// Enqueue adds a print job to the queue and returns its ID
func (q *Queue) Enqueue(address, text string) string {
	now := time.Now()
	job := &Job{
		ID:        uuid.New().String(),
		Address:   address,
		Text:      text,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	q.notify(*job)
	q.signal()

	return job.ID
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
			for q.ctx.Err() == nil && q.processNextJob() {
			}
		}
	}
}

// processNextJob runs the oldest runnable job and reports whether it found one
func (q *Queue) processNextJob() bool {
	q.mu.Lock()

	var job *Job
	now := time.Now()
	for _, j := range q.jobs {
		if j.Status == StatusQueued && !now.Before(j.notBefore) {
			job = j
			job.Status = StatusPrinting
			job.UpdatedAt = now
			break
		}
	}

	if job == nil {
		q.mu.Unlock()
		return false
	}

	address, text := job.Address, job.Text
	snapshot := *job
	q.mu.Unlock()

	q.notify(snapshot)

	result := q.printer.PrintJob(q.ctx, address, text)

	q.mu.Lock()
	job.Result = result
	job.UpdatedAt = time.Now()

	retry := false
	switch {
	case result.OK:
		job.Status = StatusCompleted
		q.log.Info().Str("job", job.ID).Str("printer", address).Msg("print job completed")
	case result.Reason == printer.PortOpenFailed.String() && job.Retries < q.maxRetries:
		// Nothing reached the printer, so another attempt cannot double-print
		job.Retries++
		job.Status = StatusQueued
		job.notBefore = job.UpdatedAt.Add(q.retryDelay)
		retry = true
		q.log.Warn().Str("job", job.ID).Int("retry", job.Retries).Int("max", q.maxRetries).
			Msg(result.Message)
	default:
		job.Status = StatusFailed
		q.log.Error().Str("job", job.ID).Int("retries", job.Retries).Msg(result.Message)
	}
	delay := q.retryDelay
	snapshot = *job
	q.mu.Unlock()

	q.notify(snapshot)

	if retry {
		time.AfterFunc(delay, q.signal)
	}

	return true
}

func (q *Queue) notify(job Job) {
	q.mu.Lock()
	callback := q.onUpdate
	q.mu.Unlock()

	if callback != nil {
		callback(job)
	}
}

// GetJob returns a copy of a job by ID
func (q *Queue) GetJob(jobID string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.ID == jobID {
			jobCopy := *job
			return &jobCopy
		}
	}

	return nil
}

// GetAllJobs returns copies of all jobs in submission order
func (q *Queue) GetAllJobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*Job, len(q.jobs))
	for i, job := range q.jobs {
		jobCopy := *job
		jobs[i] = &jobCopy
	}

	return jobs
}

// ClearCompleted removes completed jobs and returns how many were removed
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	filtered := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if job.Status != StatusCompleted {
			filtered = append(filtered, job)
		}
	}

	removed := len(q.jobs) - len(filtered)
	q.jobs = filtered
	return removed
}

// Stop stops the worker. A job in flight is cancelled through its context.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
}
