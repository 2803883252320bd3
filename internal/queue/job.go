package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrJobExhausted marks the terminal failure of a job that used all its attempts.
	ErrJobExhausted = errors.New("job attempts exhausted")
	// ErrSkipRetry marks a failure that must not be retried.
	ErrSkipRetry = errors.New("skip retry")
	// ErrNoHandler is returned for a job name the worker has no handler for.
	ErrNoHandler = errors.New("no handler registered")
	// ErrDuplicateJob is returned when a job with the same idempotency key is already queued.
	ErrDuplicateJob = errors.New("duplicate job")
)

// SkipRetry wraps err so the job fails immediately without further attempts.
func SkipRetry(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSkipRetry, err)
}

// Job is one execution of a descriptor as seen by a handler.
type Job struct {
	ID      string
	Queue   string
	Name    string
	Payload json.RawMessage
	// Attempt is 1 for the first execution.
	Attempt     int
	MaxAttempts int
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return SkipRetry(fmt.Errorf("%s: empty payload", j.Name))
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return SkipRetry(fmt.Errorf("%s: decode payload: %w", j.Name, err))
	}
	return nil
}

// Handler processes a job. A returned error fails the attempt.
type Handler func(ctx context.Context, job *Job) error

// Mux routes jobs to handlers by name.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Handle registers h for name, replacing any previous handler.
func (m *Mux) Handle(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = h
}

// Handler returns the handler registered for name.
func (m *Mux) Handler(name string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[name]
	return h, ok
}

// Names returns the registered job names in sorted order.
func (m *Mux) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Process dispatches job to its handler.
func (m *Mux) Process(ctx context.Context, job *Job) error {
	h, ok := m.Handler(job.Name)
	if !ok {
		return SkipRetry(fmt.Errorf("%w for %q", ErrNoHandler, job.Name))
	}
	return h(ctx, job)
}

// JobState is the lifecycle state of a job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateActive    JobState = "active"
	StateRetrying  JobState = "retrying"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// JobExecution records one attempt.
type JobExecution struct {
	JobID      string        `json:"job_id"`
	Queue      string        `json:"queue"`
	Name       string        `json:"name"`
	Attempt    int           `json:"attempt"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	State      JobState      `json:"state"`
	Error      string        `json:"error,omitempty"`
	RetryIn    time.Duration `json:"retry_in,omitempty"`
}
