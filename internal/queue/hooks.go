package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Outcome is the result of one attempt as reported to hooks.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetrying  Outcome = "retrying"
	// OutcomeFailed is terminal; the event's Err wraps ErrJobExhausted or ErrSkipRetry.
	OutcomeFailed Outcome = "failed"
)

// Event describes a finished attempt.
type Event struct {
	Queue       string        `json:"queue"`
	JobID       string        `json:"job_id"`
	JobName     string        `json:"job_name"`
	Outcome     Outcome       `json:"outcome"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	Duration    time.Duration `json:"duration"`
	RetryIn     time.Duration `json:"retry_in,omitempty"`
	Error       string        `json:"error,omitempty"`
	Err         error         `json:"-"`
}

// EventSink receives job events. A failing sink never affects the job.
type EventSink func(ctx context.Context, ev Event) error

// Hooks fans job events out to registered sinks.
type Hooks struct {
	mu    sync.RWMutex
	sinks []EventSink
	log   *zap.Logger
}

func NewHooks(log *zap.Logger) *Hooks {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hooks{log: log.Named("hooks")}
}

// Register adds a sink.
func (h *Hooks) Register(sink EventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, sink)
}

// Emit calls every sink in registration order. Sink errors are logged and
// do not stop later sinks.
func (h *Hooks) Emit(ctx context.Context, ev Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	sinks := make([]EventSink, len(h.sinks))
	copy(sinks, h.sinks)
	h.mu.RUnlock()

	if ev.Err != nil && ev.Error == "" {
		ev.Error = ev.Err.Error()
	}
	ctx = context.WithoutCancel(ctx)
	for i, sink := range sinks {
		if err := sink(ctx, ev); err != nil {
			h.log.Warn("event sink failed",
				zap.Int("sink", i),
				zap.String("job_id", ev.JobID),
				zap.String("job", ev.JobName),
				zap.Error(err))
		}
	}
}

// Len returns the number of registered sinks.
func (h *Hooks) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}
