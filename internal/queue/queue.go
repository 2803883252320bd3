// Package queue runs named background jobs with bounded retries, exponential
// backoff, cron-style repeatables and per-queue rate limits.
//
// Two backends share these semantics: an asynq backend over Redis for
// multi-process deployments and an in-process MemoryBroker for tests and
// single-binary runs.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Queue is the producer side.
type Queue interface {
	// Enqueue submits a descriptor. One-shot descriptors return the job id.
	// Repeatable descriptors are registered (replacing any with the same key)
	// and the key is returned.
	Enqueue(ctx context.Context, d JobDescriptor) (string, error)
	ListRepeatable(ctx context.Context, queue string) ([]JobDescriptor, error)
	RemoveRepeatable(ctx context.Context, key string) error
}

// Worker consumes one queue.
type Worker interface {
	Start() error
	// Shutdown stops taking new jobs and waits for running ones.
	Shutdown()
}

// Backend is a complete queue implementation.
type Backend interface {
	Queue
	NewWorker(cfg WorkerConfig, mux *Mux) (Worker, error)
	// StartScheduler begins materializing repeatables. It returns immediately
	// and stops when ctx is cancelled or the backend is closed.
	StartScheduler(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// RateLimit allows at most Max job starts per Window. Zero values disable it.
type RateLimit struct {
	Max    int
	Window time.Duration
}

func (r RateLimit) limiter() *rate.Limiter {
	if r.Max <= 0 || r.Window <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(r.Window/time.Duration(r.Max)), r.Max)
}

// RateLimitError defers a job without consuming an attempt.
type RateLimitError struct {
	RetryIn time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryIn)
}

func isRateLimited(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	ok := errors.As(err, &rl)
	return rl, ok
}

// WorkerConfig configures a worker for one queue.
type WorkerConfig struct {
	Queue       string
	Concurrency int
	RateLimit   RateLimit
	// Retention bounds how many finished jobs the queue keeps.
	Retention RetentionPolicy
}

func (c WorkerConfig) validate() error {
	if c.Queue == "" {
		return errors.New("worker queue is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("worker %s: concurrency must be at least 1", c.Queue)
	}
	return nil
}

// outcomeOf classifies a handler result after attempt of maxAttempts.
func outcomeOf(err error, attempt, maxAttempts int) (Outcome, error) {
	switch {
	case err == nil:
		return OutcomeSucceeded, nil
	case errors.Is(err, ErrSkipRetry):
		return OutcomeFailed, err
	case attempt >= maxAttempts:
		return OutcomeFailed, fmt.Errorf("%w after %d attempts: %w", ErrJobExhausted, attempt, err)
	default:
		return OutcomeRetrying, err
	}
}

func logEvent(log *zap.Logger, ev Event) {
	fields := []zap.Field{
		zap.String("queue", ev.Queue),
		zap.String("job_id", ev.JobID),
		zap.String("job", ev.JobName),
		zap.Int("attempt", ev.Attempt),
		zap.Int("max_attempts", ev.MaxAttempts),
		zap.Duration("duration", ev.Duration),
	}
	switch ev.Outcome {
	case OutcomeSucceeded:
		log.Info("job completed", fields...)
	case OutcomeRetrying:
		log.Warn("job attempt failed, retrying", append(fields, zap.Duration("retry_in", ev.RetryIn), zap.Error(ev.Err))...)
	default:
		log.Error("job failed", append(fields, zap.Error(ev.Err))...)
	}
}
