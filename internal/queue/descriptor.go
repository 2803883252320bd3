package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// RepeatSpec makes a descriptor recurring. Exactly one of Cron and Every is set.
type RepeatSpec struct {
	Cron  string        `json:"cron,omitempty"`
	Every time.Duration `json:"every,omitempty"`
}

// Spec renders the schedule in cron syntax, using @every for fixed intervals.
func (r RepeatSpec) Spec() string {
	if r.Cron != "" {
		return r.Cron
	}
	return "@every " + r.Every.String()
}

// Schedule parses the spec.
func (r RepeatSpec) Schedule() (cron.Schedule, error) {
	if (r.Cron == "") == (r.Every <= 0) {
		return nil, errors.New("repeat needs exactly one of cron or every")
	}
	sched, err := cron.ParseStandard(r.Spec())
	if err != nil {
		return nil, fmt.Errorf("parse repeat %q: %w", r.Spec(), err)
	}
	return sched, nil
}

// Period estimates the gap between consecutive runs after from.
func (r RepeatSpec) Period(from time.Time) (time.Duration, error) {
	if r.Every > 0 && r.Cron == "" {
		return r.Every, nil
	}
	sched, err := r.Schedule()
	if err != nil {
		return 0, err
	}
	first := sched.Next(from)
	return sched.Next(first).Sub(first), nil
}

// RetentionPolicy bounds how many finished executions are kept for inspection.
type RetentionPolicy struct {
	KeepCompleted int `json:"keep_completed"`
	KeepFailed    int `json:"keep_failed"`
	// MaxAge bounds how long a completed execution is kept, where the backend supports it.
	MaxAge time.Duration `json:"max_age,omitempty"`
}

// Options control delivery of a descriptor's executions.
type Options struct {
	// Attempts is the total number of executions, including the first.
	Attempts int           `json:"attempts"`
	Backoff  BackoffPolicy `json:"backoff"`
	Repeat   *RepeatSpec   `json:"repeat,omitempty"`
	// Retention applies to this descriptor's executions.
	Retention RetentionPolicy `json:"retention"`
	// IdempotencyKey overrides the derived Key.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	// Timeout bounds a single execution; zero uses the backend default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// JobDescriptor describes a unit of work and how it should be delivered.
type JobDescriptor struct {
	Queue   string          `json:"queue"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Options Options         `json:"options"`
}

// NewDescriptor marshals payload into a descriptor.
func NewDescriptor(queue, name string, payload any, opts Options) (JobDescriptor, error) {
	d := JobDescriptor{Queue: queue, Name: name, Options: opts}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return JobDescriptor{}, fmt.Errorf("marshal %s payload: %w", name, err)
		}
		d.Payload = data
	}
	return d, nil
}

// Key identifies the descriptor: the idempotency key if set, otherwise
// queue:name:hash(payload). Two descriptors with the same key are the same job.
func (d JobDescriptor) Key() string {
	if d.Options.IdempotencyKey != "" {
		return d.Options.IdempotencyKey
	}
	return fmt.Sprintf("%s:%s:%s", d.Queue, d.Name, shortHash(d.Payload))
}

// Fingerprint changes whenever anything that affects delivery changes, so a
// stored repeatable with the same Key but a new cadence can be told apart.
func (d JobDescriptor) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", d.Queue, d.Name, d.Payload)
	fmt.Fprintf(h, "%d\x00%s\x00%d\x00%d\x00", d.Options.Attempts, d.Options.Backoff.Kind,
		d.Options.Backoff.Base, d.Options.Backoff.Max)
	if r := d.Options.Repeat; r != nil {
		fmt.Fprintf(h, "%s\x00", r.Spec())
	}
	fmt.Fprintf(h, "%d\x00%d\x00%d\x00%d", d.Options.Timeout, d.Options.Retention.KeepCompleted,
		d.Options.Retention.KeepFailed, d.Options.Retention.MaxAge)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Repeatable reports whether the descriptor recurs.
func (d JobDescriptor) Repeatable() bool { return d.Options.Repeat != nil }

// Validate checks the descriptor is deliverable.
func (d JobDescriptor) Validate() error {
	if d.Queue == "" {
		return errors.New("descriptor queue is required")
	}
	if d.Name == "" {
		return errors.New("descriptor name is required")
	}
	if d.Options.Attempts < 1 {
		return fmt.Errorf("%s: attempts must be at least 1", d.Name)
	}
	if d.Options.Backoff.Base < 0 || d.Options.Backoff.Max < 0 {
		return fmt.Errorf("%s: negative backoff", d.Name)
	}
	if d.Options.Repeat != nil {
		if _, err := d.Options.Repeat.Schedule(); err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
	}
	return nil
}

// WithDefaults fills zero options: one attempt, exponential backoff from one second.
func (d JobDescriptor) WithDefaults() JobDescriptor {
	if d.Options.Attempts <= 0 {
		d.Options.Attempts = 1
	}
	if d.Options.Backoff.Kind == "" {
		d.Options.Backoff.Kind = BackoffExponential
	}
	if d.Options.Backoff.Base <= 0 {
		d.Options.Backoff.Base = time.Second
	}
	return d
}

// occurrence strips the repeat spec so the copy can be enqueued as one run.
func (d JobDescriptor) occurrence() JobDescriptor {
	d.Options.Repeat = nil
	d.Options.IdempotencyKey = ""
	return d
}

func shortHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
