package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrClosed is returned by a backend after Close.
var ErrClosed = errors.New("queue backend closed")

// JobInfo is a point-in-time view of a job held by the MemoryBroker.
type JobInfo struct {
	ID         string
	Descriptor JobDescriptor
	State      JobState
	Attempts   int
	NextRunAt  time.Time
	Executions []JobExecution
}

type memJob struct {
	id         string
	desc       JobDescriptor
	state      JobState
	attempts   int
	runAt      time.Time
	seq        uint64
	executions []JobExecution
}

type memRepeat struct {
	desc  JobDescriptor
	sched cron.Schedule
	next  time.Time
}

// MemoryBroker is an in-process Backend with the same delivery semantics as
// the asynq backend. Jobs are lost when the process exits.
type MemoryBroker struct {
	mu       sync.Mutex
	jobs     map[string]*memJob
	active   map[string]string // idempotency key -> job id, while not finished
	finished map[string]map[JobState][]string
	repeats  map[string]*memRepeat
	seq      uint64
	wake     chan struct{}
	closed   bool
	done     chan struct{}

	hooks *Hooks
	now   func() time.Time
	poll  time.Duration
	log   *zap.Logger
}

var _ Backend = (*MemoryBroker)(nil)

// MemoryOption customizes a MemoryBroker.
type MemoryOption func(*MemoryBroker)

// WithClock replaces the broker's clock.
func WithClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBroker) { b.now = now }
}

// WithPollInterval sets how often idle workers and the scheduler re-check for due work.
func WithPollInterval(d time.Duration) MemoryOption {
	return func(b *MemoryBroker) { b.poll = d }
}

func NewMemoryBroker(hooks *Hooks, log *zap.Logger, opts ...MemoryOption) *MemoryBroker {
	if log == nil {
		log = zap.NewNop()
	}
	b := &MemoryBroker{
		jobs:     make(map[string]*memJob),
		active:   make(map[string]string),
		finished: make(map[string]map[JobState][]string),
		repeats:  make(map[string]*memRepeat),
		wake:     make(chan struct{}),
		done:     make(chan struct{}),
		hooks:    hooks,
		now:      time.Now,
		poll:     250 * time.Millisecond,
		log:      log.Named("queue.memory"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBroker) Enqueue(_ context.Context, d JobDescriptor) (string, error) {
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}

	if d.Repeatable() {
		sched, _ := d.Options.Repeat.Schedule()
		key := d.Key()
		b.repeats[key] = &memRepeat{desc: d, sched: sched, next: sched.Next(b.now())}
		b.log.Debug("repeatable registered", zap.String("key", key), zap.String("spec", d.Options.Repeat.Spec()))
		return key, nil
	}

	if key := d.Options.IdempotencyKey; key != "" {
		if id, ok := b.active[key]; ok {
			return id, fmt.Errorf("%w: %s", ErrDuplicateJob, key)
		}
	}
	return b.insertLocked(d), nil
}

func (b *MemoryBroker) insertLocked(d JobDescriptor) string {
	b.seq++
	job := &memJob{
		id:    uuid.NewString(),
		desc:  d,
		state: StatePending,
		runAt: b.now(),
		seq:   b.seq,
	}
	b.jobs[job.id] = job
	if key := d.Options.IdempotencyKey; key != "" {
		b.active[key] = job.id
	}
	b.notifyLocked()
	return job.id
}

func (b *MemoryBroker) notifyLocked() {
	close(b.wake)
	b.wake = make(chan struct{})
}

func (b *MemoryBroker) ListRepeatable(_ context.Context, queue string) ([]JobDescriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]JobDescriptor, 0, len(b.repeats))
	for _, r := range b.repeats {
		if r.desc.Queue == queue {
			out = append(out, r.desc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// RemoveRepeatable deletes a repeatable; removing an unknown key is a no-op.
func (b *MemoryBroker) RemoveRepeatable(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.repeats, key)
	return nil
}

// NextRun returns when a repeatable fires next.
func (b *MemoryBroker) NextRun(key string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.repeats[key]
	if !ok {
		return time.Time{}, false
	}
	return r.next, true
}

// MaterializeDue enqueues one occurrence of every repeatable whose next run
// has passed and returns how many were enqueued. Missed runs are not replayed.
func (b *MemoryBroker) MaterializeDue() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	now := b.now()
	keys := make([]string, 0, len(b.repeats))
	for key := range b.repeats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	n := 0
	for _, key := range keys {
		r := b.repeats[key]
		if r.next.After(now) {
			continue
		}
		b.insertLocked(r.desc.occurrence())
		r.next = r.sched.Next(now)
		n++
	}
	return n
}

func (b *MemoryBroker) StartScheduler(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	go func() {
		ticker := time.NewTicker(b.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case <-ticker.C:
				if n := b.MaterializeDue(); n > 0 {
					b.log.Debug("repeatables materialized", zap.Int("count", n))
				}
			}
		}
	}()
	return nil
}

// Job returns a snapshot of a job, if it is still retained.
func (b *MemoryBroker) Job(id string) (JobInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return JobInfo{
		ID:         job.id,
		Descriptor: job.desc,
		State:      job.state,
		Attempts:   job.attempts,
		NextRunAt:  job.runAt,
		Executions: append([]JobExecution(nil), job.executions...),
	}, true
}

// Jobs returns the ids of retained jobs in a queue and state, oldest first.
func (b *MemoryBroker) Jobs(queue string, state JobState) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state == StateCompleted || state == StateFailed {
		return append([]string(nil), b.finished[queue][state]...)
	}
	var jobs []*memJob
	for _, job := range b.jobs {
		if job.desc.Queue == queue && job.state == state {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].seq < jobs[j].seq })
	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.id
	}
	return ids
}

func (b *MemoryBroker) claimLocked(queue string) *memJob {
	now := b.now()
	var next *memJob
	for _, job := range b.jobs {
		if job.desc.Queue != queue || (job.state != StatePending && job.state != StateRetrying) {
			continue
		}
		if job.runAt.After(now) {
			continue
		}
		if next == nil || job.runAt.Before(next.runAt) || (job.runAt.Equal(next.runAt) && job.seq < next.seq) {
			next = job
		}
	}
	return next
}

func (b *MemoryBroker) hasDue(queue string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.claimLocked(queue) != nil
}

// ProcessNext runs the next due job in queue through mux and reports whether
// one ran. Workers call it in a loop; tests call it directly.
func (b *MemoryBroker) ProcessNext(ctx context.Context, queue string, mux *Mux) bool {
	b.mu.Lock()
	job := b.claimLocked(queue)
	if job == nil {
		b.mu.Unlock()
		return false
	}
	job.state = StateActive
	job.attempts++
	j := &Job{
		ID:          job.id,
		Queue:       job.desc.Queue,
		Name:        job.desc.Name,
		Payload:     job.desc.Payload,
		Attempt:     job.attempts,
		MaxAttempts: job.desc.Options.Attempts,
	}
	timeout := job.desc.Options.Timeout
	b.mu.Unlock()

	started := b.now()
	err := runHandler(ctx, mux, j, timeout)
	finished := b.now()

	outcome, err := outcomeOf(err, j.Attempt, j.MaxAttempts)
	ev := Event{
		Queue:       j.Queue,
		JobID:       j.ID,
		JobName:     j.Name,
		Outcome:     outcome,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		Duration:    finished.Sub(started),
		Err:         err,
	}
	if outcome == OutcomeRetrying {
		ev.RetryIn = job.desc.Options.Backoff.Delay(j.Attempt)
	}

	b.mu.Lock()
	exec := JobExecution{
		JobID:      j.ID,
		Queue:      j.Queue,
		Name:       j.Name,
		Attempt:    j.Attempt,
		StartedAt:  started,
		FinishedAt: finished,
		RetryIn:    ev.RetryIn,
	}
	if err != nil {
		exec.Error = err.Error()
	}
	switch outcome {
	case OutcomeSucceeded:
		exec.State = StateCompleted
		b.finishLocked(job, StateCompleted)
	case OutcomeRetrying:
		exec.State = StateRetrying
		job.state = StateRetrying
		job.runAt = finished.Add(ev.RetryIn)
	default:
		exec.State = StateFailed
		b.finishLocked(job, StateFailed)
	}
	job.executions = append(job.executions, exec)
	b.mu.Unlock()

	logEvent(b.log, ev)
	b.hooks.Emit(ctx, ev)
	return true
}

func runHandler(ctx context.Context, mux *Mux, job *Job, timeout time.Duration) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", job.Name, r)
		}
	}()
	return mux.Process(ctx, job)
}

// finishLocked moves job to a terminal state and trims the queue's history
// to the descriptor's retention.
func (b *MemoryBroker) finishLocked(job *memJob, state JobState) {
	job.state = state
	if key := job.desc.Options.IdempotencyKey; key != "" && b.active[key] == job.id {
		delete(b.active, key)
	}

	keep := job.desc.Options.Retention.KeepCompleted
	if state == StateFailed {
		keep = job.desc.Options.Retention.KeepFailed
	}
	byState, ok := b.finished[job.desc.Queue]
	if !ok {
		byState = make(map[JobState][]string)
		b.finished[job.desc.Queue] = byState
	}
	ids := append(byState[state], job.id)
	if excess := len(ids) - keep; excess > 0 {
		for _, id := range ids[:excess] {
			delete(b.jobs, id)
		}
		ids = append([]string(nil), ids[excess:]...)
	}
	byState[state] = ids
}

func (b *MemoryBroker) waitCh() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wake
}

func (b *MemoryBroker) NewWorker(cfg WorkerConfig, mux *Mux) (Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if mux == nil {
		return nil, errors.New("worker mux is required")
	}
	return &memoryWorker{broker: b, cfg: cfg, mux: mux}, nil
}

func (b *MemoryBroker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	return nil
}

type memoryWorker struct {
	broker *MemoryBroker
	cfg    WorkerConfig
	mux    *Mux

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (w *memoryWorker) Start() error {
	if w.cancel != nil {
		return errors.New("worker already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	limiter := w.cfg.RateLimit.limiter()
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx, limiter)
		}()
	}
	w.broker.log.Info("worker started",
		zap.String("queue", w.cfg.Queue),
		zap.Int("concurrency", w.cfg.Concurrency))
	return nil
}

func (w *memoryWorker) loop(ctx context.Context, limiter *rate.Limiter) {
	b := w.broker
	for ctx.Err() == nil {
		if !b.hasDue(w.cfg.Queue) {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case <-b.waitCh():
			case <-time.After(b.poll):
			}
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		b.ProcessNext(context.WithoutCancel(ctx), w.cfg.Queue, w.mux)
	}
}

func (w *memoryWorker) Shutdown() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
	w.broker.log.Info("worker stopped", zap.String("queue", w.cfg.Queue))
}
