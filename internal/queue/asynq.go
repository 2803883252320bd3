package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultCompletedMaxAge = 24 * time.Hour

// AsynqOptions configures the Redis-backed backend.
type AsynqOptions struct {
	RedisURL string
	// Prefix namespaces the repeatable registry keys.
	Prefix string
	// SyncInterval is how often schedulers reload repeatables from Redis.
	SyncInterval time.Duration
	// PruneInterval is how often workers trim finished tasks to their retention.
	PruneInterval   time.Duration
	ShutdownTimeout time.Duration
}

// AsynqBackend runs jobs on asynq. Any number of processes can share one Redis.
type AsynqBackend struct {
	opts      AsynqOptions
	redisOpt  asynq.RedisClientOpt
	client    *asynq.Client
	inspector *asynq.Inspector
	rdb       redis.UniversalClient
	registry  *repeatRegistry
	hooks     *Hooks
	log       *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

var _ Backend = (*AsynqBackend)(nil)

// envelope is the task payload: the job payload plus what the retry delay
// function needs to know.
type envelope struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Backoff BackoffPolicy   `json:"backoff"`
}

func NewAsynqBackend(opts AsynqOptions, hooks *Hooks, log *zap.Logger) (*AsynqBackend, error) {
	redisOpt, err := ParseRedisURL(opts.RedisURL)
	if err != nil {
		return nil, err
	}
	if opts.Prefix == "" {
		opts.Prefix = "trendvault:queue"
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}

	rdb := NewRedisClient(redisOpt)

	return &AsynqBackend{
		opts:      opts,
		redisOpt:  redisOpt,
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		rdb:       rdb,
		registry:  &repeatRegistry{rdb: rdb, prefix: opts.Prefix},
		hooks:     hooks,
		log:       log.Named("queue.asynq"),
		done:      make(chan struct{}),
	}, nil
}

func newTask(d JobDescriptor) (*asynq.Task, error) {
	data, err := json.Marshal(envelope{Payload: d.Payload, Backoff: d.Options.Backoff})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", d.Name, err)
	}
	return asynq.NewTask(d.Name, data), nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decode task envelope: %w", err)
	}
	return env, nil
}

func taskOptions(d JobDescriptor) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(d.Queue),
		asynq.MaxRetry(d.Options.Attempts - 1),
	}
	if d.Options.Timeout > 0 {
		opts = append(opts, asynq.Timeout(d.Options.Timeout))
	}
	if d.Options.Retention.KeepCompleted > 0 {
		maxAge := d.Options.Retention.MaxAge
		if maxAge <= 0 {
			maxAge = defaultCompletedMaxAge
		}
		opts = append(opts, asynq.Retention(maxAge))
	}
	return opts
}

func (b *AsynqBackend) Enqueue(ctx context.Context, d JobDescriptor) (string, error) {
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return "", err
	}
	if d.Repeatable() {
		if err := b.registry.Put(ctx, d); err != nil {
			return "", err
		}
		return d.Key(), nil
	}

	task, err := newTask(d)
	if err != nil {
		return "", err
	}
	opts := taskOptions(d)
	key := d.Options.IdempotencyKey
	if key != "" {
		opts = append(opts, asynq.TaskID(key))
	}

	info, err := b.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		if !b.reclaim(d.Queue, key) {
			return key, fmt.Errorf("%w: %s", ErrDuplicateJob, key)
		}
		info, err = b.client.EnqueueContext(ctx, task, opts...)
	}
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", d.Name, err)
	}

	b.log.Debug("job enqueued",
		zap.String("queue", info.Queue),
		zap.String("job_id", info.ID),
		zap.String("job", d.Name))
	return info.ID, nil
}

// reclaim frees an idempotency key held by a finished task so it can be reused.
func (b *AsynqBackend) reclaim(queue, id string) bool {
	info, err := b.inspector.GetTaskInfo(queue, id)
	if err != nil {
		return false
	}
	if info.State != asynq.TaskStateCompleted && info.State != asynq.TaskStateArchived {
		return false
	}
	return b.inspector.DeleteTask(queue, id) == nil
}

func (b *AsynqBackend) ListRepeatable(ctx context.Context, queue string) ([]JobDescriptor, error) {
	return b.registry.List(ctx, queue)
}

func (b *AsynqBackend) RemoveRepeatable(ctx context.Context, key string) error {
	return b.registry.Remove(ctx, key)
}

func (b *AsynqBackend) StartScheduler(ctx context.Context) error {
	mgr, err := asynq.NewPeriodicTaskManager(asynq.PeriodicTaskManagerOpts{
		PeriodicTaskConfigProvider: &periodicProvider{registry: b.registry, log: b.log},
		RedisConnOpt:               b.redisOpt,
		SyncInterval:               b.opts.SyncInterval,
		SchedulerOpts: &asynq.SchedulerOpts{
			Logger:   b.log.Named("scheduler").Sugar(),
			LogLevel: asynq.WarnLevel,
			PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
				switch {
				case errors.Is(err, asynq.ErrDuplicateTask):
					// another scheduler already materialized this run
				case err != nil:
					b.log.Warn("repeatable enqueue failed", zap.Error(err))
				default:
					b.log.Debug("repeatable materialized",
						zap.String("queue", info.Queue),
						zap.String("job", info.Type),
						zap.String("job_id", info.ID))
				}
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create periodic task manager: %w", err)
	}
	if err := mgr.Start(); err != nil {
		return fmt.Errorf("start periodic task manager: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		mgr.Shutdown()
	}()
	return nil
}

func (b *AsynqBackend) NewWorker(cfg WorkerConfig, mux *Mux) (Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if mux == nil {
		return nil, errors.New("worker mux is required")
	}

	srv := asynq.NewServer(b.redisOpt, asynq.Config{
		Concurrency:    cfg.Concurrency,
		Queues:         map[string]int{cfg.Queue: 1},
		RetryDelayFunc: retryDelay,
		IsFailure: func(err error) bool {
			_, limited := isRateLimited(err)
			return !limited
		},
		Logger:          b.log.Named("worker").Sugar(),
		LogLevel:        asynq.WarnLevel,
		ShutdownTimeout: b.opts.ShutdownTimeout,
	})

	smux := asynq.NewServeMux()
	if limiter := cfg.RateLimit.limiter(); limiter != nil {
		smux.Use(rateLimit(limiter))
	}
	smux.Use(b.observe)
	for _, name := range mux.Names() {
		smux.Handle(name, dispatch(mux))
	}

	w := &asynqWorker{srv: srv, mux: smux, queue: cfg.Queue, log: b.log}
	if cfg.Retention.KeepCompleted > 0 || cfg.Retention.KeepFailed > 0 {
		w.pruner = &pruner{
			inspector: b.inspector,
			queue:     cfg.Queue,
			policy:    cfg.Retention,
			interval:  b.opts.PruneInterval,
			log:       b.log,
		}
	}
	return w, nil
}

// retryDelay maps asynq's retry count (0 on the first failure) onto the
// descriptor's backoff. Rate-limited tasks come back when the limiter allows.
func retryDelay(n int, err error, t *asynq.Task) time.Duration {
	if rl, ok := isRateLimited(err); ok {
		return rl.RetryIn
	}
	env, derr := decodeEnvelope(t.Payload())
	if derr != nil {
		return asynq.DefaultRetryDelayFunc(n, err, t)
	}
	return env.Backoff.Delay(n + 1)
}

func rateLimit(limiter *rate.Limiter) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			r := limiter.Reserve()
			if d := r.Delay(); d > 0 {
				r.Cancel()
				return &RateLimitError{RetryIn: d}
			}
			return next.ProcessTask(ctx, t)
		})
	}
}

func dispatch(mux *Mux) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		env, err := decodeEnvelope(t.Payload())
		if err != nil {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		id, _ := asynq.GetTaskID(ctx)
		queue, _ := asynq.GetQueueName(ctx)

		err = runHandler(ctx, mux, &Job{
			ID:          id,
			Queue:       queue,
			Name:        t.Type(),
			Payload:     env.Payload,
			Attempt:     retried + 1,
			MaxAttempts: maxRetry + 1,
		}, 0)
		if errors.Is(err, ErrSkipRetry) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	})
}

// observe reports every finished attempt to the hooks.
func (b *AsynqBackend) observe(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		err := next.ProcessTask(ctx, t)
		if _, limited := isRateLimited(err); limited {
			return err
		}

		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		id, _ := asynq.GetTaskID(ctx)
		queue, _ := asynq.GetQueueName(ctx)
		attempt := retried + 1

		outcome, evErr := outcomeOf(err, attempt, maxRetry+1)
		if errors.Is(err, asynq.SkipRetry) {
			outcome = OutcomeFailed
		}
		ev := Event{
			Queue:       queue,
			JobID:       id,
			JobName:     t.Type(),
			Outcome:     outcome,
			Attempt:     attempt,
			MaxAttempts: maxRetry + 1,
			Duration:    time.Since(start),
			Err:         evErr,
		}
		if outcome == OutcomeRetrying {
			ev.RetryIn = retryDelay(retried, err, t)
		}
		logEvent(b.log, ev)
		b.hooks.Emit(ctx, ev)
		return err
	})
}

func (b *AsynqBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *AsynqBackend) Close() error {
	var errs []error
	b.closeOnce.Do(func() {
		close(b.done)
		errs = append(errs, b.client.Close(), b.inspector.Close(), b.rdb.Close())
	})
	return errors.Join(errs...)
}

type asynqWorker struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	queue  string
	pruner *pruner
	cancel context.CancelFunc
	log    *zap.Logger
}

func (w *asynqWorker) Start() error {
	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("start worker %s: %w", w.queue, err)
	}
	if w.pruner != nil {
		ctx, cancel := context.WithCancel(context.Background())
		w.cancel = cancel
		go w.pruner.run(ctx)
	}
	w.log.Info("worker started", zap.String("queue", w.queue))
	return nil
}

func (w *asynqWorker) Shutdown() {
	if w.cancel != nil {
		w.cancel()
	}
	w.srv.Shutdown()
	w.log.Info("worker stopped", zap.String("queue", w.queue))
}
