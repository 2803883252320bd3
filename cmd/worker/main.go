package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/app"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/config"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/events"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/jobs"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/partition"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/queue"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/scheduler"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/stats"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := app.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("worker exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	stack, err := app.New(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer stack.Close()

	deps := jobs.Deps{
		Trending:     stack.Trending,
		Platforms:    stack.Platforms,
		Regions:      cfg.Trending.Regions,
		Stats:        stats.NewRepository(stack.Pool, cfg.Partition.Table),
		Lookahead:    cfg.Partition.Lookahead,
		RecentWindow: cfg.Schedule.RecentWindow,
		Syncer:       jobs.NopSyncer{},
		Queue:        stack.Queue,
		Defaults:     app.QueueOptions(cfg.Queue),
		Log:          log,
	}

	partitions := partition.NewManager(stack.Pool, cfg.Partition.Table, log, partition.WithRecorder(stack.Metrics))
	deps.Partitions = partitions
	if res, err := partitions.EnsureFuturePartitions(ctx, cfg.Partition.Lookahead); err != nil {
		log.Warn("startup partition check failed", zap.Error(err))
	} else {
		log.Info("startup partition check done",
			zap.Int("created", res.Count(partition.StatusCreated)),
			zap.Int("existing", res.Count(partition.StatusExists)))
	}

	if cfg.RabbitMQ.Enabled {
		pub, err := events.NewPublisher(&cfg.RabbitMQ, log)
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		defer func() { _ = pub.Close() }()
		stack.Hooks.Register(pub.PublishEvent)
		deps.Uploads = pub
	}

	if cfg.Storage.Enabled {
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UsePathStyle:    cfg.Storage.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to create object store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure bucket: %w", err)
		}
		deps.Store = store
		deps.Downloader = jobs.NewDownloader(cfg.Storage.MaxDownloadBytes, cfg.Storage.DownloadTimeout, log)
	}

	mux := queue.NewMux()
	jobs.Register(mux, deps)

	workers, err := startWorkers(stack.Queue, app.WorkerConfigs(cfg.Queue), mux)
	defer shutdownWorkers(workers)
	if err != nil {
		return err
	}

	sched := scheduler.New(stack.Queue, stack.Platforms, app.SchedulerConfig(cfg), log)
	if _, err := sched.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile schedule: %w", err)
	}

	if err := stack.Queue.StartScheduler(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsPort > 0 {
		metricsServer = serveMetrics(cfg.Server.MetricsPort, reg, log)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	if metricsServer != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = metricsServer.Shutdown(sctx)
	}
	return nil
}

// startWorkers starts one worker per config. On error the workers already
// started are returned so the caller can shut them down.
func startWorkers(backend queue.Backend, configs []queue.WorkerConfig, mux *queue.Mux) ([]queue.Worker, error) {
	workers := make([]queue.Worker, 0, len(configs))
	for _, wc := range configs {
		w, err := backend.NewWorker(wc, mux)
		if err != nil {
			return workers, fmt.Errorf("failed to create worker for %s: %w", wc.Queue, err)
		}
		if err := w.Start(); err != nil {
			return workers, fmt.Errorf("failed to start worker for %s: %w", wc.Queue, err)
		}
		workers = append(workers, w)
	}
	return workers, nil
}

func shutdownWorkers(workers []queue.Worker) {
	for _, w := range workers {
		w.Shutdown()
	}
}

func serveMetrics(port int, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("metrics server listening", zap.Int("port", port))
	return srv
}
