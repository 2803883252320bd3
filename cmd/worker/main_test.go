package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/queue"
)

func TestStartWorkers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	broker := queue.NewMemoryBroker(queue.NewHooks(zap.NewNop()), zap.New(core))
	t.Cleanup(func() { _ = broker.Close() })

	configs := []queue.WorkerConfig{
		{Queue: "trending", Concurrency: 1},
		{Queue: "stats", Concurrency: 2},
	}
	workers, err := startWorkers(broker, configs, queue.NewMux())
	require.NoError(t, err)
	t.Cleanup(func() { shutdownWorkers(workers) })

	assert.Len(t, workers, 2)
	started := logs.FilterMessage("worker started")
	assert.Equal(t, 2, started.Len(), "one start line per queue")
	assert.Equal(t, 1, started.FilterField(zap.String("queue", "trending")).Len())
	assert.Equal(t, 1, started.FilterField(zap.String("queue", "stats")).Len())
}

func TestStartWorkers_InvalidConfig(t *testing.T) {
	broker := queue.NewMemoryBroker(queue.NewHooks(zap.NewNop()), zap.NewNop())
	t.Cleanup(func() { _ = broker.Close() })

	configs := []queue.WorkerConfig{
		{Queue: "trending", Concurrency: 1},
		{Queue: "stats", Concurrency: 0},
	}
	workers, err := startWorkers(broker, configs, queue.NewMux())
	t.Cleanup(func() { shutdownWorkers(workers) })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stats")
	assert.Len(t, workers, 1, "workers started before the failure are returned")
}
