//go:build integration

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/config"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/queue"
)

func setupTestRabbitMQ(t *testing.T) *config.RabbitMQConfig {
	t.Helper()
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx,
		"rabbitmq:3.13-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)

	return &config.RabbitMQConfig{
		Enabled:          true,
		Host:             host,
		Port:             port.Int(),
		User:             "guest",
		Password:         "guest",
		Exchange:         "trendvault.test",
		UploadRoutingKey: "upload.requested",
		PublishTimeout:   5 * time.Second,
	}
}

// bindQueue declares an exclusive queue bound to keys and returns its deliveries.
func bindQueue(t *testing.T, cfg *config.RabbitMQConfig, keys ...string) <-chan amqp.Delivery {
	t.Helper()
	conn, err := amqp.Dial(URL(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ch, err := conn.Channel()
	require.NoError(t, err)
	require.NoError(t, ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil))

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	for _, key := range keys {
		require.NoError(t, ch.QueueBind(q.Name, key, cfg.Exchange, false, nil))
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)
	return deliveries
}

func receive(t *testing.T, deliveries <-chan amqp.Delivery) amqp.Delivery {
	t.Helper()
	select {
	case d := <-deliveries:
		return d
	case <-time.After(10 * time.Second):
		t.Fatal("no message received")
		return amqp.Delivery{}
	}
}

func TestPublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	cfg := setupTestRabbitMQ(t)
	ctx := context.Background()

	p, err := NewPublisher(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	assert.True(t, p.IsHealthy())

	deliveries := bindQueue(t, cfg, "job.*", cfg.UploadRoutingKey)

	t.Run("job event", func(t *testing.T) {
		require.NoError(t, p.PublishEvent(ctx, queue.Event{
			Queue:   "trending",
			JobID:   "job-1",
			JobName: "trending:refresh",
			Outcome: queue.OutcomeFailed,
			Attempt: 3,
			Error:   "boom",
		}))

		d := receive(t, deliveries)
		assert.Equal(t, "job.failed", d.RoutingKey)
		assert.Equal(t, "job-1", d.MessageId)

		var ev queue.Event
		require.NoError(t, json.Unmarshal(d.Body, &ev))
		assert.Equal(t, "trending:refresh", ev.JobName)
		assert.Equal(t, "boom", ev.Error)
	})

	t.Run("upload request", func(t *testing.T) {
		require.NoError(t, p.PublishUpload(ctx, UploadRequest{
			Platform:    model.PlatformYouTube,
			VideoID:     "v1",
			ObjectKey:   "youtube/v1",
			Destination: "tiktok",
		}))

		d := receive(t, deliveries)
		assert.Equal(t, cfg.UploadRoutingKey, d.RoutingKey)

		var req UploadRequest
		require.NoError(t, json.Unmarshal(d.Body, &req))
		assert.Equal(t, "youtube/v1", req.ObjectKey)
		assert.False(t, req.RequestedAt.IsZero())
	})

	t.Run("close", func(t *testing.T) {
		require.NoError(t, p.Close())
		assert.False(t, p.IsHealthy())
		assert.ErrorIs(t, p.PublishEvent(ctx, queue.Event{JobID: "x"}), ErrNotConnected)
	})
}
