// Package events publishes job outcomes and upload requests to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/config"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/queue"
)

const defaultPublishTimeout = 5 * time.Second

// ErrNotConnected is returned when the publisher has no open channel.
var ErrNotConnected = errors.New("publisher is not connected")

// UploadRequest asks the external uploader to publish a stored video.
type UploadRequest struct {
	Platform    model.Platform `json:"platform"`
	VideoID     string         `json:"video_id"`
	ObjectKey   string         `json:"object_key"`
	Destination string         `json:"destination"`
	Title       string         `json:"title,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
}

// Publisher publishes JSON messages to a durable topic exchange and waits
// for broker confirmation of each one.
type Publisher struct {
	cfg *config.RabbitMQConfig
	log *zap.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewPublisher dials RabbitMQ and declares the exchange.
func NewPublisher(cfg *config.RabbitMQConfig, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{cfg: cfg, log: log.Named("events")}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// URL is the AMQP URL for cfg.
func URL(cfg *config.RabbitMQConfig) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/",
	}
	return u.String()
}

func (p *Publisher) connectLocked() error {
	conn, err := amqp.Dial(URL(p.cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.cfg.Exchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch

	p.log.Info("Connected to RabbitMQ", zap.String("exchange", p.cfg.Exchange))
	return nil
}

// RoutingKey is the routing key of a job event: job.{outcome}.
func RoutingKey(ev queue.Event) string {
	return "job." + string(ev.Outcome)
}

// PublishEvent publishes a job event. Its signature matches queue.EventSink.
func (p *Publisher) PublishEvent(ctx context.Context, ev queue.Event) error {
	return p.publish(ctx, RoutingKey(ev), ev.JobID, ev)
}

// PublishUpload publishes an upload request under the configured upload routing key.
func (p *Publisher) PublishUpload(ctx context.Context, req UploadRequest) error {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	return p.publish(ctx, p.cfg.UploadRoutingKey, string(req.Platform)+":"+req.VideoID, req)
}

func (p *Publisher) publish(ctx context.Context, routingKey, messageID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch, err := p.ensureChannel()
	if err != nil {
		return err
	}

	timeout := p.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		p.cfg.Exchange, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    messageID,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for publish confirmation: %w", err)
	}
	if !acked {
		return errors.New("message was not acknowledged by broker")
	}

	p.log.Debug("Published message",
		zap.String("messageId", messageID),
		zap.String("routingKey", routingKey))
	return nil
}

// ensureChannel returns the open channel, redialing once if the connection dropped.
func (p *Publisher) ensureChannel() (*amqp.Channel, error) {
	p.mu.RLock()
	ch, conn := p.channel, p.conn
	p.mu.RUnlock()
	if ch != nil && conn != nil && !conn.IsClosed() && !ch.IsClosed() {
		return ch, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil && p.conn != nil && !p.conn.IsClosed() && !p.channel.IsClosed() {
		return p.channel, nil
	}
	if p.conn == nil {
		return nil, ErrNotConnected
	}
	p.log.Warn("RabbitMQ connection lost, reconnecting")
	if p.channel != nil {
		_ = p.channel.Close()
	}
	_ = p.conn.Close()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p.channel, nil
}

// Close closes the channel and connection. A closed publisher does not reconnect.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	p.channel, p.conn = nil, nil

	if len(errs) > 0 {
		return fmt.Errorf("errors closing publisher: %w", errors.Join(errs...))
	}

	p.log.Info("RabbitMQ publisher closed")
	return nil
}

// IsHealthy reports whether the connection and channel are open.
func (p *Publisher) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.conn != nil && !p.conn.IsClosed() && p.channel != nil && !p.channel.IsClosed()
}
