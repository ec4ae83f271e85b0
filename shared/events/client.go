package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection and exchange configuration for the
// workflow event stream
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// Publisher emits workflow events (step transitions, validation progress,
// operation failures) to a topic exchange. Event emission is best-effort;
// callers treat publish failures as non-fatal.
type Publisher struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	closeChan   chan *amqp.Error
	isConnected bool
}

// NewPublisher creates a new event publisher and connects to RabbitMQ
func NewPublisher(config *Config, logger *slog.Logger) (*Publisher, error) {
	p := &Publisher{
		config:    config,
		logger:    logger,
		closeChan: make(chan *amqp.Error),
	}

	if err := p.connect(); err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	return p, nil
}

// connect establishes the connection with retry
func (p *Publisher) connect() error {
	var err error

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		p.config.User,
		p.config.Password,
		p.config.Host,
		p.config.Port,
		p.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: p.config.Heartbeat,
		Locale:    "en_US",
	}

	attempts := p.config.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		p.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		p.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		p.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(p.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	p.channel, err = p.conn.Channel()
	if err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	exchangeType := p.config.ExchangeType
	if exchangeType == "" {
		exchangeType = "topic"
	}

	err = p.channel.ExchangeDeclare(
		p.config.ExchangeName,    // name
		exchangeType,             // type
		p.config.ExchangeDurable, // durable
		false,                    // auto-deleted
		false,                    // internal
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		p.channel.Close()
		p.conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.closeChan = make(chan *amqp.Error)
	p.channel.NotifyClose(p.closeChan)
	p.isConnected = true

	p.logger.Info("Event publisher initialized",
		slog.String("exchange", p.config.ExchangeName),
	)

	return nil
}

// Publish publishes an event body under the given routing key
// (e.g. "workflow.step_entered")
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	if !p.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	err := p.channel.PublishWithContext(
		ctx,
		p.config.ExchangeName, // exchange
		routingKey,            // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)

	if err != nil {
		p.logger.Error("Failed to publish event",
			slog.Any("error", err),
			slog.String("routing_key", routingKey),
		)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Event published",
		slog.String("routing_key", routingKey),
		slog.Int("body_size", len(body)),
	)

	return nil
}

// PublishWithRetry publishes an event with retry and exponential backoff
func (p *Publisher) PublishWithRetry(ctx context.Context, routingKey string, body []byte) error {
	if !p.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	maxRetries := p.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	baseDelay := p.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	backoffMult := p.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = p.Publish(ctx, routingKey, body)
		if lastErr == nil {
			if attempt > 0 {
				p.logger.Info("Event published after retry",
					slog.Int("attempt", attempt+1),
					slog.String("routing_key", routingKey),
				)
			}
			return nil
		}

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	return fmt.Errorf("failed to publish event after %d attempts: %w", maxRetries+1, lastErr)
}

// IsConnected returns the connection status
func (p *Publisher) IsConnected() bool {
	return p.isConnected && p.conn != nil && !p.conn.IsClosed()
}

// Close closes the RabbitMQ connection
func (p *Publisher) Close() error {
	p.logger.Info("Closing event publisher")

	p.isConnected = false

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	return nil
}
