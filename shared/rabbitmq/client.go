// Package rabbitmq provides the durable work-queue topology for import
// units: a work queue the upsert workers consume, a retry queue whose
// expired messages dead-letter back onto the work queue (exponential
// backoff via per-message TTL), and a dead-letter queue for units that
// exhausted their attempts.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AttemptHeader carries the delivery attempt number across redeliveries.
const AttemptHeader = "x-attempt"

// Config holds RabbitMQ connection and topology configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string

	ExchangeName    string
	WorkQueue       string
	RetryQueue      string
	DeadLetterQueue string

	MaxAttempts     int
	BackoffBase     time.Duration
	FailedRetention time.Duration

	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration
}

// Client represents a RabbitMQ client bound to the import topology.
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	closeChan   chan *amqp.Error
	isConnected bool
}

// NewClient creates a new RabbitMQ client and declares the topology.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config:    config,
		logger:    logger,
		closeChan: make(chan *amqp.Error),
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes the connection with retry logic.
func (c *Client) connect() error {
	var err error

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	for attempt := 1; attempt <= c.config.RetryAttempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.config.RetryAttempts),
		)

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < c.config.RetryAttempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", c.config.RetryAttempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup topology: %w", err)
	}

	c.closeChan = make(chan *amqp.Error)
	c.channel.NotifyClose(c.closeChan)
	c.isConnected = true

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("work_queue", c.config.WorkQueue),
		slog.String("retry_queue", c.config.RetryQueue),
		slog.String("dead_letter_queue", c.config.DeadLetterQueue),
	)

	return nil
}

// setup declares the exchange and the three queues. Routing keys equal
// queue names on a direct exchange.
func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.config.ExchangeName, // name
		"direct",              // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queues := []struct {
		name string
		args amqp.Table
	}{
		{c.config.WorkQueue, nil},
		// Expired retry messages route back to the work queue. The broker
		// only expires the message at the queue head, so a longer-TTL
		// message delays shorter-TTL ones behind it: backoff delays are
		// lower bounds, not exact.
		{c.config.RetryQueue, amqp.Table{
			"x-dead-letter-exchange":    c.config.ExchangeName,
			"x-dead-letter-routing-key": c.config.WorkQueue,
		}},
		// Dead-lettered units are retained for the failed-retention window,
		// then purged by the broker.
		{c.config.DeadLetterQueue, amqp.Table{
			"x-message-ttl": c.config.FailedRetention.Milliseconds(),
		}},
	}

	for _, q := range queues {
		if _, err := c.channel.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
		if err := c.channel.QueueBind(q.name, q.name, c.config.ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", q.name, err)
		}
	}

	return nil
}

// publish sends one persistent message to the given routing key.
func (c *Client) publish(ctx context.Context, routingKey string, body []byte, attempt int, expiration string) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	err := c.channel.PublishWithContext(
		ctx,
		c.config.ExchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      amqp.Table{AttemptHeader: int32(attempt)},
			Expiration:   expiration,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// Publish enqueues one unit for its first delivery attempt.
func (c *Client) Publish(ctx context.Context, body []byte) error {
	return c.publish(ctx, c.config.WorkQueue, body, 1, "")
}

// PublishBulk enqueues one feed's record batch. The first failure aborts
// the batch; partial enqueue is not specially handled.
func (c *Client) PublishBulk(ctx context.Context, bodies [][]byte) error {
	for i, body := range bodies {
		if err := c.Publish(ctx, body); err != nil {
			return fmt.Errorf("bulk publish failed at message %d of %d: %w", i+1, len(bodies), err)
		}
	}

	c.logger.Debug("Bulk publish complete",
		slog.Int("messages", len(bodies)),
	)
	return nil
}

// PublishRetry parks a failed unit on the retry queue. The message expires
// after an exponential backoff and dead-letters back to the work queue,
// where it is consumed as delivery attempt nextAttempt.
func (c *Client) PublishRetry(ctx context.Context, body []byte, nextAttempt int) error {
	delay := c.config.BackoffBase
	for i := 2; i < nextAttempt; i++ {
		delay *= 2
	}

	expiration := strconv.FormatInt(delay.Milliseconds(), 10)

	c.logger.Debug("Scheduling retry delivery",
		slog.Int("attempt", nextAttempt),
		slog.Duration("delay", delay),
	)

	return c.publish(ctx, c.config.RetryQueue, body, nextAttempt, expiration)
}

// PublishDead moves a unit to the terminal failed queue.
func (c *Client) PublishDead(ctx context.Context, body []byte) error {
	return c.publish(ctx, c.config.DeadLetterQueue, body, 0, "")
}

// Consume starts consuming from the work queue with manual acknowledgment.
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.isConnected {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}

	messages, err := c.channel.Consume(
		c.config.WorkQueue, // queue
		consumerTag,        // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.WorkQueue),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// Qos bounds the number of unacknowledged deliveries per consumer.
func (c *Client) Qos(prefetchCount int) error {
	if err := c.channel.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

// MaxAttempts returns the configured delivery attempt ceiling.
func (c *Client) MaxAttempts() int {
	if c.config.MaxAttempts <= 0 {
		return 3
	}
	return c.config.MaxAttempts
}

// DeliveryAttempt reads the attempt header from a delivery. Missing or
// malformed headers count as the first attempt.
func DeliveryAttempt(d *amqp.Delivery) int {
	if d.Headers == nil {
		return 1
	}
	switch v := d.Headers[AttemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 1
	}
}

// Close closes the RabbitMQ connection.
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.isConnected = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status.
func (c *Client) IsConnected() bool {
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}
