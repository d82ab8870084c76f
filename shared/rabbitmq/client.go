package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned when the client has lost its channel
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RetryQueueName     string
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
	PrefetchCount      int
}

// Client represents a RabbitMQ client
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	closeChan   chan *amqp.Error
	mu          sync.Mutex
	isConnected bool
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	if config.RetryQueueName == "" {
		config.RetryQueueName = config.QueueName + ".retry"
	}

	client := &Client{
		config:      config,
		logger:      logger,
		closeChan:   make(chan *amqp.Error),
		isConnected: false,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
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
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	attempt := 0
	dial := func() error {
		attempt++
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err := amqp.DialConfig(dsn, amqpConfig)
		if err != nil {
			return err
		}
		c.conn = conn
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", next),
		)
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.config.RetryInterval), uint64(attempts-1))
	if err := backoff.RetryNotify(dial, policy, notify); err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.logger.Info("Successfully connected to RabbitMQ")

	// Create channel
	var err error
	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	// Setup exchange and queues
	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	// Monitor connection
	c.closeChan = make(chan *amqp.Error, 1)
	c.channel.NotifyClose(c.closeChan)
	c.isConnected = true
	go c.watch(c.closeChan)

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
		slog.String("retry_queue", c.config.RetryQueueName),
	)

	return nil
}

// watch flips the connection flag once the broker closes the channel
func (c *Client) watch(closeChan <-chan *amqp.Error) {
	err, ok := <-closeChan
	c.mu.Lock()
	c.isConnected = false
	c.mu.Unlock()

	if ok && err != nil {
		c.logger.Error("RabbitMQ channel closed",
			slog.String("reason", err.Reason),
			slog.Int("code", err.Code),
		)
	}
}

// setup declares exchange, queues, and bindings.
// Messages published to the retry queue expire after their per-message TTL
// and are dead-lettered back into the main exchange.
func (c *Client) setup() error {
	// Declare exchange
	err := c.channel.ExchangeDeclare(
		c.config.ExchangeName,       // name
		c.config.ExchangeType,       // type
		c.config.ExchangeDurable,    // durable
		c.config.ExchangeAutoDelete, // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = c.channel.QueueDeclare(
		c.config.QueueName,       // name
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // auto-delete
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = c.channel.QueueBind(
		c.config.QueueName,    // queue name
		c.config.RoutingKey,   // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	// Declare retry queue
	_, err = c.channel.QueueDeclare(
		c.config.RetryQueueName, // name
		c.config.QueueDurable,   // durable
		false,                   // auto-delete
		false,                   // exclusive
		false,                   // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    c.config.ExchangeName,
			"x-dead-letter-routing-key": c.config.RoutingKey,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	if c.config.PrefetchCount > 0 {
		if err := c.channel.Qos(c.config.PrefetchCount, 0, false); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	return nil
}

// Publish publishes a message to the main exchange
func (c *Client) Publish(ctx context.Context, body []byte, contentType string) error {
	return c.publish(ctx, c.config.ExchangeName, c.config.RoutingKey, body, contentType, "")
}

// PublishDelayed parks a message in the retry queue; it is routed back to the
// main queue once delay has elapsed
func (c *Client) PublishDelayed(ctx context.Context, body []byte, contentType string, delay time.Duration) error {
	expiration := strconv.FormatInt(delay.Milliseconds(), 10)
	return c.publish(ctx, "", c.config.RetryQueueName, body, contentType, expiration)
}

func (c *Client) publish(ctx context.Context, exchange, routingKey string, body []byte, contentType, expiration string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return ErrNotConnected
	}

	err := c.channel.PublishWithContext(
		ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent, // persistent
			Timestamp:    time.Now(),
			Expiration:   expiration,
		},
	)

	if err != nil {
		c.logger.Error("Failed to publish message to RabbitMQ",
			slog.Any("error", err),
			slog.String("routing_key", routingKey),
		)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.Int("body_size", len(body)),
		slog.String("content_type", contentType),
		slog.String("routing_key", routingKey),
	)

	return nil
}

// PublishWithRetry publishes a message to RabbitMQ with retry logic and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3 // default
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.PublishRetryDelay
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 100 * time.Millisecond // default
	}
	policy.Multiplier = c.config.PublishBackoffMult
	if policy.Multiplier <= 0 {
		policy.Multiplier = 2.0 // default
	}
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := c.Publish(ctx, body, contentType)
		if errors.Is(err, ErrNotConnected) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_after", next),
			slog.Any("error", err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		c.logger.Error("Failed to publish message to RabbitMQ after all retries",
			slog.Int("attempts", attempt),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to publish message after %d attempts: %w", attempt, err)
	}

	if attempt > 1 {
		c.logger.Info("Successfully published message to RabbitMQ after retry",
			slog.Int("attempt", attempt),
			slog.Int("body_size", len(body)),
		)
	}
	return nil
}

// Consume starts consuming messages from the queue
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return nil, ErrNotConnected
	}

	messages, err := c.channel.Consume(
		c.config.QueueName, // queue
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
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", c.config.PrefetchCount),
	)

	return messages, nil
}

// Ack acknowledges a single delivery
func (c *Client) Ack(tag uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return ErrNotConnected
	}
	return c.channel.Ack(tag, false)
}

// Nack rejects a single delivery, optionally requeueing it
func (c *Client) Nack(tag uint64, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return ErrNotConnected
	}
	return c.channel.Nack(tag, false, requeue)
}

// Reconnect dials again after the server closed the channel.
// Delivery tags handed out before the reconnect are no longer valid.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isConnected {
		return nil
	}
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}
	return c.connect()
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.mu.Lock()
	c.isConnected = false
	c.mu.Unlock()

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

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}
