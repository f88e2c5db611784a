// Package amqp broadcasts committed ledger writes so every process sharing a
// cache store can drop the keys they affect.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rabbitmq/amqp091-go"

	"caixa/internal/core"
	"caixa/internal/log"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	// maxFailures consecutive publish failures open the circuit.
	maxFailures = 5
	// openTimeout is how long an open circuit rejects publishes before a trial.
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type Client struct {
	url          string
	exchangeName string
	queueName    string
	clock        clockwork.Clock
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	failureMu    sync.Mutex
	lastFailure  time.Time
}

type Option func(*Client)

func WithClock(c clockwork.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

func WithLogger(l *log.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// NewClient connects to the broker and declares the fanout exchange ledger
// writes are published to. queueName is the queue consumers bind; an empty
// name gives each consumer its own exclusive queue.
func NewClient(url, exchangeName, queueName string, opts ...Option) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.logger == nil {
		client.logger = log.Wrap(nil, log.ComponentAMQP)
	} else {
		client.logger = client.logger.WithComponent(log.ComponentAMQP)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if err := client.connectLocked(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) now() time.Time {
	if c.clock == nil {
		return time.Now()
	}
	return c.clock.Now()
}

func (c *Client) logr() *log.Logger {
	if c.logger == nil {
		return log.Wrap(nil, log.ComponentAMQP)
	}
	return c.logger
}

// connectLocked dials and declares the exchange. c.mu must be held.
func (c *Client) connectLocked() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		c.exchangeName, // name
		"fanout",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

// channelFor returns a live channel, reconnecting when the last one died.
func (c *Client) channelFor() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c.channel, nil
}

// PublishLedgerWrite broadcasts ev. It fails fast while the circuit is open.
func (c *Client) PublishLedgerWrite(ctx context.Context, ev core.WriteEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish ledger write: %w", ErrCircuitOpen)
	}

	msg := NewLedgerWriteMessage(ev, c.now())
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	channel, err := c.channelFor()
	if err != nil {
		c.recordFailure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		"",             // routing key, ignored by fanout
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    msg.ID,
			AppId:        msg.Origin,
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.mu.Lock()
			c.closeLocked()
			c.mu.Unlock()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.logr().DebugContext(ctx, "Published ledger write",
		append(log.NewFields().WithWrite(ev).ToSlice(),
			log.FieldMessageID, msg.ID,
			"exchange", c.exchangeName)...)
	return nil
}

// ConsumeLedgerWrites delivers every ledger write to handler until ctx is
// done, reconnecting with exponential backoff when the broker goes away.
// Undecodable messages are dropped; a handler error requeues the message.
func (c *Client) ConsumeLedgerWrites(ctx context.Context, handler func(context.Context, *LedgerWriteMessage) error) error {
	attempt := 0
	for {
		consumed, err := c.consume(ctx, handler)
		if ctx.Err() != nil {
			c.logr().InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		}
		if consumed {
			attempt = 0
		}

		wait := exponentialBackoff(attempt)
		c.logr().LogDegraded(ctx, "Ledger write consumer interrupted, reconnecting", err, log.OpConsume,
			log.NewFields().WithErrorType(log.ErrorTypeNetwork).WithDuration(wait))
		attempt++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.after(wait):
		}
	}
}

func (c *Client) after(d time.Duration) <-chan time.Time {
	if c.clock == nil {
		return time.After(d)
	}
	return c.clock.After(d)
}

// consume runs one subscription. It reports whether any delivery arrived so
// the caller can reset its backoff.
func (c *Client) consume(ctx context.Context, handler func(context.Context, *LedgerWriteMessage) error) (bool, error) {
	channel, err := c.channelFor()
	if err != nil {
		return false, err
	}

	exclusive := c.queueName == ""
	queue, err := channel.QueueDeclare(
		c.queueName, // name, server-generated when empty
		!exclusive,  // durable
		exclusive,   // delete when unused
		exclusive,   // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return false, fmt.Errorf("declare queue: %w", err)
	}
	if err := channel.QueueBind(queue.Name, "", c.exchangeName, false, nil); err != nil {
		return false, fmt.Errorf("bind queue: %w", err)
	}

	msgs, err := channel.Consume(
		queue.Name, // queue
		"",         // consumer
		false,      // auto-ack (we want manual ack)
		exclusive,  // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return false, fmt.Errorf("start consuming: %w", err)
	}

	c.logr().InfoContext(ctx, "Started consuming ledger writes", "queue", queue.Name)

	consumed := false
	for {
		select {
		case <-ctx.Done():
			return consumed, ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return consumed, errors.New("message channel closed")
			}
			consumed = true

			msg, err := LedgerWriteMessageFromJSON(delivery.Body)
			if err != nil {
				c.logr().LogError(ctx, "Failed to decode ledger write", err, log.OpConsume,
					log.NewFields().WithErrorType(log.ErrorTypeValidation))
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			if err := handler(ctx, msg); err != nil {
				c.logr().LogError(ctx, "Failed to handle ledger write", err, log.OpConsume,
					log.NewFields().WithWrite(msg.Event()))
				delivery.Nack(false, true) // reject and requeue
				continue
			}
			delivery.Ack(false)
		}
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.failureMu.Lock()
	last := c.lastFailure
	c.failureMu.Unlock()

	if c.now().Sub(last) > openTimeout {
		// Let one publish through as a trial.
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	failures := atomic.AddInt64(&c.failureCount, 1)

	c.failureMu.Lock()
	c.lastFailure = c.now()
	c.failureMu.Unlock()

	if failures >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			c.logr().Warn("AMQP circuit breaker opened", "failures", failures)
		}
	}
}

// exponentialBackoff doubles from one second and caps at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection", "EOF", "broken pipe", "closed network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	return err
}
