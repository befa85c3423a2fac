package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/zjrosen/chartbus/internal/log"
)

const (
	defaultDialAttempts = 10
	defaultDialBackoff  = 2 * time.Second
	defaultStaleAfter   = 3 * time.Second
)

// OHLCV is the open, high, low, close and volume of one bar.
type OHLCV struct {
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// Bar is a market data bar as published on the broker.
type Bar struct {
	ProducedAt        int64  `json:"produced_at"`
	BarStartTimestamp int64  `json:"bar_start_timestamp"`
	BarEndTimestamp   int64  `json:"bar_end_timestamp"`
	Instrument        string `json:"instrument"`
	Period            string `json:"period"`
	Bid               OHLCV  `json:"bid"`
}

// Time returns the bar start as a time.
func (b Bar) Time() time.Time {
	return time.UnixMilli(b.BarStartTimestamp)
}

// BarFunc receives each fresh bar.
type BarFunc func(ctx context.Context, bar Bar) error

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	URL          string
	Queue        string
	DialAttempts int           // default 10
	DialBackoff  time.Duration // default 2s
	StaleAfter   time.Duration // bars older than this are discarded; default 3s, negative disables
}

// Consumer turns broker deliveries into feed Calls on a Queue.
type Consumer struct {
	cfg   ConsumerConfig
	conn  *amqp091.Connection
	queue *Queue
	now   func() time.Time
}

// Dial connects to the broker, retrying with a fixed backoff.
func Dial(ctx context.Context, cfg ConsumerConfig, queue *Queue) (*Consumer, error) {
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = defaultDialAttempts
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = defaultDialBackoff
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = defaultStaleAfter
	}

	var conn *amqp091.Connection
	var err error
	for i := 0; i < cfg.DialAttempts; i++ {
		conn, err = amqp091.Dial(cfg.URL)
		if err == nil {
			break
		}
		log.Warn(log.CatFeed, "broker dial failed", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.DialBackoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to broker after %d attempts: %w", cfg.DialAttempts, err)
	}

	return &Consumer{cfg: cfg, conn: conn, queue: queue, now: time.Now}, nil
}

// Consume registers on the configured queue and enqueues one Call per fresh
// bar until ctx is done or the broker closes the delivery channel.
func (c *Consumer) Consume(ctx context.Context, onBar BarFunc) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(1, 0, false); err != nil {
		log.Warn(log.CatFeed, "failed to set QoS", "error", err)
	}

	msgs, err := ch.ConsumeWithContext(ctx,
		c.cfg.Queue,
		"",    // consumer
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	log.Info(log.CatFeed, "consuming bars", "queue", c.cfg.Queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				log.Info(log.CatFeed, "delivery channel closed", "queue", c.cfg.Queue)
				return nil
			}
			if err := c.handle(d.Body, onBar); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) handle(body []byte, onBar BarFunc) error {
	call, ok := c.barCall(body, onBar)
	if !ok {
		return nil
	}
	return c.queue.Push(call)
}

// barCall decodes one delivery. Malformed and stale bars are dropped.
func (c *Consumer) barCall(body []byte, onBar BarFunc) (Call, bool) {
	var bar Bar
	if err := json.Unmarshal(body, &bar); err != nil {
		log.Warn(log.CatFeed, "error unmarshalling bar", "error", err)
		return Call{}, false
	}
	if c.isStale(bar.ProducedAt) {
		log.Debug(log.CatFeed, "discarding stale bar", "instrument", bar.Instrument)
		return Call{}, false
	}

	return Call{
		Name: "bar:" + bar.Instrument,
		Fn: func(ctx context.Context, args ...any) error {
			return onBar(ctx, args[0].(Bar))
		},
		Args: []any{bar},
	}, true
}

func (c *Consumer) isStale(producedAt int64) bool {
	if c.cfg.StaleAfter < 0 || producedAt == 0 {
		return false
	}
	return c.now().UnixMilli()-producedAt > c.cfg.StaleAfter.Milliseconds()
}

// Close closes the broker connection.
func (c *Consumer) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
