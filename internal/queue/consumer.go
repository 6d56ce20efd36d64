package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// OrderStatusHandler reacts to one order status transition.  It must be
// safe to call more than once with the same event.
type OrderStatusHandler interface {
	OnOrderStatusChanged(ctx context.Context, ev OrderStatusChangedEvent) error
}

// Consumer reads order.status.changed and hands each event to the
// reservation engine.  A failing event is requeued once; on its second
// delivery it is rejected so a poison message cannot spin forever.
type Consumer struct {
	url            string
	handler        OrderStatusHandler
	log            *slog.Logger
	prefetch       int
	handlerTimeout time.Duration
}

// NewConsumer builds a consumer.  handlerTimeout bounds each event.
func NewConsumer(url string, h OrderStatusHandler, log *slog.Logger, handlerTimeout time.Duration) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	if handlerTimeout <= 0 {
		handlerTimeout = 10 * time.Second
	}
	return &Consumer{url: url, handler: h, log: log, prefetch: 50, handlerTimeout: handlerTimeout}
}

// Run connects, consumes and reconnects with doubling backoff until ctx is
// cancelled.  It returns ctx.Err().
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("order-consumer: failed to dial broker", "err", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("order-consumer: consume loop ended, reconnecting", "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.log.Warn("order-consumer: set QoS failed", "err", err)
	}
	if _, err := ch.QueueDeclare(OrderStatusChangedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(OrderStatusChangedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			switch c.handle(ctx, d.Body, d.Redelivered) {
			case ack:
				_ = d.Ack(false)
			case requeue:
				_ = d.Nack(false, true)
			default:
				_ = d.Nack(false, false)
			}
		}
	}
}

type verdict int

const (
	ack verdict = iota
	requeue
	reject
)

func (c *Consumer) handle(ctx context.Context, body []byte, redelivered bool) verdict {
	var ev OrderStatusChangedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.log.Error("order-consumer: unmarshal failed", "err", err)
		return reject
	}
	ev.OrderID = strings.TrimSpace(ev.OrderID)
	if ev.OrderID == "" || ev.NewStatus == "" {
		c.log.Error("order-consumer: event without order id or status", "body", string(body))
		return reject
	}

	hctx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
	defer cancel()
	if err := c.handler.OnOrderStatusChanged(hctx, ev); err != nil {
		if redelivered {
			c.log.Error("order-consumer: event failed twice, rejecting",
				"order_id", ev.OrderID, "status", ev.NewStatus, "err", err)
			return reject
		}
		c.log.Warn("order-consumer: event failed, requeueing",
			"order_id", ev.OrderID, "status", ev.NewStatus, "err", err)
		return requeue
	}
	return ack
}
