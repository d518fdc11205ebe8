package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/songzhibin97/sellflux/internal/metrics"
	"github.com/songzhibin97/sellflux/internal/models"
)

const (
	DefaultQueue = "process_eliza_simulation"

	consumerTag = "sellflux"
	dialTimeout = 10 * time.Second
)

// Handler processes one decoded sell instruction
type Handler interface {
	Handle(ctx context.Context, instr models.SellInstruction) error
}

type Config struct {
	URL                string `json:"url" yaml:"url"`
	Queue              string `json:"queue" yaml:"queue"`
	DeadLetterExchange string `json:"dead_letter_exchange" yaml:"dead_letter_exchange"`
}

// Consumer 消费卖出指令队列，一次只处理一条
type Consumer struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Metrics

	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(cfg Config, handler Handler, logger *slog.Logger, m *metrics.Metrics) *Consumer {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	return &Consumer{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		metrics: m,
	}
}

// Connect dials the broker and declares the durable queue.
func (c *Consumer) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Dial:       amqp.DefaultDial(dialTimeout),
		Properties: amqp.Table{"connection_name": consumerTag},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to dial broker: %v", models.ErrTransport, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: failed to open channel: %v", models.ErrTransport, err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to set qos: %w", err)
	}

	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, c.queueArgs()); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare queue %s: %w", c.cfg.Queue, err)
	}

	c.conn = conn
	c.ch = ch
	c.logger.Info("connected to broker", "queue", c.cfg.Queue, "dead_letter_exchange", c.cfg.DeadLetterExchange)
	return nil
}

func (c *Consumer) queueArgs() amqp.Table {
	if c.cfg.DeadLetterExchange == "" {
		return nil
	}
	return amqp.Table{"x-dead-letter-exchange": c.cfg.DeadLetterExchange}
}

// Run consumes until ctx is cancelled. A closed delivery channel is reported as a transport error.
func (c *Consumer) Run(ctx context.Context) error {
	if c.ch == nil {
		return fmt.Errorf("%w: consumer is not connected", models.ErrConfiguration)
	}

	deliveries, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to start consuming: %v", models.ErrTransport, err)
	}

	c.logger.Info("waiting for sell instructions", "queue", c.cfg.Queue)
	return c.consume(ctx, deliveries)
}

func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: delivery channel closed", models.ErrTransport)
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var instr models.SellInstruction
	if err := json.Unmarshal(d.Body, &instr); err != nil {
		c.reject(d, fmt.Errorf("%w: malformed message: %v", models.ErrDataIntegrity, err))
		return
	}
	if err := instr.Validate(); err != nil {
		c.reject(d, err)
		return
	}

	c.logger.Info("received sell instruction", "token", instr.TokenAddress, "amount", instr.Amount)

	if err := c.handler.Handle(ctx, instr); err != nil {
		// 进程退出打断了处理，交还给 broker 重投
		if ctx.Err() != nil {
			c.logger.Warn("sell instruction interrupted by shutdown, requeueing", "token", instr.TokenAddress, "err", err)
			if err := d.Nack(false, true); err != nil {
				c.logger.Error("failed to requeue message", "token", instr.TokenAddress, "err", err)
			}
			c.metrics.ObserveDelivery("requeued")
			return
		}
		c.logger.Error("failed to handle sell instruction", "token", instr.TokenAddress, "err", err)
		c.ack(d, instr.TokenAddress)
		c.metrics.ObserveDelivery("failed")
		return
	}

	c.ack(d, instr.TokenAddress)
	c.metrics.ObserveDelivery("handled")
}

func (c *Consumer) ack(d amqp.Delivery, token string) {
	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "token", token, "err", err)
	}
}

// reject drops the message without requeue; the broker dead-letters it when the queue has a DLX.
func (c *Consumer) reject(d amqp.Delivery, reason error) {
	c.logger.Error("rejecting message", "delivery_tag", d.DeliveryTag, "body", string(d.Body), "err", reason)
	if err := d.Nack(false, false); err != nil {
		c.logger.Error("failed to nack message", "delivery_tag", d.DeliveryTag, "err", err)
	}
	c.metrics.ObserveDelivery("rejected")
}

func (c *Consumer) Close() error {
	var firstErr error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
