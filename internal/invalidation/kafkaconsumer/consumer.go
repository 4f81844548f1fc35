// Package kafkaconsumer feeds invalidation events from a Kafka topic into
// the invalidation runner.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/broadband-coverage/internal/core/observability"
	"github.com/mohammed-shakir/broadband-coverage/internal/invalidation"
	mylog "github.com/mohammed-shakir/broadband-coverage/internal/logger"
)

type Applier interface {
	Apply(ctx context.Context, ev invalidation.Event) (int, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	runner Applier
}

func New(cfg Config, logger *slog.Logger, runner Applier) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Consumer{cfg: cfg, logger: logger, runner: runner}
}

// Start joins the consumer group and processes events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.runner == nil {
		return errors.New("kafkaconsumer: missing runner")
	}
	if len(c.cfg.Brokers) == 0 {
		return errors.New("kafkaconsumer: no brokers configured")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	handler := newGroupHandler(c.ProcessOne, c.logger)

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			c.logger.ErrorContext(ctx, "kafka consumer error",
				"err", err, "brokers", c.cfg.Brokers, "topic", c.cfg.Topic)
		}
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		case <-time.After(c.cfg.RetryBackoff):
		}
	}
}

// ProcessOne decodes and applies one message. A malformed message is logged
// and acknowledged so it cannot block the partition; a failed apply is
// returned so the offset is not marked.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidation("decode_error")
		c.logger.WarnContext(ctx, "undecodable invalidation event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidation("invalid")
		c.logger.WarnContext(ctx, "invalid invalidation event",
			"provider", ev.ProviderID, "offset", msg.Offset, "err", err)
		return nil
	}

	n, err := c.runner.Apply(ctx, ev)
	if err != nil {
		return fmt.Errorf("apply event for provider %s: %w", ev.ProviderID, err)
	}
	c.logger.DebugContext(ctx, "invalidation applied",
		"provider", ev.ProviderID, "op", ev.Op, "keys", n,
		"partition", msg.Partition, "offset", msg.Offset)
	return nil
}
