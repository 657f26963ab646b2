package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/biq-mapview/internal/core/observability"
	mylog "github.com/mohammed-shakir/biq-mapview/internal/logger"
)

type WorkspaceInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type CatalogInvalidator interface {
	Invalidate()
}

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	ws      WorkspaceInvalidator
	catalog CatalogInvalidator
	dedupe  *revisionDedupe
}

// New returns a consumer. ws may be nil when no workspace cache is in use.
func New(cfg Config, logger *slog.Logger, ws WorkspaceInvalidator, catalog CatalogInvalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 3 * time.Second
	}
	if cfg.RebalanceTimeout <= 0 {
		cfg.RebalanceTimeout = 30 * time.Second
	}
	return &Consumer{
		cfg:     cfg,
		logger:  logger.With("component", "refresh"),
		ws:      ws,
		catalog: catalog,
		dedupe:  newRevisionDedupe(0),
	}
}

// Start consumes refresh events until ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	if c.catalog == nil {
		return errors.New("refresh: missing catalog dependency")
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

	handler := &groupHandler{process: c.ProcessOne}
	c.logger.Info("refresh consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("refresh consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies one refresh message. Malformed and stale messages are
// logged and acknowledged; only cache failures are returned so the message
// is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = mylog.WithComponent(ctx, "refresh")

	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncRefresh("unknown", "decode_error")
		c.logger.WarnContext(ctx, "refresh decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncRefresh(string(ev.Kind), "invalid")
		c.logger.WarnContext(ctx, "refresh event rejected", "offset", msg.Offset, "err", err)
		return nil
	}
	revert, ok := c.dedupe.tryApply(ev.subject(), ev.Revision)
	if !ok {
		obs.IncRefresh(string(ev.Kind), "stale")
		c.logger.DebugContext(ctx, "stale refresh skipped", "subject", ev.subject(), "revision", ev.Revision)
		return nil
	}

	switch ev.Kind {
	case KindWorkspace:
		if c.ws != nil {
			if err := c.ws.Invalidate(ctx, ev.UserID); err != nil {
				obs.IncRefresh(string(ev.Kind), "error")
				revert()
				return fmt.Errorf("invalidate workspace %s: %w", ev.UserID, err)
			}
		}
	case KindCatalog:
		c.catalog.Invalidate()
	}
	obs.IncRefresh(string(ev.Kind), "applied")
	c.logger.InfoContext(ctx, "refresh applied", "kind", string(ev.Kind), "user", ev.UserID, "revision", ev.Revision)
	return nil
}
