// Package selectionevents provides a Kafka publisher for completed
// billboard selections.
package selectionevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/biq-mapview/internal/core/observability"
)

type Event struct {
	ViewID      string    `json:"view_id"`
	LayerID     string    `json:"layer_id"`
	Username    string    `json:"username"`
	Method      string    `json:"method"`
	Fingerprint string    `json:"fingerprint"`
	Sites       int       `json:"sites"`
	Cells       int       `json:"cells,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	TS          time.Time `json:"ts"`
}

type Publisher struct {
	topic     string
	logger    *slog.Logger
	events    chan Event
	prod      sarama.AsyncProducer
	stopped   chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(logger *slog.Logger, brokers []string, topic string, queueSize int) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("selectionevents: no brokers configured")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("selectionevents: create async producer: %w", err)
	}
	return NewPublisherWithProducer(logger, prod, topic, queueSize), nil
}

// NewPublisherWithProducer wires an existing producer. Close closes it.
func NewPublisherWithProducer(logger *slog.Logger, prod sarama.AsyncProducer, topic string, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		topic:   topic,
		logger:  logger.With("component", "selectionevents", "topic", topic),
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("marshal selection event", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.ViewID),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish enqueues ev without blocking. A full queue, or a closed
// publisher, drops the event.
func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		observability.IncEventsDropped()
		p.logger.Debug("selection event after close dropped", "view_id", ev.ViewID)
		return
	}
	select {
	case p.events <- ev:
	default:
		observability.IncEventsDropped()
		p.logger.Debug("selection event dropped", "view_id", ev.ViewID)
	}
}

func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()
		<-p.stopped
		if cerr := p.prod.Close(); cerr != nil {
			err = fmt.Errorf("selectionevents: close producer: %w", cerr)
		}
	})
	return err
}
