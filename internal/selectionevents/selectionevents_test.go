package selectionevents

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/IBM/sarama/mocks"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublish_SendsJSON(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	prod.ExpectInputWithCheckerFunctionAndSucceed(func(b []byte) error {
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return err
		}
		if ev.ViewID != "v1" || ev.Sites != 3 || ev.Method != "solver.sp_gurobi" {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		if ev.TS.IsZero() {
			return fmt.Errorf("timestamp not set")
		}
		return nil
	})

	p := NewPublisherWithProducer(discard(), prod, "billboard-selections", 8)
	p.Publish(Event{ViewID: "v1", Username: "u1", Method: "solver.sp_gurobi", Sites: 3})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublish_AfterQueueFullDoesNotBlock(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	p := &Publisher{
		topic:   "t",
		logger:  discard(),
		events:  make(chan Event, 1),
		prod:    prod,
		stopped: make(chan struct{}),
	}
	// no consumer goroutine: the second publish must drop
	p.Publish(Event{ViewID: "a"})
	p.Publish(Event{ViewID: "b"})
	if len(p.events) != 1 {
		t.Fatalf("queue len = %d, want 1", len(p.events))
	}
	if err := prod.Close(); err != nil {
		t.Fatalf("producer close: %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	p := NewPublisherWithProducer(discard(), prod, "t", 1)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestPublish_AfterCloseIsDropped(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	p := NewPublisherWithProducer(discard(), prod, "t", 4)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Publish(Event{ViewID: fmt.Sprintf("late-%d", i)})
		}()
	}
	wg.Wait()
}

func TestNewPublisher_NoBrokers(t *testing.T) {
	if _, err := NewPublisher(discard(), nil, "t", 1); err == nil {
		t.Fatalf("expected error without brokers")
	}
}
