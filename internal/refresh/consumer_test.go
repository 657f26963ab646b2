package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

type fakeWorkspaces struct {
	mu       sync.Mutex
	failNext bool
	users    []string
}

func (f *fakeWorkspaces) Invalidate(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	if f.failNext {
		f.failNext = false
		return errors.New("redis down")
	}
	return nil
}

type fakeCatalog struct {
	mu    sync.Mutex
	purge int
}

func (f *fakeCatalog) Invalidate() {
	f.mu.Lock()
	f.purge++
	f.mu.Unlock()
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Commit()                                          {}

type claim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "mapview-refresh" }
func (c *claim) Partition() int32                         { return 0 }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(t *testing.T, ev Event) []byte {
	t.Helper()
	if ev.Version == 0 {
		ev.Version = 1
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func msgAt(off int64, v []byte) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "mapview-refresh", Offset: off, Value: v}
}

func newConsumerForTest(ws WorkspaceInvalidator, cat CatalogInvalidator) *Consumer {
	return New(Config{Brokers: []string{"x"}, Topic: "mapview-refresh", GroupID: "g"}, slog.Default(), ws, cat)
}

func TestConsumeClaim_AppliesAndMarksInOrder(t *testing.T) {
	ws := &fakeWorkspaces{}
	cat := &fakeCatalog{}
	c := newConsumerForTest(ws, cat)

	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- msgAt(10, eventBytes(t, Event{Kind: KindWorkspace, UserID: "u1", Revision: 1}))
	ch <- msgAt(11, eventBytes(t, Event{Kind: KindCatalog, Revision: 1}))
	ch <- msgAt(12, []byte("{not json"))
	close(ch)

	s := &sess{ctx: t.Context()}
	g := &groupHandler{process: c.ProcessOne}
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 3 || s.marked[0] != 10 || s.marked[2] != 12 {
		t.Fatalf("marked=%v want [10 11 12]", s.marked)
	}
	if len(ws.users) != 1 || ws.users[0] != "u1" {
		t.Fatalf("workspace invalidations=%v", ws.users)
	}
	if cat.purge != 1 {
		t.Fatalf("catalog purges=%d want 1", cat.purge)
	}
}

func TestProcessOne_SkipsStaleRevision(t *testing.T) {
	cat := &fakeCatalog{}
	c := newConsumerForTest(nil, cat)
	ctx := context.Background()

	for i, rev := range []uint64{3, 2, 3, 4} {
		if err := c.ProcessOne(ctx, msgAt(int64(i), eventBytes(t, Event{Kind: KindCatalog, Revision: rev}))); err != nil {
			t.Fatalf("rev %d: %v", rev, err)
		}
	}
	if cat.purge != 2 {
		t.Fatalf("purges=%d want 2 (revisions 3 and 4)", cat.purge)
	}
}

func TestProcessOne_RetryAfterFailure(t *testing.T) {
	ws := &fakeWorkspaces{failNext: true}
	c := newConsumerForTest(ws, &fakeCatalog{})
	ctx := context.Background()

	msg := msgAt(5, eventBytes(t, Event{Kind: KindWorkspace, UserID: "u1", Revision: 9}))
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	g := &groupHandler{process: c.ProcessOne}
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset not marked after success; marked=%v", s.marked)
	}
	if len(ws.users) != 2 {
		t.Fatalf("invalidate calls=%d want 2", len(ws.users))
	}
}

func TestConsumeClaim_ErrorStopsWithoutMark(t *testing.T) {
	ws := &fakeWorkspaces{failNext: true}
	c := newConsumerForTest(ws, &fakeCatalog{})

	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- msgAt(1, eventBytes(t, Event{Kind: KindWorkspace, UserID: "u1", Revision: 1}))
	ch <- msgAt(2, eventBytes(t, Event{Kind: KindWorkspace, UserID: "u2", Revision: 1}))
	close(ch)

	s := &sess{ctx: t.Context()}
	g := &groupHandler{process: c.ProcessOne}
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatalf("expected error")
	}
	if len(s.marked) != 0 {
		t.Fatalf("marked=%v want none", s.marked)
	}
}

func TestEventValidate(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		ok   bool
	}{
		{"workspace", Event{Version: 1, Kind: KindWorkspace, UserID: "u", Revision: 1}, true},
		{"catalog", Event{Version: 1, Kind: KindCatalog, Revision: 1}, true},
		{"bad version", Event{Version: 2, Kind: KindCatalog, Revision: 1}, false},
		{"workspace without user", Event{Version: 1, Kind: KindWorkspace, UserID: " ", Revision: 1}, false},
		{"unknown kind", Event{Version: 1, Kind: "tiles", Revision: 1}, false},
		{"no revision", Event{Version: 1, Kind: KindCatalog}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ev.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("Validate()=%v ok=%v", err, tc.ok)
			}
		})
	}
}

func TestProcessOne_FailureKeepsPreviousRevision(t *testing.T) {
	ws := &fakeWorkspaces{}
	c := newConsumerForTest(ws, &fakeCatalog{})
	ctx := context.Background()
	ev := func(rev uint64) *sarama.ConsumerMessage {
		return msgAt(int64(rev), eventBytes(t, Event{Kind: KindWorkspace, UserID: "u1", Revision: rev}))
	}

	if err := c.ProcessOne(ctx, ev(5)); err != nil {
		t.Fatalf("rev 5: %v", err)
	}
	ws.failNext = true
	if err := c.ProcessOne(ctx, ev(7)); err == nil {
		t.Fatalf("expected rev 7 to fail")
	}
	if err := c.ProcessOne(ctx, ev(4)); err != nil {
		t.Fatalf("rev 4: %v", err)
	}
	if err := c.ProcessOne(ctx, ev(7)); err != nil {
		t.Fatalf("rev 7 retry: %v", err)
	}

	// 5, failed 7, retried 7; the older 4 must stay stale
	if len(ws.users) != 3 {
		t.Fatalf("invalidate calls = %d, want 3", len(ws.users))
	}
}

func TestRevisionDedupe_RevertKeepsNewer(t *testing.T) {
	d := newRevisionDedupe(8)
	revert, ok := d.tryApply("k", 3)
	if !ok {
		t.Fatalf("first revision rejected")
	}
	if _, ok := d.tryApply("k", 4); !ok {
		t.Fatalf("newer revision rejected")
	}
	revert()
	if _, ok := d.tryApply("k", 4); ok {
		t.Fatalf("revert of 3 erased the newer revision 4")
	}
}
