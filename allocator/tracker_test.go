package allocator

import (
	"errors"
	"testing"
	"time"

	"github.com/iidesho/roomsync/token"
)

func TestCurrentTokenScalarWhenInSync(t *testing.T) {
	w1 := mustNew(t, "worker1")
	w2 := mustNew(t, "worker2")
	tr, err := NewTracker(w1, w2)
	if err != nil {
		t.Fatal(err)
	}
	if tok := tr.CurrentToken(); !tok.Equal(token.Scalar(0)) {
		t.Fatalf("fresh writers should give s0, got %s", tok)
	}
	_ = w1.Reserve().Commit()
	_ = w2.Reserve().Commit()
	if tok := tr.CurrentToken(); !tok.Equal(token.Scalar(1)) {
		t.Fatalf("writers in sync should give a scalar token, got %s", tok)
	}
}

func TestCurrentTokenWithStuckWriter(t *testing.T) {
	w1 := mustNew(t, "worker1")
	w2 := mustNew(t, "worker2")
	w3 := mustNew(t, "worker3")
	tr, err := NewTracker(w1, w2, w3)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range []*Allocator{w1, w2, w3} {
		_ = a.Reserve().Commit()
	}
	before := tr.CurrentToken()

	stuck := w2.Reserve()
	for i := 0; i < 3; i++ {
		_ = w1.Reserve().Commit()
		_ = w2.Reserve().Commit()
		_ = w3.Reserve().Commit()
	}
	during := tr.CurrentToken()
	if during.IsScalar() {
		t.Fatalf("expected writers to diverge, got %s", during)
	}
	if during.Floor() != 1 || during.PositionFor("worker2") != 1 {
		t.Fatalf("worker2 should be held at 1, got %s", during)
	}
	if during.PositionFor("worker1") != 4 || during.PositionFor("worker3") != 4 {
		t.Fatalf("unexpected token %s", during)
	}
	if !before.IsBeforeOrEqual(during) {
		t.Fatalf("%s should not be after %s", before, during)
	}

	_ = stuck.Commit()
	after := tr.CurrentToken()
	if !after.Equal(token.Scalar(4)) {
		t.Fatalf("expected s4 once unstuck, got %s", after)
	}
	if !during.IsBeforeOrEqual(after) {
		t.Fatal("tokens must not go backwards")
	}
}

func TestUnknownWriter(t *testing.T) {
	tr, err := NewTracker(mustNew(t, "worker1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Watermark("worker9"); !errors.Is(err, ErrUnknownWriter) {
		t.Fatalf("expected unknown writer, got %v", err)
	}
	if tr.Known("worker9") || !tr.Known("worker1") {
		t.Fatal("known writers reported wrongly")
	}
	if err := tr.Register(mustNew(t, "worker1")); !errors.Is(err, ErrDuplicateWriter) {
		t.Fatalf("expected duplicate writer error, got %v", err)
	}
}

func TestStuck(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := WithClock(func() time.Time { return now })
	w1 := mustNew(t, "worker1", clock)
	w2 := mustNew(t, "worker2", clock)
	tr, err := NewTracker(w1, w2)
	if err != nil {
		t.Fatal(err)
	}
	r := w2.Reserve()
	_ = w1.Reserve()
	now = now.Add(time.Minute)
	_ = w1.Reserve()
	if a, _ := tr.Allocator("worker1"); a.LastAllocated() != 2 || a.Watermark() != 0 {
		t.Fatalf("worker1 allocated %d watermark %d", a.LastAllocated(), a.Watermark())
	}

	stuck := tr.Stuck(30 * time.Second)
	if len(stuck) != 2 {
		t.Fatalf("expected both writers to be stuck, got %v", stuck)
	}
	if stuck[1].Writer != "worker2" || stuck[1].Position != r.Position() || stuck[1].Allocated != r.Position() {
		t.Fatalf("unexpected report %v", stuck[1])
	}
	if !errors.Is(stuck[1], ErrStuckWriter) {
		t.Fatal("stuck report should match ErrStuckWriter")
	}
	_ = r.Commit()
	if stuck := tr.Stuck(30 * time.Second); len(stuck) != 1 || stuck[0].Writer != "worker1" {
		t.Fatalf("expected only worker1 to remain stuck, got %v", stuck)
	}
}
