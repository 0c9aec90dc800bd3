package allocator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iidesho/roomsync/storage"
	"github.com/iidesho/roomsync/token"
)

func mustNew(t *testing.T, w token.WriterID, opts ...Option) *Allocator {
	t.Helper()
	a, err := New(w, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestReserveIsMonotonic(t *testing.T) {
	a := mustNew(t, "worker1")
	for i := 1; i <= 5; i++ {
		r := a.Reserve()
		if r.Position() != token.StreamPosition(i) {
			t.Fatalf("expected position %d, got %d", i, r.Position())
		}
		if err := r.Commit(); err != nil {
			t.Fatal(err)
		}
	}
	if a.Watermark() != 5 {
		t.Fatalf("watermark %d", a.Watermark())
	}
}

func TestWatermarkOnlyAdvancesContiguously(t *testing.T) {
	a := mustNew(t, "worker2")
	stuck := a.Reserve()
	later := a.Reserve()
	last := a.Reserve()

	if err := later.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := last.Commit(); err != nil {
		t.Fatal(err)
	}
	if a.Watermark() != 0 {
		t.Fatalf("watermark moved past an open reservation: %d", a.Watermark())
	}
	if a.Outstanding() != 1 {
		t.Fatalf("expected one outstanding reservation, got %d", a.Outstanding())
	}

	if err := stuck.Commit(); err != nil {
		t.Fatal(err)
	}
	if a.Watermark() != 3 {
		t.Fatalf("watermark should catch up to 3, got %d", a.Watermark())
	}
}

func TestAbortIsNotAGap(t *testing.T) {
	a := mustNew(t, "worker1")
	r1 := a.Reserve()
	r2 := a.Reserve()
	if err := r1.Abort(); err != nil {
		t.Fatal(err)
	}
	if err := r2.Commit(); err != nil {
		t.Fatal(err)
	}
	if a.Watermark() != 2 {
		t.Fatalf("aborted position must not hold the watermark, got %d", a.Watermark())
	}
}

func TestFinishTwice(t *testing.T) {
	a := mustNew(t, "worker1")
	r := a.Reserve()
	if err := r.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := r.Commit(); !errors.Is(err, ErrReservationFinished) {
		t.Fatalf("second commit should fail, got %v", err)
	}
	if err := r.Abort(); !errors.Is(err, ErrReservationFinished) {
		t.Fatalf("abort after commit should fail, got %v", err)
	}
	r.Release()
	if a.Watermark() != 1 {
		t.Fatalf("double finish must not be counted, watermark %d", a.Watermark())
	}
}

func TestWithReservation(t *testing.T) {
	a := mustNew(t, "worker1")
	pos, err := a.WithReservation(context.Background(), func(_ context.Context, p token.StreamPosition) error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if pos != 1 || a.Watermark() != 1 {
		t.Fatalf("pos %d watermark %d", pos, a.Watermark())
	}

	failure := errors.New("write failed")
	_, err = a.WithReservation(context.Background(), func(_ context.Context, p token.StreamPosition) error {
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected write failure, got %v", err)
	}
	if a.Watermark() != 2 || a.Outstanding() != 0 {
		t.Fatal("failed write must be released as skipped")
	}

	func() {
		defer func() { _ = recover() }()
		_, _ = a.WithReservation(context.Background(), func(_ context.Context, p token.StreamPosition) error {
			panic("boom")
		})
	}()
	if a.Watermark() != 3 || a.Outstanding() != 0 {
		t.Fatalf("panicking write must be released, watermark %d", a.Watermark())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.WithReservation(ctx, func(_ context.Context, p token.StreamPosition) error {
		t.Fatal("fn should not run on a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if a.Watermark() != 4 {
		t.Fatalf("cancelled reservation must be released, watermark %d", a.Watermark())
	}
}

func TestConcurrentReservations(t *testing.T) {
	a := mustNew(t, "worker1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := a.Reserve()
			defer r.Release()
			if r.Position()%7 == 0 {
				return
			}
			_ = r.Commit()
		}()
	}
	wg.Wait()
	if a.Watermark() != 50 || a.Outstanding() != 0 {
		t.Fatalf("watermark %d outstanding %d", a.Watermark(), a.Outstanding())
	}
}

func TestInvalidWriter(t *testing.T) {
	if _, err := New("bad~writer"); !errors.Is(err, ErrInvalidWriter) {
		t.Fatalf("expected invalid writer, got %v", err)
	}
	if _, err := New(""); !errors.Is(err, ErrInvalidWriter) {
		t.Fatalf("expected invalid writer, got %v", err)
	}
}

func TestCheckpointResume(t *testing.T) {
	dir := t.TempDir()
	cp, err := storage.NewWPos[struct{}](dir, "watermark")
	if err != nil {
		t.Fatal(err)
	}
	a := mustNew(t, "worker1", WithCheckpoint(cp))
	for i := 0; i < 3; i++ {
		if err := a.Reserve().Commit(); err != nil {
			t.Fatal(err)
		}
	}
	open := a.Reserve()
	_ = open
	if err := cp.Close(); err != nil {
		t.Fatal(err)
	}

	cp, err = storage.NewWPos[struct{}](dir, "watermark")
	if err != nil {
		t.Fatal(err)
	}
	defer cp.Close()
	b := mustNew(t, "worker1", WithCheckpoint(cp))
	if b.Watermark() != 3 {
		t.Fatalf("expected resumed watermark 3, got %d", b.Watermark())
	}
	if r := b.Reserve(); r.Position() != 4 {
		t.Fatalf("expected next position 4, got %d", r.Position())
	}

	c := mustNew(t, "worker1", WithStart(10))
	if r := c.Reserve(); r.Position() != 11 {
		t.Fatalf("expected position after start, got %d", r.Position())
	}
}

func TestOldest(t *testing.T) {
	now := time.Unix(1000, 0)
	a := mustNew(t, "worker1", WithClock(func() time.Time { return now }))
	if _, _, ok := a.Oldest(); ok {
		t.Fatal("fresh allocator has nothing outstanding")
	}
	first := a.Reserve()
	now = now.Add(time.Second)
	second := a.Reserve()
	now = now.Add(time.Second)
	pos, age, ok := a.Oldest()
	if !ok || pos != first.Position() || age != 2*time.Second {
		t.Fatalf("oldest %d age %s", pos, age)
	}
	_ = first.Commit()
	pos, age, ok = a.Oldest()
	if !ok || pos != second.Position() || age != time.Second {
		t.Fatalf("oldest %d age %s", pos, age)
	}
}
