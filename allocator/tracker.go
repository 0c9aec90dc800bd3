package allocator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iidesho/roomsync/token"
)

var (
	ErrUnknownWriter   = errors.New("unknown writer")
	ErrDuplicateWriter = errors.New("writer already registered")
	ErrStuckWriter     = errors.New("stuck writer")
)

// Tracker knows every writer of the stream and builds tokens from their watermarks.
type Tracker struct {
	lock    sync.RWMutex
	writers map[token.WriterID]*Allocator
}

func NewTracker(allocators ...*Allocator) (*Tracker, error) {
	initMetrics()
	t := &Tracker{
		writers: make(map[token.WriterID]*Allocator, len(allocators)),
	}
	for _, a := range allocators {
		err := t.Register(a)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tracker) Register(a *Allocator) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.writers[a.writer]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateWriter, a.writer)
	}
	t.writers[a.writer] = a
	return nil
}

func (t *Tracker) Allocator(w token.WriterID) (*Allocator, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	a, ok := t.writers[w]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWriter, w)
	}
	return a, nil
}

func (t *Tracker) Known(w token.WriterID) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	_, ok := t.writers[w]
	return ok
}

func (t *Tracker) Watermark(w token.WriterID) (token.StreamPosition, error) {
	a, err := t.Allocator(w)
	if err != nil {
		return 0, err
	}
	return a.Watermark(), nil
}

// Writers returns the registered writers, sorted.
func (t *Tracker) Writers() []token.WriterID {
	t.lock.RLock()
	defer t.lock.RUnlock()
	ws := make([]token.WriterID, 0, len(t.writers))
	for w := range t.writers {
		ws = append(ws, w)
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i] < ws[j] })
	return ws
}

// CurrentToken snapshots every watermark. The floor is the lowest watermark and
// only writers ahead of it get an entry. Watermarks never go backwards, so a
// token built from reads taken one after the other is still a valid lower
// bound of what has been committed.
func (t *Tracker) CurrentToken() token.Token {
	t.lock.RLock()
	marks := make(map[token.WriterID]token.StreamPosition, len(t.writers))
	for w, a := range t.writers {
		marks[w] = a.Watermark()
	}
	t.lock.RUnlock()
	if len(marks) == 0 {
		return token.Scalar(0)
	}
	first := true
	var floor token.StreamPosition
	for _, p := range marks {
		if first || p < floor {
			floor = p
			first = false
		}
	}
	return token.New(floor, marks)
}

// StuckWriter reports a writer whose oldest reservation has been open for too long.
type StuckWriter struct {
	Writer    token.WriterID
	Position  token.StreamPosition
	Watermark token.StreamPosition
	// Allocated is the highest position handed out, everything between
	// Watermark and Allocated is waiting on Position.
	Allocated token.StreamPosition
	Age       time.Duration
}

func (s StuckWriter) Error() string {
	return fmt.Sprintf("writer %s stuck at position %d for %s, watermark held at %d with %d allocated",
		s.Writer, s.Position, s.Age, s.Watermark, s.Allocated)
}

func (s StuckWriter) Is(target error) bool {
	return target == ErrStuckWriter
}

// Stuck lists the writers holding a reservation open for longer than threshold.
func (t *Tracker) Stuck(threshold time.Duration) []StuckWriter {
	var stuck []StuckWriter
	for _, w := range t.Writers() {
		a, err := t.Allocator(w)
		if err != nil {
			continue
		}
		pos, age, ok := a.Oldest()
		if !ok || age < threshold {
			continue
		}
		stuck = append(stuck, StuckWriter{
			Writer:    w,
			Position:  pos,
			Watermark: a.Watermark(),
			Allocated: a.LastAllocated(),
			Age:       age,
		})
	}
	return stuck
}

// Monitor checks for stuck writers every interval until ctx is done. A stuck
// writer only delays tokens, it is reported and counted, nothing else.
func (t *Tracker) Monitor(ctx context.Context, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range t.Stuck(threshold) {
				stuckCount.WithLabelValues(string(s.Writer)).Inc()
				log.WithError(s).Warning("writer is holding back its watermark",
					"writer", s.Writer, "position", s.Position, "allocated", s.Allocated, "age", s.Age)
			}
		}
	}
}
