// Package allocator hands out stream positions for one writer and tracks
// which of them have been committed.
//
// Positions are reserved, then either committed once the write is durable or
// aborted. Both finish the reservation. The writer's watermark only moves over
// a contiguous prefix of finished positions, so one slow reservation holds the
// watermark back while later ones keep completing behind it.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/roomsync/storage"
	"github.com/iidesho/roomsync/token"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

var (
	ErrReservationFinished = errors.New("reservation already finished")
	ErrInvalidWriter       = errors.New("invalid writer id")
)

// Checkpoint persists the watermark so that a restarted writer resumes after it.
// storage.PosStorage satisfies it.
type Checkpoint interface {
	SetUInt64(v uint64) error
	GetUInt64() (v uint64, err error)
}

type Allocator struct {
	writer token.WriterID

	lock        sync.Mutex
	last        token.StreamPosition
	watermark   token.StreamPosition
	outstanding map[token.StreamPosition]time.Time
	finished    map[token.StreamPosition]struct{}

	checkpoint Checkpoint
	start      token.StreamPosition
	now        func() time.Time
}

type Option func(*Allocator)

// WithStart treats every position up to and including pos as committed.
func WithStart(pos token.StreamPosition) Option {
	return func(a *Allocator) {
		if pos > a.start {
			a.start = pos
		}
	}
}

func WithCheckpoint(c Checkpoint) Option {
	return func(a *Allocator) {
		a.checkpoint = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		a.now = now
	}
}

func New(writer token.WriterID, opts ...Option) (*Allocator, error) {
	if !token.ValidWriterID(writer) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWriter, writer)
	}
	initMetrics()
	a := &Allocator{
		writer:      writer,
		outstanding: make(map[token.StreamPosition]time.Time),
		finished:    make(map[token.StreamPosition]struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.checkpoint != nil {
		stored, err := a.checkpoint.GetUInt64()
		if err != nil && !storage.IsNotFound(err) {
			return nil, fmt.Errorf("reading watermark checkpoint for %s: %w", writer, err)
		}
		if token.StreamPosition(stored) > a.start {
			a.start = token.StreamPosition(stored)
		}
	}
	a.last = a.start
	a.watermark = a.start
	log.Debug("allocator ready", "writer", writer, "watermark", a.watermark)
	watermarkGauge.WithLabelValues(string(writer)).Set(float64(a.watermark))
	outstandingGauge.WithLabelValues(string(writer)).Set(0)
	return a, nil
}

func (a *Allocator) Writer() token.WriterID {
	return a.writer
}

// Reserve allocates the next position. The returned reservation must be
// finished with Commit or Abort, Release in a defer covers the error paths.
func (a *Allocator) Reserve() *Reservation {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.last++
	a.outstanding[a.last] = a.now()
	outstandingGauge.WithLabelValues(string(a.writer)).Set(float64(len(a.outstanding)))
	return &Reservation{
		allocator: a,
		position:  a.last,
	}
}

// WithReservation runs fn with a fresh position. The position is committed if
// fn returns nil and aborted if it fails or panics.
func (a *Allocator) WithReservation(
	ctx context.Context,
	fn func(ctx context.Context, pos token.StreamPosition) error,
) (pos token.StreamPosition, err error) {
	r := a.Reserve()
	defer r.Release()
	err = ctx.Err()
	if err != nil {
		return 0, err
	}
	err = fn(ctx, r.Position())
	if err != nil {
		return 0, err
	}
	return r.Position(), r.Commit()
}

// Watermark is the highest position with no unfinished position before it.
func (a *Allocator) Watermark() token.StreamPosition {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.watermark
}

// LastAllocated is the highest position handed out so far.
func (a *Allocator) LastAllocated() token.StreamPosition {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.last
}

func (a *Allocator) Outstanding() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return len(a.outstanding)
}

// Oldest returns the lowest unfinished position and how long it has been held.
func (a *Allocator) Oldest() (pos token.StreamPosition, age time.Duration, ok bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	for p, since := range a.outstanding {
		if !ok || p < pos {
			pos = p
			age = a.now().Sub(since)
			ok = true
		}
	}
	return
}

func (a *Allocator) finish(pos token.StreamPosition, aborted bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	delete(a.outstanding, pos)
	a.finished[pos] = struct{}{}
	if aborted {
		abortedCount.WithLabelValues(string(a.writer)).Inc()
	}
	before := a.watermark
	for {
		if _, ok := a.finished[a.watermark+1]; !ok {
			break
		}
		delete(a.finished, a.watermark+1)
		a.watermark++
	}
	outstandingGauge.WithLabelValues(string(a.writer)).Set(float64(len(a.outstanding)))
	if a.watermark == before {
		log.Trace("finished position behind an unfinished one",
			"writer", a.writer, "position", pos, "watermark", a.watermark)
		return
	}
	watermarkGauge.WithLabelValues(string(a.writer)).Set(float64(a.watermark))
	if a.checkpoint != nil {
		log.WithError(a.checkpoint.SetUInt64(uint64(a.watermark))).
			Error("storing watermark checkpoint", "writer", a.writer, "watermark", a.watermark)
	}
}

type Reservation struct {
	allocator *Allocator
	position  token.StreamPosition
	done      atomic.Bool
}

func (r *Reservation) Position() token.StreamPosition {
	return r.position
}

func (r *Reservation) Writer() token.WriterID {
	return r.allocator.writer
}

// Commit marks the position as used.
func (r *Reservation) Commit() error {
	if !r.done.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s.%d", ErrReservationFinished, r.allocator.writer, r.position)
	}
	r.allocator.finish(r.position, false)
	return nil
}

// Abort marks the position as skipped, it never shows up as a gap.
func (r *Reservation) Abort() error {
	if !r.done.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s.%d", ErrReservationFinished, r.allocator.writer, r.position)
	}
	log.Debug("aborting reservation", "writer", r.allocator.writer, "position", r.position)
	r.allocator.finish(r.position, true)
	return nil
}

// Release aborts the reservation unless it has already been finished.
func (r *Reservation) Release() {
	if r.done.Load() {
		return
	}
	_ = r.Abort()
}
