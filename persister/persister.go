// Package persister is the write side of the membership stream. Each writer
// reserves a position, appends the record at it and commits the position once
// the append is durable.
package persister

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/roomsync/allocator"
	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/metrics"
	"github.com/iidesho/roomsync/token"
	"github.com/prometheus/client_golang/prometheus"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

var ErrNoWriter = errors.New("no writer for room")

var (
	metricsOnce  sync.Once
	persistCount *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		persistCount, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_persisted_total",
			Help: "membership records persisted per writer and membership",
		}, []string{"writer", "membership"}))
		log.WithError(err).Error("registering persist counter")
	})
}

// NewAllocator creates the allocator of writer, resuming after the highest
// position the log already holds for it.
func NewAllocator(
	ctx context.Context,
	appender membership.Appender,
	writer token.WriterID,
	opts ...allocator.Option,
) (*allocator.Allocator, error) {
	max, err := appender.MaxPosition(ctx, writer)
	if err != nil {
		return nil, fmt.Errorf("resuming writer %s: %w", writer, err)
	}
	return allocator.New(writer, append([]allocator.Option{allocator.WithStart(max)}, opts...)...)
}

type Persister struct {
	alloc *allocator.Allocator
	log   membership.Appender
	rooms *roomLocks
}

func New(alloc *allocator.Allocator, appender membership.Appender) *Persister {
	initMetrics()
	return &Persister{
		alloc: alloc,
		log:   appender,
		rooms: newRoomLocks(),
	}
}

func (p *Persister) Writer() token.WriterID {
	return p.alloc.Writer()
}

// Persist stamps r with this writer, a position and an event id if it has
// none, and appends it. The stored record is returned. Writes to one room are
// serialised from reservation to append, so a room's records are appended in
// position order.
func (p *Persister) Persist(ctx context.Context, r membership.Record) (membership.Record, error) {
	if r.EventID.IsNil() {
		id, err := uuid.NewV7()
		if err != nil {
			return membership.Record{}, err
		}
		r.EventID = id
	}
	if r.Sender == "" {
		r.Sender = r.UserID
	}
	r.Writer = p.alloc.Writer()
	release := p.rooms.acquire(r.RoomID)
	defer release()
	_, err := p.alloc.WithReservation(ctx, func(ctx context.Context, pos token.StreamPosition) error {
		r.Position = pos
		return p.log.Append(ctx, r)
	})
	if err != nil {
		log.WithError(err).Debug("persisting membership failed",
			"writer", r.Writer, "room", r.RoomID, "user", r.UserID)
		return membership.Record{}, err
	}
	persistCount.WithLabelValues(string(r.Writer), string(r.Membership)).Inc()
	return r, nil
}

// Set routes records to the persister of the writer owning the room.
type Set struct {
	router     Router
	log        membership.Appender
	persisters map[token.WriterID]*Persister
}

func NewSet(router Router, appender membership.Appender, persisters ...*Persister) *Set {
	s := &Set{
		router:     router,
		log:        appender,
		persisters: make(map[token.WriterID]*Persister, len(persisters)),
	}
	for _, p := range persisters {
		s.persisters[p.Writer()] = p
	}
	return s
}

func (s *Set) Persist(ctx context.Context, r membership.Record) (membership.Record, error) {
	w := s.router.WriterFor(r.RoomID)
	p, ok := s.persisters[w]
	if !ok {
		return membership.Record{}, fmt.Errorf("%w: %s routed to %q", ErrNoWriter, r.RoomID, w)
	}
	return p.Persist(ctx, r)
}

// Forget marks room as forgotten for user. It is not a stream event and takes
// no position.
func (s *Set) Forget(ctx context.Context, user membership.UserID, room membership.RoomID) error {
	return s.log.Forget(ctx, user, room)
}
