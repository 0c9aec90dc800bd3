// Package rooms decides which rooms an incremental sync between two stream
// tokens has to report for a user.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/token"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

var ErrInvalidRange = errors.New("invalid token range")

// InvalidRangeError is returned when from does not happen before or at to.
type InvalidRangeError struct {
	From token.Token
	To   token.Token
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("%s: from token %s is not before or equal to %s", ErrInvalidRange, e.From, e.To)
}

func (e *InvalidRangeError) Is(target error) bool {
	return target == ErrInvalidRange
}

type Resolver struct {
	log   membership.Log
	known func(token.WriterID) bool
}

type Option func(*Resolver)

// WithWriters reports token writers the deployment does not know. They are
// still resolved through the token floor.
func WithWriters(known func(token.WriterID) bool) Option {
	return func(r *Resolver) {
		r.known = known
	}
}

func New(l membership.Log, opts ...Option) *Resolver {
	initMetrics()
	r := &Resolver{log: l}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveRoomSet returns the rooms user must be told about for the range
// (from, to]. Either the whole set or an error is returned.
func (r *Resolver) ResolveRoomSet(
	ctx context.Context,
	user membership.UserID,
	from, to token.Token,
) (rooms map[membership.RoomID]struct{}, err error) {
	start := time.Now()
	defer func() {
		resolveDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			resolveErrors.WithLabelValues(errorKind(err)).Inc()
		}
	}()
	if !from.IsBeforeOrEqual(to) {
		return nil, &InvalidRangeError{From: from, To: to}
	}
	r.checkWriters(from, to)

	records, err := r.log.QueryUserRoomMemberships(ctx, user, to)
	if err != nil {
		return nil, membership.Unavailable(err)
	}
	histories := summarize(records, from)

	rooms = make(map[membership.RoomID]struct{}, len(histories))
	for room, h := range histories {
		switch h.verdict() {
		case include:
			rooms[room] = struct{}{}
		case includeUnlessForgotten:
			forgotten, err := r.log.IsForgotten(ctx, user, room)
			if err != nil {
				return nil, membership.Unavailable(err)
			}
			if !forgotten {
				rooms[room] = struct{}{}
			}
		}
	}
	log.Trace("resolved rooms", "user", user, "from", from, "to", to,
		"records", len(records), "rooms", len(rooms))
	return rooms, nil
}

func (r *Resolver) checkWriters(tokens ...token.Token) {
	if r.known == nil {
		return
	}
	for _, t := range tokens {
		for _, w := range t.Writers() {
			if !r.known(w) {
				unknownWriters.WithLabelValues(string(w)).Inc()
				log.Warning("token names an unknown writer, using its position as given",
					"writer", w, "token", t)
			}
		}
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, membership.ErrLogUnavailable):
		return "log_unavailable"
	}
	return "other"
}
