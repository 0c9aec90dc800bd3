// Package inmemory is a process local membership log.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/token"
)

type roomKey struct {
	user membership.UserID
	room membership.RoomID
}

type writerPos struct {
	writer token.WriterID
	pos    token.StreamPosition
}

// Log keeps records per user in append order.
type Log struct {
	lock      sync.RWMutex
	byUser    map[membership.UserID][]membership.Record
	events    map[uuid.UUID]struct{}
	positions map[writerPos]struct{}
	max       map[token.WriterID]token.StreamPosition
	forgotten map[roomKey]struct{}
}

func New() *Log {
	return &Log{
		byUser:    make(map[membership.UserID][]membership.Record),
		events:    make(map[uuid.UUID]struct{}),
		positions: make(map[writerPos]struct{}),
		max:       make(map[token.WriterID]token.StreamPosition),
		forgotten: make(map[roomKey]struct{}),
	}
}

func (l *Log) Append(ctx context.Context, r membership.Record) error {
	err := ctx.Err()
	if err != nil {
		return err
	}
	err = r.Validate()
	if err != nil {
		return err
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.add(r)
}

// Load adds an already persisted record, used when rebuilding from a backing store.
func (l *Log) Load(r membership.Record) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.add(r)
}

// Check reports whether r would be rejected as a duplicate, without adding it.
func (l *Log) Check(r membership.Record) error {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.check(r)
}

func (l *Log) add(r membership.Record) error {
	err := l.check(r)
	if err != nil {
		return err
	}
	if !r.EventID.IsNil() {
		l.events[r.EventID] = struct{}{}
	}
	l.positions[writerPos{writer: r.Writer, pos: r.Position}] = struct{}{}
	l.byUser[r.UserID] = append(l.byUser[r.UserID], r)
	if r.Position > l.max[r.Writer] {
		l.max[r.Writer] = r.Position
	}
	return nil
}

func (l *Log) check(r membership.Record) error {
	if !r.EventID.IsNil() {
		if _, ok := l.events[r.EventID]; ok {
			return fmt.Errorf("%w: %s", membership.ErrDuplicateEvent, r.EventID)
		}
	}
	wp := writerPos{writer: r.Writer, pos: r.Position}
	if _, ok := l.positions[wp]; ok {
		return fmt.Errorf("%w: position %s.%d already used", membership.ErrDuplicateEvent, r.Writer, r.Position)
	}
	return nil
}

func (l *Log) QueryUserRoomMemberships(
	ctx context.Context,
	user membership.UserID,
	upTo token.Token,
) ([]membership.Record, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}
	l.lock.RLock()
	defer l.lock.RUnlock()
	var out []membership.Record
	for _, r := range l.byUser[user] {
		if membership.Visible(r, upTo) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *Log) IsForgotten(ctx context.Context, user membership.UserID, room membership.RoomID) (bool, error) {
	err := ctx.Err()
	if err != nil {
		return false, err
	}
	l.lock.RLock()
	defer l.lock.RUnlock()
	_, ok := l.forgotten[roomKey{user: user, room: room}]
	return ok, nil
}

func (l *Log) Forget(ctx context.Context, user membership.UserID, room membership.RoomID) error {
	err := ctx.Err()
	if err != nil {
		return err
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	l.forgotten[roomKey{user: user, room: room}] = struct{}{}
	return nil
}

func (l *Log) MaxPosition(ctx context.Context, writer token.WriterID) (token.StreamPosition, error) {
	err := ctx.Err()
	if err != nil {
		return 0, err
	}
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.max[writer], nil
}

func (l *Log) Close() error {
	return nil
}
