// Package streamlog persists the membership log as a stream of encoded
// records. The stream is replayed into an in-memory index on open and the
// forgotten flags are kept in a key value store next to it.
package streamlog

import (
	"context"
	"sync"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/membership/inmemory"
	"github.com/iidesho/roomsync/storage"
	"github.com/iidesho/roomsync/stream"
	"github.com/iidesho/roomsync/token"
	"github.com/pkg/errors"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

const entryType = "membership"

type Log struct {
	records   *stream.Typed[membership.Record, *membership.Record]
	index     *inmemory.Log
	forgotten storage.Storage[bool]

	// appends are serialised so the index keeps the order of the stream
	writeLock sync.Mutex
}

func Open(ctx context.Context, st stream.Stream, forgotten storage.Storage[bool]) (*Log, error) {
	l := &Log{
		records:   stream.Init[membership.Record](st, entryType, ctx),
		index:     inmemory.New(),
		forgotten: forgotten,
	}
	n := 0
	err := l.records.Replay(ctx, func(r stream.Read[membership.Record]) error {
		n++
		return l.index.Load(r.Data)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "replaying membership stream %s", st.Name())
	}
	flags := 0
	for _, f := range forgotten.Range() {
		if f {
			flags++
		}
	}
	log.Info("membership stream replayed", "stream", st.Name(), "records", n, "forgotten", flags)
	return l, nil
}

func (l *Log) Append(ctx context.Context, r membership.Record) error {
	err := r.Validate()
	if err != nil {
		return err
	}
	l.writeLock.Lock()
	defer l.writeLock.Unlock()
	err = l.index.Check(r)
	if err != nil {
		return err
	}
	_, err = l.records.Store(ctx, r)
	if err != nil {
		return membership.Unavailable(errors.Wrap(err, "appending membership record"))
	}
	return l.index.Load(r)
}

func (l *Log) QueryUserRoomMemberships(
	ctx context.Context,
	user membership.UserID,
	upTo token.Token,
) ([]membership.Record, error) {
	return l.index.QueryUserRoomMemberships(ctx, user, upTo)
}

func forgottenKey(user membership.UserID, room membership.RoomID) string {
	return string(user) + "\x00" + string(room)
}

func (l *Log) IsForgotten(ctx context.Context, user membership.UserID, room membership.RoomID) (bool, error) {
	err := ctx.Err()
	if err != nil {
		return false, err
	}
	f, err := l.forgotten.Get(forgottenKey(user, room))
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, membership.Unavailable(errors.Wrap(err, "reading forgotten flag"))
	}
	return f, nil
}

func (l *Log) Forget(ctx context.Context, user membership.UserID, room membership.RoomID) error {
	err := ctx.Err()
	if err != nil {
		return err
	}
	err = l.forgotten.Set(forgottenKey(user, room), true)
	if err != nil {
		return membership.Unavailable(errors.Wrap(err, "storing forgotten flag"))
	}
	return nil
}

func (l *Log) MaxPosition(ctx context.Context, writer token.WriterID) (token.StreamPosition, error) {
	return l.index.MaxPosition(ctx, writer)
}

// Close closes the forgotten flags, the stream is closed through the context
// it was opened with.
func (l *Log) Close() error {
	return l.forgotten.Close()
}
