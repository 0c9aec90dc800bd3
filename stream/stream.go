// Package stream puts typed, binary encoded values on top of an entry store.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/roomsync/bcts"
	"github.com/iidesho/roomsync/stream/store"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

var ErrWriteFailed = errors.New("stream write failed")

type Read[BT any] struct {
	ID      uuid.UUID
	Data    BT
	Offset  store.Offset
	Created time.Time
}

// Typed writes and reads values of one entry type. Entries of other types in
// the same store are skipped.
type Typed[BT any, T bcts.ReadWriter[BT]] struct {
	store Stream
	kind  string
	ctx   context.Context
}

func Init[BT any, T bcts.ReadWriter[BT]](st Stream, kind string, ctx context.Context) *Typed[BT, T] {
	return &Typed[BT, T]{
		store: st,
		kind:  kind,
		ctx:   ctx,
	}
}

// Store appends v and waits for the store to acknowledge it. Once the entry
// has been handed to the store the call waits for the outcome even if ctx is
// cancelled, so that a write is never reported lost when it landed.
func (s *Typed[BT, T]) Store(ctx context.Context, v BT) (store.Offset, error) {
	data, err := bcts.Write(T(&v))
	if err != nil {
		return 0, err
	}
	if s.ctx.Err() != nil {
		return 0, store.ErrClosed
	}
	status := make(chan store.WriteStatus, 1)
	we := store.WriteEntry{
		Entry: store.Entry{
			ID:   uuid.Must(uuid.NewV7()),
			Type: s.kind,
			Data: data,
		},
		Status: status,
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.ctx.Done():
		return 0, store.ErrClosed
	case s.store.Write() <- we:
	}
	st, ok := <-status
	if !ok {
		return 0, ErrWriteFailed
	}
	if st.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrWriteFailed, st.Error)
	}
	return st.Offset, nil
}

// Replay calls fn for every value written before the call and then returns.
func (s *Typed[BT, T]) Replay(ctx context.Context, fn func(Read[BT]) error) error {
	end, err := s.store.End()
	if err != nil {
		return err
	}
	if end == store.StreamStart {
		return nil
	}
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries, err := s.store.Stream(store.StreamStart, rctx)
	if err != nil {
		return err
	}
	for e := range entries {
		if v, ok := s.decode(e); ok {
			err = fn(v)
			if err != nil {
				return err
			}
		}
		if e.Offset >= end {
			return nil
		}
	}
	err = ctx.Err()
	if err != nil {
		return err
	}
	return fmt.Errorf("replay of %s stopped at offset before %d: %w", s.store.Name(), end, store.ErrClosed)
}

func (s *Typed[BT, T]) decode(e store.ReadEntry) (Read[BT], bool) {
	if e.Type != s.kind {
		return Read[BT]{}, false
	}
	v, err := bcts.Read[BT, T](e.Data)
	if log.WithError(err).Error("decoding stream entry", "stream", s.store.Name(), "offset", e.Offset) {
		return Read[BT]{}, false
	}
	return Read[BT]{
		ID:      e.ID,
		Data:    v,
		Offset:  e.Offset,
		Created: e.Created,
	}, true
}

func (s *Typed[BT, T]) End() (store.Offset, error) {
	return s.store.End()
}

func (s *Typed[BT, T]) Name() string {
	return s.store.Name()
}
