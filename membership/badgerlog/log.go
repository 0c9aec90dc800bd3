// Package badgerlog keeps the membership log in a badger key value store.
//
// Keys:
//
//	r\x00{user}\x00{seq}        encoded record, seq is the log order
//	e\x00{event id}             marks a stored event id
//	p\x00{writer}\x00{pos}      marks a used writer position
//	m\x00{writer}               highest position of writer
//	f\x00{user}\x00{room}       forgotten flag
//	s                           last used seq
package badgerlog

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger"
	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/roomsync/bcts"
	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/token"
	"github.com/pkg/errors"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

var seqKey = []byte("s")

type Log struct {
	db *badger.DB

	writeLock sync.Mutex
	seq       uint64
}

// logger sends badger's own logging through sbragi.
type logger struct{}

func (logger) Errorf(f string, a ...interface{}) {
	log.Error(fmt.Sprintf(f, a...))
}

func (logger) Warningf(f string, a ...interface{}) {
	log.Warning(fmt.Sprintf(f, a...))
}

func (logger) Infof(f string, a ...interface{}) {
	log.Debug(fmt.Sprintf(f, a...))
}

func (logger) Debugf(f string, a ...interface{}) {
	log.Trace(fmt.Sprintf(f, a...))
}

func Open(dir string) (*Log, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = logger{}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger membership log in %s", dir)
	}
	l := &Log{db: db}
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seqKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			l.seq = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "reading membership log sequence")
	}
	log.Info("badger membership log open", "dir", dir, "records", l.seq)
	return l, nil
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func key(parts ...[]byte) []byte {
	return bytes.Join(parts, []byte{0})
}

func recordPrefix(user membership.UserID) []byte {
	return key([]byte("r"), []byte(user), nil)
}

func eventKey(r membership.Record) []byte {
	return key([]byte("e"), r.EventID.Bytes())
}

func positionKey(r membership.Record) []byte {
	return key([]byte("p"), []byte(r.Writer), u64(uint64(r.Position)))
}

func maxKey(w token.WriterID) []byte {
	return key([]byte("m"), []byte(w))
}

func forgottenKey(user membership.UserID, room membership.RoomID) []byte {
	return key([]byte("f"), []byte(user), []byte(room))
}

func exists(txn *badger.Txn, k []byte) (bool, error) {
	_, err := txn.Get(k)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

func readUInt64(txn *badger.Txn, k []byte) (uint64, error) {
	item, err := txn.Get(k)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
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
	data, err := bcts.Write(r)
	if err != nil {
		return err
	}
	l.writeLock.Lock()
	defer l.writeLock.Unlock()
	seq := l.seq + 1
	err = l.db.Update(func(txn *badger.Txn) error {
		if !r.EventID.IsNil() {
			found, err := exists(txn, eventKey(r))
			if err != nil {
				return err
			}
			if found {
				return fmt.Errorf("%w: %s", membership.ErrDuplicateEvent, r.EventID)
			}
			err = txn.Set(eventKey(r), nil)
			if err != nil {
				return err
			}
		}
		found, err := exists(txn, positionKey(r))
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: position %s.%d already used", membership.ErrDuplicateEvent, r.Writer, r.Position)
		}
		err = txn.Set(positionKey(r), nil)
		if err != nil {
			return err
		}
		max, err := readUInt64(txn, maxKey(r.Writer))
		if err != nil {
			return err
		}
		if uint64(r.Position) > max {
			err = txn.Set(maxKey(r.Writer), u64(uint64(r.Position)))
			if err != nil {
				return err
			}
		}
		err = txn.Set(append(recordPrefix(r.UserID), u64(seq)...), data)
		if err != nil {
			return err
		}
		return txn.Set(seqKey, u64(seq))
	})
	if err != nil {
		if errors.Is(err, membership.ErrDuplicateEvent) {
			return err
		}
		return membership.Unavailable(errors.Wrap(err, "appending membership record"))
	}
	l.seq = seq
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
	var out []membership.Record
	prefix := recordPrefix(user)
	err = l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := ctx.Err()
			if err != nil {
				return err
			}
			var r membership.Record
			err = it.Item().Value(func(val []byte) error {
				r, err = bcts.Read[membership.Record](val)
				return err
			})
			if err != nil {
				return err
			}
			if membership.Visible(r, upTo) {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, membership.Unavailable(errors.Wrapf(err, "querying memberships of %s", user))
	}
	return out, nil
}

func (l *Log) IsForgotten(ctx context.Context, user membership.UserID, room membership.RoomID) (bool, error) {
	err := ctx.Err()
	if err != nil {
		return false, err
	}
	var found bool
	err = l.db.View(func(txn *badger.Txn) error {
		found, err = exists(txn, forgottenKey(user, room))
		return err
	})
	if err != nil {
		return false, membership.Unavailable(errors.Wrap(err, "reading forgotten flag"))
	}
	return found, nil
}

func (l *Log) Forget(ctx context.Context, user membership.UserID, room membership.RoomID) error {
	err := ctx.Err()
	if err != nil {
		return err
	}
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(forgottenKey(user, room), nil)
	})
	if err != nil {
		return membership.Unavailable(errors.Wrap(err, "storing forgotten flag"))
	}
	return nil
}

func (l *Log) MaxPosition(ctx context.Context, writer token.WriterID) (token.StreamPosition, error) {
	err := ctx.Err()
	if err != nil {
		return 0, err
	}
	var max uint64
	err = l.db.View(func(txn *badger.Txn) error {
		max, err = readUInt64(txn, maxKey(writer))
		return err
	})
	if err != nil {
		return 0, membership.Unavailable(errors.Wrap(err, "reading max position"))
	}
	return token.StreamPosition(max), nil
}

func (l *Log) Close() error {
	return l.db.Close()
}
