// Package storage is a small typed key value store on top of nutsdb.
package storage

import (
	"encoding/binary"
	"errors"
	"iter"
	"os"

	"github.com/iidesho/bragi/sbragi"
	jsoniter "github.com/json-iterator/go"
	"github.com/nutsdb/nutsdb"
)

var (
	json = jsoniter.ConfigFastest
	log  = sbragi.WithLocalScope(sbragi.LevelInfo)
)

const bucket = "kv"

type Storage[T any] interface {
	Set(k string, v T) error
	Get(k string) (v T, err error)
	Range() iter.Seq2[string, T]
	Close() error
}

// PosStorage additionally keeps one position next to the values, under a key
// that Range skips.
type PosStorage[T any] interface {
	Storage[T]

	SetUInt64(v uint64) error
	GetUInt64() (v uint64, err error)
}

type storage[T any] struct {
	db     *nutsdb.DB
	posKey []byte
}

// IsNotFound reports whether err means the key has never been stored.
func IsNotFound(err error) bool {
	return errors.Is(err, nutsdb.ErrKeyNotFound)
}

func open(dir string) (*nutsdb.DB, error) {
	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return nil, err
	}
	db, err := nutsdb.Open(
		nutsdb.DefaultOptions,
		nutsdb.WithDir(dir),
	)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *nutsdb.Tx) error {
		return tx.NewKVBucket(bucket)
	})
	// the bucket survives restarts, creating it again is expected to fail
	sbragi.WithoutEscalation().WithError(err).Debug("creating kv bucket", "dir", dir)
	return db, nil
}

func New[T any](dir string) (Storage[T], error) {
	db, err := open(dir)
	if err != nil {
		return nil, err
	}
	return storage[T]{db: db}, nil
}

func NewWPos[T any](dir, posKey string) (PosStorage[T], error) {
	db, err := open(dir)
	if err != nil {
		return nil, err
	}
	return storage[T]{
		db:     db,
		posKey: []byte(posKey),
	}, nil
}

func (s storage[T]) Set(k string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	log.Trace("storing", "key", k, "val", string(b))
	return s.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucket, []byte(k), b, 0)
	})
}

func (s storage[T]) Get(k string) (v T, err error) {
	var data []byte
	err = s.db.View(func(tx *nutsdb.Tx) error {
		var err error
		data, err = tx.Get(bucket, []byte(k))
		return err
	})
	if err != nil {
		return
	}
	err = json.Unmarshal(data, &v)
	return
}

func (s storage[T]) SetUInt64(v uint64) error {
	if s.posKey == nil {
		return errors.New("storage has no position key")
	}
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return s.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucket, s.posKey, b, 0)
	})
}

func (s storage[T]) GetUInt64() (v uint64, err error) {
	var data []byte
	err = s.db.View(func(tx *nutsdb.Tx) error {
		var err error
		data, err = tx.Get(bucket, s.posKey)
		return err
	})
	if err != nil {
		return
	}
	if len(data) != 8 {
		return 0, errors.New("stored position is not 8 bytes")
	}
	v = binary.LittleEndian.Uint64(data)
	return
}

func (s storage[T]) Range() iter.Seq2[string, T] {
	var keys [][]byte
	var values [][]byte
	err := s.db.View(func(tx *nutsdb.Tx) error {
		var err error
		keys, values, err = tx.GetAll(bucket)
		return err
	})
	log.WithError(err).Error("getting values for range")
	return func(yield func(string, T) bool) {
		for i := range keys {
			if s.posKey != nil && string(keys[i]) == string(s.posKey) {
				continue
			}
			var v T
			err := json.Unmarshal(values[i], &v)
			if log.WithError(err).
				Error("unmarshaling value", "key", string(keys[i]), "raw_value", string(values[i])) {
				continue
			}
			if !yield(string(keys[i]), v) {
				return
			}
		}
	}
}

func (s storage[T]) Close() error {
	return s.db.Close()
}
