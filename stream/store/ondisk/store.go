// Package ondisk is an entry store appending to one file per stream.
package ondisk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/roomsync/bcts"
	"github.com/iidesho/roomsync/stream/store"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

type diskEntry struct {
	Created time.Time
	Entry   store.Entry
	Offset  store.Offset
}

func (e diskEntry) WriteBytes(w io.Writer) error {
	err := bcts.WriteUInt8(w, uint8(0))
	if err != nil {
		return err
	}
	err = bcts.WriteTime(w, e.Created)
	if err != nil {
		return err
	}
	err = bcts.WriteTinyString(w, e.Entry.Type)
	if err != nil {
		return err
	}
	err = bcts.WriteUUID(w, e.Entry.ID)
	if err != nil {
		return err
	}
	err = bcts.WriteBytes(w, e.Entry.Data)
	if err != nil {
		return err
	}
	return bcts.WriteUInt64(w, e.Offset)
}

func (e *diskEntry) ReadBytes(r io.Reader) error {
	err := bcts.ReadVersion(r, 0)
	if err != nil {
		return err
	}
	err = bcts.ReadTime(r, &e.Created)
	if err != nil {
		return err
	}
	err = bcts.ReadTinyString(r, &e.Entry.Type)
	if err != nil {
		return err
	}
	err = bcts.ReadUUID(r, &e.Entry.ID)
	if err != nil {
		return err
	}
	err = bcts.ReadBytes(r, &e.Entry.Data)
	if err != nil {
		return err
	}
	return bcts.ReadUInt64(r, &e.Offset)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type Stream struct {
	ctx       context.Context
	writeChan chan<- store.WriteEntry
	name      string
	path      string

	db      *os.File
	size    int64
	written atomic.Uint64

	lock    sync.Mutex
	newData chan struct{}
}

// Init opens or creates dir/name. A torn entry at the end of the file, left by
// a crash mid write, is cut off.
func Init(dir, name string, ctx context.Context) (*Stream, error) {
	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, err
	}
	cr := &countingReader{r: bufio.NewReader(f)}
	var (
		se   diskEntry
		last store.Offset
		good int64
	)
	for err = se.ReadBytes(cr); err == nil; err = se.ReadBytes(cr) {
		last = se.Offset
		good = cr.n
	}
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		f.Close()
		return nil, fmt.Errorf("reading stream %s: %w", name, err)
	}
	if cr.n != good {
		log.Warning("truncating torn entry at end of stream", "stream", name, "size", cr.n, "keep", good)
		err = f.Truncate(good)
		if err != nil {
			f.Close()
			return nil, err
		}
	}
	f.Close()
	f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0640)
	if err != nil {
		return nil, err
	}
	writeChan := make(chan store.WriteEntry)
	s := &Stream{
		ctx:       ctx,
		writeChan: writeChan,
		name:      name,
		path:      path,
		db:        f,
		size:      good,
		newData:   make(chan struct{}),
	}
	s.written.Store(uint64(last))
	go s.write(writeChan)
	return s, nil
}

func (s *Stream) write(writes <-chan store.WriteEntry) {
	defer s.db.Close()
	for {
		select {
		case <-s.ctx.Done():
			return
		case e := <-writes:
			se := diskEntry{
				Entry:   e.Entry,
				Offset:  store.Offset(s.written.Load() + 1),
				Created: time.Now(),
			}
			err := s.append(se)
			if log.WithError(err).Error("while writing entry to file", "stream", s.name) {
				if e.Status != nil {
					e.Status <- store.WriteStatus{Error: err}
					close(e.Status)
				}
				continue
			}
			s.written.Store(uint64(se.Offset))
			s.lock.Lock()
			close(s.newData)
			s.newData = make(chan struct{})
			s.lock.Unlock()
			if e.Status != nil {
				e.Status <- store.WriteStatus{
					Offset: se.Offset,
					Time:   se.Created,
				}
				close(e.Status)
			}
		}
	}
}

// append writes one entry, cutting the file back to its previous size if the
// write only got partly through.
func (s *Stream) append(se diskEntry) error {
	b, err := bcts.Write(se)
	if err != nil {
		return err
	}
	n, err := s.db.Write(b)
	if err != nil {
		if n > 0 {
			log.WithError(s.db.Truncate(s.size)).Error("truncating partial write", "stream", s.name)
		}
		return err
	}
	s.size += int64(n)
	return nil
}

func (s *Stream) Write() chan<- store.WriteEntry {
	return s.writeChan
}

func (s *Stream) Stream(from store.Offset, ctx context.Context) (<-chan store.ReadEntry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	out := make(chan store.ReadEntry, 2)
	go s.read(f, out, from, ctx)
	return out, nil
}

// read only decodes entries below the written count, those are fully flushed.
func (s *Stream) read(f *os.File, out chan<- store.ReadEntry, from store.Offset, ctx context.Context) {
	defer close(out)
	defer f.Close()
	if from == store.StreamEnd {
		from = store.Offset(s.written.Load())
	}
	r := bufio.NewReader(f)
	var (
		se   diskEntry
		read store.Offset
	)
	for {
		s.lock.Lock()
		wait := s.newData
		s.lock.Unlock()
		written := store.Offset(s.written.Load())
		for read < written {
			err := se.ReadBytes(r)
			if log.WithError(err).Error("while reading entry from file", "stream", s.name, "offset", read+1) {
				return
			}
			read = se.Offset
			if read <= from {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case out <- store.ReadEntry{Entry: se.Entry, Offset: se.Offset, Created: se.Created}:
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-wait:
		}
	}
}

func (s *Stream) End() (store.Offset, error) {
	return store.Offset(s.written.Load()), nil
}

func (s *Stream) Name() string {
	return s.name
}
