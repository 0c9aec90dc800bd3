// Package inmemory is an entry store that lives for as long as the process.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/roomsync/metrics"
	"github.com/iidesho/roomsync/stream/store"
	"github.com/prometheus/client_golang/prometheus"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

var (
	metricsOnce    sync.Once
	writeCount     *prometheus.CounterVec
	writeTimeTotal *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		writeCount, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_inmemory_entry_write_count",
			Help: "in-memory entry write count",
		}, []string{"stream"}))
		log.WithError(err).Error("registering write count")
		writeTimeTotal, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_inmemory_entry_write_time_total",
			Help: "in-memory entry write time total in microseconds",
		}, []string{"stream"}))
		log.WithError(err).Error("registering write time")
	})
}

type Stream struct {
	ctx       context.Context
	writeChan chan<- store.WriteEntry
	name      string

	lock    sync.RWMutex
	db      []store.ReadEntry
	newData chan struct{}
}

func Init(name string, ctx context.Context) (*Stream, error) {
	initMetrics()
	writeChan := make(chan store.WriteEntry)
	s := &Stream{
		ctx:       ctx,
		writeChan: writeChan,
		name:      name,
		newData:   make(chan struct{}),
	}
	go s.write(writeChan)
	return s, nil
}

func (s *Stream) write(writes <-chan store.WriteEntry) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case e := <-writes:
			start := time.Now()
			s.lock.Lock()
			se := store.ReadEntry{
				Entry:   e.Entry,
				Offset:  store.Offset(len(s.db) + 1),
				Created: start,
			}
			s.db = append(s.db, se)
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
			writeCount.WithLabelValues(s.name).Inc()
			writeTimeTotal.WithLabelValues(s.name).Add(float64(time.Since(start).Microseconds()))
		}
	}
}

func (s *Stream) Write() chan<- store.WriteEntry {
	return s.writeChan
}

// Stream sends every entry after from, then keeps following new writes until
// ctx or the store is done.
func (s *Stream) Stream(from store.Offset, ctx context.Context) (<-chan store.ReadEntry, error) {
	out := make(chan store.ReadEntry, 5)
	go func() {
		defer close(out)
		s.lock.RLock()
		position := uint64(from)
		if from == store.StreamEnd {
			position = uint64(len(s.db))
		}
		s.lock.RUnlock()
		for {
			s.lock.RLock()
			if position >= uint64(len(s.db)) {
				wait := s.newData
				s.lock.RUnlock()
				select {
				case <-ctx.Done():
					return
				case <-s.ctx.Done():
					return
				case <-wait:
				}
				continue
			}
			e := s.db[position]
			s.lock.RUnlock()
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case out <- e:
				position++
			}
		}
	}()
	return out, nil
}

func (s *Stream) End() (store.Offset, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return store.Offset(len(s.db)), nil
}

func (s *Stream) Name() string {
	return s.name
}
