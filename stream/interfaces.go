package stream

import (
	"context"

	"github.com/iidesho/roomsync/stream/store"
)

// Stream is an append only store of entries. inmemory.Stream and
// ondisk.Stream implement it.
//
// The channel returned by Write is unbuffered. Once a send on it completes
// the store owns the entry and always sends its outcome on Status and closes
// it, even if the store is shutting down.
type Stream interface {
	Write() chan<- store.WriteEntry
	Stream(from store.Offset, ctx context.Context) (out <-chan store.ReadEntry, err error)
	End() (pos store.Offset, err error)
	Name() string
}
