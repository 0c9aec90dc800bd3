// Package store holds the types shared by the append only entry stores.
package store

import (
	"errors"
	"math"
	"time"

	"github.com/gofrs/uuid"
)

var ErrClosed = errors.New("stream store closed")

// Offset is the append order of an entry within one store, starting at 1.
type Offset uint64

const (
	StreamStart Offset = 0
	StreamEnd   Offset = math.MaxUint64
)

type Entry struct {
	ID   uuid.UUID `json:"id"`
	Type string    `json:"type"`
	Data []byte    `json:"data"`
}

type ReadEntry struct {
	Entry

	Offset  Offset    `json:"offset"`
	Created time.Time `json:"created"`
}

type WriteEntry struct {
	Entry

	Status chan<- WriteStatus
}

type WriteStatus struct {
	Error  error
	Offset Offset
	Time   time.Time
}
