package persister

import (
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/token"
)

// Router picks the writer that persists events of a room.
type Router interface {
	WriterFor(room membership.RoomID) token.WriterID
}

type hashRouter struct {
	writers []token.WriterID
}

// NewRouter spreads rooms over writers by hashing the room id. The writer list
// is sorted first, so every process given the same writers routes the same way.
func NewRouter(writers ...token.WriterID) Router {
	ws := append([]token.WriterID(nil), writers...)
	sort.Slice(ws, func(i, j int) bool { return ws[i] < ws[j] })
	return hashRouter{writers: ws}
}

func (r hashRouter) WriterFor(room membership.RoomID) token.WriterID {
	if len(r.writers) == 0 {
		return ""
	}
	return r.writers[xxhash.Sum64String(string(room))%uint64(len(r.writers))]
}

// StaticRouter pins rooms to writers and falls back to Fallback for the rest.
type StaticRouter struct {
	Rooms    map[membership.RoomID]token.WriterID
	Fallback Router
}

func (r StaticRouter) WriterFor(room membership.RoomID) token.WriterID {
	if w, ok := r.Rooms[room]; ok {
		return w
	}
	if r.Fallback == nil {
		return ""
	}
	return r.Fallback.WriterFor(room)
}
