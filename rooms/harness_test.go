package rooms

import (
	"context"
	"sort"
	"testing"

	"github.com/iidesho/roomsync/allocator"
	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/membership/inmemory"
	"github.com/iidesho/roomsync/persister"
	"github.com/iidesho/roomsync/token"
)

const (
	user1 membership.UserID = "@user1:test"
	user2 membership.UserID = "@user2:test"
	user3 membership.UserID = "@user3:test"
)

// harness runs a small homeserver: one allocator per writer, an in-memory log
// and the persisters routing rooms to writers.
type harness struct {
	t        *testing.T
	ctx      context.Context
	log      *inmemory.Log
	allocs   map[token.WriterID]*allocator.Allocator
	tracker  *allocator.Tracker
	set      *persister.Set
	resolver *Resolver
}

func newHarness(t *testing.T, router persister.Router, writers ...token.WriterID) *harness {
	t.Helper()
	if len(writers) == 0 {
		writers = []token.WriterID{"master"}
	}
	if router == nil {
		router = persister.NewRouter(writers...)
	}
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		log:    inmemory.New(),
		allocs: make(map[token.WriterID]*allocator.Allocator),
	}
	var ps []*persister.Persister
	var as []*allocator.Allocator
	for _, w := range writers {
		a, err := allocator.New(w)
		if err != nil {
			t.Fatal(err)
		}
		h.allocs[w] = a
		as = append(as, a)
		ps = append(ps, persister.New(a, h.log))
	}
	tracker, err := allocator.NewTracker(as...)
	if err != nil {
		t.Fatal(err)
	}
	h.tracker = tracker
	h.set = persister.NewSet(router, h.log, ps...)
	h.resolver = New(h.log, WithWriters(tracker.Known))
	return h
}

func (h *harness) now() token.Token {
	return h.tracker.CurrentToken()
}

func (h *harness) persist(room membership.RoomID, user, sender membership.UserID, m membership.Membership, reason string) membership.Record {
	h.t.Helper()
	r, err := h.set.Persist(h.ctx, membership.Record{
		RoomID:     room,
		UserID:     user,
		Sender:     sender,
		Membership: m,
		Reason:     reason,
	})
	if err != nil {
		h.t.Fatal(err)
	}
	return r
}

// createRoom has creator join room, the way a room creation would.
func (h *harness) createRoom(room membership.RoomID, creator membership.UserID) membership.RoomID {
	h.persist(room, creator, creator, membership.Join, "")
	return room
}

func (h *harness) join(room membership.RoomID, user membership.UserID) membership.Record {
	return h.persist(room, user, user, membership.Join, "")
}

func (h *harness) leave(room membership.RoomID, user membership.UserID) membership.Record {
	return h.persist(room, user, user, membership.Leave, "")
}

func (h *harness) kick(room membership.RoomID, src, target membership.UserID, reason string) membership.Record {
	return h.persist(room, target, src, membership.Leave, reason)
}

func (h *harness) invite(room membership.RoomID, src, target membership.UserID) membership.Record {
	return h.persist(room, target, src, membership.Invite, "")
}

func (h *harness) ban(room membership.RoomID, src, target membership.UserID) membership.Record {
	return h.persist(room, target, src, membership.Ban, "")
}

func (h *harness) knock(room membership.RoomID, user membership.UserID) membership.Record {
	return h.persist(room, user, user, membership.Knock, "")
}

func (h *harness) forget(room membership.RoomID, user membership.UserID) {
	h.t.Helper()
	if err := h.set.Forget(h.ctx, user, room); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) resolve(user membership.UserID, from, to token.Token) map[membership.RoomID]struct{} {
	h.t.Helper()
	rooms, err := h.resolver.ResolveRoomSet(h.ctx, user, from, to)
	if err != nil {
		h.t.Fatal(err)
	}
	return rooms
}

func sorted(rooms map[membership.RoomID]struct{}) []membership.RoomID {
	out := make([]membership.RoomID, 0, len(rooms))
	for r := range rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func assertRooms(t *testing.T, got map[membership.RoomID]struct{}, want ...membership.RoomID) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected rooms %v, got %v", want, sorted(got))
	}
	for _, r := range want {
		if _, ok := got[r]; !ok {
			t.Fatalf("expected rooms %v, got %v", want, sorted(got))
		}
	}
}
