// Package logtest holds the behaviour every membership log backend must share.
package logtest

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/token"
)

// Rec builds a record with a fresh event id.
func Rec(
	room membership.RoomID,
	user membership.UserID,
	m membership.Membership,
	w token.WriterID,
	pos token.StreamPosition,
) membership.Record {
	return membership.Record{
		EventID:    uuid.Must(uuid.NewV7()),
		RoomID:     room,
		UserID:     user,
		Membership: m,
		Sender:     user,
		Writer:     w,
		Position:   pos,
	}
}

// Run exercises a backend. open must return an empty store rooted at dir,
// reopening the same dir must give back what was stored.
func Run(t *testing.T, open func(t *testing.T, dir string) membership.Store) {
	t.Run("query filters per writer", func(t *testing.T) {
		s := open(t, t.TempDir())
		defer s.Close()
		queryFiltersPerWriter(t, s)
	})
	t.Run("forget is sticky and idempotent", func(t *testing.T) {
		s := open(t, t.TempDir())
		defer s.Close()
		forget(t, s)
	})
	t.Run("duplicates are rejected", func(t *testing.T) {
		s := open(t, t.TempDir())
		defer s.Close()
		duplicates(t, s)
	})
	t.Run("reopen keeps records", func(t *testing.T) {
		dir := t.TempDir()
		s := open(t, dir)
		reopen(t, s, func() membership.Store { return open(t, dir) })
	})
}

func queryFiltersPerWriter(t *testing.T, s membership.Store) {
	ctx := context.Background()
	records := []membership.Record{
		Rec("!a", "@u1", membership.Join, "w1", 1),
		Rec("!b", "@u1", membership.Invite, "w2", 1),
		Rec("!a", "@u1", membership.Leave, "w2", 2),
		Rec("!c", "@u2", membership.Join, "w1", 2),
		Rec("!b", "@u1", membership.Join, "w1", 3),
	}
	for _, r := range records {
		if err := s.Append(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	all, err := s.QueryUserRoomMemberships(ctx, "@u1", token.Scalar(10))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 records for @u1, got %d", len(all))
	}
	for i, want := range []int{0, 1, 2, 4} {
		if all[i] != records[want] {
			t.Fatalf("record %d out of order, got %+v want %+v", i, all[i], records[want])
		}
	}

	upTo := token.New(1, map[token.WriterID]token.StreamPosition{"w1": 3})
	some, err := s.QueryUserRoomMemberships(ctx, "@u1", upTo)
	if err != nil {
		t.Fatal(err)
	}
	if len(some) != 3 {
		t.Fatalf("w2.2 must be hidden by the w2 bound, got %d records", len(some))
	}
	for _, r := range some {
		if r.Writer == "w2" && r.Position == 2 {
			t.Fatal("record past the writer bound returned")
		}
	}

	none, err := s.QueryUserRoomMemberships(ctx, "@nobody", token.Scalar(10))
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("unknown user should have no history, got %v", none)
	}

	max, err := s.MaxPosition(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if max != 3 {
		t.Fatalf("max position for w1 %d", max)
	}
	max, err = s.MaxPosition(ctx, "w9")
	if err != nil {
		t.Fatal(err)
	}
	if max != 0 {
		t.Fatalf("unused writer should be at 0, got %d", max)
	}
}

func forget(t *testing.T, s membership.Store) {
	ctx := context.Background()
	f, err := s.IsForgotten(ctx, "@u1", "!a")
	if err != nil {
		t.Fatal(err)
	}
	if f {
		t.Fatal("nothing has been forgotten yet")
	}
	for i := 0; i < 2; i++ {
		if err := s.Forget(ctx, "@u1", "!a"); err != nil {
			t.Fatal(err)
		}
		f, err = s.IsForgotten(ctx, "@u1", "!a")
		if err != nil {
			t.Fatal(err)
		}
		if !f {
			t.Fatal("room should be forgotten")
		}
	}
	f, err = s.IsForgotten(ctx, "@u2", "!a")
	if err != nil {
		t.Fatal(err)
	}
	if f {
		t.Fatal("forgetting is per user")
	}
}

func duplicates(t *testing.T, s membership.Store) {
	ctx := context.Background()
	r := Rec("!a", "@u1", membership.Join, "w1", 1)
	if err := s.Append(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, r); !errors.Is(err, membership.ErrDuplicateEvent) {
		t.Fatalf("expected duplicate event, got %v", err)
	}
	other := Rec("!b", "@u1", membership.Join, "w1", 1)
	if err := s.Append(ctx, other); !errors.Is(err, membership.ErrDuplicateEvent) {
		t.Fatalf("expected duplicate position, got %v", err)
	}
	bad := Rec("", "@u1", membership.Join, "w1", 2)
	if err := s.Append(ctx, bad); !errors.Is(err, membership.ErrInvalidRecord) {
		t.Fatalf("expected invalid record, got %v", err)
	}
}

func reopen(t *testing.T, s membership.Store, open func() membership.Store) {
	ctx := context.Background()
	records := []membership.Record{
		Rec("!a", "@u1", membership.Join, "w1", 1),
		Rec("!a", "@u1", membership.Leave, "w2", 1),
	}
	for _, r := range records {
		if err := s.Append(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Forget(ctx, "@u1", "!a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s = open()
	defer s.Close()
	got, err := s.QueryUserRoomMemberships(ctx, "@u1", token.Scalar(5))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != records[0] || got[1] != records[1] {
		t.Fatalf("records lost on reopen, got %+v", got)
	}
	f, err := s.IsForgotten(ctx, "@u1", "!a")
	if err != nil {
		t.Fatal(err)
	}
	if !f {
		t.Fatal("forgotten flag lost on reopen")
	}
	max, err := s.MaxPosition(ctx, "w2")
	if err != nil {
		t.Fatal(err)
	}
	if max != 1 {
		t.Fatalf("max position lost on reopen, got %d", max)
	}
}
