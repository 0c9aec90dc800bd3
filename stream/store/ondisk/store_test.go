package ondisk

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/iidesho/roomsync/stream/store"
)

func write(t *testing.T, s *Stream, data string) store.WriteStatus {
	t.Helper()
	status := make(chan store.WriteStatus, 1)
	s.Write() <- store.WriteEntry{
		Entry: store.Entry{
			ID:   uuid.Must(uuid.NewV7()),
			Type: "test",
			Data: []byte(data),
		},
		Status: status,
	}
	return <-status
}

func TestStoreStreamAndReopen(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	s, err := Init(dir, "membership", ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 5; i++ {
		st := write(t, s, "entry")
		if st.Error != nil {
			t.Fatal(st.Error)
		}
		if st.Offset != store.Offset(i) {
			t.Fatalf("expected offset %d, got %d", i, st.Offset)
		}
	}
	sctx, scancel := context.WithCancel(context.Background())
	entries, err := s.Stream(store.StreamStart, sctx)
	if err != nil {
		t.Fatal(err)
	}
	for want := store.Offset(1); want <= 5; want++ {
		e := <-entries
		if e.Offset != want || string(e.Data) != "entry" {
			t.Fatalf("unexpected entry %+v", e)
		}
	}
	st := write(t, s, "followed")
	e := <-entries
	if e.Offset != st.Offset || string(e.Data) != "followed" {
		t.Fatalf("reader did not follow the new write, got %+v", e)
	}
	scancel()
	cancel()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	s, err = Init(dir, "membership", ctx)
	if err != nil {
		t.Fatal(err)
	}
	end, err := s.End()
	if err != nil {
		t.Fatal(err)
	}
	if end != 6 {
		t.Fatalf("reopened stream should end at 6, got %d", end)
	}
	if st := write(t, s, "after reopen"); st.Offset != 7 {
		t.Fatalf("expected offset 7 after reopen, got %d", st.Offset)
	}
}

func TestTornTailIsTruncated(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	s, err := Init(dir, "torn", ctx)
	if err != nil {
		t.Fatal(err)
	}
	write(t, s, "first")
	write(t, s, "second")
	cancel()
	time.Sleep(10 * time.Millisecond)

	path := filepath.Join(dir, "torn")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatal(err)
	}

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	s, err = Init(dir, "torn", ctx)
	if err != nil {
		t.Fatal(err)
	}
	end, _ := s.End()
	if end != 1 {
		t.Fatalf("torn second entry should be dropped, end at %d", end)
	}
	if st := write(t, s, "again"); st.Error != nil || st.Offset != 2 {
		t.Fatalf("unexpected write status %+v", st)
	}
	entries, err := s.Stream(store.StreamStart, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if e := <-entries; string(e.Data) != "first" {
		t.Fatalf("unexpected first entry %+v", e)
	}
	if e := <-entries; string(e.Data) != "again" || e.Offset != 2 {
		t.Fatalf("unexpected second entry %+v", e)
	}
}
