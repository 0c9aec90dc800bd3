package storage

import (
	"testing"
)

func TestSetGet(t *testing.T) {
	s, err := New[bool](t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	_, err = s.Get("missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.Set("@u:test\x00!r:test", true); err != nil {
		t.Fatal(err)
	}
	v, err := s.Get("@u:test\x00!r:test")
	if err != nil {
		t.Fatal(err)
	}
	if !v {
		t.Fatal("stored value was not read back")
	}
}

func TestSetUInt64WithoutPositionKey(t *testing.T) {
	s, err := New[bool](t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.(PosStorage[bool]).SetUInt64(1); err == nil {
		t.Fatal("a store without a position key must refuse positions")
	}
}

func TestPositionSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewWPos[string](dir, "watermark")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetUInt64(); !IsNotFound(err) {
		t.Fatalf("fresh store should not have a position, got %v", err)
	}
	if err := s.Set("a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetUInt64(17); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewWPos[string](dir, "watermark")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	pos, err := s.GetUInt64()
	if err != nil {
		t.Fatal(err)
	}
	if pos != 17 {
		t.Fatalf("expected position 17, got %d", pos)
	}
	n := 0
	for k, v := range s.Range() {
		if k != "a" || v != "b" {
			t.Fatalf("unexpected entry %q=%q", k, v)
		}
		n++
	}
	if n != 1 {
		t.Fatalf("range should skip the position key, saw %d entries", n)
	}
}
