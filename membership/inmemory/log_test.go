package inmemory

import (
	"context"
	"testing"

	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/membership/logtest"
	"github.com/iidesho/roomsync/token"
)

func TestLog(t *testing.T) {
	logs := make(map[string]*Log)
	logtest.Run(t, func(t *testing.T, dir string) membership.Store {
		l, ok := logs[dir]
		if !ok {
			l = New()
			logs[dir] = l
		}
		return l
	})
}

func TestCancelledContext(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.QueryUserRoomMemberships(ctx, "@u1", token.Scalar(1)); err != context.Canceled {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if err := l.Append(ctx, logtest.Rec("!a", "@u1", membership.Join, "w1", 1)); err != context.Canceled {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
