package streamlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/membership/logtest"
	"github.com/iidesho/roomsync/storage"
	"github.com/iidesho/roomsync/stream/store/ondisk"
)

type closer struct {
	*Log
	cancel context.CancelFunc
}

func (c closer) Close() error {
	defer c.cancel()
	return c.Log.Close()
}

func TestLog(t *testing.T) {
	logtest.Run(t, func(t *testing.T, dir string) membership.Store {
		ctx, cancel := context.WithCancel(context.Background())
		st, err := ondisk.Init(filepath.Join(dir, "streams"), "membership", ctx)
		if err != nil {
			cancel()
			t.Fatal(err)
		}
		forgotten, err := storage.New[bool](filepath.Join(dir, "forgotten"))
		if err != nil {
			cancel()
			t.Fatal(err)
		}
		l, err := Open(ctx, st, forgotten)
		if err != nil {
			cancel()
			t.Fatal(err)
		}
		return closer{Log: l, cancel: cancel}
	})
}
