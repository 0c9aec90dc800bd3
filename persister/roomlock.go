package persister

import (
	"sync"

	"github.com/iidesho/roomsync/membership"
)

// roomLocks serialises writes per room. Entries are dropped once nobody
// holds or waits for them.
type roomLocks struct {
	lock  sync.Mutex
	rooms map[membership.RoomID]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{
		rooms: make(map[membership.RoomID]*roomLock),
	}
}

// acquire blocks until room is free and returns the function releasing it.
func (l *roomLocks) acquire(room membership.RoomID) (release func()) {
	l.lock.Lock()
	rl, ok := l.rooms[room]
	if !ok {
		rl = &roomLock{}
		l.rooms[room] = rl
	}
	rl.refs++
	l.lock.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.lock.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.rooms, room)
		}
		l.lock.Unlock()
	}
}

func (l *roomLocks) held() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.rooms)
}
