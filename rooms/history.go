package rooms

import (
	"sort"

	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/token"
)

type state uint8

const (
	neverSeen state = iota
	joined
	left
	kicked
	invited
	banned
	knocked
)

func stateOf(r membership.Record) state {
	switch r.Membership {
	case membership.Join:
		return joined
	case membership.Invite:
		return invited
	case membership.Ban:
		return banned
	case membership.Knock:
		return knocked
	case membership.Leave:
		if r.IsKick() {
			return kicked
		}
		return left
	}
	return neverSeen
}

// present is every state a client must keep seeing. A kick counts, the client
// has to be able to render the removal.
func (s state) present() bool {
	return s != neverSeen && s != left
}

func (s state) isLeave() bool {
	return s == left || s == kicked
}

// history is what one room's records say about the range. It is a value, each
// room starts from the zero history.
type history struct {
	before         state
	final          state
	enteredInRange bool
	leftInRange    bool
}

func (h history) step(s state, inRange bool) history {
	h.final = s
	if !inRange {
		h.before = s
		return h
	}
	if s.isLeave() {
		h.leftInRange = true
	} else {
		h.enteredInRange = true
	}
	return h
}

type verdict uint8

const (
	exclude verdict = iota
	include
	includeUnlessForgotten
)

func (h history) verdict() verdict {
	in := h.before.present() ||
		((h.before == neverSeen || h.before == left) && h.enteredInRange) ||
		(h.before != left && h.leftInRange)
	if !in {
		return exclude
	}
	if h.final.isLeave() {
		return includeUnlessForgotten
	}
	return include
}

// summarize folds the records, already bounded by the to token and in log
// order, into one history per room. A record is before the range when its
// writer had not passed it at from.
func summarize(records []membership.Record, from token.Token) map[membership.RoomID]history {
	byRoom := make(map[membership.RoomID][]membership.Record)
	for _, r := range records {
		byRoom[r.RoomID] = append(byRoom[r.RoomID], r)
	}
	rooms := make(map[membership.RoomID]history, len(byRoom))
	for room, rs := range byRoom {
		var h history
		for _, r := range inPositionOrder(rs) {
			s := stateOf(r)
			if s == neverSeen {
				continue
			}
			h = h.step(s, !from.Includes(r.Writer, r.Position))
		}
		rooms[room] = h
	}
	return rooms
}

// inPositionOrder puts the records of each writer in position order while
// keeping the slots the log gave that writer. Positions of different writers
// are not comparable, their interleaving is left as logged.
func inPositionOrder(rs []membership.Record) []membership.Record {
	slots := make(map[token.WriterID][]int)
	for i, r := range rs {
		slots[r.Writer] = append(slots[r.Writer], i)
	}
	for _, idx := range slots {
		if len(idx) < 2 {
			continue
		}
		sorted := make([]membership.Record, len(idx))
		for i, j := range idx {
			sorted[i] = rs[j]
		}
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })
		for i, j := range idx {
			rs[j] = sorted[i]
		}
	}
	return rs
}
