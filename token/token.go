// Package token implements the multi-writer stream token.
//
// A Token is a frozen view of how far every writer of the event stream had
// committed when the token was taken. It is a floor plus a sparse map holding
// only the writers that were ahead of that floor. Tokens are partially ordered,
// two tokens taken while writers diverge can be incomparable.
package token

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/maps"
)

// WriterID identifies one writer (shard) of the event stream.
type WriterID string

// StreamPosition is a writer local position, only comparable within one writer.
type StreamPosition uint64

type Token struct {
	floor     StreamPosition
	perWriter map[WriterID]StreamPosition
}

// Scalar returns a token without any per writer entries.
func Scalar(pos StreamPosition) Token {
	return Token{floor: pos}
}

// New builds a token and drops every entry that is not ahead of floor.
func New(floor StreamPosition, perWriter map[WriterID]StreamPosition) Token {
	t := Token{floor: floor}
	for w, p := range perWriter {
		if p <= floor {
			continue
		}
		if t.perWriter == nil {
			t.perWriter = make(map[WriterID]StreamPosition, len(perWriter))
		}
		t.perWriter[w] = p
	}
	return t
}

func (t Token) Floor() StreamPosition {
	return t.floor
}

// PerWriter returns a copy of the sparse writer map.
func (t Token) PerWriter() map[WriterID]StreamPosition {
	if len(t.perWriter) == 0 {
		return map[WriterID]StreamPosition{}
	}
	return maps.Clone(t.perWriter)
}

// IsScalar reports whether every writer is at the floor.
func (t Token) IsScalar() bool {
	return len(t.perWriter) == 0
}

// PositionFor is the committed position the token records for w. Writers the
// token does not name are at the floor.
func (t Token) PositionFor(w WriterID) StreamPosition {
	if p, ok := t.perWriter[w]; ok {
		return p
	}
	return t.floor
}

func (t Token) MaxPosition() StreamPosition {
	max := t.floor
	for _, p := range t.perWriter {
		if p > max {
			max = p
		}
	}
	return max
}

// Writers returns the writers named by the token, sorted.
func (t Token) Writers() []WriterID {
	ws := make([]WriterID, 0, len(t.perWriter))
	for w := range t.perWriter {
		ws = append(ws, w)
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i] < ws[j] })
	return ws
}

// Includes reports whether a record written by w at pos is covered by the token.
func (t Token) Includes(w WriterID, pos StreamPosition) bool {
	return pos <= t.PositionFor(w)
}

// IsBeforeOrEqual reports whether t happens no later than other, that is
// every writer is at or behind other's position for it. The floor stands in
// for all writers neither token names, so it is compared as well.
func (t Token) IsBeforeOrEqual(other Token) bool {
	if t.floor > other.floor {
		return false
	}
	for w, p := range t.perWriter {
		if p > other.PositionFor(w) {
			return false
		}
	}
	for w, p := range other.perWriter {
		if t.PositionFor(w) > p {
			return false
		}
	}
	return true
}

func (t Token) Equal(other Token) bool {
	if t.floor != other.floor || len(t.perWriter) != len(other.perWriter) {
		return false
	}
	for w, p := range t.perWriter {
		if op, ok := other.perWriter[w]; !ok || op != p {
			return false
		}
	}
	return true
}

// Join is the least upper bound of t and other.
func (t Token) Join(other Token) Token {
	floor := t.floor
	if other.floor > floor {
		floor = other.floor
	}
	pw := make(map[WriterID]StreamPosition, len(t.perWriter)+len(other.perWriter))
	for w := range t.perWriter {
		pw[w] = maxPos(t.PositionFor(w), other.PositionFor(w))
	}
	for w := range other.perWriter {
		pw[w] = maxPos(t.PositionFor(w), other.PositionFor(w))
	}
	return New(floor, pw)
}

// Advance returns a copy of t where w is at least at pos.
func (t Token) Advance(w WriterID, pos StreamPosition) Token {
	if pos <= t.PositionFor(w) {
		return t
	}
	pw := t.PerWriter()
	pw[w] = pos
	return New(t.floor, pw)
}

// String renders the token as s{floor} or m{floor}~{writer}.{pos}~... with
// writers sorted so equal tokens always render the same.
func (t Token) String() string {
	if t.IsScalar() {
		return fmt.Sprintf("s%d", t.floor)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "m%d", t.floor)
	for _, w := range t.Writers() {
		fmt.Fprintf(&sb, "~%s.%d", w, t.perWriter[w])
	}
	return sb.String()
}

func maxPos(a, b StreamPosition) StreamPosition {
	if a > b {
		return a
	}
	return b
}
