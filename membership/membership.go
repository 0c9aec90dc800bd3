// Package membership describes the membership event log the room resolver
// reads from, and the write side the persisters append to.
package membership

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/iidesho/roomsync/token"
)

type (
	RoomID string
	UserID string
)

type Membership string

const (
	Join   Membership = "join"
	Leave  Membership = "leave"
	Invite Membership = "invite"
	Ban    Membership = "ban"
	Knock  Membership = "knock"
)

func (m Membership) Valid() bool {
	switch m {
	case Join, Leave, Invite, Ban, Knock:
		return true
	}
	return false
}

func ParseMembership(s string) (Membership, error) {
	m := Membership(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: unknown membership %q", ErrInvalidRecord, s)
	}
	return m, nil
}

// Record is one membership changing event for a user in a room. Records are
// immutable once appended.
type Record struct {
	EventID    uuid.UUID            `json:"event_id"`
	RoomID     RoomID               `json:"room_id"`
	UserID     UserID               `json:"user_id"`
	Membership Membership           `json:"membership"`
	Sender     UserID               `json:"sender,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Writer     token.WriterID       `json:"writer"`
	Position   token.StreamPosition `json:"position"`
}

// IsKick reports a leave that was sent by someone other than the user.
func (r Record) IsKick() bool {
	return r.Membership == Leave && r.Sender != "" && r.Sender != r.UserID
}

// IsSelfLeave reports a leave the user sent themselves.
func (r Record) IsSelfLeave() bool {
	return r.Membership == Leave && !r.IsKick()
}

func (r Record) Validate() error {
	if r.RoomID == "" || r.UserID == "" {
		return fmt.Errorf("%w: room and user are required", ErrInvalidRecord)
	}
	if !r.Membership.Valid() {
		return fmt.Errorf("%w: unknown membership %q", ErrInvalidRecord, r.Membership)
	}
	if !token.ValidWriterID(r.Writer) {
		return fmt.Errorf("%w: invalid writer %q", ErrInvalidRecord, r.Writer)
	}
	if r.Position == 0 {
		return fmt.Errorf("%w: position must be positive", ErrInvalidRecord)
	}
	return nil
}

// Log is the read contract of the membership log.
type Log interface {
	// QueryUserRoomMemberships returns every record of user, in the log's order,
	// whose position is at or before upTo for the writer that produced it.
	QueryUserRoomMemberships(ctx context.Context, user UserID, upTo token.Token) ([]Record, error)
	// IsForgotten reads the current forgotten flag, independent of any token.
	IsForgotten(ctx context.Context, user UserID, room RoomID) (bool, error)
}

// Appender is the write side of the membership log.
type Appender interface {
	// Append stores a record that already carries its writer and position.
	Append(ctx context.Context, r Record) error
	// Forget sets the forgotten flag for user in room. Forgetting twice is a no-op.
	Forget(ctx context.Context, user UserID, room RoomID) error
	// MaxPosition is the highest position stored for writer, 0 when it has none.
	MaxPosition(ctx context.Context, writer token.WriterID) (token.StreamPosition, error)
}

type Store interface {
	Log
	Appender
	Close() error
}

// Visible reports whether r falls at or before upTo for its writer.
func Visible(r Record, upTo token.Token) bool {
	return upTo.Includes(r.Writer, r.Position)
}
