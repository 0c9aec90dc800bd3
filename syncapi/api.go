// Package syncapi exposes the room resolver and the membership writers over
// HTTP. It carries no business rules of its own.
package syncapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/roomsync/membership"
	"github.com/iidesho/roomsync/persister"
	"github.com/iidesho/roomsync/rooms"
	"github.com/iidesho/roomsync/token"
	"github.com/iidesho/roomsync/webserver"
)

var log = sbragi.WithLocalScope(sbragi.LevelInfo)

type Resolver interface {
	ResolveRoomSet(ctx context.Context, user membership.UserID, from, to token.Token) (map[membership.RoomID]struct{}, error)
}

type Writer interface {
	Persist(ctx context.Context, r membership.Record) (membership.Record, error)
	Forget(ctx context.Context, user membership.UserID, room membership.RoomID) error
}

type Clock interface {
	CurrentToken() token.Token
}

type TokenResponse struct {
	Token token.Token `json:"token"`
}

type RoomsResponse struct {
	Rooms []membership.RoomID `json:"rooms"`
	From  token.Token         `json:"from"`
	To    token.Token         `json:"to"`
}

type MembershipRequest struct {
	Membership string `json:"membership"`
	Sender     string `json:"sender,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type api struct {
	clock    Clock
	resolver Resolver
	writer   Writer
}

// Register adds the sync routes to r.
//
//	GET  /token
//	GET  /users/:user/rooms?from=&to=
//	POST /rooms/:room/members/:user
//	POST /rooms/:room/forget/:user
func Register(r fiber.Router, clock Clock, resolver Resolver, writer Writer) {
	a := api{
		clock:    clock,
		resolver: resolver,
		writer:   writer,
	}
	r.Get("/token", a.currentToken)
	r.Get("/users/:user/rooms", a.userRooms)
	r.Post("/rooms/:room/members/:user", a.setMembership)
	r.Post("/rooms/:room/forget/:user", a.forget)
}

func (a api) currentToken(c *fiber.Ctx) error {
	return c.JSON(TokenResponse{Token: a.clock.CurrentToken()})
}

func (a api) userRooms(c *fiber.Ctx) error {
	user, err := param(c, "user")
	if err != nil {
		return webserver.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	if c.Query("from") == "" {
		return webserver.ErrorResponse(c, "from token is required", fiber.StatusBadRequest)
	}
	from, err := token.Parse(c.Query("from"))
	if err != nil {
		return webserver.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	current := a.clock.CurrentToken()
	to := current
	if c.Query("to") != "" {
		to, err = token.Parse(c.Query("to"))
		if err != nil {
			return webserver.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
		}
		// past the watermarks the log may hold records that are not committed yet
		if !to.IsBeforeOrEqual(current) {
			return webserver.ErrorResponse(c,
				fmt.Sprintf("to token %s is ahead of the current token %s", to, current),
				fiber.StatusBadRequest)
		}
	}
	set, err := a.resolver.ResolveRoomSet(c.UserContext(), membership.UserID(user), from, to)
	if err != nil {
		return writeError(c, err)
	}
	resp := RoomsResponse{
		Rooms: make([]membership.RoomID, 0, len(set)),
		From:  from,
		To:    to,
	}
	for room := range set {
		resp.Rooms = append(resp.Rooms, room)
	}
	sort.Slice(resp.Rooms, func(i, j int) bool { return resp.Rooms[i] < resp.Rooms[j] })
	return c.JSON(resp)
}

func (a api) setMembership(c *fiber.Ctx) error {
	room, err := param(c, "room")
	if err != nil {
		return webserver.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	user, err := param(c, "user")
	if err != nil {
		return webserver.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	req, err := webserver.UnmarshalBody[MembershipRequest](c)
	if err != nil {
		return webserver.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	m, err := membership.ParseMembership(req.Membership)
	if err != nil {
		return webserver.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	r, err := a.writer.Persist(c.UserContext(), membership.Record{
		RoomID:     membership.RoomID(room),
		UserID:     membership.UserID(user),
		Membership: m,
		Sender:     membership.UserID(req.Sender),
		Reason:     req.Reason,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

func (a api) forget(c *fiber.Ctx) error {
	room, err := param(c, "room")
	if err != nil {
		return webserver.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	user, err := param(c, "user")
	if err != nil {
		return webserver.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	err = a.writer.Forget(c.UserContext(), membership.UserID(user), membership.RoomID(room))
	if err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// param returns the unescaped path parameter. Matrix ids carry ':' and are
// usually sent percent encoded.
func param(c *fiber.Ctx, name string) (string, error) {
	v, err := url.PathUnescape(c.Params(name))
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", errors.New(name + " is required")
	}
	return v, nil
}

func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, rooms.ErrInvalidRange),
		errors.Is(err, membership.ErrInvalidRecord),
		errors.Is(err, membership.ErrDuplicateEvent):
		return webserver.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	case errors.Is(err, membership.ErrLogUnavailable),
		errors.Is(err, persister.ErrNoWriter),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		log.WithError(err).Warning("sync request could not be served", "path", c.Path())
		return webserver.ErrorResponse(c, err.Error(), fiber.StatusServiceUnavailable)
	}
	return err
}
