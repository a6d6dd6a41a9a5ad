package models

import (
	"errors"
	"net/url"
	"strings"
)

const roomPrefix = "dm:"

var ErrInvalidRoom = errors.New("invalid room id")

// Conversation is the unordered pair of participants that exchanged messages.
// It is never stored; Lo and Hi are the pair sorted so that equal pairs compare equal.
type Conversation struct {
	Lo string
	Hi string
}

func NewConversation(a, b string) Conversation {
	if b < a {
		a, b = b, a
	}
	return Conversation{Lo: a, Hi: b}
}

// RoomID is the broadcast group every participant of the pair subscribes to.
// Ids are query-escaped so a ':' inside an id cannot shift the separator.
func (c Conversation) RoomID() string {
	return roomPrefix + url.QueryEscape(c.Lo) + ":" + url.QueryEscape(c.Hi)
}

func (c Conversation) Has(userID string) bool {
	return userID != "" && (c.Lo == userID || c.Hi == userID)
}

func RoomID(a, b string) string {
	return NewConversation(a, b).RoomID()
}

// ParseRoom recovers the participant pair from a room id built by RoomID.
// Only the canonical form is accepted.
func ParseRoom(room string) (Conversation, error) {
	room = strings.TrimSpace(room)
	rest, ok := strings.CutPrefix(room, roomPrefix)
	if !ok {
		return Conversation{}, ErrInvalidRoom
	}
	rawLo, rawHi, ok := strings.Cut(rest, ":")
	if !ok {
		return Conversation{}, ErrInvalidRoom
	}
	lo, err := url.QueryUnescape(rawLo)
	if err != nil || lo == "" {
		return Conversation{}, ErrInvalidRoom
	}
	hi, err := url.QueryUnescape(rawHi)
	if err != nil || hi == "" {
		return Conversation{}, ErrInvalidRoom
	}
	c := NewConversation(lo, hi)
	if c.Lo != lo || c.RoomID() != room {
		return Conversation{}, ErrInvalidRoom
	}
	return c, nil
}
