package server

import (
	"strings"

	"github.com/studynexus/chat-server/internal/database"
)

const directRoomSep = "_"

// DeriveDirectRoomId returns the canonical room id for a two-party room.
// The id is order-independent: either participant computes the identical id
// for the same pair.
func DeriveDirectRoomId(a, b string) string {
	if a < b {
		return a + directRoomSep + b
	}
	return b + directRoomSep + a
}

// RoomParticipants splits a direct room id into its two participants.
// ok is false when the id does not have exactly two components.
func RoomParticipants(roomId string) ([]string, bool) {
	parts := strings.Split(roomId, directRoomSep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, false
	}
	return parts, true
}

// Membership answers whether a user may participate in a room. Direct rooms
// carry their two participants in the room id itself, so membership is
// decided from the id alone; the repository backs the user-existence checks
// used by the REST layer.
type Membership struct {
	db database.ChatRepository
}

func NewMembership(db database.ChatRepository) *Membership {
	return &Membership{db: db}
}

// IsMember reports whether userId may participate in roomId. Absence of
// membership is a normal false, never an error; malformed room ids are
// non-membership for everyone.
func (m *Membership) IsMember(userId, roomId string) bool {
	parts, ok := RoomParticipants(roomId)
	if !ok {
		return false
	}

	return parts[0] == userId || parts[1] == userId
}

// UserExists reports whether the user id is known to the user store.
func (m *Membership) UserExists(userId string) bool {
	return m.db.UserExists(userId)
}
