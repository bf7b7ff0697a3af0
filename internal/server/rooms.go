package server

import (
	"sync"

	"github.com/studynexus/chat-server/internal/stats"
)

// RoomRegistry indexes which users are currently joined for live delivery in
// each room. It is purely a runtime fan-out index, distinct from durable
// room membership: it starts empty on process start and is never persisted.
type RoomRegistry struct {
	stats stats.StatsProvider
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func NewRoomRegistry(su stats.StatsProvider) *RoomRegistry {
	return &RoomRegistry{
		stats: su,
		rooms: make(map[string]map[string]struct{}),
	}
}

// Join adds userId to roomId's live set. Idempotent; authorization is the
// caller's responsibility.
func (rr *RoomRegistry) Join(roomId, userId string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	members, ok := rr.rooms[roomId]
	if !ok {
		members = make(map[string]struct{})
		rr.rooms[roomId] = members
		rr.stats.Incr("ActiveRooms")
	}
	members[userId] = struct{}{}
}

// MembersOf returns a snapshot of the users currently joined to roomId.
// The snapshot is safe to iterate while joins and leaves happen elsewhere.
func (rr *RoomRegistry) MembersOf(roomId string) []string {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	members := make([]string, 0, len(rr.rooms[roomId]))
	for userId := range rr.rooms[roomId] {
		members = append(members, userId)
	}
	return members
}

// LeaveAll removes userId from every room's live set, dropping rooms that
// become empty. Called once per connection, during cleanup.
func (rr *RoomRegistry) LeaveAll(userId string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	for roomId, members := range rr.rooms {
		if _, ok := members[userId]; !ok {
			continue
		}
		delete(members, userId)
		if len(members) == 0 {
			delete(rr.rooms, roomId)
			rr.stats.Decr("ActiveRooms")
		}
	}
}
