package server

import (
	"github.com/studynexus/chat-server/internal/database"
)

// MessageType tags every envelope exchanged on a live connection. It is a
// closed set: anything else on the wire is malformed.
type MessageType string

const (
	TypeMessage    MessageType = "MESSAGE"
	TypeJoinRoom   MessageType = "JOIN_ROOM"
	TypeUserStatus MessageType = "USER_STATUS"
	TypeRoomJoined MessageType = "ROOM_JOINED"
)

func (t MessageType) valid() bool {
	switch t {
	case TypeMessage, TypeJoinRoom, TypeUserStatus, TypeRoomJoined:
		return true
	}
	return false
}

// serverOnly reports whether the type is only ever sent by the server.
// Receiving one inbound is treated the same as an unknown type.
func (t MessageType) serverOnly() bool {
	return t == TypeUserStatus || t == TypeRoomJoined
}

// Envelope is one discrete unit on the wire, in either direction. SenderId
// and Timestamp are ignored on input: the sender is always the authenticated
// connection and the timestamp is always assigned by the message store.
// Timestamp is epoch milliseconds.
type Envelope struct {
	Type      MessageType `json:"type"`
	RoomId    string      `json:"roomId"`
	SenderId  string      `json:"senderId,omitempty"`
	Content   string      `json:"content,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// MessageEnvelope converts a persisted message into its outbound envelope.
func MessageEnvelope(msg database.Message) *Envelope {
	return &Envelope{
		Type:      TypeMessage,
		RoomId:    msg.RoomId,
		SenderId:  msg.SenderId,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt.UnixMilli(),
	}
}

func roomJoinedEnvelope(roomId string) *Envelope {
	return &Envelope{
		Type:   TypeRoomJoined,
		RoomId: roomId,
	}
}
