package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/studynexus/chat-server/internal/database"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client owns one live websocket connection for the connection's lifetime.
// It is created only after the handshake token resolved to a user id; the
// user id never changes for the life of the connection.
type Client struct {
	conn        *websocket.Conn
	chatServer  *ChatServer
	log         *log.Logger
	userId      string
	send        chan *Envelope
	stop        chan struct{}
	stopOnce    sync.Once
	cleanupOnce sync.Once
	done        chan struct{}
}

func NewClient(userId string, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		userId:     userId,
		send:       make(chan *Envelope, 256),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(env)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// malformed payloads are dropped; the connection stays up
			c.log.Println("error parsing message:", err)
			continue
		}

		c.dispatch(&env)
	}
}

// dispatch routes one inbound envelope. Unknown and server-only types are
// dropped without terminating the connection.
func (c *Client) dispatch(env *Envelope) {
	if !env.Type.valid() || env.Type.serverOnly() {
		c.log.Printf("dropping unsupported message type %q from user %q", env.Type, c.userId)
		return
	}

	switch env.Type {
	case TypeJoinRoom:
		c.handleJoinRoom(env.RoomId)
	case TypeMessage:
		c.handleChatMessage(env)
	}
}

// handleJoinRoom subscribes the user to live delivery for a room they are
// authorized for. Unauthorized joins are dropped without a reply.
func (c *Client) handleJoinRoom(roomId string) {
	if !c.chatServer.membership.IsMember(c.userId, roomId) {
		c.log.Printf("user %q attempted to join unauthorized room %q", c.userId, roomId)
		return
	}

	c.chatServer.rooms.Join(roomId, c.userId)

	// acknowledge to the joining user only, never broadcast
	c.chatServer.sendToUser(c.userId, roomJoinedEnvelope(roomId))
}

// handleChatMessage persists an authorized message and fans it out to every
// member currently live in the session registry. The sender identity comes
// from the authenticated connection, never from the envelope.
func (c *Client) handleChatMessage(env *Envelope) {
	if !c.chatServer.membership.IsMember(c.userId, env.RoomId) {
		c.log.Printf("user %q attempted to send message to unauthorized room %q", c.userId, env.RoomId)
		return
	}

	saved, err := c.chatServer.db.SaveMessage(database.Message{
		RoomId:   env.RoomId,
		SenderId: c.userId,
		Content:  env.Content,
	})
	if err != nil {
		// the message is lost for this attempt; the connection stays up
		c.log.Println("error saving message:", err)
		return
	}
	c.chatServer.stats.Incr("MessagesPersisted")

	out := MessageEnvelope(saved)
	for _, memberId := range c.chatServer.rooms.MembersOf(saved.RoomId) {
		c.chatServer.sendToUser(memberId, out)
	}
}

// queueMessage hands env to the write pump without blocking. A full send
// buffer counts as a delivery miss for this one recipient.
func (c *Client) queueMessage(env *Envelope) bool {
	select {
	case c.send <- env:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// evict asks the connection to shut down. The read pump observes the closed
// transport and runs cleanup.
func (c *Client) evict() {
	c.stopClient()
	c.conn.Close()
}

// cleanup releases every registry entry held for this connection. Several
// close paths (transport error, eviction, shutdown) may race into it; it
// runs exactly once. The session deregister is identity-guarded, so an
// evicted connection cannot erase its successor's registration.
func (c *Client) cleanup() {
	c.cleanupOnce.Do(func() {
		c.chatServer.sessions.Deregister(c.userId, c)
		c.chatServer.rooms.LeaveAll(c.userId)
		c.chatServer.removeClient(c)
		c.chatServer.stats.Decr("ActiveSessions")
		c.stopClient()
		close(c.done)
	})
}
