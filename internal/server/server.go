package server

import (
	"context"
	"log"
	"sync"

	"github.com/studynexus/chat-server/internal/database"
	"github.com/studynexus/chat-server/internal/stats"
)

// ChatServer owns the two registries shared by every connection and the
// collaborators a connection needs: the message store, the membership
// oracle and the stats sink. Connections are the only concurrent tasks;
// every registry mutation is a single atomic operation.
type ChatServer struct {
	log         *log.Logger
	db          database.ChatRepository
	sessions    *SessionRegistry
	rooms       *RoomRegistry
	membership  *Membership
	stats       stats.StatsProvider
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, su stats.StatsProvider) (*ChatServer, error) {
	for _, metric := range []string{
		"ActiveSessions",
		"ActiveRooms",
		"MessagesPersisted",
		"MessagesDelivered",
		"DeliveryMisses",
	} {
		su.RegisterMetric(metric)
	}

	return &ChatServer{
		log:        logger,
		db:         db,
		sessions:   NewSessionRegistry(logger),
		rooms:      NewRoomRegistry(su),
		membership: NewMembership(db),
		stats:      su,
		clients:    make(map[*Client]struct{}),
	}, nil
}

// Membership exposes the membership oracle to the REST layer.
func (cs *ChatServer) Membership() *Membership {
	return cs.membership
}

// RegisterClient installs an authenticated connection in the session
// registry, evicting any prior session for the same user. The caller starts
// the connection's pumps afterwards.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.addClient(c)
	cs.sessions.Register(c.userId, c)
	cs.stats.Incr("ActiveSessions")
	cs.log.Printf("registered session for user %q", c.userId)
}

// sendToUser delivers env to userId's live connection, if any. A user with
// no live session is silently skipped; a failed delivery is a miss for that
// one recipient and never surfaces to the caller.
func (cs *ChatServer) sendToUser(userId string, env *Envelope) {
	client, ok := cs.sessions.Lookup(userId)
	if !ok {
		return
	}

	if !client.queueMessage(env) {
		cs.stats.Incr("DeliveryMisses")
		return
	}

	cs.stats.Incr("MessagesDelivered")
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

// Shutdown closes every live connection and waits for each one's cleanup to
// finish or the context to expire.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.clientsLock.Lock()
	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	cs.clientsLock.Unlock()

	cs.log.Printf("closing %d live connections", len(clients))
	for _, c := range clients {
		c.evict()
	}

	for _, c := range clients {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
