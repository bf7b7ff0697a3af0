package server

import (
	"log"
	"sync"
)

// SessionRegistry maps each user id to their single live connection. A user
// authenticating on a second connection takes over: the previous connection
// is closed and replaced, never queued behind or rejected.
type SessionRegistry struct {
	log      *log.Logger
	mu       sync.Mutex
	sessions map[string]*Client
}

func NewSessionRegistry(logger *log.Logger) *SessionRegistry {
	return &SessionRegistry{
		log:      logger,
		sessions: make(map[string]*Client),
	}
}

// Register installs client as the live connection for userId, evicting any
// prior connection for the same user. Closing the evicted connection is
// best-effort; its own cleanup cannot erase the new registration because
// Deregister is identity-guarded.
func (sr *SessionRegistry) Register(userId string, client *Client) {
	sr.mu.Lock()
	prev := sr.sessions[userId]
	sr.sessions[userId] = client
	sr.mu.Unlock()

	if prev != nil && prev != client {
		sr.log.Printf("evicting existing session for user %q", userId)
		prev.evict()
	}
}

// Lookup returns the live connection for userId. A miss means the user is
// not currently reachable; it is never an error.
func (sr *SessionRegistry) Lookup(userId string) (*Client, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	client, ok := sr.sessions[userId]
	return client, ok
}

// Deregister removes the entry for userId only if it still points at client,
// so a stale deregister from an evicted connection is a no-op.
func (sr *SessionRegistry) Deregister(userId string, client *Client) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.sessions[userId] == client {
		delete(sr.sessions, userId)
	}
}
