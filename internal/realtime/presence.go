package realtime

import (
	"sync"
)

// Link is the outbound side of a registered connection. *Connection is the
// production implementation; tests register fakes.
type Link interface {
	Send(payload []byte) error
	Close(code int, reason string)
}

// Presence is the process-local registry of who is reachable right now. It
// keeps a bidirectional user/connection mapping plus business-room
// membership, and is consulted synchronously before every real-time emit.
// Lookups never block on anything but the mutex.
//
// Presence is per process: a user connected to another process is invisible
// here. Running multiple instances needs a shared presence layer first.
type Presence struct {
	mu     sync.RWMutex
	users  map[string]Link            // userID -> connection
	owners map[Link]string            // connection -> userID
	rooms  map[string]map[string]Link // businessID -> userID -> connection
	member map[Link]map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{
		users:  make(map[string]Link),
		owners: make(map[Link]string),
		rooms:  make(map[string]map[string]Link),
		member: make(map[Link]map[string]struct{}),
	}
}

// Register records the mapping for userID. Last connection wins: a previous
// connection for the same user is dropped from the registry and closed after
// the swap.
func (p *Presence) Register(userID string, conn Link) {
	var previous Link

	p.mu.Lock()
	if existing, ok := p.users[userID]; ok && existing != conn {
		previous = existing
		p.removeLocked(existing)
	}
	p.users[userID] = conn
	p.owners[conn] = userID
	p.mu.Unlock()

	if previous != nil {
		previous.Close(4001, "session replaced")
	}
}

// Deregister removes the mapping if conn is still the user's current
// connection. A stale connection that was already replaced is ignored.
func (p *Presence) Deregister(userID string, conn Link) {
	p.mu.Lock()
	if current, ok := p.users[userID]; ok && current == conn {
		p.removeLocked(conn)
	}
	p.mu.Unlock()
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	_, ok := p.users[userID]
	p.mu.RUnlock()
	return ok
}

// ConnectionFor returns the user's current connection, if any.
func (p *Presence) ConnectionFor(userID string) (Link, bool) {
	p.mu.RLock()
	conn, ok := p.users[userID]
	p.mu.RUnlock()
	return conn, ok
}

// JoinBusiness adds the connection to a business-scoped room. The ownership
// check happens before this call; the registry only tracks membership.
func (p *Presence) JoinBusiness(businessID, userID string, conn Link) {
	p.mu.Lock()
	room := p.rooms[businessID]
	if room == nil {
		room = make(map[string]Link)
		p.rooms[businessID] = room
	}
	room[userID] = conn

	memberships := p.member[conn]
	if memberships == nil {
		memberships = make(map[string]struct{})
		p.member[conn] = memberships
	}
	memberships[businessID] = struct{}{}
	p.mu.Unlock()
}

// BusinessRoom snapshots the room's current connections.
func (p *Presence) BusinessRoom(businessID string) []Link {
	p.mu.RLock()
	room := p.rooms[businessID]
	links := make([]Link, 0, len(room))
	for _, conn := range room {
		links = append(links, conn)
	}
	p.mu.RUnlock()
	return links
}

// Connections snapshots every registered connection, for broadcasts.
func (p *Presence) Connections() []Link {
	p.mu.RLock()
	links := make([]Link, 0, len(p.users))
	for _, conn := range p.users {
		links = append(links, conn)
	}
	p.mu.RUnlock()
	return links
}

func (p *Presence) removeLocked(conn Link) {
	userID, ok := p.owners[conn]
	if !ok {
		return
	}
	delete(p.owners, conn)
	if current, ok := p.users[userID]; ok && current == conn {
		delete(p.users, userID)
	}

	for businessID := range p.member[conn] {
		room := p.rooms[businessID]
		if room == nil {
			continue
		}
		if member, ok := room[userID]; ok && member == conn {
			delete(room, userID)
		}
		if len(room) == 0 {
			delete(p.rooms, businessID)
		}
	}
	delete(p.member, conn)
}
