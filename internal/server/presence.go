package server

import "sync"

// Presence maps each user to the connections currently announcing them.
// Attach and Detach are idempotent per connection, so a connection counted
// twice or released twice cannot skew the online state.
type Presence struct {
	mu    sync.Mutex
	users map[string]map[uint64]struct{}
}

func NewPresence() *Presence {
	return &Presence{users: make(map[string]map[uint64]struct{})}
}

// Attach records connID for userID and reports whether the user just came
// online.
func (p *Presence) Attach(userID string, connID uint64) (cameOnline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns, ok := p.users[userID]
	if !ok {
		conns = make(map[uint64]struct{})
		p.users[userID] = conns
	}
	conns[connID] = struct{}{}
	return !ok
}

// Detach forgets connID and reports whether it was the user's last one.
func (p *Presence) Detach(userID string, connID uint64) (wentOffline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns, ok := p.users[userID]
	if !ok {
		return false
	}
	if _, held := conns[connID]; !held {
		return false
	}
	delete(conns, connID)
	if len(conns) > 0 {
		return false
	}
	delete(p.users, userID)
	return true
}

func (p *Presence) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.users[userID]
	return ok
}

// Users counts users with at least one connection.
func (p *Presence) Users() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.users)
}
