package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
	sendBuffer = 256

	// a connection may store sendBurst messages per sendWindow
	sendBurst  = 5
	sendWindow = 3 * time.Second
)

var connSeq atomic.Uint64

// Conn wraps a single websocket connection and its buffered send queue.
// Everything sent to it goes through the Hub so a dropped connection's
// queue is never written after it is closed.
type Conn struct {
	id   uint64
	ws   *websocket.Conn
	send chan []byte

	// rooms and closed are guarded by the hub lock.
	rooms  map[string]struct{}
	closed bool

	mu       sync.Mutex
	userID   string
	userName string
	recent   []time.Time // accepted send times, oldest first
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		id:    connSeq.Add(1),
		ws:    ws,
		send:  make(chan []byte, sendBuffer),
		rooms: make(map[string]struct{}),
	}
}

func (c *Conn) identity() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.userName
}

// bind sets the user behind the connection the first time it is announced.
// It reports whether this call did the binding.
func (c *Conn) bind(userID, userName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" || userID == "" {
		if c.userID == userID && userName != "" {
			c.userName = userName
		}
		return false
	}
	c.userID = userID
	c.userName = userName
	return true
}

// allowSend reports whether another message may be stored at now, and
// records it when so.
func (c *Conn) allowSend(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.Add(-sendWindow)
	expired := 0
	for expired < len(c.recent) && !c.recent[expired].After(cutoff) {
		expired++
	}
	c.recent = c.recent[expired:]
	if len(c.recent) >= sendBurst {
		return false
	}
	c.recent = append(c.recent, now)
	return true
}

// Hub tracks live connections and room membership.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	conns map[*Conn]struct{}
	// onDrop is told about connections evicted for being too slow.
	onDrop func(*Conn)
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Conn]struct{}),
		conns: make(map[*Conn]struct{}),
	}
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

// remove drops c from every room and closes its queue. It returns the rooms
// c was in.
func (h *Hub) remove(c *Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Conn) []string {
	if c.closed {
		return nil
	}
	rooms := make([]string, 0, len(c.rooms))
	for key := range c.rooms {
		rooms = append(rooms, key)
		h.leaveLocked(c, key)
	}
	delete(h.conns, c)
	c.closed = true
	close(c.send)
	return rooms
}

// Join adds c to room. It reports false when c was already a member.
func (h *Hub) Join(c *Conn, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return false
	}
	if _, ok := c.rooms[room]; ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	return true
}

func (h *Hub) Leave(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Conn, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) IsMember(c *Conn, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// Exists reports whether anybody is in room.
func (h *Hub) Exists(room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room]
	return ok
}

// RoomCount is the number of rooms with at least one member.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send queues frame for c alone.
func (h *Hub) Send(c *Conn, frame []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deliverLocked(c, frame)
}

// Broadcast queues frame for every member of room except skip (which may be
// nil). Connections that cannot keep up are dropped.
func (h *Hub) Broadcast(room string, frame []byte, skip *Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.rooms[room] {
		if c == skip {
			continue
		}
		if h.deliverLocked(c, frame) {
			n++
		}
	}
	return n
}

// BroadcastAll queues frame for every live connection except skip.
func (h *Hub) BroadcastAll(frame []byte, skip *Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.conns {
		if c == skip {
			continue
		}
		if h.deliverLocked(c, frame) {
			n++
		}
	}
	return n
}

// hangUp closes every socket. Each readPump then fails its next read and
// runs the usual disconnect.
func (h *Hub) hangUp() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c.ws != nil {
			_ = c.ws.Close()
		}
	}
}

func (h *Hub) deliverLocked(c *Conn, frame []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		// too slow to read; closing the queue makes writePump hang up
		h.removeLocked(c)
		if h.onDrop != nil {
			go h.onDrop(c)
		}
		return false
	}
}
