package notify

import (
	"sync"
)

// Registry tracks subscribers per room
// FUNCTIONAL DISCOVERY: one connection per user and room; a reconnect
// replaces and closes the previous socket
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]*Connection)}
}

// Register adds conn, closing any connection it replaces.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[conn.RoomID()]
	if room == nil {
		room = make(map[string]*Connection)
		r.rooms[conn.RoomID()] = room
	}
	if existing, ok := room[conn.UserID()]; ok && existing != conn {
		// closed outside the lock, Close can block on the socket
		go func() { _ = existing.Close() }()
	}
	room[conn.UserID()] = conn
	return nil
}

// Unregister removes conn if it is still the registered instance for its
// user, so a stale socket cannot evict its replacement.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[conn.RoomID()]
	if !ok || room[conn.UserID()] != conn {
		return
	}
	delete(room, conn.UserID())
	if len(room) == 0 {
		delete(r.rooms, conn.RoomID())
	}
}

// RoomConnections returns a snapshot of the room's subscribers.
func (r *Registry) RoomConnections(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.rooms[roomID]))
	for _, c := range r.rooms[roomID] {
		conns = append(conns, c)
	}
	return conns
}

// Stats reports totals for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, room := range r.rooms {
		total += len(room)
	}
	return map[string]int{
		"total_connections": total,
		"active_rooms":      len(r.rooms),
	}
}

// CloseAll disconnects every subscriber and empties the registry.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]map[string]*Connection)
	r.mu.Unlock()

	n := 0
	for _, room := range rooms {
		for _, c := range room {
			_ = c.Close()
			n++
		}
	}
	return n
}
