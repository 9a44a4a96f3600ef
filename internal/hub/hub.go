// Package hub holds the process-local connection registry and room
// router. The registry is authoritative only within one running instance;
// a multi-instance deployment must replace Registry with a shared-state
// implementation.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localmesh/relay/internal/auth"
	"github.com/localmesh/relay/internal/normalize"
)

// Conn is the minimal interface the hub needs from a transport
// connection: the ability to push a named event to the client. Send must
// not block; transports buffer writes and fail fast when the buffer is
// full.
type Conn interface {
	Send(event string, data any) error
}

// Session is the ephemeral per-connection record. It is created on
// successful handshake, mutated on status/location updates and destroyed
// on disconnect; it is never persisted.
type Session struct {
	Handle      string
	UserID      string
	DisplayName string
	Email       string
	Role        string
	Status      string
	GeoCell     string
	LastSeen    time.Time
}

// Registry is the surface the router, transport and engines use to
// reach live connections and session state. Hub is the single-instance
// implementation; a distributed deployment can substitute a shared-state
// backend without touching callers.
type Registry interface {
	Register(conn Conn, id auth.Identity) (Session, bool)
	Deregister(handle string) (Session, bool)
	Session(handle string) (Session, bool)
	Conn(handle string) (Conn, bool)
	ConnsFor(userID string) []Conn
	HandlesFor(userID string) []string
	AllConns() []Conn
	IsOnline(userID string) bool
	ConnectedUsers() []string
	SetStatus(userID, status string) bool
	LiveStatus(userID string) (string, bool)
	SetGeoCell(handle, cell string)
}

var _ Registry = (*Hub)(nil)

type entry struct {
	sess Session
	conn Conn
}

// Hub maps connection handles to sessions and user ids to their set of
// live handles (multi-device fan-in). Both maps are mutated together
// under one lock so there is no window where a user looks online with no
// session or vice versa.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	users    map[string]map[string]struct{}
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		sessions: make(map[string]*entry),
		users:    make(map[string]map[string]struct{}),
	}
}

// Register inserts a new connection for the identity and returns its
// session. cameOnline is true when this is the user's first live
// connection, i.e. the offline→online presence transition.
func (h *Hub) Register(conn Conn, id auth.Identity) (Session, bool) {
	sess := Session{
		Handle:      uuid.NewString(),
		UserID:      normalize.ID(id.ID),
		DisplayName: id.DisplayName,
		Email:       id.Email,
		Role:        id.Role,
		Status:      "online",
		LastSeen:    time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[sess.Handle] = &entry{sess: sess, conn: conn}
	handles, existed := h.users[sess.UserID]
	if !existed {
		handles = make(map[string]struct{})
		h.users[sess.UserID] = handles
	}
	cameOnline := len(handles) == 0
	handles[sess.Handle] = struct{}{}
	return sess, cameOnline
}

// Deregister removes the handle from both maps. wentOffline is true only
// when this was the user's last live connection; a single disconnected
// device of a multi-device user must not mark the user offline.
func (h *Hub) Deregister(handle string) (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.sessions[handle]
	if !ok {
		return Session{}, false
	}
	delete(h.sessions, handle)

	wentOffline := false
	if handles, ok := h.users[e.sess.UserID]; ok {
		delete(handles, handle)
		if len(handles) == 0 {
			delete(h.users, e.sess.UserID)
			wentOffline = true
		}
	}
	return e.sess, wentOffline
}

// Session returns a copy of the session for a handle.
func (h *Hub) Session(handle string) (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.sessions[handle]
	if !ok {
		return Session{}, false
	}
	return e.sess, true
}

// Conn returns the live connection for a handle.
func (h *Hub) Conn(handle string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.sessions[handle]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// ConnsFor returns every live connection for a user (all devices).
func (h *Hub) ConnsFor(userID string) []Conn {
	userID = normalize.ID(userID)
	h.mu.RLock()
	defer h.mu.RUnlock()
	handles := h.users[userID]
	if len(handles) == 0 {
		return nil
	}
	conns := make([]Conn, 0, len(handles))
	for handle := range handles {
		if e, ok := h.sessions[handle]; ok {
			conns = append(conns, e.conn)
		}
	}
	return conns
}

// HandlesFor returns the user's live connection handles.
func (h *Hub) HandlesFor(userID string) []string {
	userID = normalize.ID(userID)
	h.mu.RLock()
	defer h.mu.RUnlock()
	handles := make([]string, 0, len(h.users[userID]))
	for handle := range h.users[userID] {
		handles = append(handles, handle)
	}
	return handles
}

// AllConns returns every live connection on this instance.
func (h *Hub) AllConns() []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]Conn, 0, len(h.sessions))
	for _, e := range h.sessions {
		conns = append(conns, e.conn)
	}
	return conns
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	userID = normalize.ID(userID)
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// ConnectedUsers lists user ids with at least one live connection.
func (h *Hub) ConnectedUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.users))
	for userID := range h.users {
		users = append(users, userID)
	}
	return users
}

// SetStatus records a user's status on all of their sessions and returns
// whether the user had any live connection.
func (h *Hub) SetStatus(userID, status string) bool {
	userID = normalize.ID(userID)
	now := time.Now().UTC()
	h.mu.Lock()
	defer h.mu.Unlock()
	handles := h.users[userID]
	for handle := range handles {
		if e, ok := h.sessions[handle]; ok {
			e.sess.Status = status
			e.sess.LastSeen = now
		}
	}
	return len(handles) > 0
}

// LiveStatus returns the user's current status if they are connected.
func (h *Hub) LiveStatus(userID string) (string, bool) {
	userID = normalize.ID(userID)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for handle := range h.users[userID] {
		if e, ok := h.sessions[handle]; ok {
			return e.sess.Status, true
		}
	}
	return "", false
}

// SetGeoCell records the connection's current geo cell on its session.
func (h *Hub) SetGeoCell(handle, cell string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.sessions[handle]; ok {
		e.sess.GeoCell = cell
	}
}
