package hub

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/localmesh/relay/internal/normalize"
)

// GeoCellPrecision is the number of decimal places latitude and longitude
// are rounded to when deriving a geo-cell key. Two decimal places give a
// cell edge of roughly 1.11 km at the equator. Tests assert exact cell
// membership against this constant.
const GeoCellPrecision = 2

// Deliver target prefixes. User targets resolve to the user's live
// devices through the registry; geo cells scope location broadcasts;
// conversation rooms scope group chat.
const (
	TargetAll  = "all"
	userPrefix = "user:"
	geoPrefix  = "geo:"
	roomPrefix = "room:"
)

// UserTarget builds a deliver target for every device of a user.
func UserTarget(userID string) string { return userPrefix + normalize.ID(userID) }

// GeoTarget builds a deliver target for a geo cell.
func GeoTarget(cell string) string { return geoPrefix + cell }

// RoomTarget builds a deliver target for a conversation room.
func RoomTarget(roomID string) string { return roomPrefix + normalize.ID(roomID) }

// GeoCellKey derives the deterministic coarse spatial partition key for a
// coordinate pair.
func GeoCellKey(lat, lng float64) string {
	return cellCoord(lat) + ":" + cellCoord(lng)
}

// cellCoord rounds one coordinate to the cell precision. Negative zero
// collapses to zero so the cell straddling the equator or prime meridian
// has a single key.
func cellCoord(v float64) string {
	scale := math.Pow10(GeoCellPrecision)
	r := math.Round(v*scale) / scale
	if r == 0 {
		r = 0
	}
	return strconv.FormatFloat(r, 'f', GeoCellPrecision, 64)
}

// Router manages membership of connections in geo-cell and conversation
// rooms and fans events out to them. Membership is keyed by connection
// handle; the hub resolves handles to live connections at delivery time,
// so the router lock is never held across a send.
type Router struct {
	hub Registry
	log *slog.Logger

	mu       sync.RWMutex
	rooms    map[string]map[string]struct{} // forward: room → handles
	joined   map[string]map[string]struct{} // reverse: handle → rooms
	geoCells map[string]string              // handle → current cell, at most one
}

// NewRouter returns a Router over the given registry.
func NewRouter(h Registry, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		hub:      h,
		log:      log,
		rooms:    make(map[string]map[string]struct{}),
		joined:   make(map[string]map[string]struct{}),
		geoCells: make(map[string]string),
	}
}

// join and leave assume r.mu is held.
func (r *Router) join(handle, room string) {
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][handle] = struct{}{}
	if r.joined[handle] == nil {
		r.joined[handle] = make(map[string]struct{})
	}
	r.joined[handle][room] = struct{}{}
}

func (r *Router) leave(handle, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, handle)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, ok := r.joined[handle]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, handle)
		}
	}
}

// JoinGeoCell moves the connection into the cell containing the
// coordinates, leaving any previous cell first: a connection is a member
// of at most one geo cell at a time. Returns the cell key.
func (r *Router) JoinGeoCell(handle string, lat, lng float64) string {
	cell := GeoCellKey(lat, lng)
	r.mu.Lock()
	if prev, ok := r.geoCells[handle]; ok && prev != cell {
		r.leave(handle, GeoTarget(prev))
	}
	r.geoCells[handle] = cell
	r.join(handle, GeoTarget(cell))
	r.mu.Unlock()

	r.hub.SetGeoCell(handle, cell)
	return cell
}

// LeaveGeoCell removes the connection from its current geo cell, if any.
func (r *Router) LeaveGeoCell(handle string) {
	r.mu.Lock()
	if prev, ok := r.geoCells[handle]; ok {
		delete(r.geoCells, handle)
		r.leave(handle, GeoTarget(prev))
	}
	r.mu.Unlock()

	r.hub.SetGeoCell(handle, "")
}

// GeoCell returns the connection's current cell key, if any.
func (r *Router) GeoCell(handle string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cell, ok := r.geoCells[handle]
	return cell, ok
}

// JoinConversation adds the connection to a conversation room.
func (r *Router) JoinConversation(handle, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.join(handle, RoomTarget(roomID))
}

// LeaveConversation removes the connection from a conversation room.
func (r *Router) LeaveConversation(handle, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave(handle, RoomTarget(roomID))
}

// InRoom reports whether the connection is a member of a conversation
// room.
func (r *Router) InRoom(handle, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[RoomTarget(roomID)][handle]
	return ok
}

// RemoveAll drops the connection from every room it joined; called on
// disconnect.
func (r *Router) RemoveAll(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.geoCells, handle)
	for room := range r.joined[handle] {
		if members, ok := r.rooms[room]; ok {
			delete(members, handle)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	delete(r.joined, handle)
}

// Members returns the handles currently in a room.
func (r *Router) Members(target string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[target]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for handle := range members {
		out = append(out, handle)
	}
	return out
}

// Deliver fans an event out to a target: "user:<id>" reaches every live
// device of the user via the registry, "all" reaches every connection on
// this instance, anything else is room membership. Delivery is best
// effort; failed sends are logged and the transport tears its own
// connection down.
func (r *Router) Deliver(target, event string, data any) {
	r.DeliverExcept(target, "", event, data)
}

// DeliverExcept is Deliver skipping one connection handle (used to
// exclude a sender from their own room broadcast).
func (r *Router) DeliverExcept(target, exceptHandle, event string, data any) {
	switch {
	case target == TargetAll:
		for _, conn := range r.hub.AllConns() {
			if err := conn.Send(event, data); err != nil {
				r.log.Debug("broadcast send failed", "event", event, "error", err)
			}
		}
	case strings.HasPrefix(target, userPrefix):
		userID := strings.TrimPrefix(target, userPrefix)
		for _, handle := range r.hub.HandlesFor(userID) {
			if handle == exceptHandle {
				continue
			}
			r.sendTo(handle, event, data)
		}
	default:
		for _, handle := range r.Members(target) {
			if handle == exceptHandle {
				continue
			}
			r.sendTo(handle, event, data)
		}
	}
}

func (r *Router) sendTo(handle, event string, data any) {
	conn, ok := r.hub.Conn(handle)
	if !ok {
		return
	}
	if err := conn.Send(event, data); err != nil {
		r.log.Debug("send failed", "event", event, "handle", handle, "error", err)
	}
}
