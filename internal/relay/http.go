package relay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/localmesh/relay/internal/wire"
)

// API exposes the facade over HTTP for the other backend services
// (gig matching, business directory, emergency coordination). It is
// meant to be bound to an internal listener, not the public edge.
type API struct {
	svc *Service
}

// NewAPI returns the HTTP surface over the service.
func NewAPI(svc *Service) *API {
	return &API{svc: svc}
}

// Register mounts the internal routes on the router.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/internal/notifications", a.handleNotify).Methods(http.MethodPost)
	r.HandleFunc("/internal/alerts", a.handleAlert).Methods(http.MethodPost)
	r.HandleFunc("/internal/broadcasts/location", a.handleLocationBroadcast).Methods(http.MethodPost)
	r.HandleFunc("/internal/users", a.handleConnectedUsers).Methods(http.MethodGet)
	r.HandleFunc("/internal/users/{id}/status", a.handleUserStatus).Methods(http.MethodGet)
	r.HandleFunc("/internal/history/direct", a.handleDirectHistory).Methods(http.MethodGet)
	r.HandleFunc("/internal/history/rooms/{id}", a.handleRoomHistory).Methods(http.MethodGet)
}

type notifyRequest struct {
	UserID   string         `json:"userId"`
	Category string         `json:"category"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data,omitempty"`
}

func (a *API) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	note := wire.Notification{Title: req.Title, Body: req.Body, Data: req.Data}
	if err := a.svc.SendNotificationToUser(r.Context(), req.UserID, req.Category, note); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type alertRequest struct {
	Message  string   `json:"message"`
	Severity string   `json:"severity"`
	Targets  []string `json:"targets,omitempty"`
}

func (a *API) handleAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := a.svc.SendEmergencyAlert(r.Context(), req.Message, req.Severity, req.Targets); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type locationBroadcastRequest struct {
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

func (a *API) handleLocationBroadcast(w http.ResponseWriter, r *http.Request) {
	var req locationBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Event == "" {
		httpError(w, http.StatusBadRequest, "event is required")
		return
	}
	n := a.svc.BroadcastToLocation(req.Latitude, req.Longitude, req.Event, req.Data)
	writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
}

func (a *API) handleConnectedUsers(w http.ResponseWriter, r *http.Request) {
	users := a.svc.ConnectedUsers()
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	status, lastSeen := a.svc.UserStatus(r.Context(), userID)
	resp := map[string]any{"userId": userID, "status": status}
	if !lastSeen.IsZero() {
		resp["lastSeen"] = lastSeen.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDirectHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userA, userB := q.Get("a"), q.Get("b")
	if userA == "" || userB == "" {
		httpError(w, http.StatusBadRequest, "query parameters a and b are required")
		return
	}
	msgs, err := a.svc.DirectHistory(r.Context(), userA, userB, historyLimit(q.Get("limit")))
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (a *API) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	msgs, err := a.svc.RoomHistory(r.Context(), roomID, historyLimit(r.URL.Query().Get("limit")))
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func historyLimit(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0 // store default
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
