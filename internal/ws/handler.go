package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localmesh/relay/internal/auth"
	"github.com/localmesh/relay/internal/chat"
	"github.com/localmesh/relay/internal/data"
	"github.com/localmesh/relay/internal/hub"
	"github.com/localmesh/relay/internal/metrics"
	"github.com/localmesh/relay/internal/middleware"
	"github.com/localmesh/relay/internal/presence"
	"github.com/localmesh/relay/internal/relay"
	"github.com/localmesh/relay/internal/signaling"
	"github.com/localmesh/relay/internal/wire"
)

// Deps carries everything the websocket endpoint dispatches into.
type Deps struct {
	Verifier auth.Verifier
	Registry hub.Registry
	Router   *hub.Router
	Signaler *presence.Signaler
	Engine   *chat.Engine
	Signals  *signaling.Relay
	Prefs    *data.PreferencesStore
	Service  *relay.Service
	Limiter  *middleware.LimiterStore
	Log      *slog.Logger
}

// Handler upgrades HTTP requests to websocket sessions and runs the
// per-connection read loop.
type Handler struct {
	deps     Deps
	upgrader websocket.Upgrader
}

// NewHandler returns the /ws endpoint handler.
func NewHandler(d Deps) *Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Handler{
		deps: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Mobile and desktop clients connect from app origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// bearerToken pulls the credential from ?token= or the Authorization
// header.
func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

// ServeHTTP authenticates the request, upgrades it and hands the socket
// to the session loop. Verification failure refuses the connection
// before any registry state exists.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	identity, err := h.deps.Verifier.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Log.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := newConn(wsConn)
	go conn.writePump()

	sess, cameOnline := h.deps.Registry.Register(conn, identity)
	h.deps.Signaler.HandleConnect(sess, cameOnline)
	metrics.ActiveConnections.Inc()
	metrics.OnlineUsers.Set(float64(len(h.deps.Registry.ConnectedUsers())))
	h.deps.Log.Info("client connected", "user", sess.UserID, "handle", sess.Handle)

	h.readLoop(r.Context(), conn, sess)
}

// readLoop decodes envelopes off the socket and dispatches them inline,
// preserving per-connection event order. It returns when the socket
// errors or closes, then unwinds all connection state.
func (h *Handler) readLoop(ctx context.Context, conn *Conn, sess hub.Session) {
	defer func() {
		gone, wentOffline := h.deps.Registry.Deregister(sess.Handle)
		h.deps.Router.RemoveAll(sess.Handle)
		if h.deps.Limiter != nil {
			h.deps.Limiter.Forget(sess.Handle)
		}
		h.deps.Signaler.HandleDisconnect(gone, wentOffline)
		conn.shutdown()
		metrics.ActiveConnections.Dec()
		metrics.OnlineUsers.Set(float64(len(h.deps.Registry.ConnectedUsers())))
		h.deps.Log.Info("client disconnected", "user", sess.UserID, "handle", sess.Handle)
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.deps.Log.Debug("read failed", "handle", sess.Handle, "error", err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			metrics.EventsRejected.WithLabelValues("decode").Inc()
			h.sendError(conn, "malformed event envelope")
			continue
		}

		if h.deps.Limiter != nil && !h.deps.Limiter.Allow(sess.Handle) {
			metrics.EventsRejected.WithLabelValues("rate_limit").Inc()
			h.sendError(conn, "rate limit exceeded")
			continue
		}

		metrics.EventsReceived.WithLabelValues(env.Event).Inc()
		if err := h.dispatch(ctx, conn, sess, env); err != nil {
			metrics.EventsRejected.WithLabelValues("handler").Inc()
			h.sendError(conn, err.Error())
		}
	}
}

func (h *Handler) sendError(conn *Conn, msg string) {
	_ = conn.Send(wire.EvError, wire.Error{Message: msg})
}

// dispatch routes one decoded envelope to its handler. Errors are
// reported to the originating connection only; the session stays up.
func (h *Handler) dispatch(ctx context.Context, conn *Conn, sess hub.Session, env wire.Envelope) error {
	switch env.Event {
	case wire.EvJoinUserRoom:
		// User-targeted delivery resolves devices through the registry,
		// so the session is reachable from the moment it registers. The
		// event is accepted as a no-op for wire compatibility.
		return nil

	case wire.EvJoinLocationRoom:
		var in wire.JoinLocationRoom
		if err := decode(env.Data, &in); err != nil {
			return err
		}
		cell := h.deps.Router.JoinGeoCell(sess.Handle, in.Lat, in.Lng)
		return conn.Send(wire.EvJoinedRoom, wire.RoomRef{RoomID: hub.GeoTarget(cell)})

	case wire.EvSendMessage:
		var in wire.SendMessage
		if err := decode(env.Data, &in); err != nil {
			return err
		}
		msg, err := h.deps.Engine.SendMessage(ctx, sess, in)
		if err != nil {
			return err
		}
		if msg.RoomID != "" {
			metrics.MessagesSent.WithLabelValues("room").Inc()
		} else {
			metrics.MessagesSent.WithLabelValues("direct").Inc()
		}
		return nil

	case wire.EvJoinRoom:
		var in wire.RoomRef
		if err := decode(env.Data, &in); err != nil {
			return err
		}
		if in.RoomID == "" {
			return fmt.Errorf("roomId is required")
		}
		h.deps.Router.JoinConversation(sess.Handle, in.RoomID)
		h.deps.Router.Deliver(hub.RoomTarget(in.RoomID), wire.EvJoinedRoom, map[string]string{
			"roomId": in.RoomID, "userId": sess.UserID, "username": sess.DisplayName,
		})
		return nil

	case wire.EvLeaveRoom:
		var in wire.RoomRef
		if err := decode(env.Data, &in); err != nil {
			return err
		}
		if in.RoomID == "" {
			return fmt.Errorf("roomId is required")
		}
		h.deps.Router.LeaveConversation(sess.Handle, in.RoomID)
		payload := map[string]string{"roomId": in.RoomID, "userId": sess.UserID}
		h.deps.Router.Deliver(hub.RoomTarget(in.RoomID), wire.EvLeftRoom, payload)
		return conn.Send(wire.EvLeftRoom, payload)

	case wire.EvTypingStart, wire.EvTypingStop:
		var in wire.Typing
		if err := decode(env.Data, &in); err != nil {
			return err
		}
		return h.deps.Signaler.Typing(sess, in, env.Event == wire.EvTypingStart)

	case wire.EvAddReaction, wire.EvRemoveReaction:
		var in wire.ReactionRef
		if err := decode(env.Data, &in); err != nil {
			return err
		}
		return h.deps.Engine.React(ctx, sess, in, env.Event == wire.EvAddReaction)

	case wire.EvUpdateStatus:
		var in wire.UpdateStatus
		if err := decode(env.Data, &in); err != nil {
			return err
		}
		return h.deps.Signaler.UpdateStatus(sess.UserID, in.Status)

	case wire.EvUpdateLocation:
		var in wire.UpdateLocation
		if err := decode(env.Data, &in); err != nil {
			return err
		}
		h.deps.Router.JoinGeoCell(sess.Handle, in.Latitude, in.Longitude)
		return nil

	case wire.EvSubscribe:
		var sub data.PushSubscription
		if err := decode(env.Data, &sub); err != nil {
			return err
		}
		if sub.Endpoint == "" {
			return fmt.Errorf("endpoint is required")
		}
		return h.deps.Prefs.SaveSubscription(ctx, sess.UserID, sub)

	case wire.EvUpdatePreferences:
		var patch data.PreferencesPatch
		if err := decode(env.Data, &patch); err != nil {
			return err
		}
		_, err := h.deps.Prefs.Update(ctx, sess.UserID, patch)
		return err

	case wire.EvWebRTCOffer, wire.EvWebRTCAnswer, wire.EvWebRTCCandidate:
		var sig wire.Signal
		if err := decode(env.Data, &sig); err != nil {
			return err
		}
		return h.deps.Signals.Forward(env.Event, sess.UserID, sig)

	case wire.EvAcknowledgeAlert:
		var in wire.AcknowledgeAlert
		if err := decode(env.Data, &in); err != nil {
			return err
		}
		if in.AlertID == "" {
			return fmt.Errorf("alertId is required")
		}
		return h.deps.Service.AcknowledgeAlert(in.AlertID, sess.UserID)

	case wire.EvSafetyStatus:
		var in wire.SafetyStatus
		if err := decode(env.Data, &in); err != nil {
			return err
		}
		if in.AlertID == "" || in.Status == "" {
			return fmt.Errorf("alertId and status are required")
		}
		return h.deps.Service.ReportSafetyStatus(in.AlertID, sess.UserID, in.Status, in.Message, in.Location)

	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("event payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid event payload: %w", err)
	}
	return nil
}
