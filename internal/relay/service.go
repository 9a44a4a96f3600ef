// Package relay wires the engines together and exposes the outward
// interface other backend services call: targeted notifications,
// emergency alert fan-out, location broadcasts and presence queries.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/localmesh/relay/internal/chat"
	"github.com/localmesh/relay/internal/data"
	"github.com/localmesh/relay/internal/hub"
	"github.com/localmesh/relay/internal/metrics"
	"github.com/localmesh/relay/internal/notify"
	"github.com/localmesh/relay/internal/presence"
	"github.com/localmesh/relay/internal/wire"
)

// Reporter publishes alert acknowledgements and safety statuses back to
// the emergency collaborator. Implemented by alerts.Bridge.
type Reporter interface {
	ReportAcknowledge(alertID, userID string) error
	ReportSafety(alertID, userID, status, message string, loc *wire.UpdateLocation) error
}

// Service is the dependency-injected facade over the relay's engines.
type Service struct {
	registry   hub.Registry
	router     *hub.Router
	signaler   *presence.Signaler
	engine     *chat.Engine
	dispatcher *notify.Dispatcher
	reporter   Reporter
	log        *slog.Logger
}

// NewService builds the facade. reporter may be nil when no alerting
// bus is configured; acknowledgements are then only logged.
func NewService(registry hub.Registry, router *hub.Router, signaler *presence.Signaler, engine *chat.Engine, dispatcher *notify.Dispatcher, reporter Reporter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		registry:   registry,
		router:     router,
		signaler:   signaler,
		engine:     engine,
		dispatcher: dispatcher,
		reporter:   reporter,
		log:        log,
	}
}

// SetReporter installs the emergency collaborator after construction.
// The bridge and the service reference each other, so one of the two is
// wired late.
func (s *Service) SetReporter(r Reporter) {
	s.reporter = r
}

// SendNotificationToUser delivers a notification to every live device
// of the user, or hands it to the push dispatcher when the user has no
// connection. The category must be a known preference category; an
// unknown category is rejected rather than silently dropped at the
// preference gate.
func (s *Service) SendNotificationToUser(ctx context.Context, userID, category string, note wire.Notification) error {
	if userID == "" {
		return fmt.Errorf("userId is required")
	}
	cat, err := notify.ParseCategory(category)
	if err != nil {
		return err
	}
	if s.registry.IsOnline(userID) {
		s.router.Deliver(hub.UserTarget(userID), wire.EvNotification, note)
		return nil
	}
	return s.dispatcher.MaybeNotify(ctx, userID, cat, note)
}

// SendEmergencyAlert fans an alert out to the targeted users, or to
// everyone when targets is empty. Offline targets get a push through
// the emergency path, which ignores preferences and quiet hours. A
// broadcast to all cannot enumerate offline users, so it is
// live-delivery only.
func (s *Service) SendEmergencyAlert(ctx context.Context, message, severity string, targets []string) error {
	if message == "" {
		return fmt.Errorf("message is required")
	}
	if severity == "" {
		severity = "critical"
	}
	alert := data.EmergencyAlert{
		ID:       uuid.NewString(),
		Message:  message,
		Severity: severity,
		Targets:  targets,
		IssuedAt: time.Now().UTC(),
	}
	metrics.EmergencyAlerts.Inc()

	if len(targets) == 0 {
		s.router.Deliver(hub.TargetAll, wire.EvEmergencyAlert, alert)
		s.log.Info("emergency alert broadcast", "alertId", alert.ID, "severity", severity)
		return nil
	}

	for _, userID := range targets {
		if s.registry.IsOnline(userID) {
			s.router.Deliver(hub.UserTarget(userID), wire.EvEmergencyAlert, alert)
			continue
		}
		if err := s.dispatcher.NotifyEmergency(ctx, userID, alert); err != nil {
			s.log.Warn("emergency push failed", "alertId", alert.ID, "userId", userID, "error", err)
		}
	}
	s.log.Info("emergency alert sent", "alertId", alert.ID, "severity", severity, "targets", len(targets))
	return nil
}

// BroadcastToLocation delivers an event to every connection currently
// joined to the geo-cell containing the coordinates. Returns the number
// of connections in the cell at delivery time.
func (s *Service) BroadcastToLocation(lat, lng float64, event string, payload any) int {
	cell := hub.GeoCellKey(lat, lng)
	target := hub.GeoTarget(cell)
	n := len(s.router.Members(target))
	s.router.Deliver(target, event, payload)
	return n
}

// ConnectedUsers lists user ids with at least one live connection.
func (s *Service) ConnectedUsers() []string {
	return s.registry.ConnectedUsers()
}

// UserStatus reports a user's presence status and last-seen time.
func (s *Service) UserStatus(ctx context.Context, userID string) (string, time.Time) {
	return s.signaler.UserStatus(ctx, userID)
}

// DirectHistory returns recent messages between two users, oldest
// first.
func (s *Service) DirectHistory(ctx context.Context, a, b string, limit int64) ([]*data.ChatMessage, error) {
	return s.engine.DirectHistory(ctx, a, b, limit)
}

// RoomHistory returns recent messages in a room, oldest first.
func (s *Service) RoomHistory(ctx context.Context, roomID string, limit int64) ([]*data.ChatMessage, error) {
	return s.engine.RoomHistory(ctx, roomID, limit)
}

// AcknowledgeAlert records that a user saw an alert.
func (s *Service) AcknowledgeAlert(alertID, userID string) error {
	if s.reporter == nil {
		s.log.Info("alert acknowledged", "alertId", alertID, "userId", userID)
		return nil
	}
	return s.reporter.ReportAcknowledge(alertID, userID)
}

// ReportSafetyStatus records a user's self-reported safety status for
// an alert, including the optional free-text message and location the
// client attached.
func (s *Service) ReportSafetyStatus(alertID, userID, status, message string, loc *wire.UpdateLocation) error {
	if s.reporter == nil {
		s.log.Info("safety status reported", "alertId", alertID, "userId", userID, "status", status)
		return nil
	}
	return s.reporter.ReportSafety(alertID, userID, status, message, loc)
}
