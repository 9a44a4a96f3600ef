// Package alerts bridges the relay to the operator's alerting bus.
// Emergency alerts are issued by external tooling over NATS; the bridge
// feeds them into the relay and publishes acknowledgements and safety
// reports back for the operators to track.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/localmesh/relay/internal/wire"
)

// NATS subjects used by the bridge.
const (
	SubjectIssue  = "alerts.issue"
	SubjectAck    = "alerts.ack"
	SubjectSafety = "alerts.safety"
)

// Sink receives alerts pulled off the bus. Implemented by the relay
// service.
type Sink interface {
	SendEmergencyAlert(ctx context.Context, msg, severity string, targets []string) error
}

type publisher interface {
	Publish(subj string, data []byte) error
}

// issuePayload is the wire shape operators publish on SubjectIssue.
type issuePayload struct {
	Message  string   `json:"message"`
	Severity string   `json:"severity"`
	Targets  []string `json:"targets,omitempty"`
}

type ackReport struct {
	AlertID string `json:"alertId"`
	UserID  string `json:"userId"`
	At      int64  `json:"at"`
}

type safetyReport struct {
	AlertID  string               `json:"alertId"`
	UserID   string               `json:"userId"`
	Status   string               `json:"status"`
	Message  string               `json:"message,omitempty"`
	Location *wire.UpdateLocation `json:"location,omitempty"`
	At       int64                `json:"at"`
}

// Bridge connects the alerting bus to a Sink.
type Bridge struct {
	nc   *nats.Conn
	pub  publisher
	sink Sink
	log  *slog.Logger
	sub  *nats.Subscription
}

// Connect dials NATS with retry, matching how the rest of the fleet
// waits for the broker to come up.
func Connect(url, name string, log *slog.Logger) (*nats.Conn, error) {
	var nc *nats.Conn
	var err error
	for attempt := 1; attempt <= 30; attempt++ {
		nc, err = nats.Connect(url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err == nil {
			log.Info("connected to NATS", "url", nc.ConnectedUrl())
			return nc, nil
		}
		log.Info("waiting for NATS", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
}

// NewBridge builds a bridge over an established connection.
func NewBridge(nc *nats.Conn, sink Sink, log *slog.Logger) *Bridge {
	return &Bridge{nc: nc, pub: nc, sink: sink, log: log}
}

// Start subscribes to the issue subject. Alerts are fed to the sink on
// the NATS delivery goroutine; the sink is expected to be fast.
func (b *Bridge) Start() error {
	sub, err := b.nc.Subscribe(SubjectIssue, func(msg *nats.Msg) {
		if err := b.handleIssue(msg.Data); err != nil {
			b.log.Error("dropping malformed alert", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectIssue, err)
	}
	b.sub = sub
	b.log.Info("listening for emergency alerts", "subject", SubjectIssue)
	return nil
}

// Stop drains the subscription.
func (b *Bridge) Stop() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
}

func (b *Bridge) handleIssue(raw []byte) error {
	var p issuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode alert: %w", err)
	}
	if p.Message == "" {
		return fmt.Errorf("alert has no message")
	}
	if p.Severity == "" {
		p.Severity = "critical"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return b.sink.SendEmergencyAlert(ctx, p.Message, p.Severity, p.Targets)
}

// ReportAcknowledge publishes a user's acknowledgement of an alert.
func (b *Bridge) ReportAcknowledge(alertID, userID string) error {
	return b.publish(SubjectAck, ackReport{
		AlertID: alertID, UserID: userID, At: time.Now().Unix(),
	})
}

// ReportSafety publishes a user's safety status for an alert, carrying
// through the optional message and location the client attached.
func (b *Bridge) ReportSafety(alertID, userID, status, message string, loc *wire.UpdateLocation) error {
	return b.publish(SubjectSafety, safetyReport{
		AlertID: alertID, UserID: userID, Status: status,
		Message: message, Location: loc, At: time.Now().Unix(),
	})
}

func (b *Bridge) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := b.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
