// Package notify decides, per event, whether a push notification goes out
// to a user with no live connection, honoring stored preferences and
// quiet hours.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/localmesh/relay/internal/data"
	"github.com/localmesh/relay/internal/metrics"
	"github.com/localmesh/relay/internal/store"
	"github.com/localmesh/relay/internal/wire"
)

// Category selects the preference flag consulted before dispatch.
type Category string

const (
	CategoryMessages  Category = "messages"
	CategoryGigs      Category = "gigs"
	CategorySafety    Category = "safety"
	CategoryCommunity Category = "community"
)

// ParseCategory maps a wire-level category string to a known Category.
// Rejecting unknown categories here keeps the preference gate from
// silently dropping misspelled categories later.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryMessages, CategoryGigs, CategorySafety, CategoryCommunity:
		return c, nil
	default:
		return "", fmt.Errorf("unknown notification category %q", s)
	}
}

// Pusher is the external push-delivery collaborator.
type Pusher interface {
	Send(ctx context.Context, sub data.PushSubscription, note wire.Notification) error
}

// Dispatcher gates notifications on preferences, quiet hours and the
// existence of a push subscription.
type Dispatcher struct {
	prefs  *data.PreferencesStore
	pusher Pusher
	log    *slog.Logger
	now    func() time.Time
}

// NewDispatcher returns a Dispatcher. pusher may be nil in deployments
// without a push collaborator; every dispatch is then a silent drop.
func NewDispatcher(prefs *data.PreferencesStore, pusher Pusher, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{prefs: prefs, pusher: pusher, log: log, now: time.Now}
}

func (d *Dispatcher) categoryEnabled(prefs data.NotificationPreferences, c Category) bool {
	switch c {
	case CategoryMessages:
		return prefs.Messages
	case CategoryGigs:
		return prefs.Gigs
	case CategorySafety:
		return prefs.Safety
	case CategoryCommunity:
		return prefs.Community
	default:
		return false
	}
}

// MaybeNotify dispatches a push for a user believed to be unreachable
// live. Preference opt-outs, quiet hours and a missing subscription all
// drop the notification silently; only store and push failures are
// errors.
func (d *Dispatcher) MaybeNotify(ctx context.Context, userID string, category Category, note wire.Notification) error {
	prefs, err := d.prefs.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load preferences for %s: %w", userID, err)
	}
	if !prefs.PushEnabled || !d.categoryEnabled(prefs, category) {
		return nil
	}
	if prefs.QuietHours.Enabled && InQuietHours(d.now(), prefs.QuietHours) {
		d.log.Debug("notification suppressed by quiet hours", "user", userID, "category", string(category))
		return nil
	}
	return d.deliver(ctx, userID, note)
}

// NotifyEmergency bypasses category preferences and quiet hours but still
// requires a subscription. Emergency pushes always carry actionable
// buttons.
func (d *Dispatcher) NotifyEmergency(ctx context.Context, userID string, alert data.EmergencyAlert) error {
	note := wire.Notification{
		Title: "Emergency Alert",
		Body:  alert.Message,
		Data: map[string]any{
			"alertId":  alert.ID,
			"severity": alert.Severity,
		},
		Actions: []wire.Action{
			{Action: "acknowledge", Title: "I'm Safe"},
			{Action: "view", Title: "View Alert"},
		},
	}
	return d.deliver(ctx, userID, note)
}

func (d *Dispatcher) deliver(ctx context.Context, userID string, note wire.Notification) error {
	sub, err := d.prefs.Subscription(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		// Never opted in, which is an expected steady state.
		metrics.PushDispatches.WithLabelValues("no_subscription").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subscription for %s: %w", userID, err)
	}
	if d.pusher == nil {
		metrics.PushDispatches.WithLabelValues("no_pusher").Inc()
		return nil
	}
	if err := d.pusher.Send(ctx, sub, note); err != nil {
		metrics.PushDispatches.WithLabelValues("failed").Inc()
		return fmt.Errorf("push delivery for %s: %w", userID, err)
	}
	metrics.PushDispatches.WithLabelValues("delivered").Inc()
	return nil
}

// InQuietHours reports whether t falls inside the window. Same-day
// windows (start <= end) suppress inside [start, end); overnight windows
// (start > end), e.g. 22:00–07:00, suppress when the time is at or after
// start or before end.
func InQuietHours(t time.Time, qh data.QuietHours) bool {
	start, okS := parseClock(qh.Start)
	end, okE := parseClock(qh.End)
	if !okS || !okE {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
