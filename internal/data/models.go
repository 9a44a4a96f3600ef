package data

import "time"

// Retention periods for durable relay state.
const (
	MessageTTL      = 7 * 24 * time.Hour
	ConversationTTL = 30 * 24 * time.Hour
	PresenceTTL     = 24 * time.Hour
	SubscriptionTTL = 365 * 24 * time.Hour
)

// Reaction is one user's emoji reaction on a message. The triple
// (message, user, emoji) is unique.
type Reaction struct {
	Emoji    string `json:"emoji"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// ChatMessage is a persisted chat event. Exactly one of RecipientID and
// RoomID is set: RecipientID for direct messages, RoomID for group rooms.
type ChatMessage struct {
	ID          string     `json:"id"`
	SenderID    string     `json:"senderId"`
	SenderName  string     `json:"senderName"`
	RecipientID string     `json:"recipientId,omitempty"`
	RoomID      string     `json:"roomId,omitempty"`
	Content     string     `json:"content"`
	Type        string     `json:"type"`
	Timestamp   time.Time  `json:"timestamp"`
	Edited      bool       `json:"edited,omitempty"`
	Reactions   []Reaction `json:"reactions"`
}

// QuietHours is a local wall-clock window during which non-emergency
// notifications are suppressed. Start and End are "HH:MM".
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// NotificationPreferences holds per-category opt-outs plus the global push
// switch and quiet hours. Stored without expiry; defaults apply lazily
// when a user has never written preferences.
type NotificationPreferences struct {
	PushEnabled bool       `json:"pushEnabled"`
	Messages    bool       `json:"messages"`
	Gigs        bool       `json:"gigs"`
	Safety      bool       `json:"safety"`
	Community   bool       `json:"community"`
	QuietHours  QuietHours `json:"quietHours"`
}

// DefaultPreferences is what a user gets before their first explicit
// update: everything on, no quiet hours.
func DefaultPreferences() NotificationPreferences {
	return NotificationPreferences{
		PushEnabled: true,
		Messages:    true,
		Gigs:        true,
		Safety:      true,
		Community:   true,
		QuietHours:  QuietHours{Enabled: false, Start: "22:00", End: "07:00"},
	}
}

// PreferencesPatch is a partial preferences update; nil fields are left
// unchanged.
type PreferencesPatch struct {
	PushEnabled *bool       `json:"pushEnabled,omitempty"`
	Messages    *bool       `json:"messages,omitempty"`
	Gigs        *bool       `json:"gigs,omitempty"`
	Safety      *bool       `json:"safety,omitempty"`
	Community   *bool       `json:"community,omitempty"`
	QuietHours  *QuietHours `json:"quietHours,omitempty"`
}

// PushSubscription is the opaque delivery-endpoint descriptor handed to
// the external push service. At most one per user; last write wins.
type PushSubscription struct {
	Endpoint  string            `json:"endpoint"`
	Keys      map[string]string `json:"keys,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// PresenceSnapshot is the durable "last known status" written on every
// presence transition so it survives relay restarts.
type PresenceSnapshot struct {
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// EmergencyAlert is supplied by the external emergency collaborator and
// broadcast verbatim. Empty Targets means everyone.
type EmergencyAlert struct {
	ID       string    `json:"id"`
	Message  string    `json:"message"`
	Severity string    `json:"severity,omitempty"`
	Targets  []string  `json:"targets,omitempty"`
	IssuedAt time.Time `json:"issuedAt,omitempty"`
}
