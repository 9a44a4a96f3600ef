// Package wire defines the event protocol spoken between clients and the
// relay: named events carrying JSON payloads over a framed bidirectional
// transport.
package wire

import "encoding/json"

// Client → server event names.
const (
	EvJoinUserRoom      = "join_user_room"
	EvJoinLocationRoom  = "join_location_room"
	EvSendMessage       = "chat:send_message"
	EvJoinRoom          = "chat:join_room"
	EvLeaveRoom         = "chat:leave_room"
	EvTypingStart       = "chat:typing_start"
	EvTypingStop        = "chat:typing_stop"
	EvAddReaction       = "chat:add_reaction"
	EvRemoveReaction    = "chat:remove_reaction"
	EvUpdateStatus      = "user:update_status"
	EvUpdateLocation    = "user:update_location"
	EvSubscribe         = "notifications:subscribe"
	EvUpdatePreferences = "notifications:update_preferences"
	EvWebRTCOffer       = "webrtc:offer"
	EvWebRTCAnswer      = "webrtc:answer"
	EvWebRTCCandidate   = "webrtc:ice_candidate"
	EvAcknowledgeAlert  = "emergency:acknowledge"
	EvSafetyStatus      = "emergency:safety_status"
)

// Server → client event names.
const (
	EvStatusChanged   = "user:status_changed"
	EvMessageReceived = "chat:message_received"
	EvMessageSent     = "chat:message_sent"
	EvJoinedRoom      = "chat:joined_room"
	EvLeftRoom        = "chat:left_room"
	EvTypingIndicator = "chat:typing_indicator"
	EvReactionUpdated = "chat:reaction_updated"
	EvNotification    = "notification"
	EvEmergencyAlert  = "emergency:alert"
	EvError           = "error"
)

// Envelope frames every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outgoing is a server-to-client event before encoding.
type Outgoing struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// JoinUserRoom is the join_user_room payload.
type JoinUserRoom struct {
	UserID string `json:"userId"`
}

// JoinLocationRoom is the join_location_room payload. Radius is accepted
// for wire compatibility; delivery granularity is the geo cell.
type JoinLocationRoom struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Radius float64 `json:"radius,omitempty"`
}

// SendMessage is the chat:send_message payload. Exactly one of
// RecipientID and RoomID must be set.
type SendMessage struct {
	RecipientID string `json:"recipientId,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
	Content     string `json:"content"`
	Type        string `json:"type"`
}

// RoomRef is the chat:join_room / chat:leave_room payload. Clients send
// either a bare string or {"roomId": ...}; UnmarshalJSON accepts both.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

func (r *RoomRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		r.RoomID = s
		return nil
	}
	type alias RoomRef
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	r.RoomID = a.RoomID
	return nil
}

// Typing is the chat:typing_start / chat:typing_stop payload.
type Typing struct {
	RecipientID string `json:"recipientId,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
}

// TypingIndicator is the chat:typing_indicator payload.
type TypingIndicator struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// ReactionRef is the chat:add_reaction / chat:remove_reaction payload.
type ReactionRef struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// ReactionUpdated is the chat:reaction_updated payload.
type ReactionUpdated struct {
	MessageID string `json:"messageId"`
	Reactions any    `json:"reactions"`
}

// UpdateStatus is the user:update_status payload; same string-or-object
// tolerance as RoomRef.
type UpdateStatus struct {
	Status string `json:"status"`
}

func (u *UpdateStatus) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		u.Status = s
		return nil
	}
	type alias UpdateStatus
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	u.Status = a.Status
	return nil
}

// UpdateLocation is the user:update_location payload.
type UpdateLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// StatusChanged is the user:status_changed payload.
type StatusChanged struct {
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Notification is the notification payload.
type Notification struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Data    map[string]any `json:"data,omitempty"`
	Actions []Action       `json:"actions,omitempty"`
}

// Action is an actionable notification button.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Signal is the webrtc:offer / webrtc:answer / webrtc:ice_candidate
// payload in the client → server direction.
type Signal struct {
	RecipientID string          `json:"recipientId"`
	Payload     json.RawMessage `json:"payload"`
}

// AcknowledgeAlert is the emergency:acknowledge payload.
type AcknowledgeAlert struct {
	AlertID string `json:"alertId"`
	UserID  string `json:"userId,omitempty"`
}

// SafetyStatus is the emergency:safety_status payload.
type SafetyStatus struct {
	AlertID  string          `json:"alertId"`
	UserID   string          `json:"userId,omitempty"`
	Status   string          `json:"status"`
	Message  string          `json:"message,omitempty"`
	Location *UpdateLocation `json:"location,omitempty"`
}

// Error is the error payload sent back to the originating connection.
type Error struct {
	Message string `json:"message"`
}
