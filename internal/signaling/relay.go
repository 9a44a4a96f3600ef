// Package signaling passes call-setup payloads (offer, answer, ICE
// candidate) between two identified users. It is stateless: nothing is
// validated beyond structural shape, nothing is buffered, and a recipient
// with no live connection simply misses the payload.
package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/localmesh/relay/internal/hub"
	"github.com/localmesh/relay/internal/wire"
)

// Kinds of signaling payloads the relay forwards.
var kinds = map[string]string{
	wire.EvWebRTCOffer:     wire.EvWebRTCOffer,
	wire.EvWebRTCAnswer:    wire.EvWebRTCAnswer,
	wire.EvWebRTCCandidate: wire.EvWebRTCCandidate,
}

// Relay forwards signaling events.
type Relay struct {
	router *hub.Router
}

// NewRelay returns a Relay over the given router.
func NewRelay(router *hub.Router) *Relay {
	return &Relay{router: router}
}

// Forward sends {...payload, senderId} to every live device of the
// recipient under the same event name it arrived with. Delivery is not
// guaranteed; call setup fails silently when the recipient is offline.
func (r *Relay) Forward(event, senderID string, sig wire.Signal) error {
	if _, ok := kinds[event]; !ok {
		return fmt.Errorf("unknown signaling event %q", event)
	}
	if sig.RecipientID == "" {
		return fmt.Errorf("recipientId is required")
	}

	// Flatten the payload and stamp the sender. The payload must be a
	// JSON object for the stamp to have somewhere to go.
	var body map[string]any
	if len(sig.Payload) > 0 {
		if err := json.Unmarshal(sig.Payload, &body); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	if body == nil {
		body = make(map[string]any)
	}
	body["senderId"] = senderID

	r.router.Deliver(hub.UserTarget(sig.RecipientID), event, body)
	return nil
}
