// Package realtime pushes domain events to connected WebSocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event types pushed to clients.
const (
	RespondentUpdate = "respondent_update"
	LocationUpdate   = "location_update"
	NewMessage       = "new_message"
	MessageResponse  = "message_response"
	MessageEdited    = "message_edited"
	MessageDeleted   = "message_deleted"
	BroadcastMessage = "broadcast_message"

	// sessionEnded labels disconnect orders; it never reaches a client.
	sessionEnded = "session_ended"
)

// Event is the wire shape of every push: {"type": ..., "data": ...}.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Notifier fans events out to users. Delivery is best effort: offline
// users miss the event and nothing is replayed.
type Notifier interface {
	Unicast(ctx context.Context, userID string, ev Event)
	Multicast(ctx context.Context, userIDs []string, ev Event)
	Broadcast(ctx context.Context, ev Event)
	// EndSessions closes userID's live connection unless it was opened
	// under keepSessionID. An empty keepSessionID closes it regardless.
	EndSessions(ctx context.Context, userID, keepSessionID, reason string)
}

// Envelope is an encoded event plus its audience. It is what crosses the
// relay between processes.
type Envelope struct {
	Targets []string        `json:"targets,omitempty"`
	All     bool            `json:"all,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Revoke  *Revoke         `json:"revoke,omitempty"`
}

// Revoke turns an envelope into a disconnect order for its targets.
type Revoke struct {
	KeepSession string `json:"keep_session,omitempty"`
	Reason      string `json:"reason"`
}

func revokeEnvelope(userID, keepSessionID, reason string) Envelope {
	return Envelope{
		Targets: []string{userID},
		Type:    sessionEnded,
		Revoke:  &Revoke{KeepSession: keepSessionID, Reason: reason},
	}
}

// NewEnvelope encodes ev once for delivery to targets, or to everyone when all is set.
func NewEnvelope(ev Event, targets []string, all bool) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return Envelope{Targets: targets, All: all, Type: ev.Type, Payload: payload}, nil
}
