/*
Package chat contains the core logic for presence tracking and direct-message relay.

This file defines the bidirectional event protocol spoken over a WebSocket
connection. Every frame is a JSON envelope {"type": ..., "payload": ...};
the payload shape depends on the event type.
*/
package chat

import (
	"encoding/json"

	"instantly/internal/app/user"
)

// EventType discriminates the JSON envelope exchanged with clients.
type EventType string

const (
	// TypeIdentify binds (or rebinds) a connection to a logical user. Client to server.
	TypeIdentify EventType = "identify"

	// TypeSelf confirms the canonical identity assigned to a connection. Server to client.
	TypeSelf EventType = "self"

	// TypePresence carries the full ordered presence snapshot. Server to client.
	TypePresence EventType = "presence"

	// TypeSetName renames the connection's current user. Client to server.
	TypeSetName EventType = "set_name"

	// TypeMessage is a direct message: inbound it targets a user, outbound it is
	// the delivered message. Both directions.
	TypeMessage EventType = "message"

	// TypeTyping is a live keystroke preview: inbound it targets a user, outbound
	// it is delivered to the recipient only. An empty draft is the stop signal.
	TypeTyping EventType = "typing"
)

// Envelope is the outer frame of every protocol event.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IdentifyPayload is the client request to bind the connection to a user.
// Both fields are optional; missing or malformed values are coerced server-side.
type IdentifyPayload struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
}

// SelfPayload confirms the canonical identity back to the requesting connection.
// The userId may differ from what the client asked for if it was invalid.
type SelfPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// PresencePayload carries the full presence snapshot, ordered online-first
// and then by most recent activity.
type PresencePayload struct {
	Users []user.PresenceEntry `json:"users"`
}

// SetNamePayload is the client request to rename the current user.
type SetNamePayload struct {
	Name string `json:"name"`
}

// SendMessagePayload is the inbound direct-message request.
type SendMessagePayload struct {
	ToUserID string `json:"toUserId"`
	Text     string `json:"text"`
}

// MessagePayload is the delivered direct message, fanned out to every
// connection of both the sender and the recipient.
type MessagePayload struct {
	ID         string `json:"id"`
	FromUserID string `json:"fromUserId"`
	FromName   string `json:"fromName"`
	ToUserID   string `json:"toUserId"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"createdAt"`
}

// SendTypingPayload is the inbound keystroke-preview request.
type SendTypingPayload struct {
	ToUserID string `json:"toUserId"`
	Draft    string `json:"draft"`
}

// TypingPayload is the delivered keystroke preview. An empty draft tells the
// receiver to clear its typing indicator for that sender.
type TypingPayload struct {
	FromUserID string `json:"fromUserId"`
	FromName   string `json:"fromName"`
	Draft      string `json:"draft"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// unmarshalPayload decodes an inbound payload into dst. A missing payload is
// not an error: every field of every inbound payload is optional, and absent
// values are coerced downstream.
func unmarshalPayload(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		return nil
	}

	return json.Unmarshal(payload, dst)
}

// marshalEvent builds the wire bytes for a server-to-client event.
func marshalEvent(eventType EventType, payload any) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Envelope{
		Type:    eventType,
		Payload: payloadBytes,
	})
}
