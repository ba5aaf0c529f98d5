package session

import (
	"encoding/json"

	"github.com/boxmark/boxmark/internal/engine"
)

// Message is the websocket envelope. Inbound messages carry an editor event
// whose type is the envelope type; outbound messages carry state updates.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

const (
	// Connection
	TypeWelcome = "welcome"
	TypeError   = "error"

	// Editor state
	TypeState     = "state"
	TypeCommitAck = "commit.ack"
)

type WelcomePayload struct {
	ClientID string       `json:"clientId"`
	State    engine.State `json:"state"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// CommitAckPayload reports a finished commit. Value is exactly what the
// host frame receives.
type CommitAckPayload struct {
	CommitID string `json:"commitId"`
	Value    any    `json:"value"`
}

func newMessage(msgType, sessionID string, seq int64, payload any) *Message {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	return &Message{
		Type:      msgType,
		SessionID: sessionID,
		Seq:       seq,
		Payload:   data,
	}
}

func errorMessage(sessionID string, err error) *Message {
	return newMessage(TypeError, sessionID, 0, ErrorPayload{Error: err.Error()})
}

// decodeEvent turns an inbound envelope into an editor event.
func decodeEvent(msg *Message) (engine.Event, error) {
	var ev engine.Event
	if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return ev, err
		}
	}
	ev.Type = engine.EventType(msg.Type)
	return ev, nil
}
