package bridge

import (
	"encoding/json"
)

// Event names exchanged with chat clients.
const (
	EventSetup           = "setup"
	EventSetupComplete   = "setup complete"
	EventAddMessage      = "add message"
	EventReceivedMessage = "received message"
	EventPing            = "my_ping"
	EventPong            = "my_pong"
	EventAddLog          = "add log"
)

// Envelope is one websocket frame: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds the frame for event carrying data.
func Encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// SetupData asks for a conversation's history.
type SetupData struct {
	ID string `json:"id"`
}

// MessageData carries a chat line in either direction.
type MessageData struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// LogData is a diagnostic record reported by a client.
type LogData struct {
	Message    string  `json:"message"`
	Source     string  `json:"source"`
	Platform   *string `json:"platform"`
	Level      string  `json:"level"`
	Timestamp  string  `json:"timestamp"`
	StackTrace string  `json:"stackTrace"`
}
