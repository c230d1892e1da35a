package coordinate

import "encoding/json"

// Message types carried on the broadcast channel.
const (
	// MessageTokenRefreshed announces a successful refresh together with the
	// new token and its expiry.
	MessageTokenRefreshed = "token_refreshed"
	// MessageTokenCleared announces that the publisher dropped its token after
	// a refresh failure or logout.
	MessageTokenCleared = "token_cleared"
)

// Message is one broadcast announcement. Ephemeral: transmitted, never stored.
//
// Origin is the publisher's owner ID so a process can discard its own echo;
// ExpiresAt is epoch milliseconds and only set for MessageTokenRefreshed.
type Message struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Origin    string `json:"origin,omitempty"`
}

// Valid reports whether the message is well formed for its type.
func (m Message) Valid() bool {
	switch m.Type {
	case MessageTokenRefreshed:
		return m.Token != "" && m.ExpiresAt > 0
	case MessageTokenCleared:
		return true
	default:
		return false
	}
}

func encodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(data []byte) (Message, bool) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, false
	}
	if !m.Valid() {
		return Message{}, false
	}
	return m, true
}
