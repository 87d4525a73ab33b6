package websocket

import (
	"encoding/json"

	"polyglot-chat/domain/event"
)

// Inbound frame types.
const (
	JoinChat       = "join_chat"
	SendMessage    = "send_message"
	ChangeLanguage = "change_language"
	LoadHistory    = "load_history"
)

// Frame is the envelope of every message exchanged on a socket.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func encode(e event.Outbound) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: e.Type(), Data: data})
}
