// Package event defines the payloads delivered to connections.
// Every payload is addressed by the dispatcher to one connection at a time;
// room broadcasts are a loop over a membership snapshot.
package event

import (
	"time"

	"polyglot-chat/domain"
)

type Outbound interface {
	Type() string
}

type UserJoined struct {
	DisplayName string    `json:"displayName"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

func (UserJoined) Type() string { return "user_joined" }

type UserLeft struct {
	DisplayName string    `json:"displayName"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

func (UserLeft) Type() string { return "user_left" }

type ReceiveMessage struct {
	ID                string          `json:"id"`
	Seq               uint64          `json:"seq"`
	SenderDisplayName string          `json:"senderDisplayName"`
	Content           string          `json:"content"`
	Timestamp         time.Time       `json:"timestamp"`
	IsTranslated      bool            `json:"isTranslated"`
	IsOwn             bool            `json:"isOwn"`
	OriginalLanguage  domain.Language `json:"originalLanguage"`
	TargetLanguage    domain.Language `json:"targetLanguage"`
	DetectedLanguage  domain.Language `json:"detectedLanguage,omitempty"`
}

func (ReceiveMessage) Type() string { return "receive_message" }

type UpdateUsers struct {
	Room         string   `json:"room"`
	DisplayNames []string `json:"displayNames"`
}

func (UpdateUsers) Type() string { return "update_users" }

type JoinSuccess struct {
	Room        string          `json:"room"`
	DisplayName string          `json:"displayName"`
	Language    domain.Language `json:"language"`
}

func (JoinSuccess) Type() string { return "join_success" }

type LanguageChanged struct {
	Language         domain.Language `json:"language"`
	PreviousLanguage domain.Language `json:"previousLanguage"`
	Timestamp        time.Time       `json:"timestamp"`
}

func (LanguageChanged) Type() string { return "language_changed" }

type Error struct {
	Message string `json:"message"`
}

func (Error) Type() string { return "error" }

// History is a page of archived messages, oldest first.
// Cursor is nil once the archive has nothing older.
type History struct {
	Room     string           `json:"room"`
	Messages []ReceiveMessage `json:"messages"`
	Cursor   *string          `json:"cursor"`
}

func (History) Type() string { return "history" }

// NewReceiveMessage renders msg for one recipient.
func NewReceiveMessage(msg domain.Message, content string, target domain.Language, recipientID string) ReceiveMessage {
	return ReceiveMessage{
		ID:                msg.ID.String(),
		Seq:               msg.Seq,
		SenderDisplayName: msg.SenderDisplayName,
		Content:           content,
		Timestamp:         msg.CreatedAt,
		IsTranslated:      msg.Language != target,
		IsOwn:             msg.SenderConnectionID == recipientID,
		OriginalLanguage:  msg.Language,
		TargetLanguage:    target,
		DetectedLanguage:  msg.DetectedLanguage,
	}
}
