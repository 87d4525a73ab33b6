// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable and validated by the domain.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents an immutable chat event.
type Message struct {
	ID                 uuid.UUID // time-ordered (v7)
	Seq                uint64    // monotonic within Room, starts at 1
	SenderConnectionID string
	SenderDisplayName  string
	Room               string
	Content            string
	Language           Language
	DetectedLanguage   Language // empty unless detection was confident
	CreatedAt          time.Time
}
