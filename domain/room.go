package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const MaxRoomHistory = 50

// Room is the bounded, ordered message log of one room.
// It is owned by a single room worker and is not safe for concurrent use.
type Room struct {
	Name     string
	capacity int
	lastSeq  uint64
	messages []Message
}

func NewRoom(name string) *Room {
	return &Room{Name: name, capacity: MaxRoomHistory}
}

// PostMessage stamps a new message with the next sequence number and appends it.
// language is the declared source, detected what the content looked like, if known.
func (r *Room) PostMessage(sender UserProfile, content string, language, detected Language, createdAt time.Time) Message {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	msg := Message{
		ID:                 id,
		Seq:                r.lastSeq + 1,
		SenderConnectionID: sender.ConnectionID,
		SenderDisplayName:  sender.DisplayName,
		Room:               r.Name,
		Content:            content,
		Language:           language,
		DetectedLanguage:   detected,
		CreatedAt:          createdAt,
	}
	// A message built by this room always belongs here.
	_ = r.Append(msg)
	return msg
}

// Append adds msg at the end and evicts the oldest entry once the log exceeds its capacity.
func (r *Room) Append(msg Message) error {
	if msg.Room != r.Name {
		return fmt.Errorf("message for room %q appended to room %q", msg.Room, r.Name)
	}
	if msg.Seq > r.lastSeq {
		r.lastSeq = msg.Seq
	}
	r.messages = append(r.messages, msg)
	if len(r.messages) > r.capacity {
		r.messages = r.messages[len(r.messages)-r.capacity:]
	}
	return nil
}

// Recent returns a copy of the most recent limit messages, oldest first.
// A non-positive limit returns the whole log.
func (r *Room) Recent(limit int) []Message {
	start := 0
	if limit > 0 && limit < len(r.messages) {
		start = len(r.messages) - limit
	}
	out := make([]Message, len(r.messages)-start)
	copy(out, r.messages[start:])
	return out
}

func (r *Room) Len() int {
	return len(r.messages)
}
