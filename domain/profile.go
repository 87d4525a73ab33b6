// Package domain contains core concepts of the chat system.
// This file defines participant profiles and the rules a join request must satisfy.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"html"
	"time"
)

const (
	DefaultRoom          = "general"
	MaxDisplayNameLength = 50
	MaxRoomNameLength    = 64
)

// UserProfile is the presence record of one live connection.
type UserProfile struct {
	ConnectionID string
	DisplayName  string // HTML-escaped
	Language     Language
	Room         string
	JoinedAt     time.Time
}

// NewUserProfile validates raw join fields and builds the profile stored by the registry.
func NewUserProfile(connectionID, displayName, language, room string, joinedAt time.Time) (UserProfile, error) {
	req, err := JoinRequest{DisplayName: displayName, Language: language, Room: room}.Validate()
	if err != nil {
		return UserProfile{}, err
	}
	lang, err := ParseLanguage(req.Language)
	if err != nil {
		return UserProfile{}, err
	}
	return UserProfile{
		ConnectionID: connectionID,
		DisplayName:  html.EscapeString(req.DisplayName),
		Language:     lang,
		Room:         req.Room,
		JoinedAt:     joinedAt,
	}, nil
}
