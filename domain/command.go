package domain

import (
	"time"
)

// Command is an inbound event routed to the worker of the room it targets.
type Command interface {
	RoomID() string
}

type JoinCommand struct {
	ConnectionID string
	DisplayName  string
	Language     Language
	Room         string
	At           time.Time
}

func (c JoinCommand) RoomID() string { return c.Room }

type SendCommand struct {
	ConnectionID string
	Room         string
	Content      string
	Detected     Language
	At           time.Time
}

func (c SendCommand) RoomID() string { return c.Room }

type ChangeLanguageCommand struct {
	ConnectionID string
	Room         string
	Language     Language
	At           time.Time
}

func (c ChangeLanguageCommand) RoomID() string { return c.Room }

type DisconnectCommand struct {
	ConnectionID string
	Room         string
	At           time.Time
}

func (c DisconnectCommand) RoomID() string { return c.Room }

type HistoryCommand struct {
	ConnectionID string
	Room         string
	Cursor       *string
}

func (c HistoryCommand) RoomID() string { return c.Room }
