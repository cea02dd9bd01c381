package types

import (
	"time"
)

type User struct {
	Username  string    `json:"username"`
	FirstName string    `json:"firstname,omitempty"`
	LastName  string    `json:"lastname,omitempty"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// RoomMessage is a message broadcast to everyone joined to a room.
type RoomMessage struct {
	Id       string    `json:"id,omitempty"`
	FromUser string    `json:"from_user"`
	Room     string    `json:"room"`
	Message  string    `json:"message"`
	DateSent time.Time `json:"date_sent"`
}

// DirectMessage is a message addressed to a single recipient.
type DirectMessage struct {
	Id       string    `json:"id,omitempty"`
	FromUser string    `json:"from_user"`
	ToUser   string    `json:"to_user"`
	Message  string    `json:"message"`
	DateSent time.Time `json:"date_sent"`
}

type OnlineUsers struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}
