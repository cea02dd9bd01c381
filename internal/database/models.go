package database

import "time"

type User struct {
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
	CreatedAt    time.Time
}

type RoomMessage struct {
	Id       string
	FromUser string
	Room     string
	Message  string
	DateSent time.Time
}

type DirectMessage struct {
	Id       string
	FromUser string
	ToUser   string
	Message  string
	DateSent time.Time
}

type CreateAccountParams struct {
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
}
