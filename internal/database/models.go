package database

import "time"

type User struct {
	Id           string
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
}

type Message struct {
	Id        string
	RoomId    string
	SenderId  string
	Content   string
	CreatedAt time.Time
}

type CreateUserParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}
