package database

// ChatRepository is the persistence contract the chat engine consumes.
// SaveMessage assigns the message id and timestamp at persistence time; the
// returned Message is the durable row, never the caller's input echoed back.
type ChatRepository interface {
	Ping() error
	CreateUser(params CreateUserParams) (User, error)
	GetUserByEmail(email string) (User, error)
	GetUserById(id string) (User, error)
	UserExists(id string) bool
	ListUsers() ([]User, error)
	SaveMessage(msg Message) (Message, error)
	GetRoomHistory(roomId string) ([]Message, error)
}
