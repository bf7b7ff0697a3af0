package database

import (
	"time"

	"github.com/google/uuid"
)

func (db *PgChatRepository) CreateUser(params CreateUserParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO users (id, username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, username, email, created_at",
		uuid.NewString(),
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgChatRepository) GetUserByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at FROM users "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgChatRepository) GetUserById(id string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at FROM users "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
	)

	return user, err
}

// UserExists reports whether a user row exists. Lookup failures read as
// absence, matching the membership contract where absence is never an error.
func (db *PgChatRepository) UserExists(id string) bool {
	row := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)",
		id,
	)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false
	}

	return exists
}

func (db *PgChatRepository) ListUsers() ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT id, username, email, created_at FROM users ORDER BY username",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(
			&user.Id,
			&user.Username,
			&user.EmailAddress,
			&user.CreatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// SaveMessage appends the message with a store-assigned id and timestamp.
// The caller's id and timestamp fields are ignored.
func (db *PgChatRepository) SaveMessage(msg Message) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (id, room_id, sender_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, room_id, sender_id, content, created_at",
		uuid.NewString(),
		msg.RoomId,
		msg.SenderId,
		msg.Content,
		time.Now().UTC(),
	)

	var saved Message
	err := res.Scan(
		&saved.Id,
		&saved.RoomId,
		&saved.SenderId,
		&saved.Content,
		&saved.CreatedAt,
	)

	return saved, err
}

func (db *PgChatRepository) GetRoomHistory(roomId string) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, sender_id, content, created_at FROM messages "+
			"WHERE room_id = $1 ORDER BY created_at ASC, id ASC",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.RoomId,
			&msg.SenderId,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
