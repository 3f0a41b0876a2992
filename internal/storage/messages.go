package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// User is a chat participant as last announced by joinRoom.
type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Message is a row in the messages table with its resolved sender name.
// Parent is set when ParentID names a message that still exists.
type Message struct {
	ID        int64
	Room      string
	UserID    string
	UserName  string
	Content   string
	Type      string
	ClientID  string
	ParentID  int64
	Parent    *ParentMessage
	CreatedAt time.Time
	Files     []File
	Reactions []Reaction
}

// ParentMessage is the quoted summary of the message a reply points at.
type ParentMessage struct {
	ID       int64
	Content  string
	UserName string
}

// NewMessage carries the fields required to insert a message.
type NewMessage struct {
	Room     string
	UserID   string
	Content  string
	ClientID string
	ParentID int64
	FileIDs  []int64
}

// UpsertUser records a user id and, when non-empty, its display name.
func (s *Store) UpsertUser(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO users(id, name) VALUES(?, ?)
		ON CONFLICT(id) DO UPDATE SET name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE users.name END
	`), id, name)
	return err
}

// GetUser fetches a user by id. ErrNotFound is returned when missing.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, created_at FROM users WHERE id = ?`), id)
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// InsertMessage stores a message and links its files in one transaction.
// When msg.ClientID was already used by the same user in the same room, the
// existing message is returned with created=false and nothing is written.
func (s *Store) InsertMessage(ctx context.Context, msg NewMessage) (stored *Message, created bool, err error) {
	if msg.ClientID != "" {
		existing, err := s.findByClientID(ctx, msg.Room, msg.UserID, msg.ClientID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC().Truncate(time.Second)
	var parent sql.NullInt64
	if msg.ParentID > 0 {
		parent = sql.NullInt64{Int64: msg.ParentID, Valid: true}
	}
	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO messages(room, user_id, content, type, client_id, parent_id, created_at)
		VALUES(?, ?, ?, 'text', ?, ?, ?)
		RETURNING id
	`), msg.Room, msg.UserID, msg.Content, msg.ClientID, parent, now).Scan(&id)
	if err != nil {
		if isConstraintError(err) && msg.ClientID != "" {
			_ = tx.Rollback()
			existing, findErr := s.findByClientID(ctx, msg.Room, msg.UserID, msg.ClientID)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	for pos, fileID := range msg.FileIDs {
		if _, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO message_files(message_id, file_id, position) VALUES(?, ?, ?)
			ON CONFLICT DO NOTHING
		`), id, fileID, pos); err != nil {
			return nil, false, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, false, err
	}

	stored, err = s.GetMessage(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

func (s *Store) findByClientID(ctx context.Context, room, userID, clientID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM messages WHERE room = ? AND user_id = ? AND client_id = ?`), room, userID, clientID)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetMessage(ctx, id)
}

const (
	messageColumns = `m.id, m.room, m.user_id, COALESCE(u.name, ''), m.content, m.type, m.client_id, COALESCE(m.parent_id, 0), m.created_at,
		COALESCE(p.id, 0), COALESCE(p.content, ''), COALESCE(pu.name, '')`
	messageFrom = `messages m
		LEFT JOIN users u ON u.id = m.user_id
		LEFT JOIN messages p ON p.id = m.parent_id
		LEFT JOIN users pu ON pu.id = p.user_id`
)

// GetMessage fetches one message with its files.
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+messageColumns+`
		FROM `+messageFrom+`
		WHERE m.id = ?
	`), id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	messages := []Message{msg}
	if err := s.attach(ctx, messages); err != nil {
		return nil, err
	}
	return &messages[0], nil
}

// ListMessages returns up to limit messages of room with id < beforeID
// (all when beforeID is 0), newest first.
func (s *Store) ListMessages(ctx context.Context, room string, beforeID int64, limit int) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM ` + messageFrom + `
		WHERE m.room = ?`
	args := []any{room}
	if beforeID > 0 {
		query += ` AND m.id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY m.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attach(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// attach loads files and reactions for messages in place.
func (s *Store) attach(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	files, err := s.FilesForMessages(ctx, ids)
	if err != nil {
		return err
	}
	reactions, err := s.ReactionsForMessages(ctx, ids)
	if err != nil {
		return err
	}
	for i := range messages {
		messages[i].Files = files[messages[i].ID]
		messages[i].Reactions = reactions[messages[i].ID]
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	var parent ParentMessage
	err := row.Scan(&msg.ID, &msg.Room, &msg.UserID, &msg.UserName, &msg.Content, &msg.Type, &msg.ClientID, &msg.ParentID, &msg.CreatedAt,
		&parent.ID, &parent.Content, &parent.UserName)
	if err == nil && parent.ID > 0 {
		msg.Parent = &parent
	}
	return msg, err
}
