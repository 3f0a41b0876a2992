package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Reaction groups the users who reacted to a message with one emoji.
type Reaction struct {
	Emoji string
	Users []User
}

// ReactionChange is one user's add or remove request. A user holds at most
// one reaction per message: adding the emoji they already have removes it,
// adding a different one replaces it.
type ReactionChange struct {
	MessageID int64
	UserID    string
	Emoji     string
	Remove    bool
}

// React applies change and returns the message's reactions afterwards.
func (s *Store) React(ctx context.Context, change ReactionChange) (reactions []Reaction, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		existingID    int64
		existingEmoji string
	)
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT id, emoji FROM message_reactions WHERE message_id = ? AND user_id = ?
	`), change.MessageID, change.UserID).Scan(&existingID, &existingEmoji)
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	err = nil

	now := time.Now().UTC().Truncate(time.Second)
	switch {
	case change.Remove || (found && existingEmoji == change.Emoji):
		if found {
			_, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM message_reactions WHERE id = ?`), existingID)
		}
	case found:
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE message_reactions SET emoji = ?, updated_at = ? WHERE id = ?`), change.Emoji, now, existingID)
	default:
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO message_reactions(message_id, user_id, emoji, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?)
		`), change.MessageID, change.UserID, change.Emoji, now, now)
	}
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}

	grouped, err := s.ReactionsForMessages(ctx, []int64{change.MessageID})
	if err != nil {
		return nil, err
	}
	return grouped[change.MessageID], nil
}

// ReactionsForMessages batch-loads reactions keyed by message id. Emojis keep
// the order in which they were first used.
func (s *Store) ReactionsForMessages(ctx context.Context, messageIDs []int64) (map[int64][]Reaction, error) {
	result := make(map[int64][]Reaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}
	args := make([]any, 0, len(messageIDs))
	for _, id := range messageIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT r.message_id, r.emoji, r.user_id, COALESCE(u.name, '')
		FROM message_reactions r LEFT JOIN users u ON u.id = r.user_id
		WHERE r.message_id IN (`+placeholders(len(args))+`)
		ORDER BY r.message_id, r.id
	`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			messageID int64
			emoji     string
			user      User
		)
		if err := rows.Scan(&messageID, &emoji, &user.ID, &user.Name); err != nil {
			return nil, err
		}
		groups := result[messageID]
		idx := -1
		for i := range groups {
			if groups[i].Emoji == emoji {
				idx = i
				break
			}
		}
		if idx < 0 {
			groups = append(groups, Reaction{Emoji: emoji})
			idx = len(groups) - 1
		}
		groups[idx].Users = append(groups[idx].Users, user)
		result[messageID] = groups
	}
	return result, rows.Err()
}
