package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateConversation creates a conversation with the given participant set.
// The participant set is immutable after creation.
func (db *DB) CreateConversation(participantIDs []string) (*Conversation, error) {
	if len(participantIDs) < 2 {
		return nil, fmt.Errorf("conversation needs at least 2 participants, got %d", len(participantIDs))
	}

	conv := &Conversation{
		ID:             uuid.New().String(),
		ParticipantIDs: participantIDs,
		CreatedAt:      time.Now().UnixMilli(),
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO conversations (id, last_message_at, created_at)
		VALUES (?, 0, ?)`, conv.ID, conv.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	for _, uid := range participantIDs {
		if _, err := tx.Exec(`
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES (?, ?)`, conv.ID, uid); err != nil {
			return nil, fmt.Errorf("insert participant %s: %w", uid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return conv, nil
}

// GetConversation returns a conversation with its participants, or nil if
// not found.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	var lastMessage sql.NullString
	err := db.QueryRow(`
		SELECT id, last_message, last_message_at, created_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &lastMessage, &c.LastMessageAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.LastMessage = lastMessage.String

	rows, err := db.Query(`
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = ? ORDER BY user_id`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		c.ParticipantIDs = append(c.ParticipantIDs, uid)
	}
	return &c, rows.Err()
}

// ListUserConversations returns a user's conversations, most recent first.
func (db *DB) ListUserConversations(userID string) ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT c.id, c.last_message, c.last_message_at, c.created_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.last_message_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var lastMessage sql.NullString
		if err := rows.Scan(&c.ID, &lastMessage, &c.LastMessageAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.LastMessage = lastMessage.String
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// TouchLastMessage updates the conversation's encrypted last-message
// snapshot and timestamp.
func (db *DB) TouchLastMessage(conversationID, encryptedSnapshot string, at int64) error {
	_, err := db.Exec(`
		UPDATE conversations SET last_message = ?, last_message_at = ?
		WHERE id = ?`, encryptedSnapshot, at, conversationID)
	return err
}
