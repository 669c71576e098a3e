package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendMessage durably appends a message to its conversation's log,
// assigning id and createdAt. Text messages must carry ciphertext; media
// messages must carry a descriptor.
func (db *DB) AppendMessage(m *Message) error {
	if m.MessageType == "" {
		m.MessageType = TypeText
	}
	if m.MessageType == TypeText && m.Ciphertext == "" {
		return fmt.Errorf("text message requires ciphertext")
	}
	if m.IsMedia() && (m.Media == nil || m.Media.URL == "") {
		return fmt.Errorf("%s message requires a media descriptor", m.MessageType)
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}

	var mediaURL, mediaStorageID sql.NullString
	var mediaSize sql.NullInt64
	if m.Media != nil {
		mediaURL = sql.NullString{String: m.Media.URL, Valid: true}
		mediaStorageID = sql.NullString{String: m.Media.StorageID, Valid: true}
		mediaSize = sql.NullInt64{Int64: m.Media.Size, Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, ciphertext, language, message_type,
			media_url, media_storage_id, media_size, deleted, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, 0, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Ciphertext, m.Language, m.MessageType,
		mediaURL, mediaStorageID, mediaSize, m.CreatedAt)
	return err
}

// GetMessage returns a message by id, or nil if not found.
func (db *DB) GetMessage(id string) (*Message, error) {
	row := db.QueryRow(messageSelect+` WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListByConversation returns a conversation's messages in ascending
// createdAt order, soft-deleted rows included (they render as tombstones).
func (db *DB) ListByConversation(conversationID string) ([]Message, error) {
	rows, err := db.Query(messageSelect+`
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MarkMessageDeleted soft-deletes a message. Content is never updated in
// place; the row keeps its ciphertext but renders as deleted.
func (db *DB) MarkMessageDeleted(id string) error {
	res, err := db.Exec(`
		UPDATE messages SET deleted = 1, deleted_at = ?
		WHERE id = ? AND deleted = 0`, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message %s not found or already deleted", id)
	}
	return nil
}

const messageSelect = `
	SELECT id, conversation_id, sender_id, ciphertext, language, message_type,
		media_url, media_storage_id, media_size, deleted, deleted_at, created_at
	FROM messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var ciphertext, mediaURL, mediaStorageID sql.NullString
	var mediaSize, deletedAt sql.NullInt64
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &ciphertext, &m.Language,
		&m.MessageType, &mediaURL, &mediaStorageID, &mediaSize, &m.Deleted, &deletedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Ciphertext = ciphertext.String
	m.DeletedAt = deletedAt.Int64
	if mediaURL.Valid {
		m.Media = &Media{
			URL:       mediaURL.String,
			StorageID: mediaStorageID.String,
			Size:      mediaSize.Int64,
		}
	}
	return &m, nil
}
