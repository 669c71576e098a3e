package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateUser inserts a new user, assigning an id if not set.
func (db *DB) CreateUser(u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.PreferredLanguage == "" {
		u.PreferredLanguage = "en"
	}
	if !SupportedLanguages[u.PreferredLanguage] {
		return fmt.Errorf("unsupported language %q", u.PreferredLanguage)
	}
	u.CreatedAt = time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (id, display_name, preferred_language, online, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.DisplayName, u.PreferredLanguage, u.Online, u.LastSeenAt, u.CreatedAt)
	return err
}

// GetUser returns a user by id, or nil if not found.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`
		SELECT id, display_name, preferred_language, online, last_seen_at, created_at
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.DisplayName, &u.PreferredLanguage, &u.Online, &u.LastSeenAt, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdatePreferredLanguage changes a user's language. Callers must pair this
// with invalidation of the user's chat history caches: rendered history is
// language-specific and must not survive the change.
func (db *DB) UpdatePreferredLanguage(userID, lang string) error {
	if !SupportedLanguages[lang] {
		return fmt.Errorf("unsupported language %q", lang)
	}
	res, err := db.Exec(`UPDATE users SET preferred_language = ? WHERE id = ?`, lang, userID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %s not found", userID)
	}
	return nil
}

// SetOnline updates a user's presence flag and last-seen timestamp.
func (db *DB) SetOnline(userID string, online bool) error {
	_, err := db.Exec(`UPDATE users SET online = ?, last_seen_at = ? WHERE id = ?`,
		online, time.Now().UnixMilli(), userID)
	return err
}
