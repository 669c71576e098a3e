package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedUsers(t *testing.T, db *DB, langs ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(langs))
	for i, lang := range langs {
		u := &User{DisplayName: string(rune('A' + i)), PreferredLanguage: lang}
		if err := db.CreateUser(u); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, u.ID)
	}
	return ids
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
}

func TestUserLifecycle(t *testing.T) {
	db := testDB(t)

	u := &User{DisplayName: "Alice", PreferredLanguage: "en"}
	if err := db.CreateUser(u); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetUser(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.PreferredLanguage != "en" {
		t.Fatalf("got %+v, want en user", got)
	}

	if err := db.UpdatePreferredLanguage(u.ID, "es"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetUser(u.ID)
	if got.PreferredLanguage != "es" {
		t.Errorf("preferred language = %q, want es", got.PreferredLanguage)
	}

	if err := db.UpdatePreferredLanguage(u.ID, "xx"); err == nil {
		t.Error("unsupported language should be rejected")
	}
	if err := db.UpdatePreferredLanguage("missing", "es"); err == nil {
		t.Error("missing user should be rejected")
	}

	if err := db.SetOnline(u.ID, true); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetUser(u.ID)
	if !got.Online || got.LastSeenAt == 0 {
		t.Errorf("online = %v, last_seen = %d", got.Online, got.LastSeenAt)
	}
}

func TestGetUserMissing(t *testing.T) {
	db := testDB(t)

	u, err := db.GetUser("nope")
	if err != nil {
		t.Fatal(err)
	}
	if u != nil {
		t.Errorf("expected nil for missing user, got %+v", u)
	}
}

func TestConversationCreateAndGet(t *testing.T) {
	db := testDB(t)
	ids := seedUsers(t, db, "en", "es")

	conv, err := db.CreateConversation(ids)
	if err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("conversation not found")
	}
	if len(got.ParticipantIDs) != 2 {
		t.Fatalf("participants = %v, want 2", got.ParticipantIDs)
	}

	if _, err := db.CreateConversation(ids[:1]); err == nil {
		t.Error("single-participant conversation should be rejected")
	}
}

func TestTouchLastMessage(t *testing.T) {
	db := testDB(t)
	ids := seedUsers(t, db, "en", "es")
	conv, err := db.CreateConversation(ids)
	if err != nil {
		t.Fatal(err)
	}

	if err := db.TouchLastMessage(conv.ID, "aabb:ccdd", 4200); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetConversation(conv.ID)
	if got.LastMessage != "aabb:ccdd" || got.LastMessageAt != 4200 {
		t.Errorf("snapshot = %q at %d", got.LastMessage, got.LastMessageAt)
	}

	convs, err := db.ListUserConversations(ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != conv.ID {
		t.Errorf("conversations = %+v", convs)
	}
}

func TestAppendMessageInvariants(t *testing.T) {
	db := testDB(t)
	ids := seedUsers(t, db, "en", "es")
	conv, err := db.CreateConversation(ids)
	if err != nil {
		t.Fatal(err)
	}

	// Text without ciphertext is invalid.
	err = db.AppendMessage(&Message{ConversationID: conv.ID, SenderID: ids[0], Language: "en"})
	if err == nil {
		t.Error("text message without ciphertext should be rejected")
	}

	// Media without descriptor is invalid.
	err = db.AppendMessage(&Message{ConversationID: conv.ID, SenderID: ids[0], Language: "en", MessageType: TypeImage})
	if err == nil {
		t.Error("media message without descriptor should be rejected")
	}

	// Valid media-only message has no ciphertext.
	m := &Message{
		ConversationID: conv.ID,
		SenderID:       ids[0],
		Language:       "en",
		MessageType:    TypeImage,
		Media:          &Media{URL: "https://cdn/img.png", StorageID: "img-1", Size: 1234},
	}
	if err := db.AppendMessage(m); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetMessage(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Ciphertext != "" || got.Media == nil || got.Media.Size != 1234 {
		t.Errorf("got %+v", got)
	}
}

func TestListByConversationOrder(t *testing.T) {
	db := testDB(t)
	ids := seedUsers(t, db, "en", "es")
	conv, err := db.CreateConversation(ids)
	if err != nil {
		t.Fatal(err)
	}

	for i, ts := range []int64{3000, 1000, 2000} {
		m := &Message{
			ConversationID: conv.ID,
			SenderID:       ids[i%2],
			Ciphertext:     "aa:bb",
			Language:       "en",
			CreatedAt:      ts,
		}
		if err := db.AppendMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListByConversation(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt < msgs[i-1].CreatedAt {
			t.Errorf("messages out of order: %d before %d", msgs[i-1].CreatedAt, msgs[i].CreatedAt)
		}
	}
}

func TestMarkMessageDeleted(t *testing.T) {
	db := testDB(t)
	ids := seedUsers(t, db, "en", "es")
	conv, err := db.CreateConversation(ids)
	if err != nil {
		t.Fatal(err)
	}

	m := &Message{ConversationID: conv.ID, SenderID: ids[0], Ciphertext: "aa:bb", Language: "en"}
	if err := db.AppendMessage(m); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkMessageDeleted(m.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetMessage(m.ID)
	if !got.Deleted || got.DeletedAt == 0 {
		t.Errorf("deleted = %v at %d", got.Deleted, got.DeletedAt)
	}
	// Ciphertext stays; only the flag flips.
	if got.Ciphertext != "aa:bb" {
		t.Errorf("ciphertext = %q, want unchanged", got.Ciphertext)
	}

	if err := db.MarkMessageDeleted(m.ID); err == nil {
		t.Error("double delete should be rejected")
	}
}
