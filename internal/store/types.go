package store

// Message types.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVideo = "video"
)

// SupportedLanguages is the fixed set of language codes users may choose.
var SupportedLanguages = map[string]bool{
	"en": true, "hi": true, "mr": true, "kn": true, "es": true,
	"fr": true, "de": true, "ja": true, "zh": true, "ar": true,
	"pt": true, "ru": true, "it": true,
}

// User is the language-relevant projection of a chat user.
type User struct {
	ID                string
	DisplayName       string
	PreferredLanguage string
	Online            bool
	LastSeenAt        int64
	CreatedAt         int64
}

// Conversation is a set of participants plus a last-message snapshot.
// The snapshot is stored encrypted, like message bodies.
type Conversation struct {
	ID             string
	ParticipantIDs []string
	LastMessage    string
	LastMessageAt  int64
	CreatedAt      int64
}

// Media describes an externally stored attachment. The store only relays
// the descriptor; bytes live in the object store.
type Media struct {
	URL       string
	StorageID string
	Size      int64
}

// Message is one row of the ordered per-conversation log. Immutable once
// written, except for the soft-delete flag.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Ciphertext     string // empty for media-only messages
	Language       string
	MessageType    string
	Media          *Media
	Deleted        bool
	DeletedAt      int64
	CreatedAt      int64
}

// IsMedia reports whether the message carries an attachment.
func (m *Message) IsMedia() bool {
	return m.MessageType == TypeImage || m.MessageType == TypeVideo
}
