// Package protocol defines the JSON message protocol between clients and
// the daemon, plus the envelope shape carried on the pub/sub channel.
package protocol

// Events from client to server.
const (
	EventRegister          = "register"
	EventSendMessage       = "sendMessage"
	EventLoadChatHistory   = "loadChatHistory"
	EventReloadChatHistory = "reloadChatHistory"
	EventDeleteMessage     = "deleteMessage"
	EventTyping            = "typing"
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
)

// Events from server to client.
const (
	EventRegistered          = "registered"
	EventChatHistory         = "chatHistory"
	EventReceiveMessage      = "receiveMessage"
	EventReceiveMediaMessage = "receiveMediaMessage"
	EventMessageDeleted      = "messageDeleted"
	EventUserTyping          = "userTyping"
	EventError               = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Event string `json:"event"`
	Ts    int64  `json:"ts,omitempty"`
}

// RegisterMessage binds a connection to a logical user identity.
type RegisterMessage struct {
	BaseMessage
	UserID string `json:"userId"`
}

// SendRequest is an outgoing text message from a client.
type SendRequest struct {
	BaseMessage
	ConversationID string   `json:"conversationId"`
	SenderID       string   `json:"senderId"`
	Text           string   `json:"text"`
	Language       string   `json:"language"`
	Recipients     []string `json:"recipients,omitempty"`
}

// HistoryRequest asks for a conversation's rendered history.
// loadChatHistory and reloadChatHistory share this shape.
type HistoryRequest struct {
	BaseMessage
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// DeleteRequest soft-deletes a message the user sent.
type DeleteRequest struct {
	BaseMessage
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// TypingMessage is a pass-through typing indicator.
type TypingMessage struct {
	BaseMessage
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// RoomMessage joins or leaves a conversation room for typing relays.
type RoomMessage struct {
	BaseMessage
	ConversationID string `json:"conversationId"`
}

// RegisteredMessage acknowledges a register.
type RegisteredMessage struct {
	BaseMessage
	UserID string `json:"userId"`
}

// ErrorMessage is sent when an operation fails for its initiator.
type ErrorMessage struct {
	BaseMessage
	Message string `json:"message"`
}

// ChatHistoryMessage carries a full rendered history.
type ChatHistoryMessage struct {
	BaseMessage
	ConversationID string           `json:"conversationId"`
	Messages       []MessagePayload `json:"messages"`
}

// DeliveryMessage carries one rendered message to a client. Its Event is
// receiveMessage, receiveMediaMessage or messageDeleted depending on the
// payload shape.
type DeliveryMessage struct {
	BaseMessage
	MessagePayload
}

// MediaPayload is the externally stored attachment descriptor.
type MediaPayload struct {
	URL       string `json:"url"`
	StorageID string `json:"storageId,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// MessagePayload is a message projected into a viewer-specific,
// language-resolved, display-ready structure. The same shape appears in
// history responses, live deliveries and deletion notices.
type MessagePayload struct {
	Type             string        `json:"type,omitempty"` // "messageDeleted" for deletion notices
	MessageID        string        `json:"messageId"`
	ConversationID   string        `json:"conversationId,omitempty"`
	Text             string        `json:"text,omitempty"`
	Sender           string        `json:"sender,omitempty"`
	SenderName       string        `json:"senderName,omitempty"`
	Lang             string        `json:"lang,omitempty"`
	OriginalLanguage string        `json:"originalLanguage,omitempty"`
	CreatedAt        int64         `json:"createdAt,omitempty"`
	IsMine           bool          `json:"isMine"`
	MessageType      string        `json:"messageType,omitempty"`
	Deleted          bool          `json:"deleted,omitempty"`
	Media            *MediaPayload `json:"media,omitempty"`
}

// TypeMessageDeleted marks a deletion notice payload.
const TypeMessageDeleted = "messageDeleted"

// DeliveryEvent returns the client event name this payload routes to.
func (p MessagePayload) DeliveryEvent() string {
	switch {
	case p.Type == TypeMessageDeleted:
		return EventMessageDeleted
	case p.MessageType == "image" || p.MessageType == "video":
		return EventReceiveMediaMessage
	default:
		return EventReceiveMessage
	}
}

// Envelope is the transient pub/sub payload: a recipient id plus the
// rendered message. It exists only on the bus between publish and a
// subscriber's consumption.
type Envelope struct {
	RecipientID string         `json:"recipientId"`
	MessageData MessagePayload `json:"messageData"`
}
