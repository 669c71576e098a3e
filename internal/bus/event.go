package bus

import "time"

// Event kinds published on the bus.
const (
	KindConnRegistered = "conn.registered"
	KindConnClosed     = "conn.closed"
	KindMessageStored  = "message.stored"
	KindMessageDeleted = "message.deleted"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ConnEvent is the payload for conn.* events.
type ConnEvent struct {
	UserID string
}

// MessageEvent is the payload for message.* events.
type MessageEvent struct {
	MessageID      string
	ConversationID string
	SenderID       string
}
