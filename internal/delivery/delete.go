package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"linguachat/go-backend/internal/bus"
	"linguachat/go-backend/internal/cache"
	"linguachat/go-backend/internal/protocol"
)

// DeleteMessage soft-deletes a message on behalf of its sender, drops the
// now-stale caches and notifies every participant. Only the original sender
// may delete; content is tombstoned, never removed from the log.
func (e *Engine) DeleteMessage(ctx context.Context, messageID, userID string) error {
	msg, err := e.db.GetMessage(messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("unknown message %s", messageID)
	}
	if msg.SenderID != userID {
		return fmt.Errorf("user %s is not the sender of message %s", userID, messageID)
	}

	if err := e.db.MarkMessageDeleted(messageID); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}

	conv, err := e.db.GetConversation(msg.ConversationID)
	if err != nil || conv == nil {
		e.logger.Warn("conversation lookup failed after delete",
			zap.String("conversation_id", msg.ConversationID), zap.Error(err))
		return nil
	}

	// Rendered histories and per-viewer translations of this message are
	// all stale now.
	keys := make([]string, 0, 3*len(conv.ParticipantIDs))
	for _, uid := range conv.ParticipantIDs {
		keys = append(keys,
			cache.HistoryKey(conv.ID, uid),
			cache.UserConversationsKey(uid),
			cache.TranslationKey(messageID, uid))
	}
	e.cache.Delete(ctx, keys...)

	e.bus.Publish(bus.Event{
		Kind: bus.KindMessageDeleted,
		Payload: bus.MessageEvent{
			MessageID:      messageID,
			ConversationID: conv.ID,
			SenderID:       userID,
		},
	})

	notice := protocol.MessagePayload{
		Type:           protocol.TypeMessageDeleted,
		MessageID:      messageID,
		ConversationID: conv.ID,
		Sender:         userID,
		Deleted:        true,
	}
	e.hub.SendJSON(userID, protocol.DeliveryMessage{
		BaseMessage:    protocol.BaseMessage{Event: protocol.EventMessageDeleted},
		MessagePayload: notice,
	})
	for _, uid := range conv.ParticipantIDs {
		if uid == userID {
			continue
		}
		data, err := json.Marshal(protocol.Envelope{RecipientID: uid, MessageData: notice})
		if err != nil {
			continue
		}
		e.cache.Publish(ctx, cache.MessageChannel, data)
	}
	return nil
}
