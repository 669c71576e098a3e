package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"linguachat/go-backend/internal/cache"
	"linguachat/go-backend/internal/protocol"
	"linguachat/go-backend/internal/store"
)

// LoadChatHistory returns a conversation's history rendered for one viewer.
// The viewer's language is always read fresh from the store; the rendered
// list is served verbatim from cache when present. reload forces a
// recompute, bypassing the cached list.
func (e *Engine) LoadChatHistory(ctx context.Context, conversationID, userID string, reload bool) (*protocol.ChatHistoryMessage, error) {
	viewer, err := e.db.GetUser(userID)
	if err != nil {
		return nil, fmt.Errorf("load viewer: %w", err)
	}
	if viewer == nil {
		return nil, fmt.Errorf("unknown user %s", userID)
	}

	key := cache.HistoryKey(conversationID, userID)
	if !reload {
		if cached, ok := e.cache.Get(ctx, key); ok {
			var views []protocol.MessagePayload
			if err := json.Unmarshal([]byte(cached), &views); err == nil {
				return &protocol.ChatHistoryMessage{
					BaseMessage:    protocol.BaseMessage{Event: protocol.EventChatHistory},
					ConversationID: conversationID,
					Messages:       views,
				}, nil
			}
			// A corrupt entry falls through to a recompute.
			e.logger.Warn("discarding corrupt history cache entry", zap.String("key", key))
			e.cache.Delete(ctx, key)
		}
	}

	conv, err := e.db.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("unknown conversation %s", conversationID)
	}

	msgs, err := e.db.ListByConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	views := e.resolver.RenderHistory(ctx, msgs, viewer, e.senderNameMap(msgs))
	if data, err := json.Marshal(views); err == nil {
		e.cache.SetWithTTL(ctx, key, string(data), cache.HistoryTTL)
	}

	return &protocol.ChatHistoryMessage{
		BaseMessage:    protocol.BaseMessage{Event: protocol.EventChatHistory},
		ConversationID: conversationID,
		Messages:       views,
	}, nil
}

// ListConversations returns the user's conversations, most recent first,
// with last-message snapshots decrypted for display. The result is cached
// under the user's conversation-list key.
func (e *Engine) ListConversations(ctx context.Context, userID string) ([]store.Conversation, error) {
	key := cache.UserConversationsKey(userID)
	if cached, ok := e.cache.Get(ctx, key); ok {
		var convs []store.Conversation
		if err := json.Unmarshal([]byte(cached), &convs); err == nil {
			return convs, nil
		}
		e.cache.Delete(ctx, key)
	}

	convs, err := e.db.ListUserConversations(userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	for i := range convs {
		convs[i].LastMessage = e.cipher.Decrypt(convs[i].LastMessage)
	}
	if data, err := json.Marshal(convs); err == nil {
		e.cache.SetWithTTL(ctx, key, string(data), cache.HistoryTTL)
	}
	return convs, nil
}
