// Package delivery implements the send-message and load-history pipelines:
// persist, invalidate caches, compute per-recipient text, publish envelopes.
package delivery

import (
	"context"

	"go.uber.org/zap"

	"linguachat/go-backend/internal/bus"
	"linguachat/go-backend/internal/cache"
	"linguachat/go-backend/internal/crypto"
	"linguachat/go-backend/internal/hub"
	"linguachat/go-backend/internal/store"
)

// Engine drives message delivery and history rendering.
type Engine struct {
	db       *store.DB
	cache    *cache.Cache
	resolver *Resolver
	cipher   *crypto.Cipher
	hub      *hub.Hub
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewEngine creates the delivery engine.
func NewEngine(db *store.DB, c *cache.Cache, r *Resolver, ci *crypto.Cipher, h *hub.Hub, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		cache:    c,
		resolver: r,
		cipher:   ci,
		hub:      h,
		bus:      b,
		logger:   logger,
	}
}

// invalidateParticipantCaches deletes the rendered-history and
// conversation-list cache entries for every participant. Best effort: a
// later load simply recomputes from durable storage.
func (e *Engine) invalidateParticipantCaches(ctx context.Context, conversationID string, participantIDs []string) {
	keys := make([]string, 0, 2*len(participantIDs))
	for _, uid := range participantIDs {
		keys = append(keys, cache.HistoryKey(conversationID, uid), cache.UserConversationsKey(uid))
	}
	e.cache.Delete(ctx, keys...)
}

// senderNameMap resolves display names for the distinct senders in a
// message list. A missing user degrades to an empty name, never an error.
func (e *Engine) senderNameMap(msgs []store.Message) map[string]string {
	names := make(map[string]string)
	for i := range msgs {
		id := msgs[i].SenderID
		if _, seen := names[id]; seen {
			continue
		}
		u, err := e.db.GetUser(id)
		if err != nil || u == nil {
			e.logger.Warn("sender lookup failed", zap.String("user_id", id), zap.Error(err))
			names[id] = ""
			continue
		}
		names[id] = u.DisplayName
	}
	return names
}

// UpdatePreferredLanguage is the cache coherence contract for language
// changes: the durable update is paired, here at the mutation site, with
// invalidation of the user's rendered-history caches. Translation entries
// are left to expire on their own TTL.
func (e *Engine) UpdatePreferredLanguage(ctx context.Context, userID, lang string) error {
	if err := e.db.UpdatePreferredLanguage(userID, lang); err != nil {
		return err
	}
	convs, err := e.db.ListUserConversations(userID)
	if err != nil {
		e.logger.Warn("listing conversations for invalidation failed",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	keys := []string{cache.UserConversationsKey(userID)}
	for _, c := range convs {
		keys = append(keys, cache.HistoryKey(c.ID, userID))
	}
	e.cache.Delete(ctx, keys...)
	e.logger.Info("preferred language updated",
		zap.String("user_id", userID), zap.String("language", lang),
		zap.Int("histories_invalidated", len(convs)))
	return nil
}
