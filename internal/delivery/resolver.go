package delivery

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"linguachat/go-backend/internal/cache"
	"linguachat/go-backend/internal/crypto"
	"linguachat/go-backend/internal/protocol"
	"linguachat/go-backend/internal/store"
	"linguachat/go-backend/internal/translate"
)

// Resolver decides what text a viewer sees for a message:
// same-language short-circuit, then translation cache, then the gateway.
type Resolver struct {
	cache   *cache.Cache
	gateway *translate.Gateway
	cipher  *crypto.Cipher
	logger  *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(c *cache.Cache, g *translate.Gateway, ci *crypto.Cipher, logger *zap.Logger) *Resolver {
	return &Resolver{cache: c, gateway: g, cipher: ci, logger: logger}
}

// DisplayText resolves the text shown to a viewer. Messages in the viewer's
// own language bypass both the cache and the gateway entirely; fresh
// translations are cached with the translation TTL.
func (r *Resolver) DisplayText(ctx context.Context, msg *store.Message, viewerID, viewerLang string) string {
	text, fresh, key := r.resolve(ctx, msg, viewerID, viewerLang)
	if fresh {
		r.cache.SetWithTTL(ctx, key, text, cache.TranslationTTL)
	}
	return text
}

// resolve returns the display text, whether it is a fresh translation that
// still needs caching, and the cache key for it. It never writes the cache
// itself so the batch path can pipeline write-backs. Placeholders are
// delivered but never cached: a failure must not stick for an hour.
func (r *Resolver) resolve(ctx context.Context, msg *store.Message, viewerID, viewerLang string) (string, bool, string) {
	plain := r.cipher.Decrypt(msg.Ciphertext)
	if msg.Language == viewerLang {
		return plain, false, ""
	}

	key := cache.TranslationKey(msg.ID, viewerID)
	if cached, ok := r.cache.Get(ctx, key); ok {
		return cached, false, key
	}

	translated, ok := r.gateway.Translate(ctx, plain, viewerLang)
	if !ok {
		return translated, false, key
	}
	return translated, true, key
}

// RenderHistory projects a conversation's messages into viewer-specific
// rendered views. Translations run concurrently; output order follows the
// input (ascending createdAt) regardless of completion order. Fresh
// translations are written back in one pipelined batch.
func (r *Resolver) RenderHistory(ctx context.Context, msgs []store.Message, viewer *store.User, senderNames map[string]string) []protocol.MessagePayload {
	views := make([]protocol.MessagePayload, len(msgs))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		entries []cache.Entry
	)
	for i := range msgs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := &msgs[i]
			view := protocol.MessagePayload{
				MessageID:        msg.ID,
				ConversationID:   msg.ConversationID,
				Sender:           msg.SenderID,
				SenderName:       senderNames[msg.SenderID],
				Lang:             viewer.PreferredLanguage,
				OriginalLanguage: msg.Language,
				CreatedAt:        msg.CreatedAt,
				IsMine:           msg.SenderID == viewer.ID,
				MessageType:      msg.MessageType,
			}

			switch {
			case msg.Deleted:
				view.Deleted = true
			case msg.IsMedia():
				// Caption is decrypted but never machine-translated.
				view.Text = r.cipher.Decrypt(msg.Ciphertext)
				view.Media = &protocol.MediaPayload{
					URL:       msg.Media.URL,
					StorageID: msg.Media.StorageID,
					Size:      msg.Media.Size,
				}
			default:
				text, fresh, key := r.resolve(ctx, msg, viewer.ID, viewer.PreferredLanguage)
				view.Text = text
				if fresh {
					mu.Lock()
					entries = append(entries, cache.Entry{Key: key, Value: text})
					mu.Unlock()
				}
			}
			views[i] = view
		}(i)
	}
	wg.Wait()

	if len(entries) > 0 {
		r.cache.BatchSetWithTTL(ctx, entries, cache.TranslationTTL)
	}
	return views
}
