package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"linguachat/go-backend/internal/bus"
	"linguachat/go-backend/internal/cache"
	"linguachat/go-backend/internal/protocol"
	"linguachat/go-backend/internal/store"
)

// SendMessage runs the full send pipeline for a text message: encrypt and
// persist, invalidate participant caches, echo to the sender, then fan out
// one rendered copy per recipient. Persistence failures abort the whole
// operation; everything after the append is best effort and isolated per
// recipient.
func (e *Engine) SendMessage(ctx context.Context, req *protocol.SendRequest) (*store.Message, error) {
	sender, err := e.db.GetUser(req.SenderID)
	if err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	if sender == nil {
		return nil, fmt.Errorf("unknown sender %s", req.SenderID)
	}
	conv, err := e.db.GetConversation(req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("unknown conversation %s", req.ConversationID)
	}

	lang := req.Language
	if lang == "" {
		lang = sender.PreferredLanguage
	}
	ciphertext, err := e.cipher.Encrypt(req.Text)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		Ciphertext:     ciphertext,
		Language:       lang,
		MessageType:    store.TypeText,
	}
	if err := e.db.AppendMessage(msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	e.afterAppend(ctx, msg, conv, sender, req.Text)
	return msg, nil
}

// SendMediaMessage persists a media message (attachment descriptor plus an
// optional caption) and fans it out. Captions are encrypted like message
// bodies but delivered verbatim, never machine-translated.
func (e *Engine) SendMediaMessage(ctx context.Context, req *protocol.SendRequest, mediaType string, media *protocol.MediaPayload) (*store.Message, error) {
	sender, err := e.db.GetUser(req.SenderID)
	if err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	if sender == nil {
		return nil, fmt.Errorf("unknown sender %s", req.SenderID)
	}
	conv, err := e.db.GetConversation(req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("unknown conversation %s", req.ConversationID)
	}
	if media == nil {
		return nil, fmt.Errorf("media message requires a descriptor")
	}

	lang := req.Language
	if lang == "" {
		lang = sender.PreferredLanguage
	}
	caption, err := e.cipher.Encrypt(req.Text)
	if err != nil {
		return nil, fmt.Errorf("encrypt caption: %w", err)
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		Ciphertext:     caption,
		Language:       lang,
		MessageType:    mediaType,
		Media: &store.Media{
			URL:       media.URL,
			StorageID: media.StorageID,
			Size:      media.Size,
		},
	}
	if err := e.db.AppendMessage(msg); err != nil {
		return nil, fmt.Errorf("append media message: %w", err)
	}

	e.afterAppend(ctx, msg, conv, sender, req.Text)
	return msg, nil
}

// afterAppend runs the post-persistence tail shared by text and media
// sends: snapshot, invalidation, sender echo, recipient fan-out.
func (e *Engine) afterAppend(ctx context.Context, msg *store.Message, conv *store.Conversation, sender *store.User, plaintext string) {
	if err := e.db.TouchLastMessage(conv.ID, msg.Ciphertext, msg.CreatedAt); err != nil {
		e.logger.Warn("updating last-message snapshot failed",
			zap.String("conversation_id", conv.ID), zap.Error(err))
	}

	e.invalidateParticipantCaches(ctx, conv.ID, conv.ParticipantIDs)

	e.bus.Publish(bus.Event{
		Kind: bus.KindMessageStored,
		Payload: bus.MessageEvent{
			MessageID:      msg.ID,
			ConversationID: conv.ID,
			SenderID:       sender.ID,
		},
	})

	echo := e.payloadFor(msg, sender, plaintext)
	echo.IsMine = true
	e.hub.SendJSON(sender.ID, protocol.DeliveryMessage{
		BaseMessage:    protocol.BaseMessage{Event: echo.DeliveryEvent()},
		MessagePayload: echo,
	})

	e.fanOut(ctx, msg, conv, sender, plaintext)
}

// fanOut renders and publishes one envelope per recipient. Each recipient
// is handled on its own goroutine with its own failure domain: a broken
// translation for one viewer must not delay or suppress another's copy.
func (e *Engine) fanOut(ctx context.Context, msg *store.Message, conv *store.Conversation, sender *store.User, plaintext string) {
	var wg sync.WaitGroup
	for _, uid := range conv.ParticipantIDs {
		if uid == sender.ID {
			continue
		}
		wg.Add(1)
		go func(recipientID string) {
			defer wg.Done()
			e.deliverTo(ctx, msg, sender, recipientID, plaintext)
		}(uid)
	}
	wg.Wait()
}

// deliverTo builds one recipient's rendered copy and publishes it on the
// message channel. The recipient's language is read fresh from the store so
// a just-changed preference takes effect immediately.
func (e *Engine) deliverTo(ctx context.Context, msg *store.Message, sender *store.User, recipientID, plaintext string) {
	recipient, err := e.db.GetUser(recipientID)
	if err != nil || recipient == nil {
		e.logger.Warn("recipient lookup failed, skipping delivery",
			zap.String("recipient_id", recipientID), zap.Error(err))
		return
	}

	payload := e.payloadFor(msg, sender, plaintext)
	payload.Lang = recipient.PreferredLanguage

	if !msg.IsMedia() && recipient.PreferredLanguage != msg.Language {
		translated, ok := e.resolver.gateway.Translate(ctx, plaintext, recipient.PreferredLanguage)
		payload.Text = translated
		if ok {
			e.cache.SetWithTTL(ctx, cache.TranslationKey(msg.ID, recipientID), translated, cache.TranslationTTL)
		}
	}

	data, err := json.Marshal(protocol.Envelope{RecipientID: recipientID, MessageData: payload})
	if err != nil {
		e.logger.Error("marshal envelope", zap.Error(err))
		return
	}
	e.cache.Publish(ctx, cache.MessageChannel, data)
}

// payloadFor builds the base rendered payload for a stored message, text in
// the original language.
func (e *Engine) payloadFor(msg *store.Message, sender *store.User, plaintext string) protocol.MessagePayload {
	p := protocol.MessagePayload{
		MessageID:        msg.ID,
		ConversationID:   msg.ConversationID,
		Text:             plaintext,
		Sender:           sender.ID,
		SenderName:       sender.DisplayName,
		Lang:             msg.Language,
		OriginalLanguage: msg.Language,
		CreatedAt:        msg.CreatedAt,
		MessageType:      msg.MessageType,
	}
	if msg.Media != nil {
		p.Media = &protocol.MediaPayload{
			URL:       msg.Media.URL,
			StorageID: msg.Media.StorageID,
			Size:      msg.Media.Size,
		}
	}
	return p
}
