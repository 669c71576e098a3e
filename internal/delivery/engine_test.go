package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"linguachat/go-backend/internal/bus"
	"linguachat/go-backend/internal/cache"
	"linguachat/go-backend/internal/config"
	"linguachat/go-backend/internal/crypto"
	"linguachat/go-backend/internal/hub"
	"linguachat/go-backend/internal/protocol"
	"linguachat/go-backend/internal/store"
	"linguachat/go-backend/internal/translate"
)

// fakeTranslator prefixes text with the target language so tests can tell
// exactly what was translated for whom, and counts backend calls.
type fakeTranslator struct {
	calls atomic.Int64
	fail  atomic.Bool
}

func (f *fakeTranslator) Translate(ctx context.Context, text, target string) (string, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return "", errors.New("backend down")
	}
	return fmt.Sprintf("%s:%s", target, text), nil
}

type testEnv struct {
	db     *store.DB
	mr     *miniredis.Miniredis
	cache  *cache.Cache
	cipher *crypto.Cipher
	hub    *hub.Hub
	tr     *fakeTranslator
	engine *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	c := cache.New(config.RedisConfig{Addr: mr.Addr()}, logger)
	t.Cleanup(func() { _ = c.Close() })

	cipher, err := crypto.New("test-secret")
	require.NoError(t, err)

	tr := &fakeTranslator{}
	gw := translate.NewGateway(tr, time.Second, logger)
	h := hub.New(logger)
	resolver := NewResolver(c, gw, cipher, logger)

	return &testEnv{
		db:     db,
		mr:     mr,
		cache:  c,
		cipher: cipher,
		hub:    h,
		tr:     tr,
		engine: NewEngine(db, c, resolver, cipher, h, bus.New(), logger),
	}
}

func (env *testEnv) encrypt(t *testing.T, text string) string {
	t.Helper()
	ct, err := env.cipher.Encrypt(text)
	require.NoError(t, err)
	return ct
}

func (env *testEnv) seedUser(t *testing.T, name, lang string) *store.User {
	t.Helper()
	u := &store.User{DisplayName: name, PreferredLanguage: lang}
	require.NoError(t, env.db.CreateUser(u))
	return u
}

func (env *testEnv) seedConversation(t *testing.T, users ...*store.User) *store.Conversation {
	t.Helper()
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	conv, err := env.db.CreateConversation(ids)
	require.NoError(t, err)
	return conv
}

// subscribeEnvelopes collects envelopes from the message channel.
func (env *testEnv) subscribeEnvelopes(t *testing.T) <-chan []byte {
	t.Helper()
	ch, stop := env.cache.Subscribe(context.Background(), cache.MessageChannel)
	t.Cleanup(stop)
	// Give the subscriber loop a moment to attach before publishes start.
	time.Sleep(50 * time.Millisecond)
	return ch
}

func recvEnvelope(t *testing.T, ch <-chan []byte) protocol.Envelope {
	t.Helper()
	select {
	case data := <-ch:
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope published")
		return protocol.Envelope{}
	}
}

func sendReq(conv *store.Conversation, sender *store.User, text string) *protocol.SendRequest {
	return &protocol.SendRequest{
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		Text:           text,
		Language:       sender.PreferredLanguage,
	}
}

func TestSendMessageTranslatesForRecipient(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "Alice", "en")
	bob := env.seedUser(t, "Bob", "es")
	conv := env.seedConversation(t, alice, bob)

	aliceConn := env.hub.NewConn(nil)
	env.hub.Register(alice.ID, aliceConn)

	envelopes := env.subscribeEnvelopes(t)
	ctx := context.Background()

	msg, err := env.engine.SendMessage(ctx, sendReq(conv, alice, "hello"))
	require.NoError(t, err)

	// Stored at rest encrypted, never plaintext.
	stored, err := env.db.GetMessage(msg.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "hello", stored.Ciphertext)
	assert.Equal(t, "hello", env.cipher.Decrypt(stored.Ciphertext))

	// Sender gets an immediate untranslated echo.
	select {
	case data := <-aliceConn.Send:
		var echo protocol.DeliveryMessage
		require.NoError(t, json.Unmarshal(data, &echo))
		assert.Equal(t, protocol.EventReceiveMessage, echo.Event)
		assert.Equal(t, "hello", echo.Text)
		assert.True(t, echo.IsMine)
	default:
		t.Fatal("sender echo not queued")
	}

	// Recipient's copy goes out translated on the message channel.
	got := recvEnvelope(t, envelopes)
	assert.Equal(t, bob.ID, got.RecipientID)
	assert.Equal(t, "es:hello", got.MessageData.Text)
	assert.Equal(t, "en", got.MessageData.OriginalLanguage)
	assert.Equal(t, "es", got.MessageData.Lang)

	// And the translation is cached for later history loads.
	cached, ok := env.cache.Get(ctx, cache.TranslationKey(msg.ID, bob.ID))
	assert.True(t, ok)
	assert.Equal(t, "es:hello", cached)
}

func TestSendMessageSameLanguageSkipsTranslator(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "Alice", "en")
	bob := env.seedUser(t, "Bob", "en")
	conv := env.seedConversation(t, alice, bob)

	envelopes := env.subscribeEnvelopes(t)

	msg, err := env.engine.SendMessage(context.Background(), sendReq(conv, alice, "hi"))
	require.NoError(t, err)

	got := recvEnvelope(t, envelopes)
	assert.Equal(t, "hi", got.MessageData.Text)
	assert.EqualValues(t, 0, env.tr.calls.Load())

	_, ok := env.cache.Get(context.Background(), cache.TranslationKey(msg.ID, bob.ID))
	assert.False(t, ok, "same-language passthrough must not populate the translation cache")
}

func TestSendMessagePlaceholderNotCached(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "Alice", "en")
	bob := env.seedUser(t, "Bob", "es")
	conv := env.seedConversation(t, alice, bob)
	env.tr.fail.Store(true)

	envelopes := env.subscribeEnvelopes(t)

	msg, err := env.engine.SendMessage(context.Background(), sendReq(conv, alice, "hello"))
	require.NoError(t, err, "translation failure must not block delivery")

	got := recvEnvelope(t, envelopes)
	assert.Equal(t, translate.Placeholder("es"), got.MessageData.Text)

	_, ok := env.cache.Get(context.Background(), cache.TranslationKey(msg.ID, bob.ID))
	assert.False(t, ok, "placeholder must never be cached")
}

func TestSendMessageInvalidatesHistoryCaches(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "Alice", "en")
	bob := env.seedUser(t, "Bob", "es")
	conv := env.seedConversation(t, alice, bob)

	ctx := context.Background()
	for _, uid := range []string{alice.ID, bob.ID} {
		env.cache.SetWithTTL(ctx, cache.HistoryKey(conv.ID, uid), "[]", cache.HistoryTTL)
		env.cache.SetWithTTL(ctx, cache.UserConversationsKey(uid), "[]", cache.HistoryTTL)
	}

	_, err := env.engine.SendMessage(ctx, sendReq(conv, alice, "hello"))
	require.NoError(t, err)

	for _, uid := range []string{alice.ID, bob.ID} {
		assert.False(t, env.mr.Exists(cache.HistoryKey(conv.ID, uid)),
			"history cache for %s should be invalidated", uid)
		assert.False(t, env.mr.Exists(cache.UserConversationsKey(uid)))
	}
}

func TestSendMessageUnknownConversation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "Alice", "en")

	_, err := env.engine.SendMessage(context.Background(), &protocol.SendRequest{
		ConversationID: "nope", SenderID: alice.ID, Text: "x", Language: "en",
	})
	require.Error(t, err)
}

func TestSendMediaMessageDeliversDescriptor(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "Alice", "en")
	bob := env.seedUser(t, "Bob", "es")
	conv := env.seedConversation(t, alice, bob)

	envelopes := env.subscribeEnvelopes(t)

	msg, err := env.engine.SendMediaMessage(context.Background(),
		sendReq(conv, alice, "vacation pic"), store.TypeImage,
		&protocol.MediaPayload{URL: "https://cdn.example/img.jpg", Size: 1024})
	require.NoError(t, err)
	assert.Equal(t, store.TypeImage, msg.MessageType)

	got := recvEnvelope(t, envelopes)
	assert.Equal(t, protocol.EventReceiveMediaMessage, got.MessageData.DeliveryEvent())
	require.NotNil(t, got.MessageData.Media)
	assert.Equal(t, "https://cdn.example/img.jpg", got.MessageData.Media.URL)
	// Captions are relayed verbatim, never machine-translated.
	assert.Equal(t, "vacation pic", got.MessageData.Text)
	assert.EqualValues(t, 0, env.tr.calls.Load())
}

func TestLoadChatHistoryRendersAndCaches(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "Alice", "en")
	bob := env.seedUser(t, "Bob", "es")
	conv := env.seedConversation(t, alice, bob)
	ctx := context.Background()

	for i, text := range []string{"one", "two", "three"} {
		require.NoError(t, env.db.AppendMessage(&store.Message{
			ConversationID: conv.ID,
			SenderID:       alice.ID,
			Ciphertext:     env.encrypt(t, text),
			Language:       "en",
			CreatedAt:      int64(1000 + i),
		}))
	}

	hist, err := env.engine.LoadChatHistory(ctx, conv.ID, bob.ID, false)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 3)
	assert.Equal(t, protocol.EventChatHistory, hist.Event)

	// Order follows the log regardless of translation completion order.
	assert.Equal(t, "es:one", hist.Messages[0].Text)
	assert.Equal(t, "es:two", hist.Messages[1].Text)
	assert.Equal(t, "es:three", hist.Messages[2].Text)
	assert.False(t, hist.Messages[0].IsMine)
	assert.Equal(t, "Alice", hist.Messages[0].SenderName)

	firstCalls := env.tr.calls.Load()
	require.EqualValues(t, 3, firstCalls)

	// Second load is served from the rendered-history cache untouched.
	again, err := env.engine.LoadChatHistory(ctx, conv.ID, bob.ID, false)
	require.NoError(t, err)
	assert.Equal(t, hist.Messages, again.Messages)
	assert.EqualValues(t, firstCalls, env.tr.calls.Load())

	// A forced reload recomputes but hits the translation cache per message.
	reload, err := env.engine.LoadChatHistory(ctx, conv.ID, bob.ID, true)
	require.NoError(t, err)
	assert.Equal(t, hist.Messages, reload.Messages)
	assert.EqualValues(t, firstCalls, env.tr.calls.Load())
}

func TestLoadChatHistoryViewerOwnMessages(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "Alice", "en")
	bob := env.seedUser(t, "Bob", "es")
	conv := env.seedConversation(t, alice, bob)

	require.NoError(t, env.db.AppendMessage(&store.Message{
		ConversationID: conv.ID,
		SenderID:       alice.ID,
		Ciphertext:     env.encrypt(t, "mine"),
		Language:       "en",
	}))

	hist, err := env.engine.LoadChatHistory(context.Background(), conv.ID, alice.ID, false)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 1)
	assert.True(t, hist.Messages[0].IsMine)
	// Same language as the viewer: delivered as written, no translator call.
	assert.Equal(t, "mine", hist.Messages[0].Text)
	assert.EqualValues(t, 0, env.tr.calls.Load())
}

func TestLanguageChangeInvalidatesRenderedHistory(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "Alice", "en")
	bob := env.seedUser(t, "Bob", "es")
	conv := env.seedConversation(t, alice, bob)
	ctx := context.Background()

	require.NoError(t, env.db.AppendMessage(&store.Message{
		ConversationID: conv.ID,
		SenderID:       alice.ID,
		Ciphertext:     env.encrypt(t, "hello"),
		Language:       "en",
	}))

	hist, err := env.engine.LoadChatHistory(ctx, conv.ID, bob.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "es:hello", hist.Messages[0].Text)
	require.True(t, env.mr.Exists(cache.HistoryKey(conv.ID, bob.ID)))

	require.NoError(t, env.engine.UpdatePreferredLanguage(ctx, bob.ID, "fr"))
	assert.False(t, env.mr.Exists(cache.HistoryKey(conv.ID, bob.ID)),
		"rendered history must not survive a language change")

	hist, err = env.engine.LoadChatHistory(ctx, conv.ID, bob.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "fr:hello", hist.Messages[0].Text)
}

func TestDeleteMessage(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "Alice", "en")
	bob := env.seedUser(t, "Bob", "es")
	conv := env.seedConversation(t, alice, bob)
	ctx := context.Background()

	msg, err := env.engine.SendMessage(ctx, sendReq(conv, alice, "oops"))
	require.NoError(t, err)

	require.Error(t, env.engine.DeleteMessage(ctx, msg.ID, bob.ID),
		"only the sender may delete")

	envelopes := env.subscribeEnvelopes(t)
	require.NoError(t, env.engine.DeleteMessage(ctx, msg.ID, alice.ID))

	stored, err := env.db.GetMessage(msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)

	got := recvEnvelope(t, envelopes)
	assert.Equal(t, bob.ID, got.RecipientID)
	assert.Equal(t, protocol.EventMessageDeleted, got.MessageData.DeliveryEvent())
	assert.True(t, got.MessageData.Deleted)

	// The deleted message renders as a tombstone in history.
	hist, err := env.engine.LoadChatHistory(ctx, conv.ID, bob.ID, false)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 1)
	assert.True(t, hist.Messages[0].Deleted)
	assert.Empty(t, hist.Messages[0].Text)
}

func TestListConversations(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "Alice", "en")
	bob := env.seedUser(t, "Bob", "es")
	carol := env.seedUser(t, "Carol", "fr")
	c1 := env.seedConversation(t, alice, bob)
	c2 := env.seedConversation(t, alice, carol)
	ctx := context.Background()

	_, err := env.engine.SendMessage(ctx, sendReq(c1, alice, "first"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = env.engine.SendMessage(ctx, sendReq(c2, alice, "second"))
	require.NoError(t, err)

	convs, err := env.engine.ListConversations(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	// Most recent first, snapshot decrypted for display.
	assert.Equal(t, c2.ID, convs[0].ID)
	assert.Equal(t, "second", convs[0].LastMessage)
	assert.Equal(t, "first", convs[1].LastMessage)

	assert.True(t, env.mr.Exists(cache.UserConversationsKey(alice.ID)))
}
