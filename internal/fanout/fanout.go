// Package fanout consumes delivery envelopes from the shared message
// channel and forwards each to its recipient's local connection. Every
// daemon instance runs one consumer; envelopes for users connected
// elsewhere are dropped locally and handled by the instance that holds
// the connection.
package fanout

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"linguachat/go-backend/internal/cache"
	"linguachat/go-backend/internal/hub"
	"linguachat/go-backend/internal/protocol"
)

// Engine is the pub/sub consumer loop.
type Engine struct {
	cache  *cache.Cache
	hub    *hub.Hub
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a fanout engine.
func NewEngine(c *cache.Cache, h *hub.Hub, logger *zap.Logger) *Engine {
	return &Engine{cache: c, hub: h, logger: logger}
}

// Start subscribes to the message channel and consumes envelopes until Stop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, stop := e.cache.Subscribe(ctx, cache.MessageChannel)

	go func() {
		defer close(e.done)
		defer stop()
		for {
			select {
			case data, ok := <-ch:
				if !ok {
					return
				}
				e.handle(data)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the consumer loop and waits for it to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handle(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		e.logger.Warn("discarding malformed envelope", zap.Error(err))
		return
	}
	if env.RecipientID == "" {
		return
	}
	if _, ok := e.hub.Lookup(env.RecipientID); !ok {
		// Recipient is offline here; another instance may hold them.
		return
	}

	msg := protocol.DeliveryMessage{
		BaseMessage:    protocol.BaseMessage{Event: env.MessageData.DeliveryEvent()},
		MessagePayload: env.MessageData,
	}
	if !e.hub.SendJSON(env.RecipientID, msg) {
		e.logger.Warn("local delivery failed",
			zap.String("recipient_id", env.RecipientID),
			zap.String("message_id", env.MessageData.MessageID))
	}
}
