// Package presence keeps durable online/last-seen state in step with the
// live connection registry by consuming connection lifecycle events.
package presence

import (
	"context"

	"go.uber.org/zap"

	"linguachat/go-backend/internal/bus"
	"linguachat/go-backend/internal/store"
)

// Engine consumes "conn." events and writes presence to the store.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a presence engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{db: db, bus: b, logger: logger}
}

// Start subscribes to connection lifecycle events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("conn.", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	payload, ok := evt.Payload.(bus.ConnEvent)
	if !ok || payload.UserID == "" {
		return
	}
	online := evt.Kind == bus.KindConnRegistered
	if err := e.db.SetOnline(payload.UserID, online); err != nil {
		e.logger.Warn("presence update failed",
			zap.String("user_id", payload.UserID),
			zap.Bool("online", online), zap.Error(err))
		return
	}
	e.logger.Debug("presence updated",
		zap.String("user_id", payload.UserID), zap.Bool("online", online))
}
