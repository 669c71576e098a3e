// Package ws terminates client websockets: upgrade, read/write pumps,
// and dispatch of the JSON event protocol into the delivery engine.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"linguachat/go-backend/internal/bus"
	"linguachat/go-backend/internal/config"
	"linguachat/go-backend/internal/delivery"
	"linguachat/go-backend/internal/hub"
	"linguachat/go-backend/internal/protocol"
)

// opTimeout bounds server-side work spawned by a client event. Handlers run
// detached from the connection: a disconnect mid-operation must not abort a
// send that is already persisting.
const opTimeout = 30 * time.Second

// Server handles websocket connections.
type Server struct {
	cfg      config.WSConfig
	hub      *hub.Hub
	engine   *delivery.Engine
	bus      *bus.Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a websocket server.
func NewServer(cfg config.WSConfig, h *hub.Hub, e *delivery.Engine, b *bus.Bus, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		hub:    h,
		engine: e,
		bus:    b,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checks belong to the fronting proxy.
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the request and starts the connection pumps.
func (s *Server) HandleWebSocket(c echo.Context) error {
	socket, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return err
	}

	conn := s.hub.NewConn(socket)
	socket.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump reads client events until the socket dies, then tears the
// connection down.
func (s *Server) readPump(conn *hub.Conn) {
	defer func() {
		userID := conn.UserID
		s.hub.Unregister(conn)
		_ = conn.Close()
		if userID == "" {
			return
		}
		// A replaced connection closing must not mark the user offline.
		if _, stillConnected := s.hub.Lookup(userID); !stillConnected {
			s.bus.Publish(bus.Event{Kind: bus.KindConnClosed, Payload: bus.ConnEvent{UserID: userID}})
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout()))
	conn.Socket.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout()))
	})

	for {
		_, data, err := conn.Socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}
		s.handleMessage(conn, data)
	}
}

// writePump drains the connection's send queue and keeps the socket alive
// with pings.
func (s *Server) writePump(conn *hub.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval())
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-conn.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout()))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout()))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound event.
func (s *Server) handleMessage(conn *hub.Conn, data []byte) {
	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, "invalid JSON message")
		return
	}

	switch base.Event {
	case protocol.EventRegister:
		s.handleRegister(conn, data)
	case protocol.EventSendMessage:
		s.handleSend(conn, data)
	case protocol.EventLoadChatHistory:
		s.handleHistory(conn, data, false)
	case protocol.EventReloadChatHistory:
		s.handleHistory(conn, data, true)
	case protocol.EventDeleteMessage:
		s.handleDelete(conn, data)
	case protocol.EventTyping:
		s.handleTyping(conn, data)
	case protocol.EventJoinConversation:
		s.handleRoom(conn, data, true)
	case protocol.EventLeaveConversation:
		s.handleRoom(conn, data, false)
	default:
		s.sendError(conn, "unknown event: "+base.Event)
	}
}

func (s *Server) handleRegister(conn *hub.Conn, data []byte) {
	var msg protocol.RegisterMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.UserID == "" {
		s.sendError(conn, "invalid register message")
		return
	}

	if prev := s.hub.Register(msg.UserID, conn); prev != nil {
		_ = prev.Close()
	}
	s.bus.Publish(bus.Event{Kind: bus.KindConnRegistered, Payload: bus.ConnEvent{UserID: msg.UserID}})

	s.hub.SendToConn(conn, protocol.RegisteredMessage{
		BaseMessage: protocol.BaseMessage{Event: protocol.EventRegistered, Ts: time.Now().UnixMilli()},
		UserID:      msg.UserID,
	})
	s.logger.Info("connection registered",
		zap.String("conn_id", conn.ID), zap.String("user_id", msg.UserID))
}

func (s *Server) handleSend(conn *hub.Conn, data []byte) {
	var msg protocol.SendRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "invalid sendMessage message")
		return
	}
	if conn.UserID == "" {
		s.sendError(conn, "must register first")
		return
	}
	if msg.SenderID == "" {
		msg.SenderID = conn.UserID
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if _, err := s.engine.SendMessage(ctx, &msg); err != nil {
			s.logger.Warn("send failed", zap.String("user_id", conn.UserID), zap.Error(err))
			s.sendError(conn, "failed to send message")
		}
	}()
}

func (s *Server) handleHistory(conn *hub.Conn, data []byte, reload bool) {
	var msg protocol.HistoryRequest
	if err := json.Unmarshal(data, &msg); err != nil || msg.ConversationID == "" {
		s.sendError(conn, "invalid history request")
		return
	}
	userID := msg.UserID
	if userID == "" {
		userID = conn.UserID
	}
	if userID == "" {
		s.sendError(conn, "must register first")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		hist, err := s.engine.LoadChatHistory(ctx, msg.ConversationID, userID, reload)
		if err != nil {
			s.logger.Warn("history load failed",
				zap.String("conversation_id", msg.ConversationID), zap.Error(err))
			s.sendError(conn, "failed to load chat history")
			return
		}
		s.hub.SendToConn(conn, hist)
	}()
}

func (s *Server) handleDelete(conn *hub.Conn, data []byte) {
	var msg protocol.DeleteRequest
	if err := json.Unmarshal(data, &msg); err != nil || msg.MessageID == "" {
		s.sendError(conn, "invalid deleteMessage message")
		return
	}
	userID := msg.UserID
	if userID == "" {
		userID = conn.UserID
	}
	if userID == "" {
		s.sendError(conn, "must register first")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := s.engine.DeleteMessage(ctx, msg.MessageID, userID); err != nil {
			s.logger.Warn("delete failed", zap.String("message_id", msg.MessageID), zap.Error(err))
			s.sendError(conn, "failed to delete message")
		}
	}()
}

// handleTyping relays a typing indicator to everyone else in the room.
// Nothing is persisted or translated.
func (s *Server) handleTyping(conn *hub.Conn, data []byte) {
	var msg protocol.TypingMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.ConversationID == "" {
		return
	}
	if msg.UserID == "" {
		msg.UserID = conn.UserID
	}
	msg.Event = protocol.EventUserTyping
	s.hub.BroadcastRoom(msg.ConversationID, msg.UserID, msg)
}

func (s *Server) handleRoom(conn *hub.Conn, data []byte, join bool) {
	var msg protocol.RoomMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.ConversationID == "" {
		s.sendError(conn, "invalid room message")
		return
	}
	if join {
		conn.JoinRoom(msg.ConversationID)
	} else {
		conn.LeaveRoom(msg.ConversationID)
	}
}

func (s *Server) sendError(conn *hub.Conn, message string) {
	s.hub.SendToConn(conn, protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{Event: protocol.EventError, Ts: time.Now().UnixMilli()},
		Message:     message,
	})
}
