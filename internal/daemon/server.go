package daemon

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"linguachat/go-backend/internal/cache"
	"linguachat/go-backend/internal/config"
	"linguachat/go-backend/internal/delivery"
	"linguachat/go-backend/internal/hub"
	"linguachat/go-backend/internal/store"
	"linguachat/go-backend/internal/ws"
)

// Server hosts the daemon's HTTP surface: the websocket endpoint, a health
// probe, and the small REST surface clients use outside the socket.
type Server struct {
	echo   *echo.Echo
	addr   string
	db     *store.DB
	engine *delivery.Engine
	cache  *cache.Cache
	hub    *hub.Hub
	logger *zap.Logger
}

// NewServer builds the HTTP server and wires its routes.
func NewServer(cfg *config.Config, wsrv *ws.Server, db *store.DB, engine *delivery.Engine, c *cache.Cache, h *hub.Hub, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		addr:   cfg.HTTPAddr,
		db:     db,
		engine: engine,
		cache:  c,
		hub:    h,
		logger: logger,
	}

	e.GET("/ws", wsrv.HandleWebSocket)
	e.GET("/healthz", s.handleHealth)
	e.POST("/users", s.handleCreateUser)
	e.GET("/users/:id", s.handleGetUser)
	e.PUT("/users/:id/language", s.handleUpdateLanguage)
	e.POST("/conversations", s.handleCreateConversation)
	e.GET("/users/:id/conversations", s.handleListConversations)
	return s
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.addr))
	err := s.echo.Start(s.addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	status := map[string]any{
		"status":      "ok",
		"connections": s.hub.UserCount(),
	}
	if err := s.cache.Ping(c.Request().Context()); err != nil {
		status["status"] = "degraded"
		status["redis"] = err.Error()
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

type createUserRequest struct {
	DisplayName       string `json:"displayName"`
	PreferredLanguage string `json:"preferredLanguage"`
}

func (s *Server) handleCreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	u := &store.User{DisplayName: req.DisplayName, PreferredLanguage: req.PreferredLanguage}
	if err := s.db.CreateUser(u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"id":                u.ID,
		"displayName":       u.DisplayName,
		"preferredLanguage": u.PreferredLanguage,
	})
}

func (s *Server) handleGetUser(c echo.Context) error {
	u, err := s.db.GetUser(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if u == nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":                u.ID,
		"displayName":       u.DisplayName,
		"preferredLanguage": u.PreferredLanguage,
		"online":            u.Online,
		"lastSeenAt":        u.LastSeenAt,
	})
}

type updateLanguageRequest struct {
	Language string `json:"language"`
}

func (s *Server) handleUpdateLanguage(c echo.Context) error {
	var req updateLanguageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := s.engine.UpdatePreferredLanguage(c.Request().Context(), c.Param("id"), req.Language); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type createConversationRequest struct {
	ParticipantIDs []string `json:"participantIds"`
}

func (s *Server) handleCreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	conv, err := s.db.CreateConversation(req.ParticipantIDs)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"id":             conv.ID,
		"participantIds": conv.ParticipantIDs,
	})
}

func (s *Server) handleListConversations(c echo.Context) error {
	convs, err := s.engine.ListConversations(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]map[string]any, 0, len(convs))
	for _, conv := range convs {
		out = append(out, map[string]any{
			"id":            conv.ID,
			"lastMessage":   conv.LastMessage,
			"lastMessageAt": conv.LastMessageAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}
