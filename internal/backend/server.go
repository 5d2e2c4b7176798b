// Package backend is a reference implementation of the Persistence Service,
// the change-notification stream and the signal transport, backed by
// SQLite. It serves local development and transport tests.
package backend

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

const (
	DefaultHeartbeat = 5 * time.Second
	defaultPageSize  = 50
	maxPageSize      = 200
	writeTimeout     = 10 * time.Second
	participantKey   = "participant"
	memberKey        = "member"
)

// Options configures a Server.
type Options struct {
	Heartbeat       time.Duration
	MessagePageSize int
}

// Server is the reference backend.
type Server struct {
	db        *store.DB
	hub       *Hub
	echo      *echo.Echo
	logger    *zap.Logger
	heartbeat time.Duration
	pageSize  int

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a backend server over an already migrated database.
func New(db *store.DB, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.MessagePageSize <= 0 {
		opts.MessagePageSize = defaultPageSize
	}
	s := &Server{
		db:        db,
		hub:       NewHub(bus.New()),
		logger:    logger,
		heartbeat: opts.Heartbeat,
		pageSize:  min(opts.MessagePageSize, maxPageSize),
		closing:   make(chan struct{}),
	}
	s.echo = s.routes()
	return s
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.logger.Debug("request", fields...)
			return nil
		},
	}))

	v1 := e.Group("/v1", s.identify)
	v1.GET("/conversations", s.listConversations)
	v1.POST("/conversations", s.createConversation)
	v1.DELETE("/conversations/:id", s.deleteConversation, s.requireMember)
	v1.GET("/conversations/:id/messages", s.listMessages, s.requireMember)
	v1.POST("/conversations/:id/messages", s.sendMessage, s.requireMember)
	v1.POST("/conversations/:id/read", s.markRead, s.requireMember)
	v1.POST("/signals/conversations/:id/typing", s.broadcastTyping, s.requireMember)
	v1.GET("/stream/conversations/:id", s.streamMessages, s.requireMember)
	v1.GET("/signals/conversations/:id", s.streamTyping, s.requireMember)
	v1.GET("/presence", s.streamPresence)
	return e
}

// Handler exposes the HTTP handler, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Hub exposes the fan-out hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start serves on addr and runs the presence heartbeat until Shutdown.
func (s *Server) Start(addr string) error {
	s.RunHeartbeat()
	s.logger.Info("backend listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunHeartbeat starts the presence heartbeat loop.
func (s *Server) RunHeartbeat() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.hub.Heartbeat()
			case <-s.closing:
				return
			}
		}
	}()
}

// Shutdown closes websocket subscriptions and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()
	return s.echo.Shutdown(ctx)
}

// Close ends the heartbeat and every open websocket subscription without
// touching the HTTP listener.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
	s.wg.Wait()
}

// identify resolves the caller from the identity headers and registers it.
func (s *Server) identify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(wire.HeaderParticipant)
		if id == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing "+wire.HeaderParticipant)
		}
		p := &store.Participant{ID: id, DisplayName: c.Request().Header.Get(wire.HeaderDisplayName)}
		if err := s.db.UpsertParticipant(p); err != nil {
			return err
		}
		c.Set(participantKey, id)
		return next(c)
	}
}

// requireMember rejects callers that are not members of :id.
func (s *Server) requireMember(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, err := s.db.GetMember(c.Param("id"), participant(c))
		if err != nil {
			return err
		}
		if m == nil {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		c.Set(memberKey, m)
		return next(c)
	}
}

func participant(c echo.Context) string {
	id, _ := c.Get(participantKey).(string)
	return id
}

func member(c echo.Context) *store.Member {
	m, _ := c.Get(memberKey).(*store.Member)
	return m
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	resp := wire.ErrorResponse{Code: "internal", Message: "internal error"}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		resp.Code = codeFor(status)
		if msg, ok := he.Message.(string); ok {
			resp.Message = msg
		} else {
			resp.Message = http.StatusText(status)
		}
	} else {
		s.logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, resp)
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_argument"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		if status >= 500 {
			return "internal"
		}
		return "error"
	}
}
