package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaydesk/config"
	"relaydesk/internal/handler"
	"relaydesk/internal/middleware"
	"relaydesk/internal/services"
	"relaydesk/internal/transport/httpdto"
	"relaydesk/internal/websocket"
	"relaydesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Webhook      *handler.WebhookHandler
	Message      *handler.MessageHandler
	Conversation *handler.ConversationHandler
	Media        *handler.MediaHandler
	Realtime     *websocket.Handler
}

// Limiters are optional; nil fields disable the corresponding check.
type Limiters struct {
	Send    middleware.SendLimiter
	Webhook middleware.WebhookLimiter
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// RegisterOnShutdown runs f when graceful shutdown begins. Hijacked
// realtime connections are not tracked by net/http and must be closed here.
func (s *Server) RegisterOnShutdown(f func()) {
	s.httpServer.RegisterOnShutdown(f)
}

func (s *Server) SetupRoutes(handlers *Handlers, verifier middleware.TokenVerifier, limiters Limiters, checks ...HealthCheck) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.CORSOrigins))
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		for _, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	s.engine.GET(s.config.RealtimePath, handlers.Realtime.Connect)

	webhooks := s.engine.Group("/v1/webhooks", middleware.WebhookRateLimitMiddleware(limiters.Webhook, s.logger))
	{
		webhooks.GET("/whatsapp", handlers.Webhook.Verify)
		webhooks.POST("/whatsapp", handlers.Webhook.Receive)
	}

	authed := s.engine.Group("/v1", middleware.AuthMiddleware(verifier))
	{
		authed.POST("/messages/send", middleware.SendRateLimitMiddleware(limiters.Send, s.logger), handlers.Message.Send)
		authed.POST("/media/presign", handlers.Media.Presign)

		authed.GET("/conversations", handlers.Conversation.List)
		authed.GET("/conversations/:id", handlers.Conversation.Get)
		authed.PATCH("/conversations/:id", handlers.Conversation.Update)
		authed.DELETE("/conversations/:id",
			middleware.RequireRoles(services.RoleAdmin, services.RoleMasterAdmin),
			handlers.Conversation.Close)
	}
}

func (s *Server) Start() error {
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Errorf("Error in starting the server: %s", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	if s.logger != nil {
		s.logger.Infof("Server is running on :%s", s.config.AppPort)
	}

	<-quit

	if s.logger != nil {
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		if s.logger != nil {
			s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		}
		return err
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}

	return nil
}
