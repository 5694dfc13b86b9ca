package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/api/middleware"
	"github.com/theaaf/blackmagic-c2/internal/hub"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/config"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/logging"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/monitoring"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/tracing"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	hub     *hub.Hub
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) *Server {
	logger.Info("Initializing hub",
		zap.String("addr", cfg.Server.Addr()),
		zap.Duration("ping_interval", cfg.Hub.PingInterval),
		zap.Duration("idle_timeout", cfg.Hub.IdleTimeout),
		zap.Duration("command_timeout", cfg.Hub.CommandTimeout),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("hub", logger.Component("tracing"))
	h := hub.New(cfg.Hub, metrics, logger.Component("hub"))
	handlers := hub.NewHandlers(h, tracer, metrics, logger.Component("api"))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// WebSockets
	router.GET("/agent", handlers.AgentSocket)
	router.GET("/shell", handlers.ShellSocket)

	api := router.Group("/api")
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		api.Use(middleware.RateLimit(rl))
	}
	api.GET("/agents", handlers.ListAgents)
	api.GET("/agents/:id", handlers.GetAgent)
	api.POST("/hyperdeck/command", handlers.HyperDeckCommand)

	logger.Info("Hub initialized successfully")

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		hub:     h,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Hub() *hub.Hub { return s.hub }

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, drops every websocket and flushes
// pending spans.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	err := s.http.Shutdown(ctx)
	s.hub.Close()
	s.tracer.Close()
	s.logger.Sync()

	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
