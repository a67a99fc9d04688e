package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/termcore/internal/api/http"
	"github.com/GriffinCanCode/termcore/internal/api/middleware"
	"github.com/GriffinCanCode/termcore/internal/api/ws"
	"github.com/GriffinCanCode/termcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/termcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termcore/internal/providers/terminal"
)

// shutdownGrace bounds how long in-flight requests may finish on shutdown.
const shutdownGrace = 5 * time.Second

// Server wraps the HTTP router and its dependencies
type Server struct {
	router  *gin.Engine
	manager *terminal.Manager
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance around a running manager
func NewServer(cfg *config.Config, manager *terminal.Manager, logger *logging.Logger, metrics *monitoring.Metrics, version string) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger.Logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(manager, metrics, logger.Logger, version)
	wsHandler := ws.NewHandler(manager, metrics, logger.Logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Sessions
	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.DELETE("/sessions/:id", handlers.DeleteSession)

	// Input and job control
	sess := router.Group("/sessions/:id")
	sess.POST("/lines", handlers.SubmitLine)
	sess.POST("/input", handlers.Input)
	sess.POST("/resize", handlers.Resize)
	sess.POST("/interrupt", handlers.Interrupt)
	sess.POST("/detach", handlers.Detach)
	sess.POST("/kill", handlers.Kill)
	sess.GET("/jobs", handlers.Jobs)
	sess.GET("/output", handlers.Output)
	sess.GET("/stream", wsHandler.HandleConnection)

	logger.Info("Server initialized")

	return &Server{
		router:  router,
		manager: manager,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Forced server shutdown", zap.Error(err))
		return srv.Close()
	}
	return nil
}
