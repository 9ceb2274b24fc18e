package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"duelnet/internal/infrastructure/middleware"
	"duelnet/pkg/config"
)

// Server is the diagnostics HTTP endpoint of a host or guest process.
type Server struct {
	srv    *http.Server
	logger *zap.SugaredLogger
}

// NewRouter builds the gin engine with the shared middleware chain.
func NewRouter(cfg *config.Config, logger *zap.SugaredLogger) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.ErrorHandlerMiddleware(logger),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware(cfg.Room.ID))
	}
	return router
}

// NewServer registers the diagnostics routes and, when hub is set, the
// overlay websocket at /ws/diagnostics.
func NewServer(cfg *config.Config, handler *DiagnosticsHandler, hub *OverlayHub, logger *zap.SugaredLogger) *Server {
	router := NewRouter(cfg, logger)
	handler.SetupRoutes(router)
	if hub != nil {
		router.GET("/ws/diagnostics", hub.HandleWS)
	}

	return &Server{
		srv: &http.Server{
			Addr:              cfg.Monitoring.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves in the background. Listen errors are reported on the
// returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("diagnostics server listening", "address", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops the server gracefully and force-closes it when ctx ends
// first.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Errorw("error during server shutdown", "error", err)
		return s.srv.Close()
	}
	return nil
}
