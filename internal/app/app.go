// Package app assembles a host or guest process from configuration: store,
// transport, metrics, diagnostics server and the session itself.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
	httphandlers "duelnet/internal/handlers/http"
	"duelnet/internal/infrastructure/monitoring"
	"duelnet/internal/infrastructure/repositories"
	webrtcinfra "duelnet/internal/infrastructure/webrtc"
	"duelnet/internal/session"
	"duelnet/pkg/config"
	"duelnet/pkg/tracing"
)

const (
	startTimeout      = 10 * time.Second
	storeCheckTimeout = 2 * time.Second
	loopCheckTimeout  = time.Second
)

// Run starts a session for role and blocks until ctx is cancelled, the
// session ends or the diagnostics server fails. It always shuts down
// gracefully before returning.
func Run(ctx context.Context, cfg *config.Config, role domain.Role, client session.GameClient, logger *zap.SugaredLogger) error {
	if role == domain.RoleGuest {
		cfg = cfg.ForGuest()
	}

	store, backend, err := repositories.NewDocumentStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open signaling store: %w", err)
	}

	tp, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.Warnw("tracing disabled", "error", err)
		tp = &tracing.TracerProvider{}
	}

	transportCfg := webrtcinfra.TransportConfig{ICEServers: webrtcinfra.ICEServers(cfg.WebRTC.ICEServers)}
	transportCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	transportCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	factory, err := webrtcinfra.NewPionFactory(transportCfg)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create transport: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := monitoring.NewPrometheusCollector(reg)

	var hub *httphandlers.OverlayHub
	var sinks []ports.DiagnosticsSink
	if cfg.Monitoring.DiagnosticsEnabled {
		hub = httphandlers.NewOverlayHub(logger)
		sinks = append(sinks, hub)
	}

	sess, err := session.New(session.Options{
		Config:  cfg,
		Role:    role,
		Store:   store,
		Factory: factory,
		Client:  client,
		Metrics: collector,
		Sinks:   sinks,
	}, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	logger = logger.With("role", role, "room_id", cfg.Room.ID, "peer_id", sess.LocalID())

	health := monitoring.NewHealthChecker()
	health.AddStoreCheck(store, storeCheckTimeout)
	health.AddLoopCheck(sess.Loop(), loopCheckTimeout)
	health.AddCheck("signaling", sess.SignalingCheck, loopCheckTimeout)

	var srv *httphandlers.Server
	var serverErr <-chan error
	if cfg.Monitoring.PrometheusEnabled || cfg.Monitoring.DiagnosticsEnabled {
		var gatherer prometheus.Gatherer
		if cfg.Monitoring.PrometheusEnabled {
			gatherer = reg
		}
		handler := httphandlers.NewDiagnosticsHandler(sess, health, gatherer)
		srv = httphandlers.NewServer(cfg, handler, hub, logger)
		serverErr = srv.Start()
	}

	logger.Infow("starting session", "store_backend", backend)
	startCtx, cancelStart := context.WithTimeout(ctx, startTimeout)
	runErr := sess.Start(startCtx)
	cancelStart()

	if runErr == nil {
		select {
		case <-ctx.Done():
			logger.Info("shutdown requested")
		case <-sess.Done():
			logger.Infow("session ended", "reason", sess.Reason())
			if role == domain.RoleGuest {
				runErr = fmt.Errorf("disconnected from host: %s", sess.Reason())
			}
		case err, ok := <-serverErr:
			if ok && err != nil {
				runErr = fmt.Errorf("diagnostics server: %w", err)
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Monitoring.ShutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := sess.Shutdown(shutdownCtx); err != nil && !errors.Is(err, session.ErrNotStarted) {
		errs = append(errs, fmt.Errorf("session shutdown: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if hub != nil {
		hub.Close()
	}
	if err := store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("tracer shutdown failed", "error", err)
	}
	return errors.Join(errs...)
}
