package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"duelnet/internal/core/domain"
	"duelnet/internal/infrastructure/monitoring"
	apperrors "duelnet/pkg/errors"
	"duelnet/pkg/utils"
)

// DiagnosticsSource returns the latest telemetry snapshot. It must be safe
// to call from any goroutine.
type DiagnosticsSource interface {
	LatestDiagnostics() domain.Diagnostics
}

type DiagnosticsHandler struct {
	source    DiagnosticsSource
	health    *monitoring.HealthChecker
	gatherer  prometheus.Gatherer
	startTime time.Time
}

// NewDiagnosticsHandler wires the read-only endpoints. A nil gatherer
// disables /metrics.
func NewDiagnosticsHandler(
	source DiagnosticsSource,
	health *monitoring.HealthChecker,
	gatherer prometheus.Gatherer,
) *DiagnosticsHandler {
	return &DiagnosticsHandler{
		source:    source,
		health:    health,
		gatherer:  gatherer,
		startTime: time.Now(),
	}
}

func (h *DiagnosticsHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/diagnostics", h.GetDiagnostics)
		api.GET("/diagnostics/peers/:id", h.GetPeer)
	}
}

func (h *DiagnosticsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    monitoring.StatusHealthy,
		"timestamp": time.Now(),
		"uptime":    utils.FormatDuration(utils.Since(h.startTime)),
	})
}

func (h *DiagnosticsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := h.health.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *DiagnosticsHandler) GetDiagnostics(c *gin.Context) {
	d := h.source.LatestDiagnostics()
	if d.Timestamp.IsZero() {
		_ = c.Error(apperrors.NewAppError(apperrors.ErrCodeUnavailable, "no diagnostics collected yet"))
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *DiagnosticsHandler) GetPeer(c *gin.Context) {
	peerID := domain.PeerID(c.Param("id"))
	for _, p := range h.source.LatestDiagnostics().Peers {
		if p.PeerID == peerID {
			c.JSON(http.StatusOK, p)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrConnectionNotFound.Error()})
}
