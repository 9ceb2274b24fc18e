package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"duelnet/internal/core/domain"
	"duelnet/internal/infrastructure/repositories/memory"
	"duelnet/pkg/eventloop"
)

func TestPrometheusCollector_ConnectionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.NegotiationStarted(domain.RoleHost)
	c.NegotiationStarted(domain.RoleHost)
	c.NegotiationCompleted(domain.RoleHost, 120*time.Millisecond)
	c.ConnectionClosed(domain.RoleHost, "negotiation_timeout", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.negotiationsStarted.WithLabelValues("host")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsOpen.WithLabelValues("host")))

	c.ConnectionClosed(domain.RoleHost, "peer_left", true)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.connectionsOpen.WithLabelValues("host")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsClosed.WithLabelValues("host", "peer_left")))

	c.InputDropped("g1")
	assert.Equal(t, 1, testutil.CollectAndCount(c.inputsDropped))
	c.ForgetPeer("g1")
	assert.Equal(t, 0, testutil.CollectAndCount(c.inputsDropped))
}

func TestPrometheusCollector_DataPath(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.MessagesSent("state", 3)
	c.MessageReceived("input")
	c.SendFailed("state", 1)
	c.DecodeFailed("input")
	c.StaleInputs(2)
	c.TickCompleted(200 * time.Microsecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.messagesSent.WithLabelValues("state")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sendFailures.WithLabelValues("state")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.staleInputs))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(context.Context) error { return nil }, time.Second)
	h.AddCheck("broken", func(context.Context) error { return errors.New("down") }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Checks["ok"])
	assert.Equal(t, "down", status.Checks["broken"])
	assert.Equal(t, []string{"broken", "ok"}, h.Names())
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_StoreAndLoop(t *testing.T) {
	store := memory.NewMemoryDocumentStore()
	loop := eventloop.New(8, zap.NewNop().Sugar())

	h := NewHealthChecker()
	h.AddStoreCheck(store, time.Second)
	h.AddLoopCheck(loop, 50*time.Millisecond)

	// loop not running yet
	status := h.CheckAll(context.Background())
	assert.Equal(t, ErrLoopStalled.Error(), status.Checks["event_loop"])
	assert.Equal(t, StatusHealthy, status.Checks["store"])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()
	assert.Eventually(t, func() bool { return h.IsReady(context.Background()) }, time.Second, 10*time.Millisecond)

	require.NoError(t, store.Close())
	assert.False(t, h.IsReady(context.Background()))
}
