package monitoring

import (
	"context"
	"errors"
	"time"

	"duelnet/internal/core/ports"
	"duelnet/pkg/eventloop"
)

var ErrLoopStalled = errors.New("event loop not responding")

// AddStoreCheck probes the signaling document store.
func (h *HealthChecker) AddStoreCheck(store ports.DocumentStore, timeout time.Duration) {
	h.AddCheck("store", store.HealthCheck, timeout)
}

// AddLoopCheck verifies the session event loop still runs tasks within the
// timeout.
func (h *HealthChecker) AddLoopCheck(loop *eventloop.Loop, timeout time.Duration) {
	h.AddCheck("event_loop", func(ctx context.Context) error {
		err := loop.Call(ctx, func() {})
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLoopStalled
		}
		return err
	}, timeout)
}
