package reliability

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
	"duelnet/pkg/circuitbreaker"
	"duelnet/pkg/retry"
)

// Config controls retries and the breaker around signaling writes.
type Config struct {
	Retry   retry.Config
	Breaker circuitbreaker.Config
}

func DefaultConfig() Config {
	r := retry.DefaultConfig()
	r.MaxAttempts = 2
	r.InitialDelay = 200 * time.Millisecond
	r.MaxDelay = 2 * time.Second
	return Config{Retry: r, Breaker: circuitbreaker.DefaultConfig()}
}

// SignalingWrapper wraps a SignalingChannel with retry logic and a circuit
// breaker on every write. Subscriptions pass straight through.
type SignalingWrapper struct {
	inner   ports.SignalingChannel
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

var _ ports.SignalingChannel = (*SignalingWrapper)(nil)

func NewSignalingWrapper(inner ports.SignalingChannel, cfg Config, logger *zap.SugaredLogger) *SignalingWrapper {
	w := &SignalingWrapper{
		inner:   inner,
		retry:   cfg.Retry,
		breaker: circuitbreaker.New(cfg.Breaker),
		logger:  logger,
	}
	w.retry.Retryable = retryable
	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("signaling circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

// retryable skips errors another attempt cannot fix.
func retryable(err error) bool {
	return !errors.Is(err, circuitbreaker.ErrOpen) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (w *SignalingWrapper) write(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, w.retry, func() error {
		return w.breaker.Execute(ctx, func() error { return fn(ctx) })
	})
}

func (w *SignalingWrapper) LocalID() domain.PeerID { return w.inner.LocalID() }

func (w *SignalingWrapper) PublishOffer(ctx context.Context, peerID domain.PeerID, offer domain.SessionDescription) error {
	return w.write(ctx, func(ctx context.Context) error {
		return w.inner.PublishOffer(ctx, peerID, offer)
	})
}

func (w *SignalingWrapper) PublishAnswer(ctx context.Context, peerID domain.PeerID, answer domain.SessionDescription) error {
	return w.write(ctx, func(ctx context.Context) error {
		return w.inner.PublishAnswer(ctx, peerID, answer)
	})
}

// PublishCandidate is not retried: a failed add may still have been stored,
// and a duplicate candidate document would be applied twice.
func (w *SignalingWrapper) PublishCandidate(ctx context.Context, peerID domain.PeerID, candidate domain.ICECandidate, fromID domain.PeerID) error {
	return w.breaker.Execute(ctx, func() error {
		return w.inner.PublishCandidate(ctx, peerID, candidate, fromID)
	})
}

func (w *SignalingWrapper) SubscribeToSession(ctx context.Context, peerID domain.PeerID, onUpdate func(domain.SessionDocument)) (ports.Unsubscribe, error) {
	return w.inner.SubscribeToSession(ctx, peerID, onUpdate)
}

func (w *SignalingWrapper) SubscribeToCandidates(ctx context.Context, peerID domain.PeerID, onAdded func(domain.CandidateDocument)) (ports.Unsubscribe, error) {
	return w.inner.SubscribeToCandidates(ctx, peerID, onAdded)
}

func (w *SignalingWrapper) JoinRoom(ctx context.Context, member domain.MemberDocument) error {
	return w.write(ctx, func(ctx context.Context) error {
		return w.inner.JoinRoom(ctx, member)
	})
}

// LeaveRoom bypasses the breaker so a shutdown always attempts to remove
// the presence document.
func (w *SignalingWrapper) LeaveRoom(ctx context.Context, peerID domain.PeerID) error {
	return retry.Do(ctx, w.retry, func() error {
		return w.inner.LeaveRoom(ctx, peerID)
	})
}

func (w *SignalingWrapper) SubscribeToMembers(ctx context.Context, onJoin func(domain.MemberDocument), onLeave func(domain.PeerID)) (ports.Unsubscribe, error) {
	return w.inner.SubscribeToMembers(ctx, onJoin, onLeave)
}

// Check fails while the breaker is open. It backs the readiness probe.
func (w *SignalingWrapper) Check(context.Context) error {
	if w.breaker.GetState() == circuitbreaker.StateOpen {
		return circuitbreaker.ErrOpen
	}
	return nil
}

func (w *SignalingWrapper) BreakerStats() circuitbreaker.Stats {
	return w.breaker.GetStats()
}
