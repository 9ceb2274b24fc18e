package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStore = errors.New("store unavailable")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *clock) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	cb := New(cfg)
	cb.now = clk.now
	cb.stateChangeTime = clk.now()
	return cb, clk
}

func fail() error { return errStore }
func ok() error   { return nil }

func trip(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.ErrorIs(t, cb.Execute(context.Background(), fail), errStore)
	}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 3})

	require.NoError(t, cb.Execute(context.Background(), ok))
	err := cb.Execute(context.Background(), fail)
	assert.ErrorIs(t, err, errStore)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 1, cb.GetStats().FailureCount)

	// a success resets the consecutive failure count
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, 0, cb.GetStats().FailureCount)
}

func TestCircuitBreaker_OpensAndRejects(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 3, Timeout: time.Second})
	trip(t, cb, 3)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb, clk := newTestBreaker(Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 1,
	})
	trip(t, cb, 2)

	clk.advance(500 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrOpen)

	clk.advance(600 * time.Millisecond)
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(Config{FailureThreshold: 1, Timeout: time.Second})
	trip(t, cb, 1)
	clk.advance(time.Second)

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errStore)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrOpen)
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	cb, clk := newTestBreaker(Config{
		FailureThreshold:    1,
		SuccessThreshold:    5,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 1,
	})
	trip(t, cb, 1)
	clk.advance(time.Second)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func() error {
			close(inFlight)
			<-release
			return nil
		})
	}()
	<-inFlight

	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrOpen)
	close(release)
	require.NoError(t, <-done)
}

func TestCircuitBreaker_CancellationIsNotFailure(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1})

	err := cb.Execute(context.Background(), func() error { return context.DeadlineExceeded })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateClosed, cb.GetState())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err = cb.Execute(ctx, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestCircuitBreaker_Do(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1})

	id, err := Do(context.Background(), cb, func() (string, error) { return "doc-1", nil })
	require.NoError(t, err)
	assert.Equal(t, "doc-1", id)

	id, err = Do(context.Background(), cb, func() (string, error) { return "ignored", errStore })
	assert.ErrorIs(t, err, errStore)
	assert.Empty(t, id)

	_, err = Do(context.Background(), cb, func() (string, error) { return "x", nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	cb, clk := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})

	var changes []string
	cb.OnStateChange(func(from, to State) {
		// the breaker must not hold its lock here
		_ = cb.GetState()
		changes = append(changes, from.String()+"->"+to.String())
	})

	trip(t, cb, 1)
	clk.advance(time.Second)
	require.NoError(t, cb.Execute(context.Background(), ok))

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, changes)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1})
	trip(t, cb, 1)
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	stats := cb.GetStats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Zero(t, stats.FailureCount)
	assert.False(t, stats.LastFailureTime.IsZero())
	require.NoError(t, cb.Execute(context.Background(), ok))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
