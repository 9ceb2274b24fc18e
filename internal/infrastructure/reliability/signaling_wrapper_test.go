package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
	"duelnet/pkg/circuitbreaker"
	"duelnet/pkg/retry"
)

var errStore = errors.New("store down")

type mockSignaling struct {
	mock.Mock
	ports.SignalingChannel
}

func (m *mockSignaling) PublishOffer(ctx context.Context, peerID domain.PeerID, offer domain.SessionDescription) error {
	return m.Called(peerID, offer.SDP).Error(0)
}

func (m *mockSignaling) PublishCandidate(ctx context.Context, peerID domain.PeerID, c domain.ICECandidate, from domain.PeerID) error {
	return m.Called(peerID, c.Candidate, from).Error(0)
}

func (m *mockSignaling) JoinRoom(ctx context.Context, member domain.MemberDocument) error {
	return m.Called(member.PeerID).Error(0)
}

func (m *mockSignaling) LeaveRoom(ctx context.Context, peerID domain.PeerID) error {
	return m.Called(peerID).Error(0)
}

func (m *mockSignaling) LocalID() domain.PeerID { return "host" }

func testConfig(threshold int) Config {
	return Config{
		Retry: retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1},
		Breaker: circuitbreaker.Config{
			FailureThreshold: threshold,
			Timeout:          time.Hour,
		},
	}
}

func TestSignalingWrapper_RetriesTransientFailure(t *testing.T) {
	inner := &mockSignaling{}
	inner.On("PublishOffer", domain.PeerID("g1"), "v=0").Return(errStore).Once()
	inner.On("PublishOffer", domain.PeerID("g1"), "v=0").Return(nil).Once()

	w := NewSignalingWrapper(inner, testConfig(5), zap.NewNop().Sugar())
	err := w.PublishOffer(context.Background(), "g1", domain.SessionDescription{Type: "offer", SDP: "v=0"})

	require.NoError(t, err)
	inner.AssertNumberOfCalls(t, "PublishOffer", 2)
	assert.Equal(t, domain.PeerID("host"), w.LocalID())
}

func TestSignalingWrapper_BreakerOpensAndFailsFast(t *testing.T) {
	inner := &mockSignaling{}
	inner.On("JoinRoom", domain.PeerID("g1")).Return(errStore)

	w := NewSignalingWrapper(inner, testConfig(2), zap.NewNop().Sugar())
	err := w.JoinRoom(context.Background(), domain.MemberDocument{PeerID: "g1"})

	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	// two failures trip the breaker; the third attempt is rejected without a call
	inner.AssertNumberOfCalls(t, "JoinRoom", 2)
	assert.ErrorIs(t, w.Check(context.Background()), circuitbreaker.ErrOpen)
	assert.Equal(t, circuitbreaker.StateOpen, w.BreakerStats().State)
}

func TestSignalingWrapper_CandidatesNotRetried(t *testing.T) {
	inner := &mockSignaling{}
	inner.On("PublishCandidate", domain.PeerID("g1"), "candidate:1", domain.PeerID("host")).Return(errStore)

	w := NewSignalingWrapper(inner, testConfig(5), zap.NewNop().Sugar())
	err := w.PublishCandidate(context.Background(), "g1", domain.ICECandidate{Candidate: "candidate:1"}, "host")

	assert.ErrorIs(t, err, errStore)
	inner.AssertNumberOfCalls(t, "PublishCandidate", 1)
}

func TestSignalingWrapper_LeaveBypassesOpenBreaker(t *testing.T) {
	inner := &mockSignaling{}
	inner.On("JoinRoom", domain.PeerID("g1")).Return(errStore)
	inner.On("LeaveRoom", domain.PeerID("g1")).Return(nil)

	w := NewSignalingWrapper(inner, testConfig(1), zap.NewNop().Sugar())
	_ = w.JoinRoom(context.Background(), domain.MemberDocument{PeerID: "g1"})
	require.Error(t, w.Check(context.Background()))

	require.NoError(t, w.LeaveRoom(context.Background(), "g1"))
	inner.AssertCalled(t, "LeaveRoom", domain.PeerID("g1"))
}

func TestSignalingWrapper_CancelledContextNotRetried(t *testing.T) {
	inner := &mockSignaling{}
	w := NewSignalingWrapper(inner, testConfig(5), zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.PublishOffer(ctx, "g1", domain.SessionDescription{Type: "offer", SDP: "v=0"})

	assert.ErrorIs(t, err, context.Canceled)
	inner.AssertNotCalled(t, "PublishOffer", mock.Anything, mock.Anything)
	assert.NoError(t, w.Check(context.Background()))
}
