package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"duelnet/internal/core/domain"
	"duelnet/internal/infrastructure/protocol"
	apperrors "duelnet/pkg/errors"
)

type guestFixture struct {
	sched    *GuestScheduler
	conns    *fakeConnections
	input    *fakeInput
	renderer *fakeRenderer
	sink     *fakeSink
}

func newGuestFixture(t *testing.T) *guestFixture {
	t.Helper()
	f := &guestFixture{
		conns:    &fakeConnections{},
		input:    newFakeInput(),
		renderer: &fakeRenderer{},
		sink:     &fakeSink{},
	}
	f.sched = NewGuestScheduler(GuestConfig{
		RoomID:         "room-1",
		LocalID:        "g1",
		StaleThreshold: time.Second,
	}, GuestDeps{
		Connections: f.conns,
		Input:       f.input,
		Renderer:    f.renderer,
		Sink:        f.sink,
	}, zap.NewNop().Sugar())
	return f
}

func TestGuest_SendInputStampsAndClears(t *testing.T) {
	f := newGuestFixture(t)
	f.input.set(domain.SlotP2, domain.LocalInput{MoveX: -0.5, JumpBack: true, PunchPressed: true})

	f.sched.SendInput()
	f.sched.SendInput()

	require.Len(t, f.conns.inputs, 2)
	first, err := protocol.DecodeInput([]byte(f.conns.inputs[0]))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, -0.5, first.Input.MoveX)
	assert.Equal(t, -1, first.Input.Jump)
	assert.True(t, first.Input.Punch)
	assert.NotZero(t, first.T)

	second, err := protocol.DecodeInput([]byte(f.conns.inputs[1]))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Seq)
	assert.False(t, second.Input.Punch, "one-shot flag cleared after the first send")
	assert.Equal(t, 2, f.input.clearedCount(domain.SlotP2))
}

func TestGuest_SendInputKeepsFlagsUntilConnected(t *testing.T) {
	f := newGuestFixture(t)
	f.input.set(domain.SlotP2, domain.LocalInput{KickPressed: true})
	f.conns.sendErr = domain.ErrChannelNotOpen

	f.sched.SendInput()
	assert.Zero(t, f.input.clearedCount(domain.SlotP2))
	assert.Zero(t, f.sched.Seq())

	f.conns.sendErr = nil
	f.sched.SendInput()
	require.Len(t, f.conns.inputs, 1)
	msg, err := protocol.DecodeInput([]byte(f.conns.inputs[0]))
	require.NoError(t, err)
	assert.True(t, msg.Input.Kick)
	assert.Equal(t, int64(1), msg.Seq)
}

func TestGuest_SendFailureCounted(t *testing.T) {
	f := newGuestFixture(t)
	f.conns.sendErr = apperrors.NewSendError("send_input", errBufferFull)

	f.sched.SendInput()

	d := f.sched.Diagnostics()
	assert.Equal(t, uint64(1), d.SendErrors)
	assert.Zero(t, f.input.clearedCount(domain.SlotP2))
}

func TestGuest_HandleState(t *testing.T) {
	f := newGuestFixture(t)

	f.sched.HandleState("host", []byte(`{"t":1,"players":[{"id":"host","name":"Ryu","x":100,"y":500,"hp":90},{"name":"ghost"}]}`))
	f.sched.HandleState("host", []byte(`{"players":`))

	require.Len(t, f.renderer.frames, 1)
	require.Len(t, f.renderer.frames[0], 1)
	assert.Equal(t, domain.RemotePlayer{ID: "host", Name: "Ryu", X: 100, Y: 500, HP: 90}, f.renderer.frames[0][0])

	d := f.sched.Diagnostics()
	assert.Equal(t, uint64(1), d.DecodeErrors)
	assert.GreaterOrEqual(t, d.LastStateAgeMs, int64(0))
}

func TestGuest_StateStaleness(t *testing.T) {
	f := newGuestFixture(t)
	assert.False(t, f.sched.StateStale(), "not stale before the first state")

	f.sched.HandleState("host", []byte(`{"t":1,"players":[]}`))
	assert.False(t, f.sched.StateStale())

	base := time.Now()
	f.sched.now = func() time.Time { return base.Add(2 * time.Second) }
	assert.True(t, f.sched.StateStale())

	f.sched.PushDiagnostics()
	assert.True(t, f.sched.stateStale)
	assert.Equal(t, 1, f.sink.count())
	assert.Equal(t, domain.RoleGuest, f.sched.LatestDiagnostics().Role)

	f.sched.HandleState("host", []byte(`{"t":2,"players":[]}`))
	assert.False(t, f.sched.stateStale)
	assert.False(t, f.sched.StateStale())
}
