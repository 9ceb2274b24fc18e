package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/services"
	"duelnet/internal/infrastructure/protocol"
	"duelnet/pkg/eventloop"
)

var testRect = domain.Rect{X: 0, Y: 0, Width: 960, Height: 540}

type hostFixture struct {
	sched    *HostScheduler
	registry *services.SimulationRegistry
	conns    *fakeConnections
	input    *fakeInput
	hooks    *mockHooks
	sink     *fakeSink
}

func newHostFixture(t *testing.T) *hostFixture {
	t.Helper()
	f := &hostFixture{
		registry: services.NewSimulationRegistry(testRect),
		conns:    &fakeConnections{},
		input:    newFakeInput(),
		hooks:    &mockHooks{},
		sink:     &fakeSink{},
	}
	f.sched = NewHostScheduler(HostConfig{
		RoomID:    "room-1",
		LocalID:   "host",
		LocalName: "Ryu",
	}, HostDeps{
		Registry:    f.registry,
		Connections: f.conns,
		Input:       f.input,
		Fighters:    fakeFighters{{Slot: domain.SlotP1, HP: 80}},
		Hooks:       f.hooks,
		Sink:        f.sink,
	}, zap.NewNop().Sugar())
	f.sched.bind("host", domain.SlotP1, "Ryu")
	return f
}

func (f *hostFixture) join(id domain.PeerID, name string) domain.Slot {
	f.hooks.On("OnNetPeerJoined", id, mock.Anything).Return().Once()
	return f.sched.PeerJoined(id, name)
}

func TestHost_SlotAssignment(t *testing.T) {
	f := newHostFixture(t)

	assert.Equal(t, domain.SlotP2, f.join("g1", "Ken"))
	assert.Equal(t, domain.SlotFor(3), f.join("g2", "Chun"))

	// rejoining keeps the slot and only refreshes the name
	assert.Equal(t, domain.SlotP2, f.sched.PeerJoined("g1", "Ken Masters"))
	p, ok := f.registry.GetPlayer("g1")
	require.True(t, ok)
	assert.Equal(t, "Ken Masters", p.Name)

	f.hooks.On("OnNetPeerLeft", domain.PeerID("g1")).Return().Once()
	f.sched.PeerLeft("g1")
	_, ok = f.registry.GetPlayer("g1")
	assert.False(t, ok)

	assert.Equal(t, domain.SlotP2, f.join("g3", "Guile"), "released slot is reused")
	assert.Equal(t, []domain.Slot{domain.SlotP1, domain.SlotP2, domain.SlotFor(3)}, f.sched.Slots())

	f.sched.PeerLeft("host")
	f.sched.PeerLeft("nobody")
	slot, ok := f.sched.SlotOf("host")
	assert.True(t, ok)
	assert.Equal(t, domain.SlotP1, slot)
	f.hooks.AssertExpectations(t)
}

func TestHost_BuildStateUsesBoundSlots(t *testing.T) {
	f := newHostFixture(t)
	f.join("g1", "Ken")

	msg, ok := f.sched.BuildState()
	require.True(t, ok)
	require.Len(t, msg.Players, 2)
	assert.Equal(t, "host", msg.Players[0].ID)
	assert.Equal(t, "Ryu", msg.Players[0].Name)
	assert.Equal(t, 80.0, msg.Players[0].HP)
	assert.Equal(t, "g1", msg.Players[1].ID)
	assert.Equal(t, DefaultHP, msg.Players[1].HP)
	assert.NotZero(t, msg.T)

	host, _ := f.registry.GetPlayer("host")
	assert.Equal(t, host.X, msg.Players[0].X)
	assert.Equal(t, host.Y, msg.Players[0].Y)
}

func TestHost_BroadcastSkippedWhenEmpty(t *testing.T) {
	f := newHostFixture(t)
	f.registry.RemovePlayer("host")

	f.sched.BroadcastState()
	assert.Zero(t, f.conns.broadcastCount())
}

func TestHost_BroadcastCountsFailures(t *testing.T) {
	f := newHostFixture(t)
	f.conns.open = 1
	f.conns.failed = 1

	f.sched.BroadcastState()
	require.Equal(t, 1, f.conns.broadcastCount())

	msg, err := protocol.DecodeState([]byte(f.conns.broadcasts[0]))
	require.NoError(t, err)
	assert.Len(t, msg.Players, 1)

	d := f.sched.Diagnostics()
	assert.Equal(t, uint64(1), d.SendErrors)
	assert.Greater(t, d.OutRate, 0.0)
}

func TestHost_HandleInput(t *testing.T) {
	f := newHostFixture(t)
	f.join("g1", "Ken")

	f.hooks.On("OnPeerInput", domain.PeerID("g1"), mock.MatchedBy(func(s domain.InputSnapshot) bool {
		return s.MoveX == 1 && s.JumpDir == 1 && s.Seq == 7
	})).Return().Once()

	f.sched.HandleInput("g1", []byte(`{"t":1700000000000,"seq":7,"p":{"mx":3,"cr":false,"pu":true,"ki":false,"ju":1}}`))

	in, ok := f.registry.Input("g1")
	require.True(t, ok)
	assert.Equal(t, 1.0, in.MoveX)
	assert.True(t, in.Punch)
	assert.False(t, in.ReceivedAt.IsZero())
	f.hooks.AssertExpectations(t)
}

func TestHost_HandleInputDropsBadPayloads(t *testing.T) {
	f := newHostFixture(t)
	f.join("g1", "Ken")

	f.sched.HandleInput("g1", []byte(`not json`))
	f.sched.HandleInput("stranger", []byte(`{"t":1,"seq":1,"p":{"mx":1}}`))

	d := f.sched.Diagnostics()
	assert.Equal(t, uint64(1), d.DecodeErrors)
	in, _ := f.registry.Input("g1")
	assert.Zero(t, in.Seq)
	f.hooks.AssertNotCalled(t, "OnPeerInput", mock.Anything, mock.Anything)
}

func TestHost_TickFeedsLocalInput(t *testing.T) {
	f := newHostFixture(t)
	f.input.set(domain.SlotP1, domain.LocalInput{MoveX: 1})
	before, _ := f.registry.GetPlayer("host")

	f.sched.Tick()
	f.sched.Tick()

	after, _ := f.registry.GetPlayer("host")
	assert.Greater(t, after.X, before.X)
	assert.Equal(t, uint64(2), f.registry.Ticks())
	in, _ := f.registry.Input("host")
	assert.Equal(t, int64(2), in.Seq)
	assert.Zero(t, f.input.clearedCount(domain.SlotP1))
}

func TestHost_StaleInputStillApplied(t *testing.T) {
	f := newHostFixture(t)
	f.join("g1", "Ken")
	f.hooks.On("OnPeerInput", domain.PeerID("g1"), mock.Anything).Return()
	f.sched.HandleInput("g1", []byte(`{"t":1,"seq":1,"p":{"mx":1}}`))

	base := time.Now()
	f.sched.now = func() time.Time { return base.Add(2 * time.Second) }

	d := f.sched.Diagnostics()
	assert.Equal(t, 1, d.StaleInputs)
	assert.True(t, f.sched.stale["g1"])

	before, _ := f.registry.GetPlayer("g1")
	f.registry.FixedStep(1.0 / 60)
	after, _ := f.registry.GetPlayer("g1")
	assert.Greater(t, after.X, before.X, "stale input keeps moving the player")

	f.sched.HandleInput("g1", []byte(`{"t":1,"seq":2,"p":{"mx":1}}`))
	assert.False(t, f.sched.stale["g1"])
	f.hooks.AssertNumberOfCalls(t, "OnPeerInput", 2)
}

func TestHost_DiagnosticsLabelsSlots(t *testing.T) {
	f := newHostFixture(t)
	f.join("g1", "Ken")
	f.conns.open = 1
	f.conns.peers = []domain.PeerDiagnostics{{PeerID: "g1", State: domain.ConnectionOpen}}

	f.sched.PushDiagnostics()
	require.Equal(t, 1, f.sink.count())

	d := f.sched.LatestDiagnostics()
	assert.Equal(t, domain.RoleHost, d.Role)
	assert.Equal(t, 1, d.OpenConnections)
	require.Len(t, d.Peers, 1)
	assert.Equal(t, domain.SlotP2, d.Peers[0].Slot)
}

func TestHost_StartAndStop(t *testing.T) {
	logger := zap.NewNop().Sugar()
	loop := eventloop.New(64, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	registry := services.NewSimulationRegistry(testRect)
	conns := &fakeConnections{open: 1}
	sched := NewHostScheduler(HostConfig{
		RoomID:              "room-1",
		LocalID:             "host",
		TickInterval:        5 * time.Millisecond,
		BroadcastInterval:   10 * time.Millisecond,
		DiagnosticsInterval: 10 * time.Millisecond,
	}, HostDeps{Loop: loop, Registry: registry, Connections: conns}, logger)

	require.NoError(t, loop.Call(ctx, sched.Start))
	assert.Eventually(t, func() bool { return registry.Ticks() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return conns.broadcastCount() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, loop.Call(ctx, sched.Stop))
	ticks := registry.Ticks()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, ticks, registry.Ticks())
}
