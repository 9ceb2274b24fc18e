package gameclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"duelnet/internal/core/domain"
)

func TestClient_PressEdgesLatchedUntilCleared(t *testing.T) {
	c := New(nil, zap.NewNop().Sugar())

	c.SetInput(domain.SlotP2, domain.LocalInput{MoveX: 1, PunchPressed: true})
	c.SetInput(domain.SlotP2, domain.LocalInput{MoveX: 1})

	in := c.GetPlayerInput(domain.SlotP2)
	assert.True(t, in.PunchPressed, "press survives until sent")
	assert.Equal(t, 1.0, in.MoveX)

	c.ClearNetworkMomentaryFlags(domain.SlotP2)
	in = c.GetPlayerInput(domain.SlotP2)
	assert.False(t, in.PunchPressed)
	assert.Equal(t, 1.0, in.MoveX, "held controls are kept")
}

func TestClient_FightersFollowPeers(t *testing.T) {
	c := New(nil, zap.NewNop().Sugar())
	c.SeatLocal("host", domain.PeerInfo{Slot: domain.SlotP1, Name: "Ryu"})
	c.OnNetPeerJoined("g1", domain.PeerInfo{Slot: domain.SlotP2, Name: "Ken"})
	c.SetHP(domain.SlotP2, 140)
	c.SetHP(domain.SlotP1, 42)

	snaps := c.GetFighterSnapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, domain.FighterSnapshot{Slot: domain.SlotP1, HP: 42}, snaps[0])
	assert.Equal(t, domain.FighterSnapshot{Slot: domain.SlotP2, HP: 100}, snaps[1])

	c.OnPeerInput("g1", domain.InputSnapshot{})
	assert.Equal(t, uint64(1), c.PeerInputs("g1"))

	c.OnNetPeerLeft("g1")
	c.OnNetPeerLeft("g1")
	assert.Len(t, c.GetFighterSnapshots(), 1)
	assert.Zero(t, c.PeerInputs("g1"))
}

func TestClient_RenderAndDiagnostics(t *testing.T) {
	c := New(nil, zap.NewNop().Sugar())
	players := []domain.RemotePlayer{{ID: "host", X: 10}}
	c.RenderRemotePlayers(players)
	players[0].X = 99

	n, last := c.Frames()
	assert.Equal(t, uint64(1), n)
	assert.Equal(t, 10.0, last[0].X)

	c.UpdateNetDiagOverlay(domain.Diagnostics{Role: domain.RoleGuest, OpenConnections: 1})
	assert.Equal(t, 1, c.LastDiagnostics().OpenConnections)
}

func TestBot_Edges(t *testing.T) {
	start := time.Unix(0, 0)
	b := NewBot(start)
	c := New(b, zap.NewNop().Sugar())
	c.now = func() time.Time { return start.Add(time.Second) }

	in := c.GetPlayerInput(domain.SlotP2)
	assert.InDelta(t, 1.0, in.MoveX, 0.01, "quarter walk period is full right")
	assert.False(t, in.PunchPressed)

	c.now = func() time.Time { return start.Add(1600 * time.Millisecond) }
	in = c.GetPlayerInput(domain.SlotP2)
	assert.True(t, in.PunchPressed)

	// the punch stays latched until sent, and fires only once per period
	c.now = func() time.Time { return start.Add(1700 * time.Millisecond) }
	assert.True(t, c.GetPlayerInput(domain.SlotP2).PunchPressed)
	c.ClearNetworkMomentaryFlags(domain.SlotP2)
	assert.False(t, c.GetPlayerInput(domain.SlotP2).PunchPressed)

	c.now = func() time.Time { return start.Add(3100 * time.Millisecond) }
	in = c.GetPlayerInput(domain.SlotP2)
	assert.True(t, in.JumpForward || in.JumpBack)
	assert.True(t, in.PunchPressed)
}
