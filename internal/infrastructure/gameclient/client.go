// Package gameclient is a headless game client. It implements the client
// ports the session drives, so host and guest processes can run without a
// renderer.
package gameclient

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"duelnet/internal/core/domain"
)

const fullHP = 100.0

type fighter struct {
	peerID domain.PeerID
	name   string
	hp     float64
}

// Client is safe for concurrent use.
type Client struct {
	mu     sync.Mutex
	logger *zap.SugaredLogger
	now    func() time.Time

	driver  InputDriver
	inputs  map[domain.Slot]domain.LocalInput
	latched map[domain.Slot]domain.LocalInput

	fighters   map[domain.Slot]*fighter
	slotOf     map[domain.PeerID]domain.Slot
	peerInputs map[domain.PeerID]uint64

	frames    uint64
	lastFrame []domain.RemotePlayer
	lastDiag  domain.Diagnostics
}

// InputDriver produces local controls for a slot, for example a Bot.
type InputDriver interface {
	Input(slot domain.Slot, now time.Time) domain.LocalInput
}

func New(driver InputDriver, logger *zap.SugaredLogger) *Client {
	return &Client{
		logger:     logger,
		now:        time.Now,
		driver:     driver,
		inputs:     make(map[domain.Slot]domain.LocalInput),
		latched:    make(map[domain.Slot]domain.LocalInput),
		fighters:   make(map[domain.Slot]*fighter),
		slotOf:     make(map[domain.PeerID]domain.Slot),
		peerInputs: make(map[domain.PeerID]uint64),
	}
}

// SetInput overrides the held controls of slot. Press edges are latched
// until they have been sent.
func (c *Client) SetInput(slot domain.Slot, in domain.LocalInput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs[slot] = in
	c.latch(slot, in)
}

func (c *Client) latch(slot domain.Slot, in domain.LocalInput) {
	l := c.latched[slot]
	l.PunchPressed = l.PunchPressed || in.PunchPressed
	l.KickPressed = l.KickPressed || in.KickPressed
	c.latched[slot] = l
}

func (c *Client) GetPlayerInput(slot domain.Slot) domain.LocalInput {
	c.mu.Lock()
	defer c.mu.Unlock()

	in, held := c.inputs[slot]
	if !held && c.driver != nil {
		in = c.driver.Input(slot, c.now())
		c.latch(slot, in)
	}
	l := c.latched[slot]
	in.PunchPressed = l.PunchPressed
	in.KickPressed = l.KickPressed
	return in
}

func (c *Client) ClearNetworkMomentaryFlags(slot domain.Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.latched, slot)
	if in, ok := c.inputs[slot]; ok {
		in.PunchPressed = false
		in.KickPressed = false
		c.inputs[slot] = in
	}
}

// SeatLocal registers the local player's fighter.
func (c *Client) SeatLocal(peerID domain.PeerID, info domain.PeerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seat(peerID, info)
}

func (c *Client) seat(peerID domain.PeerID, info domain.PeerInfo) {
	if f, ok := c.fighters[info.Slot]; ok && f.peerID == peerID {
		f.name = info.Name
		return
	}
	c.fighters[info.Slot] = &fighter{peerID: peerID, name: info.Name, hp: fullHP}
	c.slotOf[peerID] = info.Slot
}

// SetHP updates the health of the fighter in slot. Values are clamped to
// [0, 100].
func (c *Client) SetHP(slot domain.Slot, hp float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.fighters[slot]
	if !ok {
		return
	}
	switch {
	case hp < 0:
		hp = 0
	case hp > fullHP:
		hp = fullHP
	}
	f.hp = hp
}

func (c *Client) GetFighterSnapshots() []domain.FighterSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.FighterSnapshot, 0, len(c.fighters))
	for slot, f := range c.fighters {
		out = append(out, domain.FighterSnapshot{Slot: slot, HP: f.hp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot.Index() < out[j].Slot.Index() })
	return out
}

func (c *Client) OnPeerInput(peerID domain.PeerID, snapshot domain.InputSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerInputs[peerID]++
}

func (c *Client) OnNetPeerJoined(peerID domain.PeerID, meta domain.PeerInfo) {
	c.mu.Lock()
	c.seat(peerID, meta)
	c.mu.Unlock()
	c.logger.Infow("fighter joined", "peer_id", peerID, "slot", meta.Slot, "name", meta.Name)
}

func (c *Client) OnNetPeerLeft(peerID domain.PeerID) {
	c.mu.Lock()
	slot, ok := c.slotOf[peerID]
	if ok {
		delete(c.slotOf, peerID)
		delete(c.fighters, slot)
		delete(c.peerInputs, peerID)
	}
	c.mu.Unlock()
	if ok {
		c.logger.Infow("fighter left", "peer_id", peerID, "slot", slot)
	}
}

func (c *Client) RenderRemotePlayers(players []domain.RemotePlayer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	c.lastFrame = append(c.lastFrame[:0], players...)
}

func (c *Client) UpdateNetDiagOverlay(d domain.Diagnostics) {
	c.mu.Lock()
	c.lastDiag = d
	c.mu.Unlock()
	c.logger.Debugw("net diagnostics",
		"open_connections", d.OpenConnections,
		"in_rate", d.InRate,
		"out_rate", d.OutRate,
		"stale_inputs", d.StaleInputs,
	)
}

// Frames returns how many state frames were rendered and the latest one.
func (c *Client) Frames() (uint64, []domain.RemotePlayer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames, append([]domain.RemotePlayer(nil), c.lastFrame...)
}

// PeerInputs returns how many inputs the host received from peerID.
func (c *Client) PeerInputs(peerID domain.PeerID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerInputs[peerID]
}

func (c *Client) LastDiagnostics() domain.Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDiag
}
