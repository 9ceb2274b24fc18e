package scheduler

import (
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
	"duelnet/internal/core/services"
	"duelnet/internal/infrastructure/protocol"
	apperrors "duelnet/pkg/errors"
	"duelnet/pkg/eventloop"
	"duelnet/pkg/utils"
)

// DefaultHP is broadcast for a slot the fighter source has no snapshot for.
const DefaultHP = 100.0

var ErrUnknownPeer = errors.New("peer has no slot")

type HostConfig struct {
	RoomID              domain.RoomID
	LocalID             domain.PeerID
	LocalName           string
	TickInterval        time.Duration
	BroadcastInterval   time.Duration
	DiagnosticsInterval time.Duration
}

// HostDeps are the collaborators of a HostScheduler. Fighters, Hooks and Sink
// are optional.
type HostDeps struct {
	Loop        *eventloop.Loop
	Registry    *services.SimulationRegistry
	Connections Broadcaster
	Input       ports.InputSource
	Fighters    ports.FighterSource
	Hooks       ports.HostHooks
	Sink        ports.DiagnosticsSink
	Diagnostics *services.DiagnosticsService
	Metrics     Metrics
}

// HostScheduler owns the slot table, runs the fixed-step tick and the state
// broadcast, and ingests guest input.
type HostScheduler struct {
	cfg    HostConfig
	deps   HostDeps
	logger *zap.SugaredLogger
	now    func() time.Time

	slots  map[domain.Slot]domain.PeerID
	bySlot map[domain.PeerID]domain.Slot

	localSeq int64
	stale    map[domain.PeerID]bool
	timers   []*eventloop.Timer
	cache    snapshotCache
}

func NewHostScheduler(cfg HostConfig, deps HostDeps, logger *zap.SugaredLogger) *HostScheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second / 60
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = 150 * time.Millisecond
	}
	if cfg.DiagnosticsInterval <= 0 {
		cfg.DiagnosticsInterval = time.Second
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Diagnostics == nil {
		deps.Diagnostics = services.NewDiagnosticsService()
	}
	return &HostScheduler{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("role", domain.RoleHost, "room_id", cfg.RoomID),
		now:    time.Now,
		slots:  make(map[domain.Slot]domain.PeerID),
		bySlot: make(map[domain.PeerID]domain.Slot),
		stale:  make(map[domain.PeerID]bool),
	}
}

// Start seats the host in p1 and starts the tick, broadcast and diagnostics
// timers.
func (h *HostScheduler) Start() {
	if len(h.timers) > 0 {
		return
	}
	h.bind(h.cfg.LocalID, domain.SlotP1, h.cfg.LocalName)

	loop := h.deps.Loop
	h.timers = append(h.timers,
		loop.Every(h.cfg.TickInterval, h.Tick),
		loop.Every(h.cfg.BroadcastInterval, h.BroadcastState),
		loop.Every(h.cfg.DiagnosticsInterval, h.PushDiagnostics),
	)
	h.logger.Infow("host scheduler started",
		"tick_interval", h.cfg.TickInterval,
		"broadcast_interval", h.cfg.BroadcastInterval,
	)
}

// Stop cancels every timer. A stopped scheduler never ticks again.
func (h *HostScheduler) Stop() {
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = nil
}

// PeerJoined seats a guest in the lowest free slot from p2 upward and creates
// its player. Joining twice only refreshes the display name.
func (h *HostScheduler) PeerJoined(peerID domain.PeerID, name string) domain.Slot {
	if slot, ok := h.bySlot[peerID]; ok {
		h.deps.Registry.EnsurePlayer(peerID, domain.PeerInfo{Slot: slot, Name: name})
		return slot
	}
	slot := h.freeSlot()
	h.bind(peerID, slot, name)
	h.logger.Infow("guest seated", "peer_id", peerID, "slot", slot)
	if h.deps.Hooks != nil {
		h.deps.Hooks.OnNetPeerJoined(peerID, domain.PeerInfo{Slot: slot, Name: name})
	}
	return slot
}

// PeerLeft releases the guest's slot and destroys its player. Unknown and
// local ids are ignored.
func (h *HostScheduler) PeerLeft(peerID domain.PeerID) {
	slot, ok := h.bySlot[peerID]
	if !ok || peerID == h.cfg.LocalID {
		return
	}
	delete(h.bySlot, peerID)
	delete(h.slots, slot)
	delete(h.stale, peerID)
	h.deps.Registry.RemovePlayer(peerID)

	h.logger.Infow("guest slot released", "peer_id", peerID, "slot", slot)
	if h.deps.Hooks != nil {
		h.deps.Hooks.OnNetPeerLeft(peerID)
	}
}

func (h *HostScheduler) bind(peerID domain.PeerID, slot domain.Slot, name string) {
	h.slots[slot] = peerID
	h.bySlot[peerID] = slot
	h.deps.Registry.EnsurePlayer(peerID, domain.PeerInfo{Slot: slot, Name: name})
}

func (h *HostScheduler) freeSlot() domain.Slot {
	for i := 2; ; i++ {
		slot := domain.SlotFor(i)
		if _, taken := h.slots[slot]; !taken {
			return slot
		}
	}
}

// SlotOf returns the slot bound to peerID.
func (h *HostScheduler) SlotOf(peerID domain.PeerID) (domain.Slot, bool) {
	slot, ok := h.bySlot[peerID]
	return slot, ok
}

// Slots returns the bound slots in seat order.
func (h *HostScheduler) Slots() []domain.Slot {
	slots := make([]domain.Slot, 0, len(h.slots))
	for slot := range h.slots {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Index() < slots[j].Index() })
	return slots
}

// Tick feeds the host's own controls into p1 and advances the simulation
// one fixed step. It runs whether or not guest input arrived.
func (h *HostScheduler) Tick() {
	start := h.now()
	if h.deps.Input != nil {
		h.localSeq++
		in := h.deps.Input.GetPlayerInput(domain.SlotP1)
		h.deps.Registry.SetInput(h.cfg.LocalID, in.Snapshot(start, h.localSeq))
	}
	h.deps.Registry.FixedStep(h.cfg.TickInterval.Seconds())
	h.deps.Metrics.TickCompleted(h.now().Sub(start))
}

// BuildState assembles the state message for every slot with a bound peer.
// ok is false when no slot qualifies.
func (h *HostScheduler) BuildState() (msg protocol.StateMessage, ok bool) {
	hp := make(map[domain.Slot]float64)
	if h.deps.Fighters != nil {
		for _, f := range h.deps.Fighters.GetFighterSnapshots() {
			hp[f.Slot] = f.HP
		}
	}

	for _, slot := range h.Slots() {
		peerID := h.slots[slot]
		player, exists := h.deps.Registry.GetPlayer(peerID)
		if !exists {
			continue
		}
		health, known := hp[slot]
		if !known {
			health = DefaultHP
		}
		msg.Players = append(msg.Players, protocol.StatePlayer{
			ID:   string(peerID),
			Name: player.Name,
			X:    player.X,
			Y:    player.Y,
			HP:   health,
		})
	}
	if len(msg.Players) == 0 {
		return msg, false
	}
	msg.T = utils.EpochMillis(h.now())
	return msg, true
}

// BroadcastState sends the current state to every open state channel. A
// failed send is counted and never stops delivery to the other peers.
func (h *HostScheduler) BroadcastState() {
	h.checkStale()

	msg, ok := h.BuildState()
	if !ok {
		return
	}
	payload, err := protocol.EncodeState(msg)
	if err != nil {
		h.logger.Errorw("failed to encode state", "error", err)
		return
	}

	sent, failed := h.deps.Connections.Broadcast(payload)
	h.deps.Diagnostics.RecordOut(sent)
	for i := 0; i < failed; i++ {
		h.deps.Diagnostics.RecordSendError()
	}
	if sent > 0 {
		h.deps.Metrics.MessagesSent(KindState, sent)
	}
	if failed > 0 {
		h.deps.Metrics.SendFailed(KindState, failed)
	}
}

// HandleInput ingests one raw input payload from peerID. Malformed payloads
// and input from unseated peers are logged and dropped.
func (h *HostScheduler) HandleInput(peerID domain.PeerID, payload []byte) {
	msg, err := protocol.DecodeInput(payload)
	if err != nil {
		h.deps.Diagnostics.RecordDecodeError()
		h.deps.Metrics.DecodeFailed(KindInput)
		appErr := apperrors.NewDecodeError("decode_input", err).WithContext("peer_id", string(peerID))
		h.logger.Warnw("dropping malformed input", appErr.LogFields()...)
		return
	}

	if _, seated := h.bySlot[peerID]; !seated {
		h.logger.Debugw("dropping input from unseated peer", "peer_id", peerID, "error", ErrUnknownPeer)
		return
	}
	snapshot := msg.Snapshot(h.now())
	if !h.deps.Registry.SetInput(peerID, snapshot) {
		return
	}
	h.deps.Diagnostics.RecordIn()
	h.deps.Metrics.MessageReceived(KindInput)
	if h.stale[peerID] {
		delete(h.stale, peerID)
		h.logger.Infow("peer input resumed", "peer_id", peerID)
	}
	if h.deps.Hooks != nil {
		h.deps.Hooks.OnPeerInput(peerID, snapshot)
	}
}

// checkStale flags guests whose last input is too old. Their input keeps
// being applied.
func (h *HostScheduler) checkStale() []domain.PeerID {
	var stale []domain.PeerID
	for _, id := range h.deps.Registry.StaleInputs(h.now()) {
		if id == h.cfg.LocalID {
			continue
		}
		stale = append(stale, id)
		if !h.stale[id] {
			h.stale[id] = true
			h.logger.Warnw("peer input stale",
				"peer_id", id,
				"error_code", apperrors.ErrCodeStale,
				"threshold", domain.StaleInputThreshold,
			)
		}
	}
	h.deps.Metrics.StaleInputs(len(stale))
	return stale
}

// Diagnostics builds a telemetry snapshot.
func (h *HostScheduler) Diagnostics() domain.Diagnostics {
	d := domain.Diagnostics{
		Role:        domain.RoleHost,
		RoomID:      h.cfg.RoomID,
		LocalPeerID: h.cfg.LocalID,
		Ticks:       h.deps.Registry.Ticks(),
		StaleInputs: len(h.checkStale()),
	}
	d.Connections, d.OpenConnections = h.deps.Connections.Connections()
	h.deps.Diagnostics.Fill(&d)
	d.Peers = h.deps.Connections.Peers()
	for i := range d.Peers {
		d.Peers[i].Slot = h.bySlot[d.Peers[i].PeerID]
	}
	return d
}

// PushDiagnostics hands a fresh snapshot to the sink and caches it.
func (h *HostScheduler) PushDiagnostics() {
	d := h.Diagnostics()
	h.cache.store(d)
	if h.deps.Sink != nil {
		h.deps.Sink.UpdateNetDiagOverlay(d)
	}
}

// LatestDiagnostics returns the last pushed snapshot. Safe from any goroutine.
func (h *HostScheduler) LatestDiagnostics() domain.Diagnostics {
	return h.cache.load()
}
