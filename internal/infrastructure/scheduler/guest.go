package scheduler

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
	"duelnet/internal/core/services"
	"duelnet/internal/infrastructure/protocol"
	apperrors "duelnet/pkg/errors"
	"duelnet/pkg/eventloop"
)

type GuestConfig struct {
	RoomID              domain.RoomID
	LocalID             domain.PeerID
	LocalSlot           domain.Slot
	InputInterval       time.Duration
	StaleThreshold      time.Duration
	DiagnosticsInterval time.Duration
}

// GuestDeps are the collaborators of a GuestScheduler. Sink is optional.
type GuestDeps struct {
	Loop        *eventloop.Loop
	Connections InputSender
	Input       ports.InputSource
	Renderer    ports.RemoteRenderer
	Sink        ports.DiagnosticsSink
	Diagnostics *services.DiagnosticsService
	Metrics     Metrics
}

// GuestScheduler sends local input to the host and forwards received state
// to the renderer.
type GuestScheduler struct {
	cfg    GuestConfig
	deps   GuestDeps
	logger *zap.SugaredLogger
	now    func() time.Time

	seq         int64
	lastStateAt time.Time
	stateStale  bool
	timers      []*eventloop.Timer
	cache       snapshotCache
}

func NewGuestScheduler(cfg GuestConfig, deps GuestDeps, logger *zap.SugaredLogger) *GuestScheduler {
	if cfg.LocalSlot == "" {
		cfg.LocalSlot = domain.SlotP2
	}
	if cfg.InputInterval <= 0 {
		cfg.InputInterval = 50 * time.Millisecond
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = domain.StaleInputThreshold
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
	return &GuestScheduler{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("role", domain.RoleGuest, "room_id", cfg.RoomID, "peer_id", cfg.LocalID),
		now:    time.Now,
	}
}

func (g *GuestScheduler) Start() {
	if len(g.timers) > 0 {
		return
	}
	loop := g.deps.Loop
	g.timers = append(g.timers,
		loop.Every(g.cfg.InputInterval, g.SendInput),
		loop.Every(g.cfg.DiagnosticsInterval, g.PushDiagnostics),
	)
	g.logger.Infow("guest scheduler started", "input_interval", g.cfg.InputInterval)
}

func (g *GuestScheduler) Stop() {
	for _, t := range g.timers {
		t.Stop()
	}
	g.timers = nil
}

// SendInput stamps the current local input and writes it to the host. The
// one-shot press flags are cleared only after a successful send, so a press
// made while the channel is down goes out with the next message.
func (g *GuestScheduler) SendInput() {
	in := g.deps.Input.GetPlayerInput(g.cfg.LocalSlot)
	msg := protocol.NewInputMessage(in, g.now(), g.seq+1)
	payload, err := protocol.EncodeInput(msg)
	if err != nil {
		g.logger.Errorw("failed to encode input", "error", err)
		return
	}

	err = g.deps.Connections.SendInput(payload)
	switch {
	case err == nil:
		g.seq++
		g.deps.Input.ClearNetworkMomentaryFlags(g.cfg.LocalSlot)
		g.deps.Diagnostics.RecordOut(1)
		g.deps.Metrics.MessagesSent(KindInput, 1)
	case errors.Is(err, domain.ErrChannelNotOpen), errors.Is(err, domain.ErrConnectionNotFound):
		// not connected yet
	default:
		g.deps.Diagnostics.RecordSendError()
		g.deps.Metrics.SendFailed(KindInput, 1)
		fields := []interface{}{"error", err}
		if appErr := apperrors.GetAppError(err); appErr != nil {
			fields = appErr.LogFields()
		}
		g.logger.Warnw("input send failed", fields...)
	}
}

// Seq is the sequence number of the last input sent.
func (g *GuestScheduler) Seq() int64 {
	return g.seq
}

// HandleState decodes a state payload and forwards it to the renderer.
// Malformed payloads are logged and dropped.
func (g *GuestScheduler) HandleState(peerID domain.PeerID, payload []byte) {
	msg, err := protocol.DecodeState(payload)
	if err != nil {
		g.deps.Diagnostics.RecordDecodeError()
		g.deps.Metrics.DecodeFailed(KindState)
		appErr := apperrors.NewDecodeError("decode_state", err).WithContext("peer_id", string(peerID))
		g.logger.Warnw("dropping malformed state", appErr.LogFields()...)
		return
	}

	now := g.now()
	g.lastStateAt = now
	g.deps.Diagnostics.RecordIn()
	g.deps.Diagnostics.RecordState(now)
	g.deps.Metrics.MessageReceived(KindState)
	if g.stateStale {
		g.stateStale = false
		g.logger.Infow("host state resumed", "peer_id", peerID)
	}
	if g.deps.Renderer != nil {
		g.deps.Renderer.RenderRemotePlayers(msg.RemotePlayers())
	}
}

// StateStale reports whether the last state message is older than the stale
// threshold. It is false until the first state arrives.
func (g *GuestScheduler) StateStale() bool {
	if g.lastStateAt.IsZero() {
		return false
	}
	return g.now().Sub(g.lastStateAt) > g.cfg.StaleThreshold
}

func (g *GuestScheduler) Diagnostics() domain.Diagnostics {
	d := domain.Diagnostics{
		Role:        domain.RoleGuest,
		RoomID:      g.cfg.RoomID,
		LocalPeerID: g.cfg.LocalID,
	}
	d.Connections, d.OpenConnections = g.deps.Connections.Connections()
	g.deps.Diagnostics.Fill(&d)
	d.Peers = g.deps.Connections.Peers()
	return d
}

// PushDiagnostics flags stale host state, then hands a snapshot to the sink.
func (g *GuestScheduler) PushDiagnostics() {
	if g.StateStale() && !g.stateStale {
		g.stateStale = true
		g.logger.Warnw("host state stale",
			"error_code", apperrors.ErrCodeStale,
			"threshold", g.cfg.StaleThreshold,
		)
	}
	d := g.Diagnostics()
	g.cache.store(d)
	if g.deps.Sink != nil {
		g.deps.Sink.UpdateNetDiagOverlay(d)
	}
}

func (g *GuestScheduler) LatestDiagnostics() domain.Diagnostics {
	return g.cache.load()
}
