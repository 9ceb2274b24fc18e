// Package session wires one host or guest process: the event loop, the
// signaling channel, the connection manager and the broadcast/ingest
// scheduler. A Session is the explicit context object the binaries start and
// shut down; nothing in it is process-global.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
	"duelnet/internal/core/services"
	"duelnet/internal/infrastructure/reliability"
	"duelnet/internal/infrastructure/scheduler"
	"duelnet/internal/infrastructure/signal"
	webrtcinfra "duelnet/internal/infrastructure/webrtc"
	"duelnet/pkg/config"
	"duelnet/pkg/eventloop"
	"duelnet/pkg/utils"
)

const loopCapacity = 1024

// ReasonShutdown is reported by Reason after a local Shutdown.
const ReasonShutdown = webrtcinfra.ReasonShutdown

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
)

// GameClient is everything the session drives on the game side.
// gameclient.Client implements it.
type GameClient interface {
	ports.InputSource
	ports.FighterSource
	ports.RemoteRenderer
	ports.HostHooks
	ports.DiagnosticsSink
}

// Metrics is the union of the connection and scheduler metric sinks.
type Metrics interface {
	webrtcinfra.Metrics
	scheduler.Metrics
}

type peerForgetter interface {
	ForgetPeer(peerID domain.PeerID)
}

// Options configures New. Metrics and Sinks are optional.
type Options struct {
	Config  *config.Config
	Role    domain.Role
	Store   ports.DocumentStore
	Factory ports.PeerConnectionFactory
	Client  GameClient
	Metrics Metrics
	// Sinks receive diagnostics in addition to Client.
	Sinks []ports.DiagnosticsSink
}

type Session struct {
	cfg     *config.Config
	role    domain.Role
	roomID  domain.RoomID
	localID domain.PeerID
	name    string

	loop      *eventloop.Loop
	signaling *reliability.SignalingWrapper
	mgr       *webrtcinfra.ConnectionManager
	registry  *services.SimulationRegistry
	host      *scheduler.HostScheduler
	guest     *scheduler.GuestScheduler
	client    GameClient
	metrics   Metrics
	logger    *zap.SugaredLogger

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	// owned by the loop
	stopping bool

	mu           sync.Mutex
	started      bool
	membersUnsub ports.Unsubscribe

	done         chan struct{}
	doneOnce     sync.Once
	reason       string
	shutdownOnce sync.Once
	shutdownErr  error
}

func New(opts Options, logger *zap.SugaredLogger) (*Session, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("session: config is required")
	}
	if opts.Store == nil || opts.Factory == nil || opts.Client == nil {
		return nil, fmt.Errorf("session: store, factory and client are required")
	}
	if opts.Role != domain.RoleHost && opts.Role != domain.RoleGuest {
		return nil, fmt.Errorf("session: unknown role %q", opts.Role)
	}

	cfg := opts.Config
	localID := domain.PeerID(cfg.Peer.ID)
	if localID == "" {
		localID = domain.PeerID(utils.GeneratePeerID())
	}
	roomID := domain.RoomID(cfg.Room.ID)
	logger = logger.With("role", opts.Role, "room_id", roomID, "peer_id", localID)

	s := &Session{
		cfg:      cfg,
		role:     opts.Role,
		roomID:   roomID,
		localID:  localID,
		name:     cfg.Peer.Name,
		client:   opts.Client,
		metrics:  opts.Metrics,
		logger:   logger,
		loopDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.loop = eventloop.New(loopCapacity, logger)
	s.signaling = reliability.NewSignalingWrapper(
		signal.NewChannel(opts.Store, roomID, localID, logger),
		signalingReliability(cfg),
		logger,
	)

	mgrCfg := webrtcinfra.ManagerConfig{
		Role:               opts.Role,
		RoomID:             roomID,
		LocalID:            localID,
		NegotiationTimeout: cfg.WebRTC.NegotiationTimeout,
	}
	if cfg.RateLimiting.Enabled {
		mgrCfg.InputRate = rate.Limit(cfg.RateLimiting.Input.MessagesPerSecond)
		mgrCfg.InputBurst = cfg.RateLimiting.Input.Burst
	}
	var mgrMetrics webrtcinfra.Metrics
	var schedMetrics scheduler.Metrics
	if opts.Metrics != nil {
		mgrMetrics, schedMetrics = opts.Metrics, opts.Metrics
	}
	s.mgr = webrtcinfra.NewConnectionManager(mgrCfg, s.loop, s.signaling, opts.Factory, mgrMetrics, logger)

	sink := fanout(append([]ports.DiagnosticsSink{opts.Client}, opts.Sinks...))
	diag := services.NewDiagnosticsService()

	switch opts.Role {
	case domain.RoleHost:
		r := cfg.Room.PlayRect
		s.registry = services.NewSimulationRegistry(domain.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height})
		s.host = scheduler.NewHostScheduler(scheduler.HostConfig{
			RoomID:              roomID,
			LocalID:             localID,
			LocalName:           cfg.Peer.Name,
			TickInterval:        cfg.TickInterval(),
			BroadcastInterval:   cfg.Sync.BroadcastInterval,
			DiagnosticsInterval: cfg.Monitoring.DiagnosticsPush,
		}, scheduler.HostDeps{
			Loop:        s.loop,
			Registry:    s.registry,
			Connections: s.mgr,
			Input:       opts.Client,
			Fighters:    opts.Client,
			Hooks:       opts.Client,
			Sink:        sink,
			Diagnostics: diag,
			Metrics:     schedMetrics,
		}, logger)
		s.mgr.OnInputMessage(s.host.HandleInput)
		s.mgr.OnTeardown(s.hostTeardown)

	case domain.RoleGuest:
		s.guest = scheduler.NewGuestScheduler(scheduler.GuestConfig{
			RoomID:              roomID,
			LocalID:             localID,
			InputInterval:       cfg.Sync.InputInterval,
			StaleThreshold:      cfg.Sync.StaleThreshold,
			DiagnosticsInterval: cfg.Monitoring.DiagnosticsPush,
		}, scheduler.GuestDeps{
			Loop:        s.loop,
			Connections: s.mgr,
			Input:       opts.Client,
			Renderer:    opts.Client,
			Sink:        sink,
			Diagnostics: diag,
			Metrics:     schedMetrics,
		}, logger)
		s.mgr.OnStateMessage(s.guest.HandleState)
		s.mgr.OnOpen(func(peerID domain.PeerID) {
			s.logger.Infow("connected to host", "host_id", peerID)
		})
		s.mgr.OnTeardown(s.guestTeardown)
	}

	return s, nil
}

func (s *Session) LocalID() domain.PeerID { return s.localID }
func (s *Session) Role() domain.Role      { return s.role }
func (s *Session) Loop() *eventloop.Loop  { return s.loop }

// Registry is the authoritative simulation. It is nil on guests.
func (s *Session) Registry() *services.SimulationRegistry { return s.registry }

// SignalingCheck fails while signaling writes are being rejected by the
// circuit breaker.
func (s *Session) SignalingCheck(ctx context.Context) error {
	return s.signaling.Check(ctx)
}

// LatestDiagnostics returns the last diagnostics snapshot pushed by the
// scheduler. It is safe to call from any goroutine.
func (s *Session) LatestDiagnostics() domain.Diagnostics {
	if s.host != nil {
		return s.host.LatestDiagnostics()
	}
	return s.guest.LatestDiagnostics()
}

// Done is closed when the session ends: after Shutdown, or on a guest when
// the connection to the host is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason reports why Done was closed.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) finish(reason string) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

// Start runs the event loop, announces the local peer in the room lobby and
// starts the role's flow. ctx bounds the startup calls only.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	go func() {
		defer close(s.loopDone)
		_ = s.loop.Run(s.ctx)
	}()

	member := domain.MemberDocument{PeerID: s.localID, Name: s.name, JoinedAt: time.Now()}
	if err := s.signaling.JoinRoom(ctx, member); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	if s.role == domain.RoleHost {
		return s.startHost(ctx)
	}
	return s.startGuest(ctx)
}

func (s *Session) startHost(ctx context.Context) error {
	if seater, ok := s.client.(interface {
		SeatLocal(domain.PeerID, domain.PeerInfo)
	}); ok {
		seater.SeatLocal(s.localID, domain.PeerInfo{Slot: domain.SlotP1, Name: s.name})
	}
	if err := s.loop.Call(ctx, s.host.Start); err != nil {
		return fmt.Errorf("start host scheduler: %w", err)
	}

	unsub, err := s.signaling.SubscribeToMembers(s.ctx, s.memberJoined, s.memberLeft)
	if err != nil {
		return fmt.Errorf("subscribe to members: %w", err)
	}
	s.mu.Lock()
	s.membersUnsub = unsub
	s.mu.Unlock()

	s.logger.Infow("hosting room", "tick_rate", s.cfg.Simulation.TickRate)
	return nil
}

func (s *Session) startGuest(ctx context.Context) error {
	err := s.loop.Call(ctx, func() {
		s.guest.Start()
		s.mgr.StartGuest()
	})
	if err != nil {
		return fmt.Errorf("start guest: %w", err)
	}
	s.logger.Info("waiting for host offer")
	return nil
}

func (s *Session) memberJoined(m domain.MemberDocument) {
	if m.PeerID == s.localID {
		return
	}
	s.loop.Post(func() {
		if s.stopping {
			return
		}
		s.host.PeerJoined(m.PeerID, m.Name)
		s.mgr.HandlePeerJoined(m.PeerID)
	})
}

func (s *Session) memberLeft(peerID domain.PeerID) {
	if peerID == s.localID {
		return
	}
	s.loop.Post(func() {
		if s.stopping {
			return
		}
		s.mgr.HandlePeerLeft(peerID)
		s.host.PeerLeft(peerID)
	})
}

func (s *Session) hostTeardown(peerID domain.PeerID, reason string) {
	s.host.PeerLeft(peerID)
	if f, ok := s.metrics.(peerForgetter); ok {
		f.ForgetPeer(peerID)
	}
}

func (s *Session) guestTeardown(peerID domain.PeerID, reason string) {
	if s.stopping {
		return
	}
	s.logger.Warnw("disconnected from host", "host_id", peerID, "reason", reason)
	s.finish(reason)
}

// Shutdown stops the scheduler, closes every connection, leaves the lobby and
// stops the event loop. Calling it more than once returns the first result.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	unsub := s.membersUnsub
	s.membersUnsub = nil
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	s.shutdownOnce.Do(func() {
		var errs []error
		if unsub != nil {
			unsub()
		}

		err := s.loop.Call(ctx, func() {
			s.stopping = true
			if s.host != nil {
				s.host.Stop()
			} else {
				s.guest.Stop()
			}
			s.mgr.Close()
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("stop on loop: %w", err))
		}

		if err := s.signaling.LeaveRoom(ctx, s.localID); err != nil {
			errs = append(errs, fmt.Errorf("leave room: %w", err))
		}

		s.mgr.Wait()
		s.cancel()
		select {
		case <-s.loopDone:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}

		s.finish(ReasonShutdown)
		s.shutdownErr = errors.Join(errs...)
		s.logger.Info("session stopped")
	})
	return s.shutdownErr
}

func signalingReliability(cfg *config.Config) reliability.Config {
	rc := reliability.DefaultConfig()
	rc.Retry.MaxAttempts = cfg.Signaling.PublishRetries
	if cfg.Signaling.RetryDelay > 0 {
		rc.Retry.InitialDelay = cfg.Signaling.RetryDelay
	}
	rc.Breaker.FailureThreshold = cfg.Signaling.BreakerThreshold
	rc.Breaker.Timeout = cfg.Signaling.BreakerCooldown
	return rc
}

type fanoutSink []ports.DiagnosticsSink

func fanout(sinks []ports.DiagnosticsSink) fanoutSink {
	out := make(fanoutSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

func (f fanoutSink) UpdateNetDiagOverlay(d domain.Diagnostics) {
	for _, sink := range f {
		sink.UpdateNetDiagOverlay(d)
	}
}
