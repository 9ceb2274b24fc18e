package webrtc

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
	"duelnet/internal/infrastructure/protocol"
	apperrors "duelnet/pkg/errors"
	"duelnet/pkg/eventloop"
	applog "duelnet/pkg/logger"
	"duelnet/pkg/tracing"
)

// Teardown reasons reported to OnTeardown listeners and metrics.
const (
	ReasonPeerLeft           = "peer_left"
	ReasonTransportClosed    = "transport_closed"
	ReasonChannelClosed      = "channel_closed"
	ReasonNegotiationTimeout = "negotiation_timeout"
	ReasonSetupFailed        = "setup_failed"
	ReasonShutdown           = "shutdown"
)

// Metrics receives connection lifecycle events.
type Metrics interface {
	NegotiationStarted(role domain.Role)
	NegotiationCompleted(role domain.Role, elapsed time.Duration)
	ConnectionClosed(role domain.Role, reason string, wasOpen bool)
	InputDropped(peerID domain.PeerID)
}

type nopMetrics struct{}

func (nopMetrics) NegotiationStarted(domain.Role)                  {}
func (nopMetrics) NegotiationCompleted(domain.Role, time.Duration) {}
func (nopMetrics) ConnectionClosed(domain.Role, string, bool)      {}
func (nopMetrics) InputDropped(domain.PeerID)                      {}

// ManagerConfig configures a ConnectionManager.
type ManagerConfig struct {
	Role               domain.Role
	RoomID             domain.RoomID
	LocalID            domain.PeerID
	NegotiationTimeout time.Duration
	// InputRate limits inbound input messages per peer. Zero disables it.
	InputRate  rate.Limit
	InputBurst int
}

// ConnectionManager creates, negotiates and tears down peer connections.
//
// Every exported method must be called on the event loop. Pion callbacks and
// signaling notifications arrive on other goroutines and are posted onto the
// loop as events. Store I/O runs on goroutines; when it completes the result
// is posted back and applied only if the record is still the live one.
type ConnectionManager struct {
	cfg       ManagerConfig
	loop      *eventloop.Loop
	signaling ports.SignalingChannel
	factory   ports.PeerConnectionFactory
	metrics   Metrics
	logger    *zap.SugaredLogger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	records map[domain.PeerID]*ConnectionRecord

	guestOfferHandled bool
	handledOfferSDP   string
	guestUnsub        ports.Unsubscribe

	onInput    func(peerID domain.PeerID, payload []byte)
	onState    func(peerID domain.PeerID, payload []byte)
	onOpen     func(peerID domain.PeerID)
	onTeardown func(peerID domain.PeerID, reason string)
}

func NewConnectionManager(
	cfg ManagerConfig,
	loop *eventloop.Loop,
	signaling ports.SignalingChannel,
	factory ports.PeerConnectionFactory,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *ConnectionManager {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = 20 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		cfg:       cfg,
		loop:      loop,
		signaling: signaling,
		factory:   factory,
		metrics:   metrics,
		logger:    logger.With("role", cfg.Role, "room_id", cfg.RoomID),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		records:   make(map[domain.PeerID]*ConnectionRecord),
	}
}

// OnInputMessage sets the host handler for raw payloads on "input" channels.
func (m *ConnectionManager) OnInputMessage(fn func(peerID domain.PeerID, payload []byte)) {
	m.onInput = fn
}

// OnStateMessage sets the guest handler for raw payloads on the "state" channel.
func (m *ConnectionManager) OnStateMessage(fn func(peerID domain.PeerID, payload []byte)) {
	m.onState = fn
}

// OnOpen is called once per record when both data channels are open.
func (m *ConnectionManager) OnOpen(fn func(peerID domain.PeerID)) {
	m.onOpen = fn
}

// OnTeardown is called once per record after it has been removed.
func (m *ConnectionManager) OnTeardown(fn func(peerID domain.PeerID, reason string)) {
	m.onTeardown = fn
}

func (m *ConnectionManager) isLive(rec *ConnectionRecord) bool {
	return !rec.closed && m.records[rec.PeerID] == rec
}

// post runs fn on the loop only while rec is still live.
func (m *ConnectionManager) post(rec *ConnectionRecord, fn func()) {
	m.loop.Post(func() {
		if m.isLive(rec) {
			fn()
		}
	})
}

// async runs a blocking signaling call off the loop. A failure tears the
// record down as a setup error.
func (m *ConnectionManager) async(rec *ConnectionRecord, op string, fn func(ctx context.Context) error) {
	ctx := rec.ctx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := fn(ctx)
		if err == nil {
			return
		}
		m.post(rec, func() {
			m.setupFailed(rec, op, err)
		})
	}()
}

// subscribe opens a signaling subscription off the loop and attaches the
// handle to rec, or releases it if rec is gone by then.
func (m *ConnectionManager) subscribe(rec *ConnectionRecord, op string, fn func(ctx context.Context) (ports.Unsubscribe, error)) {
	ctx := rec.ctx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		unsub, err := fn(ctx)
		posted := m.loop.Post(func() {
			if !m.isLive(rec) {
				if unsub != nil {
					unsub()
				}
				return
			}
			if err != nil {
				m.setupFailed(rec, op, err)
				return
			}
			rec.addUnsubscribe(unsub)
		})
		if !posted && unsub != nil {
			unsub()
		}
	}()
}

func (m *ConnectionManager) setupFailed(rec *ConnectionRecord, op string, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		appErr = apperrors.NewSetupError(op, err)
	}
	tracing.RecordError(rec.ctx, err)
	applog.FromContext(rec.ctx, m.logger).Warnw("connection setup failed",
		append(appErr.LogFields(), "op", op)...,
	)
	m.Teardown(rec.PeerID, ReasonSetupFailed)
}

func (m *ConnectionManager) newRecord(peerID, signalKey domain.PeerID) (*ConnectionRecord, error) {
	pc, err := m.factory.NewPeerConnection()
	if err != nil {
		return nil, err
	}
	rec := newConnectionRecord(peerID, signalKey, m.cfg.Role, pc, m.now())
	spanCtx, span := tracing.TraceNegotiation(m.ctx, string(m.cfg.Role), string(m.cfg.RoomID), string(peerID))
	rec.ctx, rec.cancel = context.WithCancel(applog.WithPeer(spanCtx, string(peerID)))
	rec.span = span
	if m.cfg.Role == domain.RoleHost && m.cfg.InputRate > 0 {
		rec.limiter = rate.NewLimiter(m.cfg.InputRate, m.cfg.InputBurst)
	}
	m.records[peerID] = rec

	pc.OnICECandidate(func(c domain.ICECandidate) {
		m.post(rec, func() { m.publishLocalCandidate(rec, c) })
	})
	pc.OnConnectionStateChange(func(s domain.TransportState) {
		m.post(rec, func() { m.handleTransportState(rec, s) })
	})
	pc.OnDataChannel(func(dc ports.DataChannel) {
		m.loop.Post(func() {
			if !m.isLive(rec) {
				_ = dc.Close()
				return
			}
			m.handleRemoteChannel(rec, dc)
		})
	})

	rec.negotiation = m.loop.After(m.cfg.NegotiationTimeout, func() {
		if !m.isLive(rec) || rec.State == domain.ConnectionOpen {
			return
		}
		tracing.RecordError(rec.ctx, domain.ErrNegotiationTimeout)
		m.logger.Warnw("negotiation timed out",
			"peer_id", rec.PeerID,
			"error_code", apperrors.ErrCodeSetup,
			"timeout", m.cfg.NegotiationTimeout,
		)
		m.Teardown(rec.PeerID, ReasonNegotiationTimeout)
	})
	rec.addTimer(rec.negotiation)

	m.metrics.NegotiationStarted(m.cfg.Role)
	return rec, nil
}

// HandlePeerJoined starts host-side negotiation with a guest that appeared
// in the room. Known peers and the host itself are ignored.
func (m *ConnectionManager) HandlePeerJoined(peerID domain.PeerID) {
	if m.cfg.Role != domain.RoleHost || peerID == m.cfg.LocalID {
		return
	}
	if _, exists := m.records[peerID]; exists {
		return
	}

	rec, err := m.newRecord(peerID, peerID)
	if err != nil {
		m.logger.Warnw("failed to create peer connection",
			"peer_id", peerID,
			"error_code", apperrors.ErrCodeSetup,
			"error", err,
		)
		// listeners may already have seated the peer
		if m.onTeardown != nil {
			m.onTeardown(peerID, ReasonSetupFailed)
		}
		return
	}

	dc, err := rec.pc.CreateDataChannel(protocol.StateChannelLabel)
	if err != nil {
		m.setupFailed(rec, "create_state_channel", err)
		return
	}
	m.bindChannel(rec, dc)

	offer, err := rec.pc.CreateOffer()
	if err == nil {
		err = rec.pc.SetLocalDescription(offer)
	}
	if err != nil {
		m.setupFailed(rec, "create_offer", err)
		return
	}
	rec.State = domain.ConnectionNegotiating
	tracing.AddEvent(rec.ctx, "offer_created")

	m.subscribe(rec, "subscribe_session", func(ctx context.Context) (ports.Unsubscribe, error) {
		return m.signaling.SubscribeToSession(ctx, peerID, func(doc domain.SessionDocument) {
			m.post(rec, func() { m.handleAnswer(rec, doc) })
		})
	})
	m.subscribeCandidates(rec)
	m.async(rec, "publish_offer", func(ctx context.Context) error {
		return m.signaling.PublishOffer(ctx, peerID, offer)
	})

	m.logger.Infow("negotiating with guest", "peer_id", peerID)
}

// HandlePeerLeft tears down the connection of a guest that left the room.
func (m *ConnectionManager) HandlePeerLeft(peerID domain.PeerID) {
	m.Teardown(peerID, ReasonPeerLeft)
}

func (m *ConnectionManager) handleAnswer(rec *ConnectionRecord, doc domain.SessionDocument) {
	if doc.Answer == nil || rec.answerApplied {
		return
	}
	rec.answerApplied = true
	if err := rec.pc.SetRemoteDescription(*doc.Answer); err != nil {
		m.setupFailed(rec, "apply_answer", err)
		return
	}
	tracing.AddEvent(rec.ctx, "answer_applied")
	m.remoteDescriptionApplied(rec)
}

// StartGuest subscribes to the guest's own session document and answers the
// first offer that shows up there.
func (m *ConnectionManager) StartGuest() {
	if m.cfg.Role != domain.RoleGuest || m.guestUnsub != nil {
		return
	}
	ctx := m.ctx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		unsub, err := m.signaling.SubscribeToSession(ctx, m.cfg.LocalID, func(doc domain.SessionDocument) {
			m.loop.Post(func() { m.handleOffer(doc) })
		})
		posted := m.loop.Post(func() {
			if err != nil {
				m.logger.Errorw("failed to subscribe to session document",
					"error_code", apperrors.ErrCodeSetup,
					"error", err,
				)
				if m.onTeardown != nil {
					m.onTeardown("", ReasonSetupFailed)
				}
				return
			}
			if m.ctx.Err() != nil {
				unsub()
				return
			}
			m.guestUnsub = unsub
		})
		if !posted && unsub != nil {
			unsub()
		}
	}()
}

func (m *ConnectionManager) handleOffer(doc domain.SessionDocument) {
	if doc.Offer == nil || m.ctx.Err() != nil {
		return
	}
	if m.guestOfferHandled {
		// snapshots repeat the offer; a different one would be renegotiation
		if doc.Offer.SDP != m.handledOfferSDP {
			m.logger.Infow("ignoring new offer",
				"peer_id", doc.From,
				"error", domain.ErrRenegotiationIgnored,
			)
			m.handledOfferSDP = doc.Offer.SDP
		}
		return
	}
	m.guestOfferHandled = true
	m.handledOfferSDP = doc.Offer.SDP

	hostID := doc.From
	if hostID == "" {
		hostID = "host"
	}
	rec, err := m.newRecord(hostID, m.cfg.LocalID)
	if err != nil {
		m.logger.Errorw("failed to create peer connection",
			"peer_id", hostID,
			"error_code", apperrors.ErrCodeSetup,
			"error", err,
		)
		if m.onTeardown != nil {
			m.onTeardown(hostID, ReasonSetupFailed)
		}
		return
	}

	dc, err := rec.pc.CreateDataChannel(protocol.InputChannelLabel)
	if err != nil {
		m.setupFailed(rec, "create_input_channel", err)
		return
	}
	m.bindChannel(rec, dc)

	if err := rec.pc.SetRemoteDescription(*doc.Offer); err != nil {
		m.setupFailed(rec, "apply_offer", err)
		return
	}
	answer, err := rec.pc.CreateAnswer()
	if err == nil {
		err = rec.pc.SetLocalDescription(answer)
	}
	if err != nil {
		m.setupFailed(rec, "create_answer", err)
		return
	}
	rec.State = domain.ConnectionNegotiating
	m.remoteDescriptionApplied(rec)

	m.subscribeCandidates(rec)
	m.async(rec, "publish_answer", func(ctx context.Context) error {
		return m.signaling.PublishAnswer(ctx, m.cfg.LocalID, answer)
	})

	m.logger.Infow("answering host offer", "peer_id", hostID)
}

func (m *ConnectionManager) subscribeCandidates(rec *ConnectionRecord) {
	m.subscribe(rec, "subscribe_candidates", func(ctx context.Context) (ports.Unsubscribe, error) {
		return m.signaling.SubscribeToCandidates(ctx, rec.signalKey, func(doc domain.CandidateDocument) {
			m.post(rec, func() { m.handleRemoteCandidate(rec, doc) })
		})
	})
}

func (m *ConnectionManager) publishLocalCandidate(rec *ConnectionRecord, c domain.ICECandidate) {
	m.async(rec, "publish_candidate", func(ctx context.Context) error {
		return m.signaling.PublishCandidate(ctx, rec.signalKey, c, m.cfg.LocalID)
	})
}

func (m *ConnectionManager) handleRemoteCandidate(rec *ConnectionRecord, doc domain.CandidateDocument) {
	if doc.From == m.cfg.LocalID || !rec.markSeen(doc.ID) {
		return
	}
	if !rec.remoteApplied {
		rec.queueCandidate(doc.Candidate)
		return
	}
	m.applyCandidate(rec, doc.Candidate)
}

func (m *ConnectionManager) applyCandidate(rec *ConnectionRecord, c domain.ICECandidate) {
	if err := rec.pc.AddICECandidate(c); err != nil {
		m.logger.Debugw("failed to add remote candidate",
			"peer_id", rec.PeerID,
			"error", err,
		)
	}
}

func (m *ConnectionManager) remoteDescriptionApplied(rec *ConnectionRecord) {
	rec.remoteApplied = true
	for _, c := range rec.takePending() {
		m.applyCandidate(rec, c)
	}
}

func (m *ConnectionManager) handleRemoteChannel(rec *ConnectionRecord, dc ports.DataChannel) {
	want := protocol.InputChannelLabel
	if m.cfg.Role == domain.RoleGuest {
		want = protocol.StateChannelLabel
	}
	if dc.Label() != want {
		m.logger.Warnw("closing unexpected data channel",
			"peer_id", rec.PeerID,
			"label", dc.Label(),
		)
		_ = dc.Close()
		return
	}
	m.bindChannel(rec, dc)
}

func (m *ConnectionManager) bindChannel(rec *ConnectionRecord, dc ports.DataChannel) {
	switch dc.Label() {
	case protocol.StateChannelLabel:
		if rec.stateChannel != nil && rec.stateChannel != dc {
			_ = rec.stateChannel.Close()
		}
		rec.stateChannel = dc
	case protocol.InputChannelLabel:
		if rec.inputChannel != nil && rec.inputChannel != dc {
			_ = rec.inputChannel.Close()
		}
		rec.inputChannel = dc
	default:
		_ = dc.Close()
		return
	}

	dc.OnOpen(func() {
		m.post(rec, func() { m.handleChannelOpen(rec) })
	})
	dc.OnClose(func() {
		m.post(rec, func() {
			m.logger.Infow("data channel closed", "peer_id", rec.PeerID, "label", dc.Label())
			m.Teardown(rec.PeerID, ReasonChannelClosed)
		})
	})

	inbound := (m.cfg.Role == domain.RoleHost && dc.Label() == protocol.InputChannelLabel) ||
		(m.cfg.Role == domain.RoleGuest && dc.Label() == protocol.StateChannelLabel)
	if inbound {
		dc.OnMessage(func(payload []byte) {
			data := append([]byte(nil), payload...)
			m.post(rec, func() { m.handleInbound(rec, data) })
		})
	}

	if dc.IsOpen() {
		m.handleChannelOpen(rec)
	}
}

func (m *ConnectionManager) handleChannelOpen(rec *ConnectionRecord) {
	if rec.State == domain.ConnectionOpen || !rec.channelsOpen() {
		return
	}
	rec.State = domain.ConnectionOpen
	rec.openedAt = m.now()
	if rec.negotiation != nil {
		rec.negotiation.Stop()
		rec.negotiation = nil
	}

	elapsed := rec.openedAt.Sub(rec.createdAt)
	m.metrics.NegotiationCompleted(m.cfg.Role, elapsed)
	tracing.MeasureDuration(rec.ctx, rec.createdAt, "negotiation")
	if rec.span != nil {
		rec.span.End()
		rec.span = nil
	}

	m.logger.Infow("peer connection open",
		"peer_id", rec.PeerID,
		"negotiation_ms", elapsed.Milliseconds(),
	)
	if m.onOpen != nil {
		m.onOpen(rec.PeerID)
	}
}

func (m *ConnectionManager) handleTransportState(rec *ConnectionRecord, s domain.TransportState) {
	m.logger.Infow("peer connection state changed",
		"peer_id", rec.PeerID,
		"connection_state", s,
	)
	if s.Terminal() {
		m.Teardown(rec.PeerID, ReasonTransportClosed)
	}
}

func (m *ConnectionManager) handleInbound(rec *ConnectionRecord, payload []byte) {
	if rec.limiter != nil && !rec.limiter.Allow() {
		rec.droppedInputs++
		m.metrics.InputDropped(rec.PeerID)
		return
	}
	rec.messagesIn++

	switch m.cfg.Role {
	case domain.RoleHost:
		rec.lastInputAt = m.now()
		if m.onInput != nil {
			m.onInput(rec.PeerID, payload)
		}
	case domain.RoleGuest:
		if m.onState != nil {
			m.onState(rec.PeerID, payload)
		}
	}
}

// Broadcast sends payload on every open state channel. A failed send is
// counted and logged; it never stops delivery to the other peers.
func (m *ConnectionManager) Broadcast(payload string) (sent int, failed int) {
	for _, id := range m.sortedIDs() {
		rec := m.records[id]
		dc := rec.stateChannel
		if dc == nil || !dc.IsOpen() {
			continue
		}
		if err := dc.SendText(payload); err != nil {
			rec.sendErrors++
			failed++
			appErr := apperrors.NewSendError("broadcast_state", err).WithContext("peer_id", string(id))
			m.logger.Warnw("state send failed", appErr.LogFields()...)
			continue
		}
		rec.messagesOut++
		sent++
	}
	return sent, failed
}

// SendInput writes payload on the guest's input channel.
func (m *ConnectionManager) SendInput(payload string) error {
	for _, rec := range m.records {
		dc := rec.outbound()
		if dc == nil || !dc.IsOpen() {
			return domain.ErrChannelNotOpen
		}
		if err := dc.SendText(payload); err != nil {
			rec.sendErrors++
			return apperrors.NewSendError("send_input", err).WithContext("peer_id", string(rec.PeerID))
		}
		rec.messagesOut++
		return nil
	}
	return domain.ErrConnectionNotFound
}

// Teardown closes and removes the record for peerID. Unknown ids are a no-op.
func (m *ConnectionManager) Teardown(peerID domain.PeerID, reason string) {
	rec, ok := m.records[peerID]
	if !ok {
		return
	}
	wasOpen := rec.State == domain.ConnectionOpen
	rec.close()
	delete(m.records, peerID)

	m.metrics.ConnectionClosed(m.cfg.Role, reason, wasOpen)
	m.logger.Infow("peer connection torn down",
		"peer_id", peerID,
		"reason", reason,
		"was_open", wasOpen,
	)
	if m.onTeardown != nil {
		m.onTeardown(peerID, reason)
	}
}

// State returns the connection state of peerID.
func (m *ConnectionManager) State(peerID domain.PeerID) (domain.ConnectionState, bool) {
	rec, ok := m.records[peerID]
	if !ok {
		return "", false
	}
	return rec.State, true
}

// Connections returns how many records exist and how many are open.
func (m *ConnectionManager) Connections() (total int, open int) {
	for _, rec := range m.records {
		total++
		if rec.State == domain.ConnectionOpen {
			open++
		}
	}
	return total, open
}

// OpenPeers lists peers whose connection is open, sorted by id.
func (m *ConnectionManager) OpenPeers() []domain.PeerID {
	var ids []domain.PeerID
	for _, id := range m.sortedIDs() {
		if m.records[id].State == domain.ConnectionOpen {
			ids = append(ids, id)
		}
	}
	return ids
}

// Peers returns per-connection diagnostics sorted by peer id.
func (m *ConnectionManager) Peers() []domain.PeerDiagnostics {
	now := m.now()
	out := make([]domain.PeerDiagnostics, 0, len(m.records))
	for _, id := range m.sortedIDs() {
		out = append(out, m.records[id].Diagnostics(now))
	}
	return out
}

func (m *ConnectionManager) sortedIDs() []domain.PeerID {
	ids := make([]domain.PeerID, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close tears down every connection and cancels in-flight signaling calls.
func (m *ConnectionManager) Close() {
	if m.guestUnsub != nil {
		m.guestUnsub()
		m.guestUnsub = nil
	}
	for _, id := range m.sortedIDs() {
		m.Teardown(id, ReasonShutdown)
	}
	m.cancel()
}

// Wait blocks until background signaling calls have returned. It must not
// be called on the event loop.
func (m *ConnectionManager) Wait() {
	m.wg.Wait()
}
