package webrtc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
	"duelnet/pkg/eventloop"
)

// ConnectionRecord is the state of one remote peer connection. It is owned
// by the ConnectionManager and only touched on the event loop.
type ConnectionRecord struct {
	PeerID domain.PeerID
	Role   domain.Role
	State  domain.ConnectionState

	// signalKey names the session document: always the guest's peer id.
	signalKey domain.PeerID

	pc ports.PeerConnection
	// stateChannel carries host→guest snapshots, inputChannel guest→host input.
	stateChannel ports.DataChannel
	inputChannel ports.DataChannel

	seenCandidates    map[string]struct{}
	pendingCandidates []domain.ICECandidate
	remoteApplied     bool
	answerApplied     bool

	timers       []*eventloop.Timer
	negotiation  *eventloop.Timer
	unsubscribes []ports.Unsubscribe

	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span

	createdAt   time.Time
	openedAt    time.Time
	lastInputAt time.Time

	messagesIn    uint64
	messagesOut   uint64
	sendErrors    uint64
	droppedInputs uint64

	closed bool
}

func newConnectionRecord(peerID, signalKey domain.PeerID, role domain.Role, pc ports.PeerConnection, now time.Time) *ConnectionRecord {
	return &ConnectionRecord{
		PeerID:         peerID,
		Role:           role,
		State:          domain.ConnectionCreated,
		signalKey:      signalKey,
		pc:             pc,
		seenCandidates: make(map[string]struct{}),
		createdAt:      now,
	}
}

// markSeen records a candidate document id and reports whether it is new.
func (r *ConnectionRecord) markSeen(id string) bool {
	if _, ok := r.seenCandidates[id]; ok {
		return false
	}
	r.seenCandidates[id] = struct{}{}
	return true
}

func (r *ConnectionRecord) queueCandidate(c domain.ICECandidate) {
	r.pendingCandidates = append(r.pendingCandidates, c)
}

func (r *ConnectionRecord) takePending() []domain.ICECandidate {
	pending := r.pendingCandidates
	r.pendingCandidates = nil
	return pending
}

func (r *ConnectionRecord) addTimer(t *eventloop.Timer) {
	if r.closed {
		t.Stop()
		return
	}
	r.timers = append(r.timers, t)
}

func (r *ConnectionRecord) addUnsubscribe(u ports.Unsubscribe) {
	if u == nil {
		return
	}
	if r.closed {
		u()
		return
	}
	r.unsubscribes = append(r.unsubscribes, u)
}

// outbound is the channel this side writes to.
func (r *ConnectionRecord) outbound() ports.DataChannel {
	if r.Role == domain.RoleHost {
		return r.stateChannel
	}
	return r.inputChannel
}

// channelsOpen reports whether both directions are bound and open.
func (r *ConnectionRecord) channelsOpen() bool {
	return r.stateChannel != nil && r.stateChannel.IsOpen() &&
		r.inputChannel != nil && r.inputChannel.IsOpen()
}

// Diagnostics returns the per-connection counters.
func (r *ConnectionRecord) Diagnostics(now time.Time) domain.PeerDiagnostics {
	d := domain.PeerDiagnostics{
		PeerID:        r.PeerID,
		State:         r.State,
		MessagesIn:    r.messagesIn,
		MessagesOut:   r.messagesOut,
		SendErrors:    r.sendErrors,
		DroppedInputs: r.droppedInputs,
	}
	if !r.lastInputAt.IsZero() {
		age := now.Sub(r.lastInputAt)
		d.LastInputAgeMs = age.Milliseconds()
		d.InputStale = age > domain.StaleInputThreshold
	}
	return d
}

// close releases everything the record owns. Timers go first so none can
// fire against a half-closed record.
func (r *ConnectionRecord) close() {
	if r.closed {
		return
	}
	r.closed = true
	r.State = domain.ConnectionClosed

	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
	r.negotiation = nil

	if r.stateChannel != nil {
		_ = r.stateChannel.Close()
	}
	if r.inputChannel != nil {
		_ = r.inputChannel.Close()
	}
	if r.pc != nil {
		_ = r.pc.Close()
	}

	for _, u := range r.unsubscribes {
		u()
	}
	r.unsubscribes = nil
	r.pendingCandidates = nil

	if r.cancel != nil {
		r.cancel()
	}
	if r.span != nil {
		r.span.End()
	}
}
