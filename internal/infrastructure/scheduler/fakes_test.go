package scheduler

import (
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"duelnet/internal/core/domain"
)

type fakeConnections struct {
	mu         sync.Mutex
	broadcasts []string
	inputs     []string
	sendErr    error
	failed     int
	open       int
	peers      []domain.PeerDiagnostics
}

func (f *fakeConnections) Broadcast(payload string) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, payload)
	return f.open, f.failed
}

func (f *fakeConnections) SendInput(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.inputs = append(f.inputs, payload)
	return nil
}

func (f *fakeConnections) Connections() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open + f.failed, f.open
}

func (f *fakeConnections) Peers() []domain.PeerDiagnostics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PeerDiagnostics(nil), f.peers...)
}

func (f *fakeConnections) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

type fakeInput struct {
	mu      sync.Mutex
	inputs  map[domain.Slot]domain.LocalInput
	cleared map[domain.Slot]int
}

func newFakeInput() *fakeInput {
	return &fakeInput{
		inputs:  make(map[domain.Slot]domain.LocalInput),
		cleared: make(map[domain.Slot]int),
	}
}

func (f *fakeInput) set(slot domain.Slot, in domain.LocalInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[slot] = in
}

func (f *fakeInput) GetPlayerInput(slot domain.Slot) domain.LocalInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[slot]
}

func (f *fakeInput) ClearNetworkMomentaryFlags(slot domain.Slot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared[slot]++
	in := f.inputs[slot]
	in.PunchPressed = false
	in.KickPressed = false
	f.inputs[slot] = in
}

func (f *fakeInput) clearedCount(slot domain.Slot) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared[slot]
}

type fakeFighters []domain.FighterSnapshot

func (f fakeFighters) GetFighterSnapshots() []domain.FighterSnapshot { return f }

type fakeRenderer struct {
	frames [][]domain.RemotePlayer
}

func (r *fakeRenderer) RenderRemotePlayers(players []domain.RemotePlayer) {
	r.frames = append(r.frames, players)
}

type fakeSink struct {
	mu    sync.Mutex
	diags []domain.Diagnostics
}

func (s *fakeSink) UpdateNetDiagOverlay(d domain.Diagnostics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diags = append(s.diags, d)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.diags)
}

type mockHooks struct {
	mock.Mock
}

func (m *mockHooks) OnPeerInput(peerID domain.PeerID, snapshot domain.InputSnapshot) {
	m.Called(peerID, snapshot)
}

func (m *mockHooks) OnNetPeerJoined(peerID domain.PeerID, meta domain.PeerInfo) {
	m.Called(peerID, meta)
}

func (m *mockHooks) OnNetPeerLeft(peerID domain.PeerID) {
	m.Called(peerID)
}

var errBufferFull = errors.New("buffer full")
