package webrtc

import (
	"errors"
	"sync"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
)

type fakeDataChannel struct {
	mu      sync.Mutex
	label   string
	open    bool
	closed  bool
	sent    []string
	sendErr error
	onOpen  func()
	onClose func()
	onMsg   func([]byte)
}

func newFakeDataChannel(label string) *fakeDataChannel {
	return &fakeDataChannel{label: label}
}

func (d *fakeDataChannel) Label() string { return d.label }

func (d *fakeDataChannel) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open && !d.closed
}

func (d *fakeDataChannel) SendText(payload string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return d.sendErr
	}
	if !d.open || d.closed {
		return errors.New("channel not open")
	}
	d.sent = append(d.sent, payload)
	return nil
}

func (d *fakeDataChannel) OnOpen(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOpen = fn
}

func (d *fakeDataChannel) OnClose(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClose = fn
}

func (d *fakeDataChannel) OnMessage(fn func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMsg = fn
}

func (d *fakeDataChannel) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// fireOpen marks the channel open and runs the open handler.
func (d *fakeDataChannel) fireOpen() {
	d.mu.Lock()
	d.open = true
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *fakeDataChannel) fireClose() {
	d.mu.Lock()
	d.open = false
	fn := d.onClose
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *fakeDataChannel) deliver(payload string) {
	d.mu.Lock()
	fn := d.onMsg
	d.mu.Unlock()
	if fn != nil {
		fn([]byte(payload))
	}
}

func (d *fakeDataChannel) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDataChannel) sentMessages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

type fakePeerConnection struct {
	mu          sync.Mutex
	channels    []*fakeDataChannel
	local       []domain.SessionDescription
	remote      []domain.SessionDescription
	candidates  []domain.ICECandidate
	closed      bool
	onCandidate func(domain.ICECandidate)
	onChannel   func(ports.DataChannel)
	onState     func(domain.TransportState)
	remoteErr   error
}

func (p *fakePeerConnection) CreateDataChannel(label string) (ports.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dc := newFakeDataChannel(label)
	p.channels = append(p.channels, dc)
	return dc, nil
}

func (p *fakePeerConnection) CreateOffer() (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeerConnection) CreateAnswer() (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeerConnection) SetLocalDescription(desc domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = append(p.local, desc)
	return nil
}

func (p *fakePeerConnection) SetRemoteDescription(desc domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.remote = append(p.remote, desc)
	return nil
}

func (p *fakePeerConnection) AddICECandidate(c domain.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeerConnection) OnICECandidate(fn func(domain.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *fakePeerConnection) OnDataChannel(fn func(ports.DataChannel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChannel = fn
}

func (p *fakePeerConnection) OnConnectionStateChange(fn func(domain.TransportState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeerConnection) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeerConnection) emitCandidate(c domain.ICECandidate) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	fn(c)
}

func (p *fakePeerConnection) emitChannel(dc ports.DataChannel) {
	p.mu.Lock()
	fn := p.onChannel
	p.mu.Unlock()
	fn(dc)
}

func (p *fakePeerConnection) emitState(s domain.TransportState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeerConnection) channel(label string) *fakeDataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, dc := range p.channels {
		if dc.label == label {
			return dc
		}
	}
	return nil
}

func (p *fakePeerConnection) remoteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.remote)
}

func (p *fakePeerConnection) appliedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.candidates))
	for _, c := range p.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

func (p *fakePeerConnection) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeFactory struct {
	mu        sync.Mutex
	pcs       []*fakePeerConnection
	remoteErr error
	newErr    error
}

func (f *fakeFactory) NewPeerConnection() (ports.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	pc := &fakePeerConnection{remoteErr: f.remoteErr}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs)
}

func (f *fakeFactory) pc(i int) *fakePeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pcs[i]
}
