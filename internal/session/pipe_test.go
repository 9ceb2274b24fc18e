package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"duelnet/internal/core/domain"
	"duelnet/internal/core/ports"
)

// pipeNet is an in-process PeerConnectionFactory. Connections find each
// other through the "pipe:<id>" SDP they exchange over signaling; once both
// sides have local and remote descriptions, locally created channels appear
// on the remote side and every channel opens.
type pipeNet struct {
	linkMu sync.Mutex
	mu     sync.Mutex
	nextID int
	pcs    map[string]*pipePC
}

func newPipeNet() *pipeNet {
	return &pipeNet{pcs: make(map[string]*pipePC)}
}

func (n *pipeNet) NewPeerConnection() (ports.PeerConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	pc := &pipePC{net: n, id: fmt.Sprintf("%d", n.nextID)}
	n.pcs[pc.id] = pc
	return pc, nil
}

func (n *pipeNet) lookup(sdp string) (*pipePC, error) {
	id := strings.TrimPrefix(sdp, "pipe:")
	n.mu.Lock()
	defer n.mu.Unlock()
	pc, ok := n.pcs[id]
	if !ok || id == sdp {
		return nil, errors.New("unknown pipe description")
	}
	return pc, nil
}

type pipePC struct {
	net *pipeNet
	id  string

	mu          sync.Mutex
	local       bool
	remote      bool
	peer        *pipePC
	linked      bool
	closed      bool
	channels    []*pipeChannel
	onCandidate func(domain.ICECandidate)
	onChannel   func(ports.DataChannel)
	onState     func(domain.TransportState)
}

func (p *pipePC) CreateDataChannel(label string) (ports.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dc := &pipeChannel{label: label}
	p.channels = append(p.channels, dc)
	return dc, nil
}

func (p *pipePC) CreateOffer() (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "offer", SDP: "pipe:" + p.id}, nil
}

func (p *pipePC) CreateAnswer() (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "answer", SDP: "pipe:" + p.id}, nil
}

func (p *pipePC) SetLocalDescription(domain.SessionDescription) error {
	p.mu.Lock()
	p.local = true
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		go fn(domain.ICECandidate{Candidate: "candidate:pipe " + p.id})
	}
	p.tryLink()
	return nil
}

func (p *pipePC) SetRemoteDescription(desc domain.SessionDescription) error {
	peer, err := p.net.lookup(desc.SDP)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.remote = true
	p.peer = peer
	p.mu.Unlock()
	p.tryLink()
	return nil
}

func (p *pipePC) ready() (*pipePC, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer, p.local && p.remote && !p.linked && !p.closed
}

func (p *pipePC) tryLink() {
	p.net.linkMu.Lock()
	defer p.net.linkMu.Unlock()
	peer, ok := p.ready()
	if !ok || peer == nil {
		return
	}
	if _, peerReady := peer.ready(); !peerReady {
		return
	}
	p.mu.Lock()
	p.linked = true
	mine := append([]*pipeChannel(nil), p.channels...)
	p.mu.Unlock()
	peer.mu.Lock()
	peer.linked = true
	theirs := append([]*pipeChannel(nil), peer.channels...)
	peer.mu.Unlock()

	go func() {
		for _, dc := range mine {
			peer.deliver(dc)
		}
		for _, dc := range theirs {
			p.deliver(dc)
		}
	}()
}

// deliver creates the remote twin of local, hands it to p and opens both.
func (p *pipePC) deliver(local *pipeChannel) {
	twin := &pipeChannel{label: local.label}
	twin.peer, local.peer = local, twin

	p.mu.Lock()
	p.channels = append(p.channels, twin)
	fn := p.onChannel
	p.mu.Unlock()

	twin.setOpen()
	if fn != nil {
		fn(twin)
	}
	local.fireOpen()
	twin.fireOpen()
}

func (p *pipePC) AddICECandidate(domain.ICECandidate) error { return nil }

func (p *pipePC) OnICECandidate(fn func(domain.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *pipePC) OnDataChannel(fn func(ports.DataChannel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChannel = fn
}

func (p *pipePC) OnConnectionStateChange(fn func(domain.TransportState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

// Close closes p's channels and reports the transport closed on the far side.
func (p *pipePC) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	peer := p.peer
	channels := append([]*pipeChannel(nil), p.channels...)
	p.mu.Unlock()

	for _, dc := range channels {
		_ = dc.Close()
	}
	if peer != nil {
		go peer.remoteClosed()
	}
	return nil
}

func (p *pipePC) remoteClosed() {
	p.mu.Lock()
	fn := p.onState
	closed := p.closed
	p.mu.Unlock()
	if fn != nil && !closed {
		fn(domain.TransportClosed)
	}
}

type pipeChannel struct {
	label string

	mu      sync.Mutex
	open    bool
	closed  bool
	peer    *pipeChannel
	onOpen  func()
	onClose func()
	onMsg   func([]byte)
}

func (d *pipeChannel) Label() string { return d.label }

func (d *pipeChannel) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open && !d.closed
}

func (d *pipeChannel) SendText(payload string) error {
	d.mu.Lock()
	peer := d.peer
	ok := d.open && !d.closed
	d.mu.Unlock()
	if !ok || peer == nil {
		return errors.New("pipe channel not open")
	}
	peer.mu.Lock()
	fn := peer.onMsg
	peer.mu.Unlock()
	if fn != nil {
		fn([]byte(payload))
	}
	return nil
}

func (d *pipeChannel) OnOpen(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOpen = fn
}

func (d *pipeChannel) OnClose(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClose = fn
}

func (d *pipeChannel) OnMessage(fn func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMsg = fn
}

func (d *pipeChannel) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *pipeChannel) setOpen() {
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
}

func (d *pipeChannel) fireOpen() {
	d.mu.Lock()
	d.open = true
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil && !d.isClosed() {
		fn()
	}
}

func (d *pipeChannel) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
