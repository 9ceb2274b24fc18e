package ports

import (
	"context"

	"duelnet/internal/core/domain"
)

// SignalingChannel publishes and subscribes session descriptions and ICE
// candidates for one room.
type SignalingChannel interface {
	LocalID() domain.PeerID
	PublishOffer(ctx context.Context, peerID domain.PeerID, offer domain.SessionDescription) error
	PublishAnswer(ctx context.Context, peerID domain.PeerID, answer domain.SessionDescription) error
	PublishCandidate(ctx context.Context, peerID domain.PeerID, candidate domain.ICECandidate, fromID domain.PeerID) error
	SubscribeToSession(ctx context.Context, peerID domain.PeerID, onUpdate func(domain.SessionDocument)) (Unsubscribe, error)
	SubscribeToCandidates(ctx context.Context, peerID domain.PeerID, onAdded func(domain.CandidateDocument)) (Unsubscribe, error)

	JoinRoom(ctx context.Context, member domain.MemberDocument) error
	LeaveRoom(ctx context.Context, peerID domain.PeerID) error
	SubscribeToMembers(ctx context.Context, onJoin func(domain.MemberDocument), onLeave func(domain.PeerID)) (Unsubscribe, error)
}

// DataChannel is a reliable ordered text channel to a remote peer.
type DataChannel interface {
	Label() string
	IsOpen() bool
	SendText(payload string) error
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(payload []byte))
	Close() error
}

// PeerConnection is the subset of a WebRTC peer connection the connection
// manager drives.
type PeerConnection interface {
	CreateDataChannel(label string) (DataChannel, error)
	CreateOffer() (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetLocalDescription(desc domain.SessionDescription) error
	SetRemoteDescription(desc domain.SessionDescription) error
	AddICECandidate(candidate domain.ICECandidate) error
	OnICECandidate(fn func(candidate domain.ICECandidate))
	OnDataChannel(fn func(dc DataChannel))
	OnConnectionStateChange(fn func(state domain.TransportState))
	Close() error
}

type PeerConnectionFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// InputSource is the game client's view of local controls.
type InputSource interface {
	GetPlayerInput(slot domain.Slot) domain.LocalInput
	// ClearNetworkMomentaryFlags clears one-shot press edges after they were sent.
	ClearNetworkMomentaryFlags(slot domain.Slot)
}

// FighterSource feeds the host broadcast builder.
type FighterSource interface {
	GetFighterSnapshots() []domain.FighterSnapshot
}

// RemoteRenderer receives decoded state on guests.
type RemoteRenderer interface {
	RenderRemotePlayers(players []domain.RemotePlayer)
}

// HostHooks are host-only notifications into the game client.
type HostHooks interface {
	OnPeerInput(peerID domain.PeerID, snapshot domain.InputSnapshot)
	OnNetPeerJoined(peerID domain.PeerID, meta domain.PeerInfo)
	OnNetPeerLeft(peerID domain.PeerID)
}

// DiagnosticsSink is an optional read-only telemetry consumer.
type DiagnosticsSink interface {
	UpdateNetDiagOverlay(diagnostics domain.Diagnostics)
}
