package domain

import "time"

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// ICECandidate mirrors the browser RTCIceCandidateInit shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SessionDocument is the per-guest signaling document. Host and guest each
// merge their own fields into it.
type SessionDocument struct {
	From      PeerID              `json:"from,omitempty"`
	To        PeerID              `json:"to,omitempty"`
	Offer     *SessionDescription `json:"offer,omitempty"`
	Answer    *SessionDescription `json:"answer,omitempty"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// CandidateDocument is one entry of the append-only candidates subcollection.
type CandidateDocument struct {
	ID        string       `json:"-"`
	From      PeerID       `json:"from"`
	Candidate ICECandidate `json:"candidate"`
	CreatedAt time.Time    `json:"createdAt"`
}
