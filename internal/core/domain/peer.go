package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type PeerID string
type RoomID string

// Slot is the fixed logical seat a peer occupies in a room. The host is
// always p1.
type Slot string

const (
	SlotP1 Slot = "p1"
	SlotP2 Slot = "p2"
)

// SlotFor returns the slot for a 1-based seat index.
func SlotFor(index int) Slot {
	return Slot(fmt.Sprintf("p%d", index))
}

// Index returns the 1-based seat index of s, or 0 when s is malformed.
func (s Slot) Index() int {
	if !strings.HasPrefix(string(s), "p") {
		return 0
	}
	n, err := strconv.Atoi(string(s[1:]))
	if err != nil || n < 1 {
		return 0
	}
	return n
}

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// PeerInfo carries the mutable display fields of a player.
type PeerInfo struct {
	Slot Slot
	Name string
}

// MemberDocument is the lobby presence entry a peer writes when it joins a room.
type MemberDocument struct {
	PeerID   PeerID    `json:"peerId"`
	Name     string    `json:"name,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ConnectionState is the lifecycle of a single remote peer connection.
type ConnectionState string

const (
	ConnectionCreated     ConnectionState = "created"
	ConnectionNegotiating ConnectionState = "negotiating"
	ConnectionOpen        ConnectionState = "open"
	ConnectionClosed      ConnectionState = "closed"
)

// TransportState mirrors the underlying peer connection state.
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Terminal reports whether the transport can no longer carry traffic.
func (s TransportState) Terminal() bool {
	return s == TransportFailed || s == TransportClosed
}
