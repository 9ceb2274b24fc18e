package domain

import "time"

// PeerDiagnostics are per-connection counters.
type PeerDiagnostics struct {
	PeerID         PeerID          `json:"peerId"`
	Slot           Slot            `json:"slot,omitempty"`
	State          ConnectionState `json:"state"`
	MessagesIn     uint64          `json:"messagesIn"`
	MessagesOut    uint64          `json:"messagesOut"`
	SendErrors     uint64          `json:"sendErrors"`
	DroppedInputs  uint64          `json:"droppedInputs"`
	LastInputAgeMs int64           `json:"lastInputAgeMs"`
	InputStale     bool            `json:"inputStale"`
}

// Diagnostics is the read-only telemetry snapshot handed to overlays.
type Diagnostics struct {
	Role            Role              `json:"role"`
	RoomID          RoomID            `json:"roomId"`
	LocalPeerID     PeerID            `json:"localPeerId"`
	Connections     int               `json:"connections"`
	OpenConnections int               `json:"openConnections"`
	InRate          float64           `json:"inRate"`
	OutRate         float64           `json:"outRate"`
	DecodeErrors    uint64            `json:"decodeErrors"`
	SendErrors      uint64            `json:"sendErrors"`
	StaleInputs     int               `json:"staleInputs"`
	LastStateAgeMs  int64             `json:"lastStateAgeMs"`
	Ticks           uint64            `json:"ticks"`
	Peers           []PeerDiagnostics `json:"peers,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}
