package domain

import "time"

// Default body half extents.
const (
	DefaultHalfWidth  = 14.0
	DefaultHalfHeight = 32.0
)

// PlayerState is the authoritative kinematic state the host owns for each
// connected peer.
type PlayerState struct {
	ID         PeerID
	Slot       Slot
	Name       string
	X          float64
	Y          float64
	VX         float64
	VY         float64
	OnGround   bool
	Facing     int
	HalfWidth  float64
	HalfHeight float64
}

// StaleInputThreshold is the age after which an input snapshot is flagged
// stale. Stale input keeps being applied.
const StaleInputThreshold = 1500 * time.Millisecond

// InputSnapshot is the latest control input received for a peer.
type InputSnapshot struct {
	MoveX   float64
	JumpDir int
	Crouch  bool
	Punch   bool
	Kick    bool

	SentAt     time.Time
	Seq        int64
	ReceivedAt time.Time
}

// Stale reports whether the snapshot is older than StaleInputThreshold.
func (in InputSnapshot) Stale(now time.Time) bool {
	if in.ReceivedAt.IsZero() {
		return false
	}
	return now.Sub(in.ReceivedAt) > StaleInputThreshold
}

// LocalInput is what the game client reports for a local player.
type LocalInput struct {
	MoveX        float64
	Crouch       bool
	JumpUp       bool
	JumpForward  bool
	JumpBack     bool
	PunchPressed bool
	KickPressed  bool
}

// JumpDir collapses the three jump buttons into a direction. Back wins over
// forward; an upward jump is sent as forward.
func (in LocalInput) JumpDir() int {
	switch {
	case in.JumpBack:
		return -1
	case in.JumpForward, in.JumpUp:
		return 1
	default:
		return 0
	}
}

// Snapshot converts local input into the snapshot shape the simulation reads.
func (in LocalInput) Snapshot(now time.Time, seq int64) InputSnapshot {
	return InputSnapshot{
		MoveX:      in.MoveX,
		JumpDir:    in.JumpDir(),
		Crouch:     in.Crouch,
		Punch:      in.PunchPressed,
		Kick:       in.KickPressed,
		SentAt:     now,
		Seq:        seq,
		ReceivedAt: now,
	}
}

// FighterSnapshot is what the host game client reports per occupied slot.
type FighterSnapshot struct {
	Slot Slot
	X    float64
	Y    float64
	HP   float64
}

// RemotePlayer is one entry of a decoded state broadcast.
type RemotePlayer struct {
	ID   PeerID
	Name string
	X    float64
	Y    float64
	HP   float64
}
