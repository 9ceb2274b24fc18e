package gameclient

import (
	"math"
	"time"

	"duelnet/internal/core/domain"
)

// Bot walks back and forth and throws a punch, a kick and a jump on fixed
// periods. Its output depends only on the elapsed time since Start.
type Bot struct {
	Start       time.Time
	WalkPeriod  time.Duration
	PunchPeriod time.Duration
	KickPeriod  time.Duration
	JumpPeriod  time.Duration

	lastPunch int64
	lastKick  int64
	lastJump  int64
}

func NewBot(start time.Time) *Bot {
	return &Bot{
		Start:       start,
		WalkPeriod:  4 * time.Second,
		PunchPeriod: 1500 * time.Millisecond,
		KickPeriod:  2500 * time.Millisecond,
		JumpPeriod:  3 * time.Second,
	}
}

// Input is not safe for concurrent use; the Client serialises calls.
func (b *Bot) Input(_ domain.Slot, now time.Time) domain.LocalInput {
	elapsed := now.Sub(b.Start)
	if elapsed < 0 {
		elapsed = 0
	}

	var in domain.LocalInput
	if b.WalkPeriod > 0 {
		phase := 2 * math.Pi * float64(elapsed) / float64(b.WalkPeriod)
		in.MoveX = math.Round(math.Sin(phase)*100) / 100
	}
	in.PunchPressed = edge(elapsed, b.PunchPeriod, &b.lastPunch)
	in.KickPressed = edge(elapsed, b.KickPeriod, &b.lastKick)
	if edge(elapsed, b.JumpPeriod, &b.lastJump) {
		if in.MoveX < 0 {
			in.JumpBack = true
		} else {
			in.JumpForward = true
		}
	}
	return in
}

// edge reports true once per completed period.
func edge(elapsed, period time.Duration, last *int64) bool {
	if period <= 0 {
		return false
	}
	n := int64(elapsed / period)
	if n <= *last {
		return false
	}
	*last = n
	return true
}
