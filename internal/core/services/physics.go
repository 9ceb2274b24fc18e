package services

import (
	"math"

	"duelnet/internal/core/domain"
)

// Movement constants. Changing any of these breaks behaviour parity with
// existing clients.
const (
	Speed    = 220.0
	Accel    = 1200.0
	Friction = 1600.0
	JumpV    = 560.0
	Gravity  = 2200.0

	// jumpImpulseFactor scales Speed into the horizontal kick of a directed jump.
	jumpImpulseFactor = 0.35
)

// stepPlayer advances one player by dt seconds. Facing is resolved
// separately once every player has moved.
func stepPlayer(p *domain.PlayerState, in domain.InputSnapshot, rect domain.Rect, dt float64) {
	target := clampUnit(in.MoveX) * Speed

	switch {
	case p.VX < target:
		p.VX = math.Min(p.VX+Accel*dt, target)
	case p.VX > target:
		p.VX = math.Max(p.VX-Accel*dt, target)
	case target == 0 && p.OnGround:
		p.VX = approachZero(p.VX, Friction*dt)
	}

	if in.JumpDir != 0 && p.OnGround {
		p.VY = -JumpV
		p.OnGround = false
		p.VX += float64(sign(in.JumpDir)) * Speed * jumpImpulseFactor
	}

	p.X += p.VX * dt
	p.VY += Gravity * dt
	p.Y += p.VY * dt

	clampToRect(p, rect)
}

// clampToRect keeps the body inside rect and settles ground contact.
func clampToRect(p *domain.PlayerState, rect domain.Rect) {
	b := domain.BoundsFor(rect, p.HalfWidth, p.HalfHeight)

	if p.X < b.MinX {
		p.X = b.MinX
		if p.VX < 0 {
			p.VX = 0
		}
	} else if p.X > b.MaxX {
		p.X = b.MaxX
		if p.VX > 0 {
			p.VX = 0
		}
	}

	switch {
	case p.Y >= b.Floor:
		p.Y = b.Floor
		if p.VY > 0 {
			p.VY = 0
		}
		p.OnGround = true
	case p.Y < b.MinY:
		p.Y = b.MinY
		if p.VY < 0 {
			p.VY = 0
		}
		if p.VY != 0 {
			p.OnGround = false
		}
	default:
		if p.VY != 0 {
			p.OnGround = false
		}
	}
}

// resolveFacing points every player at its nearest other player. Ties go to
// the earlier player in players; a zero horizontal offset keeps the old facing.
func resolveFacing(players []*domain.PlayerState) {
	if len(players) < 2 {
		return
	}
	facings := make([]int, len(players))
	for i, p := range players {
		facings[i] = p.Facing
		best := -1
		bestDist := math.Inf(1)
		for j, other := range players {
			if i == j {
				continue
			}
			d := math.Hypot(other.X-p.X, other.Y-p.Y)
			if d < bestDist {
				bestDist = d
				best = j
			}
		}
		if best < 0 {
			continue
		}
		if dx := players[best].X - p.X; dx > 0 {
			facings[i] = 1
		} else if dx < 0 {
			facings[i] = -1
		}
	}
	for i, p := range players {
		p.Facing = facings[i]
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

func approachZero(v, step float64) float64 {
	if v > 0 {
		return math.Max(v-step, 0)
	}
	return math.Min(v+step, 0)
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
