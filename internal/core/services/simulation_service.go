package services

import (
	"sync"
	"time"

	"duelnet/internal/core/domain"
)

type simEntry struct {
	state *domain.PlayerState
	input domain.InputSnapshot
}

// SimulationRegistry owns the authoritative kinematic state of every player
// in a room and advances it in fixed steps. All accessors return copies.
//
// The mutex makes the per-peer input mailbox overwrite atomic with respect to
// the tick reader.
type SimulationRegistry struct {
	mu      sync.RWMutex
	rect    domain.Rect
	spawns  []domain.SpawnPoint
	players map[domain.PeerID]*simEntry
	order   []domain.PeerID
	// roundRobin picks spawns for overflow slots.
	roundRobin int
	ticks      uint64
}

// NewSimulationRegistry creates a registry for the given play boundary.
func NewSimulationRegistry(rect domain.Rect) *SimulationRegistry {
	return &SimulationRegistry{
		rect:    rect,
		spawns:  domain.SpawnPointsFor(rect, domain.DefaultHalfWidth, domain.DefaultHalfHeight),
		players: make(map[domain.PeerID]*simEntry),
	}
}

// EnsurePlayer creates the player at its slot's spawn when absent. For an
// existing player only the display name is updated; kinematics are kept.
func (r *SimulationRegistry) EnsurePlayer(id domain.PeerID, info domain.PeerInfo) domain.PlayerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.players[id]; exists {
		if info.Name != "" {
			entry.state.Name = info.Name
		}
		return *entry.state
	}

	spawn := r.spawnFor(info.Slot)
	state := &domain.PlayerState{
		ID:         id,
		Slot:       info.Slot,
		Name:       info.Name,
		X:          spawn.X,
		Y:          spawn.Y,
		OnGround:   true,
		Facing:     spawn.Facing,
		HalfWidth:  domain.DefaultHalfWidth,
		HalfHeight: domain.DefaultHalfHeight,
	}
	clampToRect(state, r.rect)

	r.players[id] = &simEntry{state: state}
	r.order = append(r.order, id)
	return *state
}

func (r *SimulationRegistry) spawnFor(slot domain.Slot) domain.SpawnPoint {
	if len(r.spawns) == 0 {
		return domain.SpawnPoint{X: r.rect.X + r.rect.Width/2, Y: r.rect.Bottom(), Facing: 1}
	}
	switch slot {
	case domain.SlotP1:
		return r.spawns[0]
	case domain.SlotP2:
		if len(r.spawns) > 1 {
			return r.spawns[1]
		}
		return r.spawns[0]
	}
	spawn := r.spawns[r.roundRobin%len(r.spawns)]
	r.roundRobin++
	return spawn
}

// SetInput replaces the stored input for id. Unknown ids are ignored and
// reported as false.
func (r *SimulationRegistry) SetInput(id domain.PeerID, input domain.InputSnapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.players[id]
	if !exists {
		return false
	}
	if input.ReceivedAt.IsZero() {
		input.ReceivedAt = time.Now()
	}
	entry.input = input
	return true
}

// Input returns the current input snapshot for id.
func (r *SimulationRegistry) Input(id domain.PeerID) (domain.InputSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.players[id]
	if !exists {
		return domain.InputSnapshot{}, false
	}
	return entry.input, true
}

// FixedStep advances every tracked player by dt seconds, then resolves facing.
func (r *SimulationRegistry) FixedStep(dt float64) {
	if dt <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := make([]*domain.PlayerState, 0, len(r.order))
	for _, id := range r.order {
		entry := r.players[id]
		stepPlayer(entry.state, entry.input, r.rect, dt)
		ordered = append(ordered, entry.state)
	}
	resolveFacing(ordered)
	r.ticks++
}

// StaleInputs lists players whose last input is older than the stale threshold.
func (r *SimulationRegistry) StaleInputs(now time.Time) []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []domain.PeerID
	for _, id := range r.order {
		if r.players[id].input.Stale(now) {
			stale = append(stale, id)
		}
	}
	return stale
}

func (r *SimulationRegistry) GetPlayer(id domain.PeerID) (domain.PlayerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.players[id]
	if !exists {
		return domain.PlayerState{}, false
	}
	return *entry.state, true
}

// GetPlayers returns copies of all players in join order.
func (r *SimulationRegistry) GetPlayers() []domain.PlayerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	players := make([]domain.PlayerState, 0, len(r.order))
	for _, id := range r.order {
		players = append(players, *r.players[id].state)
	}
	return players
}

// RemovePlayer destroys the player's state and input mailbox.
func (r *SimulationRegistry) RemovePlayer(id domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.players[id]; !exists {
		return false
	}
	delete(r.players, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// SetPlayRect replaces the boundary, recomputes spawns and re-clamps every
// player in place.
func (r *SimulationRegistry) SetPlayRect(rect domain.Rect) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rect = rect
	r.spawns = domain.SpawnPointsFor(rect, domain.DefaultHalfWidth, domain.DefaultHalfHeight)
	for _, id := range r.order {
		p := r.players[id].state
		clampToRect(p, rect)
		// a lowered floor leaves grounded players in the air
		if p.Y < domain.BoundsFor(rect, p.HalfWidth, p.HalfHeight).Floor {
			p.OnGround = false
		}
	}
}

func (r *SimulationRegistry) PlayRect() domain.Rect {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rect
}

func (r *SimulationRegistry) SpawnPoints() []domain.SpawnPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.SpawnPoint(nil), r.spawns...)
}

func (r *SimulationRegistry) Ticks() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ticks
}
