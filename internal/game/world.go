package game

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMatchInProgress is returned when an operation needs the Idle phase
	ErrMatchInProgress = errors.New("match in progress")

	// ErrNotRunning is returned for gameplay input outside a running match
	ErrNotRunning = errors.New("match not running")

	// ErrUnknownShip is returned when no ship belongs to the session id
	ErrUnknownShip = errors.New("unknown ship")

	// ErrShipExists is returned when a session id already owns a ship
	ErrShipExists = errors.New("ship already exists")

	// ErrShipDestroyed is returned when a ship with no lives left tries to fire
	ErrShipDestroyed = errors.New("ship has no lives left")
)

// Phase is the match lifecycle state
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseEnding
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseEnding:
		return "ending"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// Config holds the playfield and gameplay tuning
type Config struct {
	Width         float32
	Height        float32
	StartLives    int
	ShipRadius    float32
	BulletRadius  float32
	Spawn         Vec2
	SpawnRotation float32
	MatchDuration time.Duration
	MaxTickDelta  time.Duration

	AsteroidSpawnInterval time.Duration
	MaxAsteroids          int
	AsteroidMinRadius     float32
	AsteroidMaxRadius     float32
	AsteroidMinSpeed      float32
	AsteroidMaxSpeed      float32

	BulletDedupWindow uint32
	MaxPacketSize     int
}

// World is the single authoritative snapshot of the arena. Every exported
// method takes the world lock; callers holding the session table lock may call
// in, never the other way around.
type World struct {
	cfg    Config
	logger *slog.Logger
	rng    *rand.Rand

	mu        sync.Mutex
	phase     Phase
	ships     []*Ship // ordered by id
	bullets   []*Bullet
	asteroids []*Asteroid
	ledgers   map[uint8]*bulletLedger

	matchID     uuid.UUID
	startedAt   time.Time
	lastUpdated time.Time
	nextSpawnAt time.Time
	ticks       uint64
}

// NewWorld creates an idle world
func NewWorld(cfg Config, logger *slog.Logger) *World {
	return &World{
		cfg:         cfg,
		logger:      logger,
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		ledgers:     make(map[uint8]*bulletLedger),
		lastUpdated: time.Now(),
	}
}

// Config returns the world's tuning
func (w *World) Config() Config {
	return w.cfg
}

// Phase returns the current match phase
func (w *World) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// AddShip creates a ship at the spawn pose for a newly admitted session.
// Ships can only join between matches.
func (w *World) AddShip(id uint8, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase != PhaseIdle {
		return fmt.Errorf("%w: phase is %s", ErrMatchInProgress, w.phase)
	}
	if w.findShip(id) != nil {
		return fmt.Errorf("%w: %d", ErrShipExists, id)
	}

	ship := &Ship{ID: id, Name: name, Radius: w.cfg.ShipRadius}
	w.resetShip(ship)
	ship.Lives = w.cfg.StartLives

	w.ships = append(w.ships, ship)
	sort.Slice(w.ships, func(i, j int) bool { return w.ships[i].ID < w.ships[j].ID })
	w.ledgers[id] = newBulletLedger(w.cfg.BulletDedupWindow)

	return nil
}

// RemoveShip deletes the ship and every bullet it owns
func (w *World) RemoveShip(id uint8) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := false
	ships := w.ships[:0]
	for _, s := range w.ships {
		if s.ID == id {
			removed = true
			continue
		}
		ships = append(ships, s)
	}
	clearTail(w.ships, len(ships))
	w.ships = ships

	bullets := w.bullets[:0]
	for _, b := range w.bullets {
		if b.OwnerID != id {
			bullets = append(bullets, b)
		}
	}
	clearTail(w.bullets, len(bullets))
	w.bullets = bullets

	delete(w.ledgers, id)
	return removed
}

// SteerShip applies a client's velocity and heading. Unknown ships and ships
// without lives are ignored.
func (w *World) SteerShip(id uint8, velocity Vec2, rotation float32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	ship := w.findShip(id)
	if ship == nil || !ship.Alive() {
		return false
	}
	ship.Velocity = velocity
	ship.Rotation = rotation
	return true
}

// FireBullet spawns a bullet for owner unless bulletID was already used.
// created is false for a retransmitted request.
func (w *World) FireBullet(owner uint8, bulletID uint32, pos, vel Vec2) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase != PhaseRunning {
		return false, ErrNotRunning
	}
	ship := w.findShip(owner)
	if ship == nil {
		return false, fmt.Errorf("%w: %d", ErrUnknownShip, owner)
	}

	ledger := w.ledgers[owner]
	if !ledger.record(bulletID) {
		return false, nil
	}
	if !ship.Alive() {
		return false, ErrShipDestroyed
	}

	w.bullets = append(w.bullets, &Bullet{
		ID:       bulletID,
		OwnerID:  owner,
		Position: pos,
		Velocity: vel,
		Radius:   w.cfg.BulletRadius,
	})
	return true, nil
}

// Status summarizes the world for the admin API
type Status struct {
	Phase     string        `json:"phase"`
	MatchID   string        `json:"match_id,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
	Ships     int           `json:"ships"`
	Bullets   int           `json:"bullets"`
	Asteroids int           `json:"asteroids"`
	Ticks     uint64        `json:"ticks"`
}

// Status returns a summary of the current match
func (w *World) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := Status{
		Phase:     w.phase.String(),
		Ships:     len(w.ships),
		Bullets:   len(w.bullets),
		Asteroids: len(w.asteroids),
		Ticks:     w.ticks,
	}
	if w.phase != PhaseIdle {
		status.MatchID = w.matchID.String()
		status.StartedAt = w.startedAt
		status.Elapsed = w.lastUpdated.Sub(w.startedAt)
		if remaining := w.cfg.MatchDuration - status.Elapsed; remaining > 0 {
			status.Remaining = remaining
		}
	}
	return status
}

// Snapshot is a deep copy of the world's entities
type Snapshot struct {
	Phase       string     `json:"phase" msgpack:"phase"`
	MatchID     string     `json:"match_id,omitempty" msgpack:"match_id,omitempty"`
	Ships       []Ship     `json:"ships" msgpack:"ships"`
	Bullets     []Bullet   `json:"bullets" msgpack:"bullets"`
	Asteroids   []Asteroid `json:"asteroids" msgpack:"asteroids"`
	LastUpdated time.Time  `json:"last_updated" msgpack:"last_updated"`
}

// Snapshot copies every entity out of the world
func (w *World) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{
		Phase:       w.phase.String(),
		Ships:       make([]Ship, 0, len(w.ships)),
		Bullets:     make([]Bullet, 0, len(w.bullets)),
		Asteroids:   make([]Asteroid, 0, len(w.asteroids)),
		LastUpdated: w.lastUpdated,
	}
	if w.phase != PhaseIdle {
		snap.MatchID = w.matchID.String()
	}
	for _, s := range w.ships {
		snap.Ships = append(snap.Ships, *s)
	}
	for _, b := range w.bullets {
		snap.Bullets = append(snap.Bullets, *b)
	}
	for _, a := range w.asteroids {
		snap.Asteroids = append(snap.Asteroids, *a)
	}
	return snap
}

func (w *World) findShip(id uint8) *Ship {
	for _, s := range w.ships {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// resetShip puts the ship back on the spawn pose at rest
func (w *World) resetShip(s *Ship) {
	s.Position = w.cfg.Spawn
	s.Velocity = Vec2{}
	s.Rotation = w.cfg.SpawnRotation
}

// clearTail nils out the slots past n so filtered-out entities can be collected
func clearTail[T any](s []*T, n int) {
	for i := n; i < len(s); i++ {
		s[i] = nil
	}
}
