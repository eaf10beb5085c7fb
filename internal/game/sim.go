package game

import (
	"log/slog"
	"math"
	"time"

	"github.com/chillingspace/CSD2161-A4/internal/protocol"
)

// TickResult is what one simulation step produced
type TickResult struct {
	Broadcast []byte   // encoded ALL_ENTITIES, nil outside a running match
	Outcome   *Outcome // set on the tick that ended the match
	Stats     TickStats
}

// TickStats counts what happened during a tick
type TickStats struct {
	Ships              int
	Bullets            int
	Asteroids          int
	AsteroidsSpawned   int
	AsteroidsDestroyed int
	ShipHits           int
	BulletsExpired     int
}

// Tick advances the world to now. Outside the Running phase it only records
// the time so the first running tick does not see a huge delta.
func (w *World) Tick(now time.Time) TickResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	dt := now.Sub(w.lastUpdated)
	w.lastUpdated = now
	if dt < 0 {
		dt = 0
	}
	if dt > w.cfg.MaxTickDelta {
		dt = w.cfg.MaxTickDelta
	}

	var result TickResult
	if w.phase != PhaseRunning {
		return result
	}
	w.ticks++

	w.integrate(float32(dt.Seconds()), &result.Stats)
	w.spawnAsteroid(now, &result.Stats)
	w.resolveCollisions(&result.Stats)

	result.Broadcast = w.encodeLocked()
	result.Stats.Ships = len(w.ships)
	result.Stats.Bullets = len(w.bullets)
	result.Stats.Asteroids = len(w.asteroids)

	if w.matchOverLocked(now) {
		outcome := w.outcomeLocked(now)
		w.phase = PhaseEnding
		result.Outcome = &outcome
	}

	return result
}

// integrate moves every entity by velocity*dt, wraps ships and asteroids and
// drops bullets that left the playfield
func (w *World) integrate(dt float32, stats *TickStats) {
	width, height := w.cfg.Width, w.cfg.Height

	for _, s := range w.ships {
		s.Position = wrap(s.Position.Add(s.Velocity.Scale(dt)), width, height)
	}
	for _, a := range w.asteroids {
		a.Position = wrap(a.Position.Add(a.Velocity.Scale(dt)), width, height)
	}

	bullets := w.bullets[:0]
	for _, b := range w.bullets {
		b.Position = b.Position.Add(b.Velocity.Scale(dt))
		if !inBounds(b.Position, width, height) {
			stats.BulletsExpired++
			continue
		}
		bullets = append(bullets, b)
	}
	clearTail(w.bullets, len(bullets))
	w.bullets = bullets
}

// spawnAsteroid adds one asteroid once the spawn deadline has passed. The
// deadline runs on the clock, not on the capped integration step.
func (w *World) spawnAsteroid(now time.Time, stats *TickStats) {
	if now.Before(w.nextSpawnAt) || len(w.asteroids) >= w.cfg.MaxAsteroids {
		return
	}
	w.nextSpawnAt = now.Add(w.cfg.AsteroidSpawnInterval)
	w.asteroids = append(w.asteroids, w.newAsteroid())
	stats.AsteroidsSpawned++
}

// newAsteroid places an asteroid on a random edge heading roughly inward
func (w *World) newAsteroid() *Asteroid {
	width, height := float64(w.cfg.Width), float64(w.cfg.Height)
	rf := w.rng.Float64

	var x, y, heading float64
	switch w.rng.IntN(4) {
	case 0: // left
		x, y, heading = 0, rf()*height, 0
	case 1: // right
		x, y, heading = width, rf()*height, math.Pi
	case 2: // top
		x, y, heading = rf()*width, 0, math.Pi/2
	default: // bottom
		x, y, heading = rf()*width, height, -math.Pi/2
	}
	heading += (rf() - 0.5) * math.Pi / 2 // +-45 degrees

	minSpeed, maxSpeed := float64(w.cfg.AsteroidMinSpeed), float64(w.cfg.AsteroidMaxSpeed)
	speed := minSpeed + rf()*(maxSpeed-minSpeed)

	minR, maxR := float64(w.cfg.AsteroidMinRadius), float64(w.cfg.AsteroidMaxRadius)
	radius := minR + rf()*(maxR-minR)

	return &Asteroid{
		Position: Vec2{X: float32(x), Y: float32(y)},
		Velocity: Vec2{X: float32(math.Cos(heading) * speed), Y: float32(math.Sin(heading) * speed)},
		Radius:   float32(radius),
	}
}

// resolveCollisions checks each asteroid against bullets first, then living
// ships. An asteroid is consumed by the first thing it hits.
func (w *World) resolveCollisions(stats *TickStats) {
	survivors := w.asteroids[:0]

	for _, a := range w.asteroids {
		if w.hitByBullet(a) {
			stats.AsteroidsDestroyed++
			continue
		}
		if w.hitShip(a) {
			stats.ShipHits++
			continue
		}
		survivors = append(survivors, a)
	}

	clearTail(w.asteroids, len(survivors))
	w.asteroids = survivors
}

func (w *World) hitByBullet(a *Asteroid) bool {
	for i, b := range w.bullets {
		if !circlesOverlap(a.Position, a.Radius, b.Position, b.Radius) {
			continue
		}
		if owner := w.findShip(b.OwnerID); owner != nil {
			owner.Score++
		}
		last := len(w.bullets) - 1
		copy(w.bullets[i:], w.bullets[i+1:])
		w.bullets[last] = nil
		w.bullets = w.bullets[:last]
		return true
	}
	return false
}

func (w *World) hitShip(a *Asteroid) bool {
	for _, s := range w.ships {
		if !s.Alive() || !circlesOverlap(a.Position, a.Radius, s.Position, s.Radius) {
			continue
		}
		s.Lives--
		w.resetShip(s)
		return true
	}
	return false
}

// encodeLocked builds the ALL_ENTITIES datagram. Ships and asteroids are always
// included; bullets are trimmed to whatever still fits in one datagram.
func (w *World) encodeLocked() []byte {
	msg := protocol.AllEntities{
		Ships:     make([]protocol.ShipState, 0, len(w.ships)),
		Asteroids: make([]protocol.AsteroidState, 0, len(w.asteroids)),
	}
	for _, s := range w.ships {
		msg.Ships = append(msg.Ships, protocol.ShipState{
			SessionID: s.ID,
			X:         s.Position.X,
			Y:         s.Position.Y,
			Rotation:  s.Rotation,
			Lives:     s.Lives,
			Score:     s.Score,
		})
	}
	for _, a := range w.asteroids {
		if len(msg.Asteroids) == protocol.MaxRecords {
			break
		}
		msg.Asteroids = append(msg.Asteroids, protocol.AsteroidState{
			X: a.Position.X, Y: a.Position.Y, Radius: a.Radius,
		})
	}

	room := protocol.MaxRecords
	if w.cfg.MaxPacketSize > 0 {
		if fit := (w.cfg.MaxPacketSize - msg.Size()) / protocol.BulletRecordSize; fit < room {
			room = fit
		}
	}
	if room < 0 {
		room = 0
	}
	n := len(w.bullets)
	if n > room {
		n = room
	}
	msg.Bullets = make([]protocol.BulletState, 0, n)
	for _, b := range w.bullets[:n] {
		msg.Bullets = append(msg.Bullets, protocol.BulletState{
			OwnerID: b.OwnerID, X: b.Position.X, Y: b.Position.Y,
		})
	}

	data, err := msg.Encode()
	if err != nil {
		w.logger.Error("Failed to encode world snapshot", slog.String("error", err.Error()))
		return nil
	}
	return data
}
