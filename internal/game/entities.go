package game

// Ship is a player's spaceship. Its ID is the owning session's id.
type Ship struct {
	ID       uint8   `json:"id" msgpack:"id"`
	Name     string  `json:"name" msgpack:"name"`
	Position Vec2    `json:"position" msgpack:"position"`
	Velocity Vec2    `json:"velocity" msgpack:"velocity"`
	Rotation float32 `json:"rotation" msgpack:"rotation"` // degrees
	Lives    int     `json:"lives" msgpack:"lives"`
	Score    int     `json:"score" msgpack:"score"`
	Radius   float32 `json:"radius" msgpack:"radius"`
}

// Alive reports whether the ship still takes part in collisions
func (s *Ship) Alive() bool {
	return s.Lives > 0
}

// Bullet is a projectile fired by a ship
type Bullet struct {
	ID       uint32  `json:"id" msgpack:"id"`
	OwnerID  uint8   `json:"owner_id" msgpack:"owner_id"`
	Position Vec2    `json:"position" msgpack:"position"`
	Velocity Vec2    `json:"velocity" msgpack:"velocity"`
	Radius   float32 `json:"radius" msgpack:"radius"`
}

// Asteroid drifts across the playfield, wrapping at the edges
type Asteroid struct {
	Position Vec2    `json:"position" msgpack:"position"`
	Velocity Vec2    `json:"velocity" msgpack:"velocity"`
	Radius   float32 `json:"radius" msgpack:"radius"`
}

// bulletLedger remembers which bullet ids an owner has already fired so
// retransmitted NEW_BULLET requests do not spawn twice. Ids more than window
// below the highest seen id are forgotten and treated as already seen.
type bulletLedger struct {
	seen    map[uint32]struct{}
	highest uint32
	window  uint32
}

func newBulletLedger(window uint32) *bulletLedger {
	return &bulletLedger{seen: make(map[uint32]struct{}), window: window}
}

// record reports whether id is new and remembers it
func (l *bulletLedger) record(id uint32) bool {
	if len(l.seen) > 0 && l.highest >= l.window && id < l.highest-l.window {
		return false
	}
	if _, dup := l.seen[id]; dup {
		return false
	}
	l.seen[id] = struct{}{}

	if id > l.highest {
		l.highest = id
	}
	if len(l.seen) > int(l.window) && l.highest >= l.window {
		floor := l.highest - l.window
		for old := range l.seen {
			if old < floor {
				delete(l.seen, old)
			}
		}
	}
	return true
}
