package game

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Outcome describes how a match ended
type Outcome struct {
	MatchID     uuid.UUID      `json:"match_id"`
	HasWinner   bool           `json:"has_winner"`
	WinnerID    uint8          `json:"winner_id"`
	WinnerName  string         `json:"winner_name"`
	WinnerScore int            `json:"winner_score"`
	Duration    time.Duration  `json:"duration"`
	Ships       []ShipStanding `json:"ships"`
}

// ShipStanding is a ship's final tally
type ShipStanding struct {
	ID    uint8  `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
	Lives int    `json:"lives"`
}

// StartMatch moves an idle world into a fresh running match: bullets and
// asteroids are cleared and every ship respawns with full lives and no score.
func (w *World) StartMatch(now time.Time) (uuid.UUID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase != PhaseIdle {
		return uuid.Nil, fmt.Errorf("%w: phase is %s", ErrMatchInProgress, w.phase)
	}

	clearTail(w.bullets, 0)
	w.bullets = w.bullets[:0]
	clearTail(w.asteroids, 0)
	w.asteroids = w.asteroids[:0]

	for _, s := range w.ships {
		w.resetShip(s)
		s.Lives = w.cfg.StartLives
		s.Score = 0
		w.ledgers[s.ID] = newBulletLedger(w.cfg.BulletDedupWindow)
	}

	w.matchID = uuid.New()
	w.startedAt = now
	w.lastUpdated = now
	w.nextSpawnAt = now.Add(w.cfg.AsteroidSpawnInterval)
	w.ticks = 0
	w.phase = PhaseRunning

	w.logger.Info("Match started",
		slog.String("match_id", w.matchID.String()),
		slog.Int("ships", len(w.ships)),
		slog.Duration("duration", w.cfg.MatchDuration),
	)

	return w.matchID, nil
}

// FinishMatch returns an ending match to Idle. It reports false if the world
// was not ending.
func (w *World) FinishMatch() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase != PhaseEnding {
		return false
	}

	clearTail(w.bullets, 0)
	w.bullets = w.bullets[:0]
	clearTail(w.asteroids, 0)
	w.asteroids = w.asteroids[:0]
	w.phase = PhaseIdle

	w.logger.Info("Match finished", slog.String("match_id", w.matchID.String()))
	return true
}

// matchOverLocked reports whether time ran out or no ship has lives left
func (w *World) matchOverLocked(now time.Time) bool {
	if now.Sub(w.startedAt) >= w.cfg.MatchDuration {
		return true
	}
	for _, s := range w.ships {
		if s.Alive() {
			return false
		}
	}
	return true
}

// outcomeLocked picks the winner: the highest score, ties going to the lowest
// id. With nobody scoring the first ship wins; with no ships nobody does.
func (w *World) outcomeLocked(now time.Time) Outcome {
	outcome := Outcome{
		MatchID:  w.matchID,
		Duration: now.Sub(w.startedAt),
		Ships:    make([]ShipStanding, 0, len(w.ships)),
	}

	var winner *Ship
	for _, s := range w.ships {
		outcome.Ships = append(outcome.Ships, ShipStanding{ID: s.ID, Name: s.Name, Score: s.Score, Lives: s.Lives})
		if winner == nil || s.Score > winner.Score {
			winner = s
		}
	}

	if winner != nil {
		outcome.HasWinner = true
		outcome.WinnerID = winner.ID
		outcome.WinnerName = winner.Name
		outcome.WinnerScore = winner.Score
	}
	return outcome
}
