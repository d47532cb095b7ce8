package game

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// worldClock is the authoritative clock state of one world. Game time is
// derived, never stored as a running counter: while the world is active,
// GameNow = game_anchor + (real - real_anchor) * time_scale. Pausing or
// changing the scale re-anchors both sides so game time stays continuous.
type worldClock struct {
	WorldID    int64
	Status     string
	Regime     string
	TimeScale  float64
	RealAnchor time.Time
	GameAnchor time.Time
}

// Clamp so scaled elapsed time can never overflow time.Duration even at
// MaxTimeScale after years of uptime.
const maxGameLeapSeconds = float64(250 * 365 * 24 * 3600)

func (c worldClock) GameNow(realNow time.Time) time.Time {
	if c.Status != WorldActive {
		return c.GameAnchor
	}
	elapsed := realNow.Sub(c.RealAnchor).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	gameSeconds := elapsed * c.TimeScale
	if gameSeconds > maxGameLeapSeconds {
		gameSeconds = maxGameLeapSeconds
	}
	return c.GameAnchor.Add(time.Duration(gameSeconds * float64(time.Second)))
}

// GameDays converts a span of game days into a game-time duration.
func GameDays(days float64) time.Duration {
	return time.Duration(days * 24 * float64(time.Hour))
}

// monthStart truncates a game instant to the first of its month, UTC.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func addMonths(t time.Time, n int) time.Time {
	return monthStart(t).AddDate(0, n, 0)
}

// dueMonths lists month starts from the cursor whose full month has elapsed
// by gameNow, capped. The cursor is the first instant not yet settled.
func dueMonths(cursor, gameNow time.Time, cap int) []time.Time {
	var out []time.Time
	m := monthStart(cursor)
	for len(out) < cap && !addMonths(m, 1).After(gameNow) {
		out = append(out, m)
		m = addMonths(m, 1)
	}
	return out
}

func loadWorldClock(ctx context.Context, q pgxQuerier, worldID int64) (worldClock, error) {
	var c worldClock
	err := q.QueryRow(ctx, `
		SELECT id, status, regime, time_scale, real_anchor, game_anchor
		FROM game.worlds
		WHERE id = $1
	`, worldID).Scan(&c.WorldID, &c.Status, &c.Regime, &c.TimeScale, &c.RealAnchor, &c.GameAnchor)
	if err == pgx.ErrNoRows {
		return c, ErrWorldNotFound
	}
	return c, err
}

// WorldIDs lists the worlds a scheduler pass should visit. Paused worlds are
// included so their state is still readable; retired worlds are done.
func (s *Service) WorldIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM game.worlds WHERE status IN ('active', 'paused') ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Service) Clock(ctx context.Context, worldID int64) (ClockView, error) {
	c, err := loadWorldClock(ctx, s.db, worldID)
	if err != nil {
		return ClockView{}, err
	}
	now := time.Now().UTC()
	return ClockView{
		WorldID:   c.WorldID,
		Status:    c.Status,
		Regime:    c.Regime,
		TimeScale: c.TimeScale,
		RealNow:   now,
		GameNow:   c.GameNow(now),
	}, nil
}

// SetClock pauses, resumes, or rescales a world. Every change re-anchors at
// the current game instant so derived game time never jumps or rewinds.
func (s *Service) SetClock(ctx context.Context, worldID int64, in ClockInput) (ClockView, error) {
	var out ClockView
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return out, err
	}
	defer tx.Rollback(ctx)

	var c worldClock
	err = tx.QueryRow(ctx, `
		SELECT id, status, regime, time_scale, real_anchor, game_anchor
		FROM game.worlds
		WHERE id = $1
		FOR UPDATE
	`, worldID).Scan(&c.WorldID, &c.Status, &c.Regime, &c.TimeScale, &c.RealAnchor, &c.GameAnchor)
	if err != nil {
		if err == pgx.ErrNoRows {
			return out, ErrWorldNotFound
		}
		return out, err
	}

	now := time.Now().UTC()
	gameNow := c.GameNow(now)

	switch in.Action {
	case "pause":
		c.Status = WorldPaused
	case "resume":
		c.Status = WorldActive
	case "scale":
		if err := ValidateTimeScale(in.TimeScale); err != nil {
			return out, err
		}
		c.TimeScale = in.TimeScale
	default:
		return out, ErrInvalidClockAction
	}
	c.RealAnchor = now
	c.GameAnchor = gameNow

	if _, err := tx.Exec(ctx, `
		UPDATE game.worlds
		SET status = $1, time_scale = $2, real_anchor = $3, game_anchor = $4, updated_at = now()
		WHERE id = $5
	`, c.Status, c.TimeScale, c.RealAnchor, c.GameAnchor, worldID); err != nil {
		return out, err
	}
	if err := tx.Commit(ctx); err != nil {
		return out, err
	}

	s.log.Info("clock updated", "world_id", worldID, "action", in.Action, "status", c.Status, "time_scale", c.TimeScale)
	return ClockView{
		WorldID:   c.WorldID,
		Status:    c.Status,
		Regime:    c.Regime,
		TimeScale: c.TimeScale,
		RealNow:   now,
		GameNow:   gameNow,
	}, nil
}
