package game

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	minValueMicros = int64(25_000) * MicrosPerDollar
	maxValueMicros = int64(500_000_000) * MicrosPerDollar

	minOccupancyBps = int32(7_000)
	maxOccupancyBps = int32(10_000)
	occupancyJitter = 150 // bps, either direction, per month
)

type AccrualSummary struct {
	WorldID        int64
	Properties     int
	Months         int
	RentPaidMicros int64
}

type RevalSummary struct {
	WorldID    int64
	Properties int
	Months     int
}

// AccrueRents settles every whole game month of rent that has elapsed since
// each property's cursor, at most MaxMonthsPerPass months per property per
// call. One month of one property is one transaction: the UNIQUE
// (property, holder, period) index on rent_payments makes a replayed month a
// hard conflict instead of a double credit, and the cursor only advances in
// the same transaction that wrote the payouts.
func (s *Service) AccrueRents(ctx context.Context, worldID int64) (AccrualSummary, error) {
	sum := AccrualSummary{WorldID: worldID}
	clock, err := loadWorldClock(ctx, s.db, worldID)
	if err != nil {
		return sum, err
	}
	if clock.Status != WorldActive {
		return sum, nil
	}
	gameNow := clock.GameNow(time.Now().UTC())

	ids, err := s.propertiesBehind(ctx, worldID, "rent_paid_through", gameNow)
	if err != nil {
		return sum, err
	}
	for _, id := range ids {
		months, paid, err := s.accruePropertyRent(ctx, id, gameNow)
		if err != nil {
			if isSerializationError(err) {
				continue
			}
			s.log.Error("rent accrual failed", "property_id", id, "err", err)
			continue
		}
		if months > 0 {
			sum.Properties++
			sum.Months += months
			sum.RentPaidMicros += paid
		}
	}
	return sum, nil
}

func (s *Service) propertiesBehind(ctx context.Context, worldID int64, cursorCol string, gameNow time.Time) ([]int64, error) {
	query := `
		SELECT id
		FROM game.properties
		WHERE world_id = $1 AND status <> 'retired' AND ` + cursorCol + ` < $2
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query, worldID, monthStart(gameNow))
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

func (s *Service) accruePropertyRent(ctx context.Context, propertyID int64, gameNow time.Time) (int, int64, error) {
	months := 0
	var paidTotal int64
	for months < MaxMonthsPerPass {
		advanced, paid, err := s.accrueOneMonth(ctx, propertyID, gameNow)
		if err != nil {
			return months, paidTotal, err
		}
		if !advanced {
			break
		}
		months++
		paidTotal += paid
	}
	return months, paidTotal, nil
}

func (s *Service) accrueOneMonth(ctx context.Context, propertyID int64, gameNow time.Time) (bool, int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback(ctx)

	var worldID, valueMicros, totalUnits int64
	var yieldBps, occBps int32
	var cursor time.Time
	if err := tx.QueryRow(ctx, `
		SELECT world_id, value_micros, total_units, gross_yield_bps, occupancy_bps, rent_paid_through
		FROM game.properties
		WHERE id = $1
		FOR UPDATE
	`, propertyID).Scan(&worldID, &valueMicros, &totalUnits, &yieldBps, &occBps, &cursor); err != nil {
		if err == pgx.ErrNoRows {
			return false, 0, nil
		}
		return false, 0, err
	}

	due := dueMonths(cursor, gameNow, 1)
	if len(due) == 0 {
		return false, 0, nil
	}
	period := due[0]
	net := monthlyNetRentMicros(valueMicros, yieldBps, occBps)

	type holder struct {
		userID string
		units  int64
	}
	rows, err := tx.Query(ctx, `
		SELECT user_id, units
		FROM game.holdings
		WHERE property_id = $1
		ORDER BY user_id
	`, propertyID)
	if err != nil {
		return false, 0, err
	}
	var holders []holder
	var units []int64
	for rows.Next() {
		var h holder
		if err := rows.Scan(&h.userID, &h.units); err != nil {
			rows.Close()
			return false, 0, err
		}
		holders = append(holders, h)
		units = append(units, h.units)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, 0, err
	}

	amounts, _ := splitRent(net, totalUnits, units)

	var paid int64
	lines := make([]ledgerLine, 0, len(holders)+1)
	for i, h := range holders {
		if amounts[i] <= 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.rent_payments (property_id, world_id, user_id, period, units, amount_micros)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, propertyID, worldID, h.userID, period, h.units, amounts[i]); err != nil {
			return false, 0, err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE game.wallets
			SET balance_micros = balance_micros + $1, updated_at = now()
			WHERE user_id = $2 AND world_id = $3
		`, amounts[i], h.userID, worldID); err != nil {
			return false, 0, err
		}
		paid += amounts[i]
		lines = append(lines, ledgerLine{UserID: h.userID, Account: "wallet", Delta: amounts[i]})
	}
	if paid > 0 {
		lines = append(lines, ledgerLine{Account: "bank", Delta: -paid})
		if err := appendLedgerGroup(ctx, tx, worldID, "rent",
			map[string]any{"property_id": propertyID, "period": period.Format("2006-01")},
			lines...,
		); err != nil {
			return false, 0, err
		}
	}

	// Occupancy drifts a little each month within the operating band.
	nextOcc := occBps + int32(s.nextIntn(2*occupancyJitter+1)-occupancyJitter)
	if nextOcc < minOccupancyBps {
		nextOcc = minOccupancyBps
	}
	if nextOcc > maxOccupancyBps {
		nextOcc = maxOccupancyBps
	}

	if _, err := tx.Exec(ctx, `
		UPDATE game.properties
		SET rent_paid_through = $1, occupancy_bps = $2, updated_at = now()
		WHERE id = $3
	`, addMonths(period, 1), nextOcc, propertyID); err != nil {
		return false, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, 0, err
	}
	return true, paid, nil
}

// RevalueProperties walks each property's value forward one game month at a
// time: base appreciation plus world regime drift, bounded noise, shocks, and
// reversion toward the slowly drifting anchor.
func (s *Service) RevalueProperties(ctx context.Context, worldID int64, mood string) (RevalSummary, error) {
	sum := RevalSummary{WorldID: worldID}
	clock, err := loadWorldClock(ctx, s.db, worldID)
	if err != nil {
		return sum, err
	}
	if clock.Status != WorldActive {
		return sum, nil
	}
	gameNow := clock.GameNow(time.Now().UTC())
	dyn := marketMood(mood)

	ids, err := s.propertiesBehind(ctx, worldID, "valued_through", gameNow)
	if err != nil {
		return sum, err
	}
	for _, id := range ids {
		months := 0
		for months < MaxMonthsPerPass {
			advanced, err := s.revalueOneMonth(ctx, id, gameNow, clock.Regime, dyn)
			if err != nil {
				if isSerializationError(err) {
					break
				}
				s.log.Error("revaluation failed", "property_id", id, "err", err)
				break
			}
			if !advanced {
				break
			}
			months++
		}
		if months > 0 {
			sum.Properties++
			sum.Months += months
		}
	}
	return sum, nil
}

func (s *Service) revalueOneMonth(ctx context.Context, propertyID int64, gameNow time.Time, regime string, dyn marketDynamics) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var value, anchor int64
	var apprBps int32
	var cursor time.Time
	if err := tx.QueryRow(ctx, `
		SELECT value_micros, anchor_value_micros, base_appreciation_bps, valued_through
		FROM game.properties
		WHERE id = $1
		FOR UPDATE
	`, propertyID).Scan(&value, &anchor, &apprBps, &cursor); err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	due := dueMonths(cursor, gameNow, 1)
	if len(due) == 0 {
		return false, nil
	}
	period := due[0]

	baseMonthly := float64(apprBps) / 10_000 / 12

	anchorRet := baseMonthly + 0.30*regimeDrift(regime) + dyn.AnchorNoiseScale*normalish(s.nextFloat())
	nextAnchor := evolveValue(anchor, anchorRet, dyn.MaxDropPerMonth)
	nextAnchor = clampValue(nextAnchor)

	ret := baseMonthly + regimeDrift(regime) + dyn.NoiseScale*normalish(s.nextFloat()) + meanReversion(value, anchor, dyn.MeanReversion)
	if s.nextFloat() < dyn.ShockProb {
		ret += signedShock(s.nextFloat(), s.nextFloat(), dyn.ShockScale)
	}
	next := clampValue(evolveValue(value, ret, dyn.MaxDropPerMonth))

	if _, err := tx.Exec(ctx, `
		INSERT INTO game.valuations (property_id, month, value_micros)
		VALUES ($1, $2, $3)
		ON CONFLICT (property_id, month) DO NOTHING
	`, propertyID, period, next); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE game.properties
		SET value_micros = $1, anchor_value_micros = $2, valued_through = $3, updated_at = now()
		WHERE id = $4
	`, next, nextAnchor, addMonths(period, 1), propertyID); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func clampValue(v int64) int64 {
	if v < minValueMicros {
		return minValueMicros
	}
	if v > maxValueMicros {
		return maxValueMicros
	}
	return v
}

// UpdateRegime occasionally flips the world's market regime. Returns the
// regime in force after the roll and whether it changed.
func (s *Service) UpdateRegime(ctx context.Context, worldID int64, mood string) (string, bool, error) {
	clock, err := loadWorldClock(ctx, s.db, worldID)
	if err != nil {
		return "", false, err
	}
	if clock.Status != WorldActive {
		return clock.Regime, false, nil
	}
	dyn := marketMood(mood)
	if s.nextFloat() >= dyn.RegimeSwitchProb {
		return clock.Regime, false, nil
	}
	next := randomRegime(s.nextFloat())
	if next == clock.Regime {
		return clock.Regime, false, nil
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE game.worlds SET regime = $1, updated_at = now() WHERE id = $2
	`, next, worldID); err != nil {
		return clock.Regime, false, err
	}
	s.log.Info("market regime changed", "world_id", worldID, "from", clock.Regime, "to", next)
	return next, true, nil
}
