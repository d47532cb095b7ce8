package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	mathrand "math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var handleRE = regexp.MustCompile(`^[a-zA-Z0-9_]{3,24}$`)

var blockedHandleFragments = []string{
	"admin",
	"mod",
	"support",
	"shit",
	"fuck",
	"bitch",
	"nazi",
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Service struct {
	db   *pgxpool.Pool
	log  *slog.Logger
	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewService(db *pgxpool.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:   db,
		log:  logger,
		rand: mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Service) ActiveWorldID(ctx context.Context) (int64, error) {
	var worldID int64
	err := s.db.QueryRow(ctx, `
		SELECT id
		FROM game.worlds
		WHERE status IN ('active', 'paused')
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&worldID)
	if err == nil {
		return worldID, nil
	}
	if err != pgx.ErrNoRows {
		return 0, err
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO game.worlds (name, status, regime, time_scale, real_anchor, game_anchor)
		VALUES ($1, 'active', 'balanced', $2, now(), now())
		RETURNING id
	`, "World 1", DefaultTimeScale).Scan(&worldID)
	if err != nil {
		return 0, err
	}
	return worldID, nil
}

func (s *Service) EnsurePlayer(ctx context.Context, userID, email, handle string) error {
	worldID, err := s.ActiveWorldID(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(handle) == "" {
		handle = handleFromEmail(email)
	}
	handle = strings.TrimSpace(handle)
	if !handleRE.MatchString(handle) {
		handle = sanitizeHandle(handleFromEmail(email))
	}
	if err := validateHandle(handle); err != nil {
		handle = sanitizeHandle(handleFromEmail(email))
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users.profiles (user_id, email, handle, is_bot)
		VALUES ($1, $2, $3, false)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, email, handle)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO game.wallets (user_id, world_id, balance_micros, peak_net_worth_micros)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id, world_id) DO NOTHING
	`, userID, worldID, StarterBalanceMicros)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) Dashboard(ctx context.Context, userID string, worldID int64) (Dashboard, error) {
	var out Dashboard
	out.WorldID = worldID

	clock, err := loadWorldClock(ctx, s.db, worldID)
	if err != nil {
		return out, err
	}
	out.TimeScale = clock.TimeScale
	out.GameNow = clock.GameNow(time.Now().UTC())

	err = s.db.QueryRow(ctx, `
		SELECT balance_micros, peak_net_worth_micros
		FROM game.wallets
		WHERE user_id = $1 AND world_id = $2
	`, userID, worldID).Scan(&out.BalanceMicros, &out.PeakNetWorthMicros)
	if err != nil {
		return out, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.address, p.class, h.units, h.avg_price_micros, p.value_micros, p.total_units
		FROM game.holdings h
		JOIN game.properties p ON p.id = h.property_id
		WHERE h.user_id = $1 AND h.world_id = $2
		ORDER BY p.address
	`, userID, worldID)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	var holdingsValue int64
	for rows.Next() {
		var h HoldingView
		var valueMicros, totalUnits int64
		if err := rows.Scan(&h.PropertyID, &h.Address, &h.Class, &h.Units, &h.AvgPriceMicros, &valueMicros, &totalUnits); err != nil {
			return out, err
		}
		h.SharePriceMicros, err = sharePriceMicros(valueMicros, totalUnits)
		if err != nil {
			return out, err
		}
		h.MarketValueMicros, err = notionalMicros(h.SharePriceMicros, h.Units)
		if err != nil {
			return out, err
		}
		costValue, err := notionalMicros(h.AvgPriceMicros, h.Units)
		if err != nil {
			return out, err
		}
		h.UnrealizedMicros = h.MarketValueMicros - costValue
		holdingsValue += h.MarketValueMicros
		out.Holdings = append(out.Holdings, h)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	eRows, err := s.db.Query(ctx, `
		SELECT e.id, e.property_id, p.address, e.units, e.state, e.hold_micros, e.opened_at, e.deadline_at, e.note
		FROM game.escrows e
		JOIN game.properties p ON p.id = e.property_id
		WHERE e.buyer_user_id = $1 AND e.world_id = $2
		  AND e.state IN ('inspection', 'approval', 'closing')
		ORDER BY e.id
	`, userID, worldID)
	if err != nil {
		return out, err
	}
	defer eRows.Close()

	var held int64
	for eRows.Next() {
		var v EscrowView
		if err := eRows.Scan(&v.ID, &v.PropertyID, &v.Address, &v.Units, &v.State, &v.HoldMicros, &v.OpenedAt, &v.DeadlineAt, &v.Note); err != nil {
			return out, err
		}
		held += v.HoldMicros
		out.OpenEscrows = append(out.OpenEscrows, v)
	}
	if err := eRows.Err(); err != nil {
		return out, err
	}

	out.HoldingsValueMicros = holdingsValue
	out.EscrowHeldMicros = held
	out.NetWorthMicros = out.BalanceMicros + holdingsValue + held
	return out, nil
}

func (s *Service) ListProperties(ctx context.Context, worldID int64, includeUnlisted bool) ([]PropertyView, error) {
	query := `
		SELECT p.id, p.address, p.class, p.status, p.value_micros, p.total_units,
		       p.gross_yield_bps, p.occupancy_bps,
		       p.total_units
		       - COALESCE((SELECT SUM(h.units) FROM game.holdings h WHERE h.property_id = p.id), 0)
		       - COALESCE((SELECT SUM(e.units) FROM game.escrows e
		                   WHERE e.property_id = p.id AND e.state IN ('inspection', 'approval', 'closing')), 0)
		FROM game.properties p
		WHERE p.world_id = $1
	`
	if !includeUnlisted {
		query += " AND p.status = 'listed'"
	}
	query += " ORDER BY p.id"
	rows, err := s.db.Query(ctx, query, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PropertyView
	for rows.Next() {
		var v PropertyView
		if err := rows.Scan(&v.ID, &v.Address, &v.Class, &v.Status, &v.ValueMicros, &v.TotalUnits, &v.GrossYieldBps, &v.OccupancyBps, &v.UnitsAvailable); err != nil {
			return nil, err
		}
		v.SharePriceMicros, err = sharePriceMicros(v.ValueMicros, v.TotalUnits)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Service) PropertyDetail(ctx context.Context, worldID, propertyID int64) (PropertyDetail, error) {
	var out PropertyDetail
	err := s.db.QueryRow(ctx, `
		SELECT p.id, p.address, p.class, p.status, p.value_micros, p.total_units,
		       p.gross_yield_bps, p.occupancy_bps,
		       p.total_units
		       - COALESCE((SELECT SUM(h.units) FROM game.holdings h WHERE h.property_id = p.id), 0)
		       - COALESCE((SELECT SUM(e.units) FROM game.escrows e
		                   WHERE e.property_id = p.id AND e.state IN ('inspection', 'approval', 'closing')), 0)
		FROM game.properties p
		WHERE p.world_id = $1 AND p.id = $2
	`, worldID, propertyID).Scan(&out.ID, &out.Address, &out.Class, &out.Status, &out.ValueMicros, &out.TotalUnits,
		&out.GrossYieldBps, &out.OccupancyBps, &out.UnitsAvailable)
	if err != nil {
		if err == pgx.ErrNoRows {
			return out, ErrPropertyNotFound
		}
		return out, err
	}
	out.SharePriceMicros, err = sharePriceMicros(out.ValueMicros, out.TotalUnits)
	if err != nil {
		return out, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT month, value_micros
		FROM game.valuations
		WHERE property_id = $1
		ORDER BY month DESC
		LIMIT 64
	`, propertyID)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var p ValuationPoint
		if err := rows.Scan(&p.Month, &p.ValueMicros); err != nil {
			return out, err
		}
		out.Valuations = append(out.Valuations, p)
	}
	return out, rows.Err()
}

// Invest reserves units of a property and opens an escrow on them. Funds move
// wallet -> escrow hold in the same transaction that creates the escrow row,
// so a crash can never leave money and reservation out of step.
func (s *Service) Invest(ctx context.Context, in InvestInput) (InvestResult, error) {
	var out InvestResult
	if in.Units <= 0 {
		return out, fmt.Errorf("units must be > 0")
	}

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return out, err
		}
		err = func() error {
			defer tx.Rollback(ctx)

			if err := claimIdempotency(ctx, tx, in.UserID, in.IdempotencyKey, "invest"); err != nil {
				return err
			}

			var status string
			var valueMicros, totalUnits int64
			if err := tx.QueryRow(ctx, `
				SELECT status, value_micros, total_units
				FROM game.properties
				WHERE world_id = $1 AND id = $2
				FOR UPDATE
			`, in.WorldID, in.PropertyID).Scan(&status, &valueMicros, &totalUnits); err != nil {
				if err == pgx.ErrNoRows {
					return ErrPropertyNotFound
				}
				return err
			}
			if status == PropertyRetired {
				return ErrPropertyRetired
			}

			available, err := availableUnitsTx(ctx, tx, in.PropertyID, totalUnits)
			if err != nil {
				return err
			}
			if in.Units > available {
				return fmt.Errorf("%w: %.4f shares available", ErrUnitsUnavailable, UnitsToShares(available))
			}

			price, err := sharePriceMicros(valueMicros, totalUnits)
			if err != nil {
				return err
			}
			hold, err := notionalMicros(price, in.Units)
			if err != nil {
				return err
			}

			var balance int64
			if err := tx.QueryRow(ctx, `
				SELECT balance_micros
				FROM game.wallets
				WHERE user_id = $1 AND world_id = $2
				FOR UPDATE
			`, in.UserID, in.WorldID).Scan(&balance); err != nil {
				return err
			}
			if balance < hold {
				maxUnits := mulDiv(balance, UnitsPerShare, price)
				return fmt.Errorf("%w: max buy %.4f shares at %.2f per share", ErrInsufficientFunds, UnitsToShares(maxUnits), MicrosToDollars(price))
			}
			balance -= hold
			if _, err := tx.Exec(ctx, `
				UPDATE game.wallets
				SET balance_micros = $1, updated_at = now()
				WHERE user_id = $2 AND world_id = $3
			`, balance, in.UserID, in.WorldID); err != nil {
				return err
			}

			clock, err := loadWorldClock(ctx, tx, in.WorldID)
			if err != nil {
				return err
			}
			gameNow := clock.GameNow(time.Now().UTC())
			deadline := gameNow.Add(GameDays(InspectionGameDays))

			err = tx.QueryRow(ctx, `
				INSERT INTO game.escrows
				    (world_id, buyer_user_id, property_id, units, price_micros, hold_micros, state, opened_at, deadline_at)
				VALUES
				    ($1, $2, $3, $4, $5, $6, 'inspection', $7, $8)
				RETURNING id
			`, in.WorldID, in.UserID, in.PropertyID, in.Units, price, hold, gameNow, deadline).Scan(&out.EscrowID)
			if err != nil {
				return err
			}

			if err := appendLedgerGroup(ctx, tx, in.WorldID, "escrow_open",
				map[string]any{"property_id": in.PropertyID, "escrow_id": out.EscrowID},
				ledgerLine{UserID: in.UserID, Account: "wallet", Delta: -hold},
				ledgerLine{UserID: in.UserID, Account: "escrow", Delta: hold},
			); err != nil {
				return err
			}
			if err := refreshPropertyStatusTx(ctx, tx, in.PropertyID); err != nil {
				return err
			}

			out.State = EscrowInspection
			out.Units = in.Units
			out.SharePriceMicros = price
			out.HoldMicros = hold
			out.DeadlineAt = deadline
			out.BalanceMicros = balance
			return tx.Commit(ctx)
		}()
		if err == nil {
			return out, nil
		}
		if !isSerializationError(err) {
			return out, err
		}
		if attempt == maxAttempts-1 {
			return out, ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return out, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}

	return out, ErrTxConflict
}

// Divest sells held units back to the market at the current share price minus
// the liquidity fee, settling immediately.
func (s *Service) Divest(ctx context.Context, in DivestInput) (DivestResult, error) {
	var out DivestResult
	if in.Units <= 0 {
		return out, fmt.Errorf("units must be > 0")
	}

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return out, err
		}
		err = func() error {
			defer tx.Rollback(ctx)

			if err := claimIdempotency(ctx, tx, in.UserID, in.IdempotencyKey, "divest"); err != nil {
				return err
			}

			var valueMicros, totalUnits int64
			if err := tx.QueryRow(ctx, `
				SELECT value_micros, total_units
				FROM game.properties
				WHERE world_id = $1 AND id = $2
				FOR UPDATE
			`, in.WorldID, in.PropertyID).Scan(&valueMicros, &totalUnits); err != nil {
				if err == pgx.ErrNoRows {
					return ErrPropertyNotFound
				}
				return err
			}

			price, err := sharePriceMicros(valueMicros, totalUnits)
			if err != nil {
				return err
			}
			gross, err := notionalMicros(price, in.Units)
			if err != nil {
				return err
			}
			fee := divestFeeMicros(gross)
			proceeds := gross - fee

			if err := applySellHolding(ctx, tx, in.UserID, in.WorldID, in.PropertyID, in.Units); err != nil {
				return err
			}

			var balance int64
			if err := tx.QueryRow(ctx, `
				UPDATE game.wallets
				SET balance_micros = balance_micros + $1, updated_at = now()
				WHERE user_id = $2 AND world_id = $3
				RETURNING balance_micros
			`, proceeds, in.UserID, in.WorldID).Scan(&balance); err != nil {
				return err
			}

			if err := appendLedgerGroup(ctx, tx, in.WorldID, "divest",
				map[string]any{"property_id": in.PropertyID, "units": in.Units},
				ledgerLine{UserID: in.UserID, Account: "wallet", Delta: proceeds},
				ledgerLine{Account: "fees", Delta: fee},
				ledgerLine{Account: "bank", Delta: -gross},
			); err != nil {
				return err
			}
			if err := refreshPropertyStatusTx(ctx, tx, in.PropertyID); err != nil {
				return err
			}
			if err := updatePeakNetWorthTx(ctx, tx, in.UserID, in.WorldID); err != nil {
				return err
			}

			out.Units = in.Units
			out.SharePriceMicros = price
			out.GrossMicros = gross
			out.FeeMicros = fee
			out.ProceedsMicros = proceeds
			out.BalanceMicros = balance
			return tx.Commit(ctx)
		}()
		if err == nil {
			return out, nil
		}
		if !isSerializationError(err) {
			return out, err
		}
		if attempt == maxAttempts-1 {
			return out, ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return out, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}

	return out, ErrTxConflict
}

// CancelEscrow lets the buyer abandon an in-flight escrow. The hold refunds
// to the wallet and the reserved units return to the pool. Terminal escrows
// cannot be cancelled, which keeps the refund exactly-once. Cancels race the
// worker advancing the same escrow row, hence the same retry loop as Invest.
func (s *Service) CancelEscrow(ctx context.Context, in CancelEscrowInput) (CancelEscrowResult, error) {
	var out CancelEscrowResult

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return out, err
		}
		err = func() error {
			defer tx.Rollback(ctx)

			if err := claimIdempotency(ctx, tx, in.UserID, in.IdempotencyKey, "cancel_escrow"); err != nil {
				return err
			}

			var buyerID, state string
			var propertyID, hold int64
			if err := tx.QueryRow(ctx, `
				SELECT buyer_user_id, state, property_id, hold_micros
				FROM game.escrows
				WHERE world_id = $1 AND id = $2
				FOR UPDATE
			`, in.WorldID, in.EscrowID).Scan(&buyerID, &state, &propertyID, &hold); err != nil {
				if err == pgx.ErrNoRows {
					return ErrEscrowNotFound
				}
				return err
			}
			if buyerID != in.UserID {
				return ErrUnauthorized
			}
			if !EscrowOpen(state) {
				return ErrEscrowFinished
			}

			clock, err := loadWorldClock(ctx, tx, in.WorldID)
			if err != nil {
				return err
			}
			gameNow := clock.GameNow(time.Now().UTC())

			if _, err := tx.Exec(ctx, `
				UPDATE game.escrows
				SET state = 'cancelled', note = 'cancelled by buyer', closed_at = $1, updated_at = now()
				WHERE id = $2
			`, gameNow, in.EscrowID); err != nil {
				return err
			}

			var balance int64
			if err := tx.QueryRow(ctx, `
				UPDATE game.wallets
				SET balance_micros = balance_micros + $1, updated_at = now()
				WHERE user_id = $2 AND world_id = $3
				RETURNING balance_micros
			`, hold, in.UserID, in.WorldID).Scan(&balance); err != nil {
				return err
			}

			if err := appendLedgerGroup(ctx, tx, in.WorldID, "escrow_cancel",
				map[string]any{"property_id": propertyID, "escrow_id": in.EscrowID},
				ledgerLine{UserID: in.UserID, Account: "escrow", Delta: -hold},
				ledgerLine{UserID: in.UserID, Account: "wallet", Delta: hold},
			); err != nil {
				return err
			}
			if err := refreshPropertyStatusTx(ctx, tx, propertyID); err != nil {
				return err
			}

			out.EscrowID = in.EscrowID
			out.State = EscrowCancelled
			out.RefundMicros = hold
			out.BalanceMicros = balance
			return tx.Commit(ctx)
		}()
		if err == nil {
			return out, nil
		}
		if !isSerializationError(err) {
			return out, err
		}
		if attempt == maxAttempts-1 {
			return out, ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return out, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}

	return out, ErrTxConflict
}

func (s *Service) Escrows(ctx context.Context, userID string, worldID int64, includeClosed bool) ([]EscrowView, error) {
	query := `
		SELECT e.id, e.property_id, p.address, e.units, e.state, e.hold_micros, e.opened_at, e.deadline_at, e.note
		FROM game.escrows e
		JOIN game.properties p ON p.id = e.property_id
		WHERE e.buyer_user_id = $1 AND e.world_id = $2
	`
	if !includeClosed {
		query += " AND e.state IN ('inspection', 'approval', 'closing')"
	}
	query += " ORDER BY e.id DESC LIMIT 100"
	rows, err := s.db.Query(ctx, query, userID, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EscrowView
	for rows.Next() {
		var v EscrowView
		if err := rows.Scan(&v.ID, &v.PropertyID, &v.Address, &v.Units, &v.State, &v.HoldMicros, &v.OpenedAt, &v.DeadlineAt, &v.Note); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Service) EscrowByID(ctx context.Context, userID string, worldID, escrowID int64) (EscrowView, error) {
	var v EscrowView
	var buyerID string
	err := s.db.QueryRow(ctx, `
		SELECT e.id, e.buyer_user_id, e.property_id, p.address, e.units, e.state, e.hold_micros, e.opened_at, e.deadline_at, e.note
		FROM game.escrows e
		JOIN game.properties p ON p.id = e.property_id
		WHERE e.world_id = $1 AND e.id = $2
	`, worldID, escrowID).Scan(&v.ID, &buyerID, &v.PropertyID, &v.Address, &v.Units, &v.State, &v.HoldMicros, &v.OpenedAt, &v.DeadlineAt, &v.Note)
	if err != nil {
		if err == pgx.ErrNoRows {
			return v, ErrEscrowNotFound
		}
		return v, err
	}
	if buyerID != userID {
		return v, ErrUnauthorized
	}
	return v, nil
}

func (s *Service) Rents(ctx context.Context, userID string, worldID int64, limit int) ([]RentView, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT r.property_id, p.address, r.period, r.units, r.amount_micros, r.paid_at
		FROM game.rent_payments r
		JOIN game.properties p ON p.id = r.property_id
		WHERE r.user_id = $1 AND r.world_id = $2
		ORDER BY r.id DESC
		LIMIT $3
	`, userID, worldID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RentView
	for rows.Next() {
		var v RentView
		if err := rows.Scan(&v.PropertyID, &v.Address, &v.Period, &v.Units, &v.AmountMicros, &v.PaidAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Service) Ledger(ctx context.Context, userID string, worldID int64, limit int) ([]LedgerRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT created_at, account, delta_micros, COALESCE(metadata->>'reason', ''), tx_group_id::text
		FROM game.ledger_entries
		WHERE user_id = $1 AND world_id = $2
		ORDER BY id DESC
		LIMIT $3
	`, userID, worldID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerRow
	for rows.Next() {
		var v LedgerRow
		if err := rows.Scan(&v.At, &v.Account, &v.DeltaMicros, &v.Reason, &v.TxGroupID); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Service) Leaderboard(ctx context.Context, worldID int64, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		WITH holding_values AS (
			SELECT h.user_id,
			       COALESCE(SUM((h.units::numeric * p.value_micros) / p.total_units), 0)::bigint AS holdings_micros
			FROM game.holdings h
			JOIN game.properties p ON p.id = h.property_id
			WHERE h.world_id = $1
			GROUP BY h.user_id
		),
		escrow_holds AS (
			SELECT e.buyer_user_id AS user_id, SUM(e.hold_micros) AS held_micros
			FROM game.escrows e
			WHERE e.world_id = $1 AND e.state IN ('inspection', 'approval', 'closing')
			GROUP BY e.buyer_user_id
		)
		SELECT pr.handle, pr.is_bot,
		       (w.balance_micros + COALESCE(hv.holdings_micros, 0) + COALESCE(eh.held_micros, 0)) AS net_worth_micros
		FROM game.wallets w
		JOIN users.profiles pr ON pr.user_id = w.user_id
		LEFT JOIN holding_values hv ON hv.user_id = w.user_id
		LEFT JOIN escrow_holds eh ON eh.user_id = w.user_id
		WHERE w.world_id = $1
		ORDER BY net_worth_micros DESC
		LIMIT $2
	`, worldID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeaderboardRow
	var rank int64 = 1
	for rows.Next() {
		var r LeaderboardRow
		if err := rows.Scan(&r.Handle, &r.IsBot, &r.NetWorthMicros); err != nil {
			return nil, err
		}
		r.Rank = rank
		rank++
		out = append(out, r)
	}
	return out, rows.Err()
}

func availableUnitsTx(ctx context.Context, tx pgx.Tx, propertyID, totalUnits int64) (int64, error) {
	var held, reserved int64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(units), 0) FROM game.holdings WHERE property_id = $1
	`, propertyID).Scan(&held); err != nil {
		return 0, err
	}
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(units), 0)
		FROM game.escrows
		WHERE property_id = $1 AND state IN ('inspection', 'approval', 'closing')
	`, propertyID).Scan(&reserved); err != nil {
		return 0, err
	}
	return totalUnits - held - reserved, nil
}

// refreshPropertyStatusTx flips listed/sold_out from current availability.
// Retired properties stay retired.
func refreshPropertyStatusTx(ctx context.Context, tx pgx.Tx, propertyID int64) error {
	var status string
	var totalUnits int64
	if err := tx.QueryRow(ctx, `
		SELECT status, total_units FROM game.properties WHERE id = $1
	`, propertyID).Scan(&status, &totalUnits); err != nil {
		return err
	}
	if status == PropertyRetired {
		return nil
	}
	available, err := availableUnitsTx(ctx, tx, propertyID, totalUnits)
	if err != nil {
		return err
	}
	next := PropertyListed
	if available <= 0 {
		next = PropertySoldOut
	}
	if next == status {
		return nil
	}
	_, err = tx.Exec(ctx, `
		UPDATE game.properties SET status = $1, updated_at = now() WHERE id = $2
	`, next, propertyID)
	return err
}

func upsertBuyHolding(ctx context.Context, tx pgx.Tx, userID string, worldID, propertyID, units, priceMicros int64) error {
	var oldUnits, oldAvg int64
	err := tx.QueryRow(ctx, `
		SELECT units, avg_price_micros
		FROM game.holdings
		WHERE user_id = $1 AND world_id = $2 AND property_id = $3
		FOR UPDATE
	`, userID, worldID, propertyID).Scan(&oldUnits, &oldAvg)
	if err != nil && err != pgx.ErrNoRows {
		return err
	}

	if err == pgx.ErrNoRows {
		_, err = tx.Exec(ctx, `
			INSERT INTO game.holdings (user_id, world_id, property_id, units, avg_price_micros)
			VALUES ($1, $2, $3, $4, $5)
		`, userID, worldID, propertyID, units, priceMicros)
		return err
	}

	newUnits := oldUnits + units
	if newUnits <= 0 {
		return fmt.Errorf("invalid resulting units")
	}

	totalOld, err := notionalMicros(oldAvg, oldUnits)
	if err != nil {
		return err
	}
	totalNew, err := notionalMicros(priceMicros, units)
	if err != nil {
		return err
	}
	newAvg, err := divideMicros(totalOld+totalNew, newUnits)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE game.holdings
		SET units = $1, avg_price_micros = $2, updated_at = now()
		WHERE user_id = $3 AND world_id = $4 AND property_id = $5
	`, newUnits, newAvg, userID, worldID, propertyID)
	return err
}

func applySellHolding(ctx context.Context, tx pgx.Tx, userID string, worldID, propertyID, units int64) error {
	var oldUnits int64
	if err := tx.QueryRow(ctx, `
		SELECT units
		FROM game.holdings
		WHERE user_id = $1 AND world_id = $2 AND property_id = $3
		FOR UPDATE
	`, userID, worldID, propertyID).Scan(&oldUnits); err != nil {
		if err == pgx.ErrNoRows {
			return ErrInsufficientUnits
		}
		return err
	}
	if oldUnits < units {
		return ErrInsufficientUnits
	}
	next := oldUnits - units
	if next == 0 {
		_, err := tx.Exec(ctx, `
			DELETE FROM game.holdings
			WHERE user_id = $1 AND world_id = $2 AND property_id = $3
		`, userID, worldID, propertyID)
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE game.holdings
		SET units = $1, updated_at = now()
		WHERE user_id = $2 AND world_id = $3 AND property_id = $4
	`, next, userID, worldID, propertyID)
	return err
}

func updatePeakNetWorthTx(ctx context.Context, tx pgx.Tx, userID string, worldID int64) error {
	netWorth, err := netWorthTx(ctx, tx, userID, worldID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE game.wallets
		SET peak_net_worth_micros = GREATEST(peak_net_worth_micros, $1),
		    updated_at = now()
		WHERE user_id = $2 AND world_id = $3
	`, netWorth, userID, worldID)
	return err
}

func netWorthTx(ctx context.Context, tx pgx.Tx, userID string, worldID int64) (int64, error) {
	var balance int64
	if err := tx.QueryRow(ctx, `
		SELECT balance_micros
		FROM game.wallets
		WHERE user_id = $1 AND world_id = $2
	`, userID, worldID).Scan(&balance); err != nil {
		return 0, err
	}
	var holdings int64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM((h.units::numeric * p.value_micros) / p.total_units), 0)::bigint
		FROM game.holdings h
		JOIN game.properties p ON p.id = h.property_id
		WHERE h.user_id = $1 AND h.world_id = $2
	`, userID, worldID).Scan(&holdings); err != nil {
		return 0, err
	}
	var held int64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(hold_micros), 0)
		FROM game.escrows
		WHERE buyer_user_id = $1 AND world_id = $2 AND state IN ('inspection', 'approval', 'closing')
	`, userID, worldID).Scan(&held); err != nil {
		return 0, err
	}
	return balance + holdings + held, nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type ledgerLine struct {
	UserID  string // empty for house accounts
	Account string
	Delta   int64
}

// appendLedgerGroup writes one balanced ledger group. Callers are expected to
// pass lines whose deltas sum to zero.
func appendLedgerGroup(ctx context.Context, tx pgx.Tx, worldID int64, reason string, meta map[string]any, lines ...ledgerLine) error {
	txID := uuid.NewString()
	if meta == nil {
		meta = map[string]any{}
	}
	meta["reason"] = reason
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	for _, l := range lines {
		var uid any
		if l.UserID != "" {
			uid = l.UserID
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.ledger_entries (tx_group_id, world_id, user_id, account, delta_micros, metadata)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		`, txID, worldID, uid, l.Account, l.Delta, string(payload)); err != nil {
			return err
		}
	}
	return nil
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, userID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO game.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}

func notionalMicros(priceMicros, units int64) (int64, error) {
	p := big.NewInt(priceMicros)
	q := big.NewInt(units)
	v := new(big.Int).Mul(p, q)
	v = v.Div(v, big.NewInt(UnitsPerShare))
	if !v.IsInt64() {
		return 0, fmt.Errorf("notional overflow")
	}
	return v.Int64(), nil
}

func divideMicros(totalMicros, units int64) (int64, error) {
	if units <= 0 {
		return 0, fmt.Errorf("units must be > 0")
	}
	v := new(big.Int).Mul(big.NewInt(totalMicros), big.NewInt(UnitsPerShare))
	v = v.Div(v, big.NewInt(units))
	if !v.IsInt64() {
		return 0, fmt.Errorf("share price overflow")
	}
	return v.Int64(), nil
}

func handleFromEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	parts := strings.Split(email, "@")
	if len(parts) == 0 || parts[0] == "" {
		return "player"
	}
	return sanitizeHandle(parts[0])
}

func sanitizeHandle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "player"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	res := strings.Trim(string(out), "_")
	if len(res) < 3 {
		res = "player_" + res
	}
	if len(res) > 24 {
		res = res[:24]
	}
	return res
}

func validateHandle(handle string) error {
	lower := strings.ToLower(strings.TrimSpace(handle))
	for _, fragment := range blockedHandleFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("handle contains blocked content")
		}
	}
	return nil
}

func (s *Service) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

func (s *Service) nextIntn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Intn(n)
}
