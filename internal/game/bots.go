package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Bots are ordinary players flagged is_bot. They buy and sell through the
// same idempotent paths as humans, so escrows, rent splits, and the ledger
// all see organic traffic even on a quiet world.
const (
	botBuyProb    = 0.35
	botDivestProb = 0.15
	botMaxShares  = 5
)

var botFirstNames = []string{
	"avery", "jordan", "casey", "riley", "morgan", "quinn",
	"rowan", "sasha", "devon", "ellis", "harper", "kendall",
}

var botLastNames = []string{
	"stone", "ferris", "calder", "whitlock", "ames", "barrow",
	"locke", "monroe", "tidwell", "vance", "iverson", "pruitt",
}

type BotSummary struct {
	WorldID int64
	TopUps  int
	Invests int
	Divests int
}

// EnsureBots provisions bot players up to target for a world.
func (s *Service) EnsureBots(ctx context.Context, worldID int64, target int) error {
	var count int
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(1)
		FROM users.profiles p
		JOIN game.wallets w ON w.user_id = p.user_id
		WHERE p.is_bot AND w.world_id = $1
	`, worldID).Scan(&count); err != nil {
		return err
	}
	if count >= target {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := count; i < target; i++ {
		handle := fmt.Sprintf("%s_%s%d",
			botFirstNames[s.nextIntn(len(botFirstNames))],
			botLastNames[s.nextIntn(len(botLastNames))],
			s.nextIntn(90)+10,
		)
		userID := "bot-" + uuid.NewString()
		email := handle + "@bots.invalid"
		if _, err := tx.Exec(ctx, `
			INSERT INTO users.profiles (user_id, email, handle, is_bot)
			VALUES ($1, $2, $3, true)
			ON CONFLICT (user_id) DO NOTHING
		`, userID, email, handle); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.wallets (user_id, world_id, balance_micros, peak_net_worth_micros)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (user_id, world_id) DO NOTHING
		`, userID, worldID, StarterBalanceMicros); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info("bots provisioned", "world_id", worldID, "added", target-count)
	return nil
}

// RunBots gives each bot one chance to act this pass.
func (s *Service) RunBots(ctx context.Context, worldID int64) (BotSummary, error) {
	sum := BotSummary{WorldID: worldID}
	clock, err := loadWorldClock(ctx, s.db, worldID)
	if err != nil {
		return sum, err
	}
	if clock.Status != WorldActive {
		return sum, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT p.user_id, w.balance_micros
		FROM users.profiles p
		JOIN game.wallets w ON w.user_id = p.user_id
		WHERE p.is_bot AND w.world_id = $1
		ORDER BY p.user_id
	`, worldID)
	if err != nil {
		return sum, err
	}
	type bot struct {
		userID  string
		balance int64
	}
	var bots []bot
	for rows.Next() {
		var b bot
		if err := rows.Scan(&b.userID, &b.balance); err != nil {
			rows.Close()
			return sum, err
		}
		bots = append(bots, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sum, err
	}

	for _, b := range bots {
		if b.balance < BotFloorMicros {
			if err := s.topUpBot(ctx, worldID, b.userID); err != nil {
				s.log.Error("bot top-up failed", "user_id", b.userID, "err", err)
				continue
			}
			b.balance += BotTopUpMicros
			sum.TopUps++
		}
		roll := s.nextFloat()
		switch {
		case roll < botBuyProb:
			if s.botInvest(ctx, worldID, b.userID, b.balance) {
				sum.Invests++
			}
		case roll < botBuyProb+botDivestProb:
			if s.botDivest(ctx, worldID, b.userID) {
				sum.Divests++
			}
		}
	}
	return sum, nil
}

func (s *Service) topUpBot(ctx context.Context, worldID int64, userID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `
		UPDATE game.wallets
		SET balance_micros = balance_micros + $1, updated_at = now()
		WHERE user_id = $2 AND world_id = $3
	`, BotTopUpMicros, userID, worldID); err != nil {
		return err
	}
	if err := appendLedgerGroup(ctx, tx, worldID, "bot_topup", nil,
		ledgerLine{Account: "bank", Delta: -BotTopUpMicros},
		ledgerLine{UserID: userID, Account: "wallet", Delta: BotTopUpMicros},
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) botInvest(ctx context.Context, worldID int64, userID string, balance int64) bool {
	listings, err := s.ListProperties(ctx, worldID, false)
	if err != nil {
		s.log.Error("bot listing scan failed", "err", err)
		return false
	}
	// Weight affordable listings by yield so bots chase income like the
	// humans they imitate.
	type pick struct {
		propertyID int64
		price      int64
		maxUnits   int64
		weight     int
	}
	var picks []pick
	totalWeight := 0
	for _, l := range listings {
		if l.SharePriceMicros <= 0 || l.SharePriceMicros > balance {
			continue
		}
		affordable := mulDiv(balance, UnitsPerShare, l.SharePriceMicros)
		maxUnits := minInt64(affordable, l.UnitsAvailable)
		maxUnits = minInt64(maxUnits, botMaxShares*UnitsPerShare)
		if maxUnits < UnitsPerShare {
			continue
		}
		w := int(l.GrossYieldBps)
		picks = append(picks, pick{propertyID: l.ID, price: l.SharePriceMicros, maxUnits: maxUnits, weight: w})
		totalWeight += w
	}
	if len(picks) == 0 {
		return false
	}
	roll := s.nextIntn(totalWeight)
	chosen := picks[0]
	for _, p := range picks {
		if roll < p.weight {
			chosen = p
			break
		}
		roll -= p.weight
	}

	shares := 1 + s.nextIntn(int(chosen.maxUnits/UnitsPerShare))
	_, err = s.Invest(ctx, InvestInput{
		UserID:         userID,
		WorldID:        worldID,
		PropertyID:     chosen.propertyID,
		Units:          int64(shares) * UnitsPerShare,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		// Contention and shallow pockets are normal bot outcomes.
		if isExpectedBotErr(err) {
			return false
		}
		s.log.Error("bot invest failed", "user_id", userID, "err", err)
		return false
	}
	return true
}

func (s *Service) botDivest(ctx context.Context, worldID int64, userID string) bool {
	rows, err := s.db.Query(ctx, `
		SELECT property_id, units
		FROM game.holdings
		WHERE user_id = $1 AND world_id = $2
		ORDER BY property_id
	`, userID, worldID)
	if err != nil {
		s.log.Error("bot holdings scan failed", "err", err)
		return false
	}
	type holding struct {
		propertyID int64
		units      int64
	}
	var holdings []holding
	for rows.Next() {
		var h holding
		if err := rows.Scan(&h.propertyID, &h.units); err != nil {
			rows.Close()
			return false
		}
		holdings = append(holdings, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil || len(holdings) == 0 {
		return false
	}

	h := holdings[s.nextIntn(len(holdings))]
	maxShares := h.units / UnitsPerShare
	if maxShares < 1 {
		return false
	}
	shares := 1 + s.nextIntn(int(minInt64(maxShares, 10)))
	_, err = s.Divest(ctx, DivestInput{
		UserID:         userID,
		WorldID:        worldID,
		PropertyID:     h.propertyID,
		Units:          int64(shares) * UnitsPerShare,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		if isExpectedBotErr(err) {
			return false
		}
		s.log.Error("bot divest failed", "user_id", userID, "err", err)
		return false
	}
	return true
}

func isExpectedBotErr(err error) bool {
	for _, known := range []error{ErrInsufficientFunds, ErrInsufficientUnits, ErrUnitsUnavailable, ErrTxConflict, ErrPropertyRetired} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
