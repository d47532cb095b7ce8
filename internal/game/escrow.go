package game

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Escrow steps run on the game clock, not wall time. A step is due when the
// world's game time passes its deadline.
const (
	InspectionGameDays = 10
	ApprovalGameDays   = 12
	ClosingGameDays    = 5

	inspectionPassProb = 0.92
	approvalPassProb   = 0.90

	escrowBatchSize = 200
)

// EscrowEvent describes one state transition, for notification fan-out.
type EscrowEvent struct {
	EscrowID   int64
	WorldID    int64
	BuyerID    string
	PropertyID int64
	Address    string
	Units      int64
	HoldMicros int64
	State      string
	Note       string
}

// Terminal reports whether the event ended the escrow.
func (e EscrowEvent) Terminal() bool {
	return !EscrowOpen(e.State)
}

// AdvanceEscrows moves every due escrow of a world one step forward:
// inspection -> approval -> closing -> completed, with inspection and lender
// approval able to fail. Each escrow advances in its own transaction; a
// failure on one logs and does not stop the rest. Paused worlds are skipped,
// their deadlines are frozen with the clock.
func (s *Service) AdvanceEscrows(ctx context.Context, worldID int64) ([]EscrowEvent, error) {
	clock, err := loadWorldClock(ctx, s.db, worldID)
	if err != nil {
		return nil, err
	}
	if clock.Status != WorldActive {
		return nil, nil
	}
	gameNow := clock.GameNow(time.Now().UTC())

	rows, err := s.db.Query(ctx, `
		SELECT e.id
		FROM game.escrows e
		WHERE e.world_id = $1
		  AND e.state IN ('inspection', 'approval', 'closing')
		  AND e.deadline_at <= $2
		ORDER BY e.deadline_at
		LIMIT $3
	`, worldID, gameNow, escrowBatchSize)
	if err != nil {
		return nil, err
	}
	var due []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var events []EscrowEvent
	for _, id := range due {
		ev, err := s.advanceEscrowOnce(ctx, id, gameNow)
		if err != nil {
			if isSerializationError(err) {
				continue // next pass picks it up
			}
			s.log.Error("escrow advance failed", "escrow_id", id, "err", err)
			continue
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, nil
}

type escrowRow struct {
	ID         int64
	WorldID    int64
	BuyerID    string
	PropertyID int64
	Address    string
	Units      int64
	Price      int64
	Hold       int64
	State      string
	Deadline   time.Time
}

func (s *Service) advanceEscrowOnce(ctx context.Context, escrowID int64, gameNow time.Time) (*EscrowEvent, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var e escrowRow
	err = tx.QueryRow(ctx, `
		SELECT e.id, e.world_id, e.buyer_user_id, e.property_id, p.address,
		       e.units, e.price_micros, e.hold_micros, e.state, e.deadline_at
		FROM game.escrows e
		JOIN game.properties p ON p.id = e.property_id
		WHERE e.id = $1
		FOR UPDATE OF e
	`, escrowID).Scan(&e.ID, &e.WorldID, &e.BuyerID, &e.PropertyID, &e.Address,
		&e.Units, &e.Price, &e.Hold, &e.State, &e.Deadline)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	// A concurrent worker may have advanced or finished it already.
	if !EscrowOpen(e.State) || e.Deadline.After(gameNow) {
		return nil, nil
	}

	var ev EscrowEvent
	switch e.State {
	case EscrowInspection:
		if s.nextFloat() < inspectionPassProb {
			ev, err = stepEscrowTx(ctx, tx, e, EscrowApproval, "inspection passed", gameNow.Add(GameDays(ApprovalGameDays)))
		} else {
			ev, err = s.failEscrowTx(ctx, tx, e, EscrowFailedInspection, "inspection found structural issues", gameNow)
		}
	case EscrowApproval:
		if s.nextFloat() < approvalPassProb {
			ev, err = stepEscrowTx(ctx, tx, e, EscrowClosing, "lender approved financing", gameNow.Add(GameDays(ClosingGameDays)))
		} else {
			ev, err = s.failEscrowTx(ctx, tx, e, EscrowDeclined, "lender declined financing", gameNow)
		}
	case EscrowClosing:
		ev, err = completeEscrowTx(ctx, tx, e, gameNow)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ev, nil
}

func stepEscrowTx(ctx context.Context, tx pgx.Tx, e escrowRow, next, note string, deadline time.Time) (EscrowEvent, error) {
	_, err := tx.Exec(ctx, `
		UPDATE game.escrows
		SET state = $1, note = $2, deadline_at = $3, updated_at = now()
		WHERE id = $4
	`, next, note, deadline, e.ID)
	return eventFor(e, next, note), err
}

// completeEscrowTx settles the purchase: units move to the buyer's holding at
// the escrow's locked price and the hold releases to the bank.
func completeEscrowTx(ctx context.Context, tx pgx.Tx, e escrowRow, gameNow time.Time) (EscrowEvent, error) {
	ev := eventFor(e, EscrowCompleted, "closing complete")
	if _, err := tx.Exec(ctx, `
		UPDATE game.escrows
		SET state = 'completed', note = 'closing complete', closed_at = $1, updated_at = now()
		WHERE id = $2
	`, gameNow, e.ID); err != nil {
		return ev, err
	}
	if err := upsertBuyHolding(ctx, tx, e.BuyerID, e.WorldID, e.PropertyID, e.Units, e.Price); err != nil {
		return ev, err
	}
	if err := appendLedgerGroup(ctx, tx, e.WorldID, "escrow_complete",
		map[string]any{"property_id": e.PropertyID, "escrow_id": e.ID},
		ledgerLine{UserID: e.BuyerID, Account: "escrow", Delta: -e.Hold},
		ledgerLine{Account: "bank", Delta: e.Hold},
	); err != nil {
		return ev, err
	}
	if err := refreshPropertyStatusTx(ctx, tx, e.PropertyID); err != nil {
		return ev, err
	}
	return ev, updatePeakNetWorthTx(ctx, tx, e.BuyerID, e.WorldID)
}

func (s *Service) failEscrowTx(ctx context.Context, tx pgx.Tx, e escrowRow, state, note string, gameNow time.Time) (EscrowEvent, error) {
	ev := eventFor(e, state, note)
	if _, err := tx.Exec(ctx, `
		UPDATE game.escrows
		SET state = $1, note = $2, closed_at = $3, updated_at = now()
		WHERE id = $4
	`, state, note, gameNow, e.ID); err != nil {
		return ev, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE game.wallets
		SET balance_micros = balance_micros + $1, updated_at = now()
		WHERE user_id = $2 AND world_id = $3
	`, e.Hold, e.BuyerID, e.WorldID); err != nil {
		return ev, err
	}
	if err := appendLedgerGroup(ctx, tx, e.WorldID, "escrow_refund",
		map[string]any{"property_id": e.PropertyID, "escrow_id": e.ID, "state": state},
		ledgerLine{UserID: e.BuyerID, Account: "escrow", Delta: -e.Hold},
		ledgerLine{UserID: e.BuyerID, Account: "wallet", Delta: e.Hold},
	); err != nil {
		return ev, err
	}
	return ev, refreshPropertyStatusTx(ctx, tx, e.PropertyID)
}

func eventFor(e escrowRow, state, note string) EscrowEvent {
	return EscrowEvent{
		EscrowID:   e.ID,
		WorldID:    e.WorldID,
		BuyerID:    e.BuyerID,
		PropertyID: e.PropertyID,
		Address:    e.Address,
		Units:      e.Units,
		HoldMicros: e.Hold,
		State:      state,
		Note:       note,
	}
}
