package game

import (
	"context"
	"fmt"
	"time"
)

type TickOptions struct {
	Mood      string
	MinListed int
	BotTarget int
}

// TickReport is what one world pass did. The worker turns it into log lines
// and notifications.
type TickReport struct {
	WorldID     int64
	GameNow     time.Time
	Escrows     []EscrowEvent
	RentMonths  int
	RentMicros  int64
	Revalued    int
	Regime      string
	RegimeShift bool
	Listed      int
	BotTopUps   int
	BotInvests  int
	BotDivests  int
}

// RunWorldTick runs one full pass over a world: settle due escrow steps,
// accrue rent months, revalue properties, roll the market regime, refill the
// listing pool, then let the bots trade. Paused worlds fall through every
// step untouched.
func (s *Service) RunWorldTick(ctx context.Context, worldID int64, opts TickOptions) (TickReport, error) {
	report := TickReport{WorldID: worldID}

	clock, err := loadWorldClock(ctx, s.db, worldID)
	if err != nil {
		return report, fmt.Errorf("load clock: %w", err)
	}
	report.GameNow = clock.GameNow(time.Now().UTC())
	report.Regime = clock.Regime

	events, err := s.AdvanceEscrows(ctx, worldID)
	if err != nil {
		return report, fmt.Errorf("advance escrows: %w", err)
	}
	report.Escrows = events

	rent, err := s.AccrueRents(ctx, worldID)
	if err != nil {
		return report, fmt.Errorf("accrue rents: %w", err)
	}
	report.RentMonths = rent.Months
	report.RentMicros = rent.RentPaidMicros

	reval, err := s.RevalueProperties(ctx, worldID, opts.Mood)
	if err != nil {
		return report, fmt.Errorf("revalue properties: %w", err)
	}
	report.Revalued = reval.Properties

	regime, shifted, err := s.UpdateRegime(ctx, worldID, opts.Mood)
	if err != nil {
		return report, fmt.Errorf("update regime: %w", err)
	}
	report.Regime = regime
	report.RegimeShift = shifted

	if opts.MinListed > 0 {
		listed, err := s.ReplenishPool(ctx, worldID, opts.MinListed)
		if err != nil {
			return report, fmt.Errorf("replenish pool: %w", err)
		}
		report.Listed = listed
	}

	if opts.BotTarget > 0 {
		bots, err := s.RunBots(ctx, worldID)
		if err != nil {
			return report, fmt.Errorf("run bots: %w", err)
		}
		report.BotTopUps = bots.TopUps
		report.BotInvests = bots.Invests
		report.BotDivests = bots.Divests
	}

	return report, nil
}
