package game

import (
	"errors"
	"fmt"
	"math"
)

const (
	MicrosPerDollar = int64(1_000_000)

	StarterBalanceMicros = int64(150_000) * MicrosPerDollar
	BotFloorMicros       = int64(40_000) * MicrosPerDollar
	BotTopUpMicros       = int64(200_000) * MicrosPerDollar

	UnitsPerShare = int64(10_000) // 1 share = 10_000 units.

	// Divest settles immediately against the market at a liquidity haircut.
	LiquidityFeeBps = int64(150)

	MinTimeScale     = float64(1)
	MaxTimeScale     = float64(86_400)
	DefaultTimeScale = float64(1_440) // one real minute = one game day

	// Catch-up bound: a property never advances more than this many game
	// months of rent or revaluation in a single worker pass.
	MaxMonthsPerPass = 24
)

const (
	WorldActive  = "active"
	WorldPaused  = "paused"
	WorldRetired = "retired"
)

const (
	PropertyListed  = "listed"
	PropertySoldOut = "sold_out"
	PropertyRetired = "retired"
)

const (
	EscrowInspection = "inspection"
	EscrowApproval   = "approval"
	EscrowClosing    = "closing"

	EscrowCompleted        = "completed"
	EscrowFailedInspection = "failed_inspection"
	EscrowDeclined         = "declined"
	EscrowCancelled        = "cancelled"
)

// EscrowOpen reports whether a state still has a pending step.
func EscrowOpen(state string) bool {
	switch state {
	case EscrowInspection, EscrowApproval, EscrowClosing:
		return true
	}
	return false
}

var (
	ErrWorldNotFound        = errors.New("world not found")
	ErrPropertyNotFound     = errors.New("property not found")
	ErrPropertyRetired      = errors.New("property retired")
	ErrEscrowNotFound       = errors.New("escrow not found")
	ErrEscrowFinished       = errors.New("escrow already finished")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientUnits    = errors.New("insufficient units held")
	ErrUnitsUnavailable     = errors.New("not enough units available")
	ErrInvalidTimeScale     = errors.New("time scale out of range")
	ErrInvalidClockAction   = errors.New("clock action must be scale, pause, or resume")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrTxConflict           = errors.New("transaction conflict, retry")
)

func ValidateTimeScale(scale float64) error {
	if math.IsNaN(scale) || scale < MinTimeScale || scale > MaxTimeScale {
		return ErrInvalidTimeScale
	}
	return nil
}

func DollarsToMicros(v float64) int64 {
	return int64(math.Round(v * float64(MicrosPerDollar)))
}

func MicrosToDollars(v int64) float64 {
	return float64(v) / float64(MicrosPerDollar)
}

func SharesToUnits(v float64) (int64, error) {
	if v <= 0 {
		return 0, fmt.Errorf("shares must be > 0")
	}
	return int64(math.Round(v * float64(UnitsPerShare))), nil
}

func UnitsToShares(v int64) float64 {
	return float64(v) / float64(UnitsPerShare)
}
