package game

import "time"

type Dashboard struct {
	WorldID             int64         `json:"world_id"`
	GameNow             time.Time     `json:"game_now"`
	TimeScale           float64       `json:"time_scale"`
	BalanceMicros       int64         `json:"balance_micros"`
	HoldingsValueMicros int64         `json:"holdings_value_micros"`
	EscrowHeldMicros    int64         `json:"escrow_held_micros"`
	NetWorthMicros      int64         `json:"net_worth_micros"`
	PeakNetWorthMicros  int64         `json:"peak_net_worth_micros"`
	Holdings            []HoldingView `json:"holdings"`
	OpenEscrows         []EscrowView  `json:"open_escrows"`
}

type HoldingView struct {
	PropertyID        int64  `json:"property_id"`
	Address           string `json:"address"`
	Class             string `json:"class"`
	Units             int64  `json:"units"`
	AvgPriceMicros    int64  `json:"avg_price_micros"`
	SharePriceMicros  int64  `json:"share_price_micros"`
	MarketValueMicros int64  `json:"market_value_micros"`
	UnrealizedMicros  int64  `json:"unrealized_micros"`
}

type PropertyView struct {
	ID               int64  `json:"id"`
	Address          string `json:"address"`
	Class            string `json:"class"`
	Status           string `json:"status"`
	ValueMicros      int64  `json:"value_micros"`
	SharePriceMicros int64  `json:"share_price_micros"`
	TotalUnits       int64  `json:"total_units"`
	UnitsAvailable   int64  `json:"units_available"`
	GrossYieldBps    int32  `json:"gross_yield_bps"`
	OccupancyBps     int32  `json:"occupancy_bps"`
}

type PropertyDetail struct {
	PropertyView
	Valuations []ValuationPoint `json:"valuations"`
}

type ValuationPoint struct {
	Month       time.Time `json:"month"`
	ValueMicros int64     `json:"value_micros"`
}

type EscrowView struct {
	ID         int64     `json:"id"`
	PropertyID int64     `json:"property_id"`
	Address    string    `json:"address"`
	Units      int64     `json:"units"`
	State      string    `json:"state"`
	HoldMicros int64     `json:"hold_micros"`
	OpenedAt   time.Time `json:"opened_at"`
	DeadlineAt time.Time `json:"deadline_at"`
	Note       string    `json:"note"`
}

type RentView struct {
	PropertyID   int64     `json:"property_id"`
	Address      string    `json:"address"`
	Period       time.Time `json:"period"`
	Units        int64     `json:"units"`
	AmountMicros int64     `json:"amount_micros"`
	PaidAt       time.Time `json:"paid_at"`
}

type LedgerRow struct {
	At          time.Time `json:"at"`
	Account     string    `json:"account"`
	DeltaMicros int64     `json:"delta_micros"`
	Reason      string    `json:"reason"`
	TxGroupID   string    `json:"tx_group_id"`
}

type ClockView struct {
	WorldID   int64     `json:"world_id"`
	Status    string    `json:"status"`
	Regime    string    `json:"regime"`
	TimeScale float64   `json:"time_scale"`
	RealNow   time.Time `json:"real_now"`
	GameNow   time.Time `json:"game_now"`
}

type LeaderboardRow struct {
	Rank           int64  `json:"rank"`
	Handle         string `json:"handle"`
	IsBot          bool   `json:"is_bot"`
	NetWorthMicros int64  `json:"net_worth_micros"`
}

type InvestInput struct {
	UserID         string
	WorldID        int64
	PropertyID     int64
	Units          int64
	IdempotencyKey string
}

type InvestResult struct {
	EscrowID         int64     `json:"escrow_id"`
	State            string    `json:"state"`
	Units            int64     `json:"units"`
	SharePriceMicros int64     `json:"share_price_micros"`
	HoldMicros       int64     `json:"hold_micros"`
	DeadlineAt       time.Time `json:"deadline_at"`
	BalanceMicros    int64     `json:"balance_micros"`
}

type DivestInput struct {
	UserID         string
	WorldID        int64
	PropertyID     int64
	Units          int64
	IdempotencyKey string
}

type DivestResult struct {
	Units            int64 `json:"units"`
	SharePriceMicros int64 `json:"share_price_micros"`
	GrossMicros      int64 `json:"gross_micros"`
	FeeMicros        int64 `json:"fee_micros"`
	ProceedsMicros   int64 `json:"proceeds_micros"`
	BalanceMicros    int64 `json:"balance_micros"`
}

type CancelEscrowInput struct {
	UserID         string
	WorldID        int64
	EscrowID       int64
	IdempotencyKey string
}

type CancelEscrowResult struct {
	EscrowID      int64  `json:"escrow_id"`
	State         string `json:"state"`
	RefundMicros  int64  `json:"refund_micros"`
	BalanceMicros int64  `json:"balance_micros"`
}

type ClockInput struct {
	Action    string  `json:"action"` // "scale", "pause", "resume"
	TimeScale float64 `json:"time_scale,omitempty"`
}
