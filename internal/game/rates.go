package game

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	bpsScale     = decimal.NewFromInt(10_000)
	twelveMonths = decimal.NewFromInt(12)
)

// monthlyNetRentMicros is one game month of rent for a property: annual gross
// yield applied to current value, prorated to a month, scaled by occupancy.
func monthlyNetRentMicros(valueMicros int64, yieldBps, occupancyBps int32) int64 {
	if valueMicros <= 0 || yieldBps <= 0 {
		return 0
	}
	occ := clampBps(occupancyBps)
	gross := decimal.NewFromInt(valueMicros).
		Mul(decimal.NewFromInt32(yieldBps)).
		Div(bpsScale).
		Div(twelveMonths)
	net := gross.Mul(decimal.NewFromInt32(occ)).Div(bpsScale)
	return net.Round(0).IntPart()
}

// splitRent divides a month's net rent between the holders and the bank.
// Holders share the held portion pro-rata by units with largest-remainder
// assignment of leftover micros; the unheld portion is the bank's. The
// returned amounts always sum to exactly netMicros.
func splitRent(netMicros, totalUnits int64, holderUnits []int64) (holders []int64, bank int64) {
	holders = make([]int64, len(holderUnits))
	if netMicros <= 0 || totalUnits <= 0 {
		return holders, maxInt64(netMicros, 0)
	}
	var held int64
	for _, u := range holderUnits {
		held += u
	}
	if held <= 0 {
		return holders, netMicros
	}
	if held > totalUnits {
		totalUnits = held
	}

	pot := mulDiv(netMicros, held, totalUnits)
	bank = netMicros - pot

	type slice struct {
		idx int
		rem decimal.Decimal
	}
	var assigned int64
	rems := make([]slice, len(holderUnits))
	potDec := decimal.NewFromInt(pot)
	heldDec := decimal.NewFromInt(held)
	for i, u := range holderUnits {
		exact := potDec.Mul(decimal.NewFromInt(u)).Div(heldDec)
		floor := exact.Floor()
		holders[i] = floor.IntPart()
		assigned += holders[i]
		rems[i] = slice{idx: i, rem: exact.Sub(floor)}
	}
	sort.Slice(rems, func(a, b int) bool {
		if !rems[a].rem.Equal(rems[b].rem) {
			return rems[a].rem.GreaterThan(rems[b].rem)
		}
		return rems[a].idx < rems[b].idx
	})
	for i := int64(0); i < pot-assigned && int(i) < len(rems); i++ {
		holders[rems[i].idx]++
	}
	return holders, bank
}

func divestFeeMicros(grossMicros int64) int64 {
	if grossMicros <= 0 {
		return 0
	}
	return decimal.NewFromInt(grossMicros).
		Mul(decimal.NewFromInt(LiquidityFeeBps)).
		Div(bpsScale).
		Round(0).IntPart()
}

// sharePriceMicros is the market price of one share of a property.
func sharePriceMicros(valueMicros, totalUnits int64) (int64, error) {
	return divideMicros(valueMicros, totalUnits)
}

// mulDiv computes a*b/c with floor semantics, overflow-safe.
func mulDiv(a, b, c int64) int64 {
	if c == 0 {
		return 0
	}
	v := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	v.Quo(v, big.NewInt(c))
	return v.Int64()
}

func clampBps(v int32) int32 {
	if v < 0 {
		return 0
	}
	if v > 10_000 {
		return 10_000
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
