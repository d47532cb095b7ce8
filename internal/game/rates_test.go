package game

import "testing"

func TestMonthlyNetRentMicros(t *testing.T) {
	tests := []struct {
		value int64
		yield int32
		occ   int32
		want  int64
	}{
		{value: 600_000 * MicrosPerDollar, yield: 600, occ: 9_500, want: 2_850 * MicrosPerDollar},
		{value: 600_000 * MicrosPerDollar, yield: 600, occ: 10_000, want: 3_000 * MicrosPerDollar},
		{value: 0, yield: 600, occ: 9_500, want: 0},
		{value: 600_000 * MicrosPerDollar, yield: 0, occ: 9_500, want: 0},
	}
	for _, tc := range tests {
		got := monthlyNetRentMicros(tc.value, tc.yield, tc.occ)
		if got != tc.want {
			t.Fatalf("value=%d yield=%d occ=%d got=%d want=%d", tc.value, tc.yield, tc.occ, got, tc.want)
		}
	}
}

func TestSplitRentExactTotals(t *testing.T) {
	tests := []struct {
		name       string
		net        int64
		totalUnits int64
		holders    []int64
	}{
		{name: "even split", net: 1_000, totalUnits: 1_000, holders: []int64{250, 250}},
		{name: "remainder to largest fraction", net: 1_001, totalUnits: 10, holders: []int64{3, 7}},
		{name: "three way with leftover", net: 100, totalUnits: 3, holders: []int64{1, 1, 1}},
		{name: "partial ownership", net: 900, totalUnits: 300, holders: []int64{100}},
		{name: "fully held", net: 12_345, totalUnits: 100, holders: []int64{60, 25, 15}},
	}
	for _, tc := range tests {
		amounts, bank := splitRent(tc.net, tc.totalUnits, tc.holders)
		var sum int64
		for _, a := range amounts {
			if a < 0 {
				t.Fatalf("%s: negative payout %d", tc.name, a)
			}
			sum += a
		}
		if sum+bank != tc.net {
			t.Fatalf("%s: holders %d + bank %d != net %d", tc.name, sum, bank, tc.net)
		}
	}
}

func TestSplitRentAssignsRemainders(t *testing.T) {
	amounts, bank := splitRent(1_001, 10, []int64{3, 7})
	if bank != 0 {
		t.Fatalf("fully held property left %d with the bank", bank)
	}
	if amounts[0] != 300 || amounts[1] != 701 {
		t.Fatalf("got %v want [300 701]", amounts)
	}
}

func TestSplitRentNoHolders(t *testing.T) {
	amounts, bank := splitRent(5_000, 1_000, nil)
	if len(amounts) != 0 {
		t.Fatalf("expected no holder payouts, got %v", amounts)
	}
	if bank != 5_000 {
		t.Fatalf("bank got %d want 5000", bank)
	}
}

func TestSplitRentUnheldShareGoesToBank(t *testing.T) {
	amounts, bank := splitRent(900, 300, []int64{100})
	if amounts[0] != 300 {
		t.Fatalf("holder got %d want 300", amounts[0])
	}
	if bank != 600 {
		t.Fatalf("bank got %d want 600", bank)
	}
}

func TestDivestFeeMicros(t *testing.T) {
	tests := []struct {
		gross int64
		want  int64
	}{
		{gross: 1_000_000, want: 15_000},
		{gross: 0, want: 0},
		{gross: -50, want: 0},
	}
	for _, tc := range tests {
		if got := divestFeeMicros(tc.gross); got != tc.want {
			t.Fatalf("gross=%d got=%d want=%d", tc.gross, got, tc.want)
		}
	}
}

func TestEvolveValueBoundsDownside(t *testing.T) {
	start := int64(1_000_000)
	got := evolveValue(start, -10.0, 0.20)
	// A catastrophic return is clamped to the per-month drop bound.
	floor := int64(float64(start) * 0.80)
	if got < floor {
		t.Fatalf("value %d fell below bounded floor %d", got, floor)
	}

	up := evolveValue(start, 0.10, 0.20)
	if up <= start {
		t.Fatalf("positive return did not raise value: %d", up)
	}
}
