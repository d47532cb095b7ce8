package game

import "testing"

func TestSharesToUnits(t *testing.T) {
	got, err := SharesToUnits(2.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := int64(25_000); got != want {
		t.Fatalf("got %d want %d", got, want)
	}

	for _, bad := range []float64{0, -1.5} {
		if _, err := SharesToUnits(bad); err == nil {
			t.Fatalf("expected shares %v to fail", bad)
		}
	}
}

func TestValidateTimeScale(t *testing.T) {
	valid := []float64{1, 60, DefaultTimeScale, MaxTimeScale}
	for _, v := range valid {
		if err := ValidateTimeScale(v); err != nil {
			t.Fatalf("expected scale %v to be valid: %v", v, err)
		}
	}

	invalid := []float64{0, 0.5, -10, MaxTimeScale + 1}
	for _, v := range invalid {
		if err := ValidateTimeScale(v); err == nil {
			t.Fatalf("expected scale %v to fail", v)
		}
	}
}

func TestNotionalMicros(t *testing.T) {
	price := int64(5_000) * MicrosPerDollar
	units := int64(25 * UnitsPerShare / 10) // 2.5 shares
	got, err := notionalMicros(price, units)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := int64(12_500) * MicrosPerDollar
	if got != want {
		t.Fatalf("got %d want %d", got, want)
	}
}

func TestSharePriceMicros(t *testing.T) {
	value := int64(500_000) * MicrosPerDollar
	totalUnits := int64(100) * UnitsPerShare
	got, err := sharePriceMicros(value, totalUnits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := int64(5_000) * MicrosPerDollar
	if got != want {
		t.Fatalf("got %d want %d", got, want)
	}
}

func TestEscrowOpen(t *testing.T) {
	open := []string{EscrowInspection, EscrowApproval, EscrowClosing}
	for _, st := range open {
		if !EscrowOpen(st) {
			t.Fatalf("expected state %q to be open", st)
		}
	}

	closed := []string{EscrowCompleted, EscrowFailedInspection, EscrowDeclined, EscrowCancelled, "bogus"}
	for _, st := range closed {
		if EscrowOpen(st) {
			t.Fatalf("expected state %q to be closed", st)
		}
	}
}

func TestSanitizeHandle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Maya.Lee", want: "maya_lee"},
		{in: "a", want: "player_a"},
		{in: "", want: "player"},
	}
	for _, tc := range tests {
		if got := sanitizeHandle(tc.in); got != tc.want {
			t.Fatalf("sanitizeHandle(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}
