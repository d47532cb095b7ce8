package game

import "testing"

func TestEscrowEventTerminal(t *testing.T) {
	row := escrowRow{ID: 7, WorldID: 1, BuyerID: "u1", PropertyID: 3, Address: "12 Maple St, Brickport", Units: 20_000, Hold: 10 * MicrosPerDollar}

	open := eventFor(row, EscrowApproval, "inspection passed")
	if open.Terminal() {
		t.Fatalf("approval step reported terminal")
	}

	done := eventFor(row, EscrowCompleted, "closing complete")
	if !done.Terminal() {
		t.Fatalf("completed escrow not terminal")
	}
	if done.EscrowID != row.ID || done.Address != row.Address || done.HoldMicros != row.Hold {
		t.Fatalf("event dropped row fields: %+v", done)
	}
}
