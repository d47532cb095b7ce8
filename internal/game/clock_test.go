package game

import (
	"testing"
	"time"
)

func TestGameNowScalesElapsedRealTime(t *testing.T) {
	realAnchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gameAnchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := worldClock{
		Status:     WorldActive,
		TimeScale:  DefaultTimeScale,
		RealAnchor: realAnchor,
		GameAnchor: gameAnchor,
	}

	// One real minute at the default scale is one game day.
	got := c.GameNow(realAnchor.Add(time.Minute))
	want := gameAnchor.Add(24 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}

	got = c.GameNow(realAnchor.Add(30 * time.Second))
	want = gameAnchor.Add(12 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestGameNowFrozenWhilePaused(t *testing.T) {
	realAnchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gameAnchor := time.Date(2026, 6, 15, 8, 0, 0, 0, time.UTC)
	c := worldClock{
		Status:     WorldPaused,
		TimeScale:  DefaultTimeScale,
		RealAnchor: realAnchor,
		GameAnchor: gameAnchor,
	}
	if got := c.GameNow(realAnchor.Add(48 * time.Hour)); !got.Equal(gameAnchor) {
		t.Fatalf("paused clock moved: got %v want %v", got, gameAnchor)
	}
}

func TestGameNowNeverRewinds(t *testing.T) {
	realAnchor := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gameAnchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := worldClock{
		Status:     WorldActive,
		TimeScale:  DefaultTimeScale,
		RealAnchor: realAnchor,
		GameAnchor: gameAnchor,
	}
	// Wall clock skew before the anchor clamps to the anchor.
	if got := c.GameNow(realAnchor.Add(-time.Hour)); !got.Equal(gameAnchor) {
		t.Fatalf("clock rewound: got %v want %v", got, gameAnchor)
	}
}

func TestDueMonths(t *testing.T) {
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		cursor  time.Time
		gameNow time.Time
		cap     int
		want    []time.Time
	}{
		{
			name:    "two full months elapsed",
			cursor:  time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
			gameNow: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
			cap:     12,
			want:    []time.Time{jan, feb},
		},
		{
			name:    "cap bounds the slice",
			cursor:  jan,
			gameNow: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
			cap:     1,
			want:    []time.Time{jan},
		},
		{
			name:    "month closes exactly at its boundary",
			cursor:  jan,
			gameNow: feb,
			cap:     12,
			want:    []time.Time{jan},
		},
		{
			name:    "nothing due mid-month",
			cursor:  jan,
			gameNow: time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC),
			cap:     12,
			want:    nil,
		},
	}
	for _, tc := range tests {
		got := dueMonths(tc.cursor, tc.gameNow, tc.cap)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %d months want %d", tc.name, len(got), len(tc.want))
		}
		for i := range got {
			if !got[i].Equal(tc.want[i]) {
				t.Fatalf("%s: month %d got %v want %v", tc.name, i, got[i], tc.want[i])
			}
		}
	}
}

func TestAddMonthsNormalizesToMonthStart(t *testing.T) {
	in := time.Date(2026, 1, 31, 18, 30, 0, 0, time.UTC)
	got := addMonths(in, 1)
	want := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
