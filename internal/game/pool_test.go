package game

import (
	mathrand "math/rand"
	"strings"
	"testing"
)

func testService() *Service {
	s := NewService(nil, nil)
	s.rand = mathrand.New(mathrand.NewSource(42))
	return s
}

func TestLoadCatalog(t *testing.T) {
	cat, err := loadCatalog()
	if err != nil {
		t.Fatalf("catalog failed to load: %v", err)
	}
	if len(cat.Classes) < 4 {
		t.Fatalf("expected at least 4 archetypes, got %d", len(cat.Classes))
	}
	for _, a := range cat.Classes {
		if a.Weight <= 0 {
			t.Fatalf("class %q has weight %d", a.Class, a.Weight)
		}
	}
}

func TestRollListingStaysInBands(t *testing.T) {
	cat, err := loadCatalog()
	if err != nil {
		t.Fatalf("catalog failed to load: %v", err)
	}
	byClass := map[string]archetype{}
	for _, a := range cat.Classes {
		byClass[a.Class] = a
	}

	s := testService()
	for i := 0; i < 200; i++ {
		l := s.rollListing(cat)
		arch, ok := byClass[l.Class]
		if !ok {
			t.Fatalf("unknown class %q", l.Class)
		}
		valueDollars := l.ValueMicros / MicrosPerDollar
		if valueDollars < arch.MinValue-1_000 || valueDollars > arch.MaxValue {
			t.Fatalf("class %q value %d outside band [%d, %d]", l.Class, valueDollars, arch.MinValue, arch.MaxValue)
		}
		if l.GrossYieldBps < arch.MinYieldBps || l.GrossYieldBps > arch.MaxYieldBps {
			t.Fatalf("class %q yield %d outside band", l.Class, l.GrossYieldBps)
		}
		if l.AppreciationBps < arch.MinAppreciationBps || l.AppreciationBps > arch.MaxAppreciationBps {
			t.Fatalf("class %q appreciation %d outside band", l.Class, l.AppreciationBps)
		}
		if l.TotalUnits <= 0 || l.TotalUnits%UnitsPerShare != 0 {
			t.Fatalf("class %q total units %d not whole shares", l.Class, l.TotalUnits)
		}
		if l.OccupancyBps < 9_000 || l.OccupancyBps > 9_800 {
			t.Fatalf("occupancy %d outside starting band", l.OccupancyBps)
		}
		if !strings.Contains(l.Address, ",") {
			t.Fatalf("address %q missing city", l.Address)
		}
	}
}

func TestRollListingCoversClasses(t *testing.T) {
	cat, err := loadCatalog()
	if err != nil {
		t.Fatalf("catalog failed to load: %v", err)
	}
	s := testService()
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		seen[s.rollListing(cat).Class] = true
	}
	if len(seen) < 3 {
		t.Fatalf("expected rolls to cover several classes, saw %d", len(seen))
	}
}
