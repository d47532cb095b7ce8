package game

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

type archetype struct {
	Class              string  `yaml:"class"`
	Weight             int     `yaml:"weight"`
	MinValue           int64   `yaml:"min_value"`
	MaxValue           int64   `yaml:"max_value"`
	MinYieldBps        int32   `yaml:"min_yield_bps"`
	MaxYieldBps        int32   `yaml:"max_yield_bps"`
	MinAppreciationBps int32   `yaml:"min_appreciation_bps"`
	MaxAppreciationBps int32   `yaml:"max_appreciation_bps"`
	Shares             []int64 `yaml:"shares"`
}

type listingCatalog struct {
	Classes  []archetype `yaml:"classes"`
	Streets  []string    `yaml:"streets"`
	Suffixes []string    `yaml:"suffixes"`
	Cities   []string    `yaml:"cities"`
}

var (
	catalogOnce   sync.Once
	catalogCached listingCatalog
	catalogErr    error
)

func loadCatalog() (listingCatalog, error) {
	catalogOnce.Do(func() {
		catalogErr = yaml.Unmarshal(catalogYAML, &catalogCached)
		if catalogErr == nil {
			catalogErr = validateCatalog(catalogCached)
		}
	})
	return catalogCached, catalogErr
}

func validateCatalog(c listingCatalog) error {
	if len(c.Classes) == 0 || len(c.Streets) == 0 || len(c.Suffixes) == 0 || len(c.Cities) == 0 {
		return fmt.Errorf("listing catalog is incomplete")
	}
	for _, a := range c.Classes {
		if a.Class == "" || a.Weight <= 0 {
			return fmt.Errorf("catalog class %q: weight must be > 0", a.Class)
		}
		if a.MinValue <= 0 || a.MaxValue < a.MinValue {
			return fmt.Errorf("catalog class %q: bad value band", a.Class)
		}
		if a.MinYieldBps <= 0 || a.MaxYieldBps < a.MinYieldBps {
			return fmt.Errorf("catalog class %q: bad yield band", a.Class)
		}
		if a.MinAppreciationBps < 0 || a.MaxAppreciationBps < a.MinAppreciationBps {
			return fmt.Errorf("catalog class %q: bad appreciation band", a.Class)
		}
		if len(a.Shares) == 0 {
			return fmt.Errorf("catalog class %q: no share sizes", a.Class)
		}
	}
	return nil
}

type newListing struct {
	Address         string
	Class           string
	ValueMicros     int64
	TotalUnits      int64
	GrossYieldBps   int32
	OccupancyBps    int32
	AppreciationBps int32
}

func (s *Service) rollListing(c listingCatalog) newListing {
	total := 0
	for _, a := range c.Classes {
		total += a.Weight
	}
	pick := s.nextIntn(total)
	arch := c.Classes[0]
	for _, a := range c.Classes {
		if pick < a.Weight {
			arch = a
			break
		}
		pick -= a.Weight
	}

	valueDollars := arch.MinValue + int64(s.nextFloat()*float64(arch.MaxValue-arch.MinValue))
	// Round to a plausible list price.
	valueDollars = (valueDollars / 1_000) * 1_000

	yield := arch.MinYieldBps + int32(s.nextFloat()*float64(arch.MaxYieldBps-arch.MinYieldBps))
	appr := arch.MinAppreciationBps + int32(s.nextFloat()*float64(arch.MaxAppreciationBps-arch.MinAppreciationBps))
	shares := arch.Shares[s.nextIntn(len(arch.Shares))]

	num := 10 + s.nextIntn(980)
	address := fmt.Sprintf("%d %s %s, %s",
		num,
		c.Streets[s.nextIntn(len(c.Streets))],
		c.Suffixes[s.nextIntn(len(c.Suffixes))],
		c.Cities[s.nextIntn(len(c.Cities))],
	)

	return newListing{
		Address:         address,
		Class:           arch.Class,
		ValueMicros:     valueDollars * MicrosPerDollar,
		TotalUnits:      shares * UnitsPerShare,
		GrossYieldBps:   yield,
		OccupancyBps:    9_000 + int32(s.nextIntn(801)),
		AppreciationBps: appr,
	}
}

// ReplenishPool tops the world's listing pool back up to minListed properties
// drawn from the embedded archetype catalog. New listings start their rent and
// valuation cursors at the current game month, so nothing accrues
// retroactively for time before they existed.
func (s *Service) ReplenishPool(ctx context.Context, worldID int64, minListed int) (int, error) {
	clock, err := loadWorldClock(ctx, s.db, worldID)
	if err != nil {
		return 0, err
	}
	if clock.Status != WorldActive {
		return 0, nil
	}
	gameNow := clock.GameNow(time.Now().UTC())

	var listed int
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(1) FROM game.properties WHERE world_id = $1 AND status = 'listed'
	`, worldID).Scan(&listed); err != nil {
		return 0, err
	}
	if listed >= minListed {
		return 0, nil
	}

	cat, err := loadCatalog()
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	cursor := monthStart(gameNow)
	added := 0
	for listed+added < minListed {
		l := s.rollListing(cat)
		var propertyID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO game.properties
			    (world_id, address, class, status, value_micros, anchor_value_micros, total_units,
			     gross_yield_bps, occupancy_bps, base_appreciation_bps,
			     rent_paid_through, valued_through, listed_at)
			VALUES
			    ($1, $2, $3, 'listed', $4, $4, $5, $6, $7, $8, $9, $9, $10)
			RETURNING id
		`, worldID, l.Address, l.Class, l.ValueMicros, l.TotalUnits,
			l.GrossYieldBps, l.OccupancyBps, l.AppreciationBps, cursor, gameNow).Scan(&propertyID)
		if err != nil {
			return added, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.valuations (property_id, month, value_micros)
			VALUES ($1, $2, $3)
			ON CONFLICT (property_id, month) DO NOTHING
		`, propertyID, cursor, l.ValueMicros); err != nil {
			return added, err
		}
		added++
	}
	if err := tx.Commit(ctx); err != nil {
		return added, err
	}
	if added > 0 {
		s.log.Info("pool replenished", "world_id", worldID, "added", added)
	}
	return added, nil
}
