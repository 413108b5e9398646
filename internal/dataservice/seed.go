package dataservice

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// scenario is one cohort of generated households.
type scenario struct {
	count     int
	efficient func(*rand.Rand) bool
	solar     func(*rand.Rand) bool
	min, max  float64 // daily kWh range
}

func always(v bool) func(*rand.Rand) bool { return func(*rand.Rand) bool { return v } }

func coin(r *rand.Rand) bool { return r.IntN(2) == 1 }

// scenarios lists the fixed cohorts. Households beyond them become high
// users with random flags.
var scenarios = []scenario{
	{count: 5, efficient: always(true), solar: always(true), min: 2.0, max: 3.8},
	{count: 5, efficient: always(true), solar: always(false), min: 2.5, max: 3.9},
	{count: 5, efficient: always(false), solar: always(true), min: 2.0, max: 3.8},
	{count: 5, efficient: always(false), solar: always(false), min: 2.5, max: 3.9},
}

var highUsage = scenario{efficient: coin, solar: coin, min: 4.0, max: 12.0}

// SeedOptions controls mock data generation.
type SeedOptions struct {
	Consumers int
	Days      int
	Rand      *rand.Rand // defaults to a time-seeded source
	Today     time.Time  // last generated date; defaults to now (UTC)
}

// Generate builds mock records: the fixed cohorts first, then high users,
// each household with one record per day ending today.
func Generate(opts SeedOptions) []Record {
	r := opts.Rand
	if r == nil {
		seed := uint64(time.Now().UnixNano())
		r = rand.New(rand.NewPCG(seed, seed>>1))
	}
	today := opts.Today
	if today.IsZero() {
		today = time.Now().UTC()
	}
	base := today.AddDate(0, 0, -(opts.Days - 1))

	ids := consumerIDs(r, opts.Consumers)
	records := make([]Record, 0, opts.Consumers*opts.Days)

	next := 0
	emit := func(sc scenario, n int) {
		for i := 0; i < n && next < len(ids); i++ {
			id := ids[next]
			next++
			efficient, solar := sc.efficient(r), sc.solar(r)
			for d := 0; d < opts.Days; d++ {
				records = append(records, Record{
					ConsumerID:             id,
					Date:                   base.AddDate(0, 0, d).Format(time.DateOnly),
					DailyKwh:               round2(sc.min + r.Float64()*(sc.max-sc.min)),
					UsesEfficientEquipment: efficient,
					ProducesSolar:          solar,
				})
			}
		}
	}
	for _, sc := range scenarios {
		emit(sc, sc.count)
	}
	emit(highUsage, len(ids)-next)
	return records
}

// consumerIDs draws n distinct consumer_NNNNNN identifiers.
func consumerIDs(r *rand.Rand, n int) []string {
	seen := make(map[string]struct{}, n)
	ids := make([]string, 0, n)
	for len(ids) < n {
		id := fmt.Sprintf("consumer_%06d", 100000+r.IntN(900000))
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// Seed replaces the database contents with freshly generated records and
// returns how many were written.
func (s *Store) Seed(ctx context.Context, opts SeedOptions) (int, error) {
	if opts.Consumers <= 0 || opts.Days <= 0 {
		return 0, fmt.Errorf("dataservice: seed needs positive consumers and days, got %d/%d", opts.Consumers, opts.Days)
	}
	records := Generate(opts)
	if err := s.Replace(ctx, records); err != nil {
		return 0, err
	}
	s.log.Info().Int("consumers", opts.Consumers).Int("days", opts.Days).Int("records", len(records)).Msg("mock data seeded")
	return len(records), nil
}
