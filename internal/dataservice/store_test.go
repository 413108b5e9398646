package dataservice

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "mock.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRand() *rand.Rand { return rand.New(rand.NewPCG(7, 11)) }

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("", zerolog.Nop())
	assert.Error(t, err)
}

func TestStore_InsertAndSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, []Record{
		{ConsumerID: "consumer_100001", Date: "2026-10-01", DailyKwh: 2.0, UsesEfficientEquipment: true, ProducesSolar: true},
		{ConsumerID: "consumer_100001", Date: "2026-10-02", DailyKwh: 3.005, UsesEfficientEquipment: true, ProducesSolar: true},
		{ConsumerID: "consumer_100002", Date: "2026-10-01", DailyKwh: 9.0},
		{ConsumerID: "consumer_100002", Date: "2026-10-02", DailyKwh: 7.0, ProducesSolar: true},
	}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	sum, err := s.ConsumerSummary(ctx)
	require.NoError(t, err)
	require.Len(t, sum, 2)

	assert.Equal(t, "consumer_100001", sum[0].ConsumerID)
	assert.InDelta(t, 2.5, sum[0].AvgKwh, 0.01)
	assert.True(t, sum[0].UsesEfficientEquipment)
	assert.True(t, sum[0].ProducesSolar)

	assert.Equal(t, 8.0, sum[1].AvgKwh)
	assert.False(t, sum[1].UsesEfficientEquipment)
	assert.True(t, sum[1].ProducesSolar, "any solar record marks the household")
}

func TestStore_EmptySummary(t *testing.T) {
	s := openTestStore(t)
	sum, err := s.ConsumerSummary(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, sum)
	assert.Empty(t, sum)
}

func TestStore_RecentRecordsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, []Record{
		{ConsumerID: "a", Date: "2026-10-01", DailyKwh: 1},
		{ConsumerID: "a", Date: "2026-10-03", DailyKwh: 3},
		{ConsumerID: "a", Date: "2026-10-02", DailyKwh: 2},
	}))

	recs, err := s.RecentRecords(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2026-10-03", recs[0].Date)
	assert.Equal(t, "2026-10-02", recs[1].Date)
}

func TestGenerate_Scenarios(t *testing.T) {
	today := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	recs := Generate(SeedOptions{Consumers: 50, Days: 10, Rand: testRand(), Today: today})
	require.Len(t, recs, 500)

	ids := map[string]bool{}
	for _, r := range recs {
		ids[r.ConsumerID] = true
		assert.True(t, strings.HasPrefix(r.ConsumerID, "consumer_"))
		assert.Len(t, r.ConsumerID, len("consumer_")+6)
	}
	assert.Len(t, ids, 50, "ids are distinct")

	assert.Equal(t, "2026-10-05", recs[0].Date)
	assert.Equal(t, "2026-10-14", recs[9].Date)

	// first cohort: efficient + solar, low usage
	for _, r := range recs[:50] {
		assert.True(t, r.UsesEfficientEquipment)
		assert.True(t, r.ProducesSolar)
		assert.GreaterOrEqual(t, r.DailyKwh, 2.0)
		assert.LessOrEqual(t, r.DailyKwh, 3.8)
	}
	// fourth cohort: neither flag
	for _, r := range recs[150:200] {
		assert.False(t, r.UsesEfficientEquipment)
		assert.False(t, r.ProducesSolar)
	}
	// high users
	for _, r := range recs[200:] {
		assert.GreaterOrEqual(t, r.DailyKwh, 4.0)
		assert.LessOrEqual(t, r.DailyKwh, 12.0)
	}
}

func TestGenerate_FewerConsumersThanCohorts(t *testing.T) {
	recs := Generate(SeedOptions{Consumers: 3, Days: 2, Rand: testRand()})
	assert.Len(t, recs, 6)
	for _, r := range recs {
		assert.True(t, r.UsesEfficientEquipment && r.ProducesSolar)
	}
}

func TestStore_SeedReplacesData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.Seed(ctx, SeedOptions{Consumers: 50, Days: 10, Rand: testRand()})
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	n, err = s.Seed(ctx, SeedOptions{Consumers: 25, Days: 2, Rand: testRand()})
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, count)

	sum, err := s.ConsumerSummary(ctx)
	require.NoError(t, err)
	assert.Len(t, sum, 25)

	_, err = s.Seed(ctx, SeedOptions{})
	assert.Error(t, err)
}

func TestStore_ReplaceIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Seed(ctx, SeedOptions{Consumers: 10, Days: 3, Rand: testRand()})
	require.NoError(t, err)

	err = s.Replace(ctx, []Record{
		{ConsumerID: "consumer_100001", Date: "2026-10-01", DailyKwh: 2.0},
		{ConsumerID: "consumer_100002", Date: "2026-10-01", DailyKwh: -1.0},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer_100002")

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, count, "failed replace must keep the previous data")
}
