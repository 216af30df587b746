package repository

import (
	"context"
	"testing"
	"time"

	"marketcache/internal/market"
	"marketcache/internal/store/sqlexec"
	"marketcache/internal/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) (*Repository, *sqlexec.Executor) {
	t.Helper()
	m := storetest.NewPool(t)
	exec := sqlexec.New(m, sqlexec.Options{Retries: 2, RetryDelay: time.Millisecond, StatementTimeout: 5 * time.Second})
	repo := New(exec)
	require.NoError(t, repo.Migrate(context.Background()))
	t.Cleanup(func() { assert.Equal(t, int64(0), m.Stats().Leases, "lease leaked") })
	return repo, exec
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seed(t *testing.T, repo *Repository, symbols ...string) {
	t.Helper()
	for _, sym := range symbols {
		require.NoError(t, repo.UpsertInstrument(context.Background(), market.Instrument{Symbol: sym, Name: sym + " coin"}))
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	repo, _ := newTestRepo(t)
	require.NoError(t, repo.Migrate(context.Background()))
}

func TestUpsertInstrumentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	require.NoError(t, repo.UpsertInstrument(ctx, market.Instrument{Symbol: "BTC", Name: "Bitcoin"}))
	require.NoError(t, repo.UpsertInstrument(ctx, market.Instrument{Symbol: "BTC", Name: "Bitcoin"}))
	require.NoError(t, repo.UpsertInstrument(ctx, market.Instrument{Symbol: "ETH", Name: "Ether"}))
	require.NoError(t, repo.UpsertInstrument(ctx, market.Instrument{Symbol: "ETH", Name: "Ethereum"}))

	list, err := repo.Instruments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []market.Instrument{{Symbol: "BTC", Name: "Bitcoin"}, {Symbol: "ETH", Name: "Ethereum"}}, list)
}

func TestInsertPriceRejectsUnknownInstrument(t *testing.T) {
	repo, _ := newTestRepo(t)
	err := repo.InsertPrice(context.Background(), market.PricePoint{
		Symbol: "DOGE", Price: dec("0.1"), Timestamp: time.Now(),
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, sqlexec.ErrRetriesExhausted)
	assert.Equal(t, sqlexec.Fatal, sqlexec.Classify(err))
}

func TestLatestPricesPicksNewestTimestampThenID(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	seed(t, repo, "BTC", "ETH")
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	points := []market.PricePoint{
		{Symbol: "BTC", Price: dec("64000.5"), Timestamp: t0.Add(time.Minute)},
		{Symbol: "BTC", Price: dec("65000.12"), Change24h: decimal.NewNullDecimal(dec("1.5")), Timestamp: t0.Add(2 * time.Minute)},
		// 更早的时间戳、更大的 id：不能因为 id 大就当作最新。
		{Symbol: "BTC", Price: dec("1"), Timestamp: t0},
		{Symbol: "ETH", Price: dec("3500"), Timestamp: t0},
		{Symbol: "ETH", Price: dec("3501"), Timestamp: t0},
	}
	for _, p := range points {
		require.NoError(t, repo.InsertPrice(ctx, p))
	}

	quotes, err := repo.LatestPrices(ctx)
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	assert.Equal(t, "BTC", quotes[0].Symbol)
	assert.Equal(t, "BTC coin", quotes[0].Name)
	assert.True(t, quotes[0].Price.Equal(dec("65000.12")), quotes[0].Price.String())
	assert.True(t, quotes[0].Change24h.Valid)
	assert.True(t, quotes[0].Timestamp.Equal(t0.Add(2*time.Minute)))

	assert.Equal(t, "ETH", quotes[1].Symbol)
	assert.True(t, quotes[1].Price.Equal(dec("3501")), "tie on timestamp goes to the later row")
	assert.False(t, quotes[1].Change24h.Valid)

	q, ok, err := repo.LatestPrice(ctx, "ETH")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, q.Price.Equal(dec("3501")))

	_, ok, err = repo.LatestPrice(ctx, "SOL")
	require.NoError(t, err)
	assert.False(t, ok)
}

func bar(sym string, g market.Granularity, at time.Time, o, h, l, c string) market.HistoryBar {
	return market.HistoryBar{
		Symbol: sym, Granularity: g, Bucket: at,
		Open: dec(o), High: dec(h), Low: dec(l), Close: dec(c),
		Volume: dec("10"), QuoteVolume: dec("1000"),
	}
}

func TestUpsertBarOverwritesSameBucket(t *testing.T) {
	ctx := context.Background()
	repo, exec := newTestRepo(t)
	seed(t, repo, "BTC")
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.UpsertBar(ctx, bar("BTC", market.GranularityHour, at, "100", "110", "90", "105")))
	require.NoError(t, repo.UpsertBar(ctx, bar("BTC", market.GranularityHour, at, "101", "120", "95", "115")))

	var count int64
	require.NoError(t, exec.Run(ctx, func(s *sqlexec.Session) error {
		return s.Read(ctx, func(db *gorm.DB) error { return db.Table("hour_data").Count(&count).Error })
	}))
	assert.Equal(t, int64(1), count)

	bars, err := repo.History(ctx, "BTC", market.GranularityHour, 10)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, bars[0].High.Equal(dec("120")))
	assert.True(t, bars[0].Close.Equal(dec("115")))
	assert.True(t, bars[0].Bucket.Equal(at))

	// 其它粒度的表互不影响。
	other, err := repo.History(ctx, "BTC", market.GranularityDay, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestHistoryNewestNOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	seed(t, repo, "ETH")
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.UpsertBar(ctx, bar("ETH", market.GranularityMinute, base.Add(time.Duration(i)*time.Minute), "1", "2", "1", "2")))
	}

	bars, err := repo.History(ctx, "ETH", market.GranularityMinute, 3)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.True(t, bars[0].Bucket.Equal(base.Add(2*time.Minute)))
	assert.True(t, bars[2].Bucket.Equal(base.Add(4*time.Minute)))
	assert.Equal(t, market.GranularityMinute, bars[0].Granularity)

	_, err = repo.History(ctx, "ETH", market.Granularity("week"), 3)
	assert.ErrorIs(t, err, market.ErrUnknownGranularity)
}

func TestUpsertBarRejectsUnknownInstrument(t *testing.T) {
	repo, _ := newTestRepo(t)
	err := repo.UpsertBar(context.Background(), bar("XRP", market.GranularityDay, time.Now().UTC(), "1", "1", "1", "1"))
	assert.Error(t, err)
}

func TestDeleteInstrumentCascades(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	seed(t, repo, "BTC")
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertPrice(ctx, market.PricePoint{Symbol: "BTC", Price: dec("1"), Timestamp: at}))
	require.NoError(t, repo.UpsertBar(ctx, bar("BTC", market.GranularityDay, at, "1", "1", "1", "1")))

	n, err := repo.DeleteInstrument(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	quotes, err := repo.LatestPrices(ctx)
	require.NoError(t, err)
	assert.Empty(t, quotes)
	bars, err := repo.History(ctx, "BTC", market.GranularityDay, 0)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, ClampLimit(0))
	assert.Equal(t, 50, ClampLimit(50))
	assert.Equal(t, MaxHistoryLimit, ClampLimit(5000))
}
