package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixa/internal/aggregate"
	"caixa/internal/cache"
	"caixa/internal/catalog"
	"caixa/internal/core"
	"caixa/internal/log"
)

var brt = time.FixedZone("BRT", -3*60*60)

var errStoreDown = fmt.Errorf("%w: connection refused", cache.ErrStoreUnavailable)

// flakyStore is a MemoryStore whose operations can be made to fail.
type flakyStore struct {
	*cache.MemoryStore
	failGet    atomic.Bool
	failSet    atomic.Bool
	failDelete atomic.Bool
	sets       atomic.Int64
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.failGet.Load() {
		return nil, false, errStoreDown
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.failSet.Load() {
		return errStoreDown
	}
	s.sets.Add(1)
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func (s *flakyStore) Delete(ctx context.Context, keys ...string) error {
	if s.failDelete.Load() {
		return errStoreDown
	}
	return s.MemoryStore.Delete(ctx, keys...)
}

func (s *flakyStore) has(key string) bool {
	_, ok, _ := s.MemoryStore.Get(context.Background(), key)
	return ok
}

type fixture struct {
	engine *Engine
	coord  *Coordinator
	source *aggregate.MemorySource
	store  *flakyStore
	clock  *clockwork.FakeClock
}

// newFixture starts the clock on Monday 2026-10-12 15:30 in Sao Paulo.
func newFixture(t *testing.T) *fixture {
	return newFixtureAt(t, time.Date(2026, 10, 12, 15, 30, 0, 0, brt))
}

func newFixtureAt(t *testing.T, now time.Time) *fixture {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(now)
	source := aggregate.NewMemorySource()
	store := &flakyStore{MemoryStore: cache.NewMemoryStore(cache.WithClock(clock))}
	eng := New(cat, source, store, WithClock(clock), WithLocation(brt), WithLogger(log.Discard()))

	return &fixture{engine: eng, coord: NewCoordinator(eng), source: source, store: store, clock: clock}
}

func (f *fixture) cash(day, hour int, amount string) {
	f.source.Add(aggregate.Row{
		Kind:   core.KindCashFlow,
		At:     time.Date(2026, 10, day, hour, 0, 0, 0, brt),
		Amount: decimal.RequireFromString(amount),
	})
}

func (f *fixture) get(t *testing.T, metric string, g aggregate.Granularity, anchor time.Time) aggregate.Value {
	t.Helper()
	v, err := f.engine.Get(context.Background(), Request{Metric: metric, Granularity: g, Anchor: anchor})
	require.NoError(t, err)
	return v
}

func (f *fixture) key(t *testing.T, metric string, g aggregate.Granularity, anchor time.Time) string {
	t.Helper()
	k, err := f.engine.Key(Request{Metric: metric, Granularity: g, Anchor: anchor})
	require.NoError(t, err)
	return k
}

func TestGet_EmptyLedgerIsZero(t *testing.T) {
	f := newFixture(t)

	v := f.get(t, "cash.balance", aggregate.Total, time.Time{})
	assert.True(t, v.Scalar.IsZero())

	series := f.get(t, "cash.balance", aggregate.LastNDays(7), time.Time{})
	require.Len(t, series.Points, 7)
	for _, p := range series.Points {
		assert.True(t, p.IsZero())
	}
}

func TestGet_DayMonthAndTotal(t *testing.T) {
	f := newFixture(t)
	f.cash(12, 9, "150.00")
	f.cash(12, 11, "-40.00")
	f.cash(11, 10, "200.00")

	today := f.clock.Now()
	assert.Equal(t, "110.00", core.FormatAmount(f.get(t, "cash.balance", aggregate.Day, today).Scalar))
	assert.Equal(t, "310.00", core.FormatAmount(f.get(t, "cash.balance", aggregate.Total, today).Scalar))
	assert.Equal(t, "310.00", core.FormatAmount(f.get(t, "cash.balance", aggregate.Month, today).Scalar))
}

func TestGet_HitWithinTTLIsIdentical(t *testing.T) {
	f := newFixture(t)
	f.cash(12, 9, "150.00")

	first := f.get(t, "cash.balance", aggregate.Day, time.Time{})
	f.clock.Advance(4 * time.Minute)
	second := f.get(t, "cash.balance", aggregate.Day, time.Time{})

	assert.Equal(t, first, second)
	assert.Equal(t, first.Scalar.String(), second.Scalar.String())
	assert.Equal(t, int64(1), f.source.Calls())

	stats := f.engine.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Recomputes)
}

func TestGet_RecomputesAfterTTL(t *testing.T) {
	f := newFixture(t)
	f.cash(12, 9, "150.00")

	first := f.get(t, "cash.balance", aggregate.Day, time.Time{})
	f.cash(12, 10, "10.00") // written behind the engine's back
	f.clock.Advance(5 * time.Minute)

	second := f.get(t, "cash.balance", aggregate.Day, time.Time{})
	assert.Equal(t, int64(2), f.source.Calls())
	assert.True(t, first.Scalar.Equal(decimal.NewFromInt(150)))
	assert.True(t, second.Scalar.Equal(decimal.NewFromInt(160)))

	f.get(t, "cash.balance", aggregate.Day, time.Time{})
	assert.Equal(t, int64(2), f.source.Calls(), "fresh again after the recomputation")
}

func TestGetWithTTL_OverridesCatalog(t *testing.T) {
	f := newFixture(t)
	req := Request{Metric: "cash.balance", Granularity: aggregate.Total}

	_, err := f.engine.GetWithTTL(context.Background(), req, 30*time.Second)
	require.NoError(t, err)
	f.clock.Advance(31 * time.Second)
	_, err = f.engine.GetWithTTL(context.Background(), req, 30*time.Second)
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.source.Calls())
}

func TestGet_SingleFlight(t *testing.T) {
	f := newFixture(t)
	f.cash(12, 9, "42.00")
	f.source.Slow(50 * time.Millisecond)

	const readers = 50
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]aggregate.Value, readers)
		errs    = make([]error, readers)
	)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.engine.Get(context.Background(),
				Request{Metric: "cash.balance", Granularity: aggregate.Total})
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), f.source.Calls())
	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.True(t, results[0].Scalar.Equal(decimal.NewFromInt(42)))
}

func TestGet_SourceFailureIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.cash(12, 9, "5.00")
	boom := errors.New("connection lost")
	f.source.Fail(boom)

	_, err := f.engine.Get(context.Background(), Request{Metric: "cash.balance", Granularity: aggregate.Total})
	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.ErrorIs(t, err, boom)
	assert.False(t, f.store.has(f.key(t, "cash.balance", aggregate.Total, time.Time{})))

	f.source.Fail(nil)
	v := f.get(t, "cash.balance", aggregate.Total, time.Time{})
	assert.True(t, v.Scalar.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, int64(1), f.engine.Stats().SourceErrors)
}

func TestGet_StoreDownDegradesToRecompute(t *testing.T) {
	f := newFixture(t)
	f.cash(12, 9, "5.00")
	f.store.failGet.Store(true)
	f.store.failSet.Store(true)

	for i := 0; i < 3; i++ {
		v := f.get(t, "cash.balance", aggregate.Total, time.Time{})
		assert.True(t, v.Scalar.Equal(decimal.NewFromInt(5)))
	}
	assert.Equal(t, int64(3), f.source.Calls(), "every read bypasses the cache")
	assert.GreaterOrEqual(t, f.engine.Stats().StoreErrors, int64(3))

	f.store.failGet.Store(false)
	f.store.failSet.Store(false)
	f.get(t, "cash.balance", aggregate.Total, time.Time{})
	f.get(t, "cash.balance", aggregate.Total, time.Time{})
	assert.Equal(t, int64(4), f.source.Calls(), "caching resumes with the store")
}

func TestGet_StoreWriteFailureStillServes(t *testing.T) {
	f := newFixture(t)
	f.cash(12, 9, "5.00")
	f.store.failSet.Store(true)

	v := f.get(t, "cash.balance", aggregate.Day, time.Time{})
	assert.True(t, v.Scalar.Equal(decimal.NewFromInt(5)))
	assert.Zero(t, f.store.Size())
}

func TestGet_RejectsBadRequestsBeforeTheCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Get(ctx, Request{Metric: "cash.balance", Granularity: aggregate.Hourly,
		Anchor: time.Date(2025, 1, 1, 0, 0, 0, 0, brt)})
	assert.ErrorIs(t, err, aggregate.ErrInvalidAnchor)

	_, err = f.engine.Get(ctx, Request{Metric: "inventory.value", Granularity: aggregate.Total})
	assert.ErrorIs(t, err, catalog.ErrUnknownMetric)

	_, err = f.engine.Get(ctx, Request{Metric: "cash.balance", Granularity: aggregate.Monthly})
	assert.ErrorIs(t, err, catalog.ErrUnknownGranularity)

	assert.Zero(t, f.source.Calls())
	assert.Zero(t, f.engine.Stats().Misses)
}

func TestGet_DailySeriesPartialWindow(t *testing.T) {
	f := newFixtureAt(t, time.Date(2026, 10, 10, 8, 0, 0, 0, brt))

	current := f.get(t, "cash.balance", aggregate.Daily, time.Time{})
	assert.Len(t, current.Points, 10)

	past := f.get(t, "cash.balance", aggregate.Daily, time.Date(2026, 8, 15, 0, 0, 0, 0, brt))
	assert.Len(t, past.Points, 31)
}

func TestKey_Scheme(t *testing.T) {
	f := newFixture(t)
	anchor := time.Date(2026, 10, 9, 18, 0, 0, 0, brt)

	assert.Equal(t, "cash.balance|total|all", f.key(t, "cash.balance", aggregate.Total, anchor))
	assert.Equal(t, "cash.balance|day|2026-10-09", f.key(t, "cash.balance", aggregate.Day, anchor))
	assert.Equal(t, "cash.balance|month|2026-10", f.key(t, "cash.balance", aggregate.Month, anchor))
	assert.Equal(t, "cash.balance|daily|2026-10", f.key(t, "cash.balance", aggregate.Daily, anchor))
	assert.Equal(t, "cash.balance|last-7-days|trailing", f.key(t, "cash.balance", aggregate.LastNDays(7), anchor))
	assert.Equal(t, "cash.balance|hourly|2026-10-12", f.key(t, "cash.balance", aggregate.Hourly, time.Time{}))
	assert.Equal(t, "sales.total|monthly|2026", f.key(t, "sales.total", aggregate.Monthly, anchor))
}
