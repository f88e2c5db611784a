// Package engine serves cached aggregates and keeps them consistent with the
// ledger.
//
// Reads go through Engine.Get: a fresh cached value is returned as is,
// otherwise one caller per key recomputes it from the ledger while the others
// wait for that result. Writes go through Coordinator.OnWrite, which derives
// every key the write can affect from the catalog and drops them before the
// write returns.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"caixa/internal/aggregate"
	"caixa/internal/cache"
	"caixa/internal/catalog"
	"caixa/internal/log"
)

// ErrSourceUnavailable wraps ledger failures. They are never cached.
var ErrSourceUnavailable = errors.New("ledger source unavailable")

// Request identifies one aggregate. A zero Anchor means now.
type Request struct {
	Metric      string
	Granularity aggregate.Granularity
	Anchor      time.Time
}

func (r Request) String() string {
	if r.Anchor.IsZero() {
		return r.Metric + "@" + r.Granularity.Tag()
	}
	return r.Metric + "@" + r.Granularity.Tag() + "@" + r.Anchor.Format(time.DateOnly)
}

// Stats are cumulative counters since the engine was built.
type Stats struct {
	Hits         int64
	Misses       int64
	Recomputes   int64
	SourceErrors int64
	StoreErrors  int64
	Invalidated  int64
	Discarded    int64
}

// Engine is safe for concurrent use.
type Engine struct {
	catalog *catalog.Catalog
	source  aggregate.LedgerSource
	store   cache.Store
	clock   clockwork.Clock
	loc     *time.Location
	logger  *log.Logger

	flights singleflight.Group
	stripes stripes

	hits         atomic.Int64
	misses       atomic.Int64
	recomputes   atomic.Int64
	sourceErrors atomic.Int64
	storeErrors  atomic.Int64
	invalidated  atomic.Int64
	discarded    atomic.Int64
}

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLocation sets the calendar used for days, months and hours.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func New(cat *catalog.Catalog, source aggregate.LedgerSource, store cache.Store, opts ...Option) *Engine {
	e := &Engine{
		catalog: cat,
		source:  source,
		store:   store,
		clock:   clockwork.NewRealClock(),
		loc:     time.Local,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Wrap(nil, log.ComponentEngine)
	} else {
		e.logger = e.logger.WithComponent(log.ComponentEngine)
	}
	return e
}

// Now is the engine clock in the engine calendar.
func (e *Engine) Now() time.Time {
	return e.clock.Now().In(e.loc)
}

func (e *Engine) Location() *time.Location {
	return e.loc
}

func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

type resolved struct {
	metric catalog.Metric
	ttl    time.Duration
	plan   aggregate.Plan
	key    string
	now    time.Time
}

func (e *Engine) resolve(req Request) (resolved, error) {
	m, ttl, err := e.catalog.Lookup(req.Metric, req.Granularity)
	if err != nil {
		return resolved{}, err
	}
	now := e.Now()
	plan, err := aggregate.Resolve(req.Granularity, req.Anchor, now)
	if err != nil {
		return resolved{}, fmt.Errorf("%s: %w", req, err)
	}
	return resolved{
		metric: m,
		ttl:    ttl,
		plan:   plan,
		key:    cache.Key(m.ID, req.Granularity.Tag(), plan.Discriminator),
		now:    now,
	}, nil
}

// Key returns the cache key a request reads.
func (e *Engine) Key(req Request) (string, error) {
	r, err := e.resolve(req)
	if err != nil {
		return "", err
	}
	return r.key, nil
}

// Get returns the aggregate for req, cached for the TTL registered in the catalog.
func (e *Engine) Get(ctx context.Context, req Request) (aggregate.Value, error) {
	return e.GetWithTTL(ctx, req, 0)
}

// GetWithTTL is Get with an explicit TTL; a non-positive ttl keeps the catalog one.
func (e *Engine) GetWithTTL(ctx context.Context, req Request, ttl time.Duration) (aggregate.Value, error) {
	r, err := e.resolve(req)
	if err != nil {
		return aggregate.Value{}, err
	}
	if ttl > 0 {
		r.ttl = ttl
	}

	data, ok, err := e.store.Get(ctx, r.key)
	switch {
	case err != nil:
		e.storeErrors.Add(1)
		e.logger.LogDegraded(ctx, "Cache store read failed, recomputing", err, log.OpRead, e.fields(r))
	case ok:
		v, err := aggregate.DecodeValue(data)
		if err == nil {
			e.hits.Add(1)
			return v, nil
		}
		e.logger.LogDegraded(ctx, "Unreadable cache entry, recomputing", err, log.OpRead, e.fields(r))
	}

	e.misses.Add(1)
	return e.load(ctx, r)
}

// load recomputes r once for all concurrent callers. The flight is keyed by
// the stripe generation so readers arriving after an invalidation never join
// a recomputation that started before it.
func (e *Engine) load(ctx context.Context, r resolved) (aggregate.Value, error) {
	st := e.stripes.of(r.key)
	gen := st.generation()

	v, err, _ := e.flights.Do(r.key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		// Every waiter shares this result, so it outlives the leader's context.
		fctx := context.WithoutCancel(ctx)

		if data, ok, err := e.store.Get(fctx, r.key); err == nil && ok {
			if v, err := aggregate.DecodeValue(data); err == nil {
				return v, nil
			}
		}

		v, data, err := e.compute(fctx, r)
		if err != nil {
			return nil, err
		}
		e.storeIfCurrent(fctx, st, gen, r, data)
		return v, nil
	})
	if err != nil {
		return aggregate.Value{}, err
	}
	return v.(aggregate.Value), nil
}

// compute queries the ledger and returns the value in the exact form a cache
// hit would return it.
func (e *Engine) compute(ctx context.Context, r resolved) (aggregate.Value, []byte, error) {
	e.recomputes.Add(1)
	start := e.clock.Now()

	v, err := aggregate.Compute(ctx, e.source, r.metric.Query(), r.plan, r.now)
	if err != nil {
		e.sourceErrors.Add(1)
		e.logger.LogError(ctx, "Aggregate query failed", err, log.OpRecompute, e.fields(r))
		return aggregate.Value{}, nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, r.key, err)
	}

	data, err := v.Encode()
	if err != nil {
		return aggregate.Value{}, nil, fmt.Errorf("encode %s: %w", r.key, err)
	}
	canonical, err := aggregate.DecodeValue(data)
	if err != nil {
		return aggregate.Value{}, nil, err
	}

	e.logger.DebugContext(ctx, "Aggregate recomputed",
		e.fields(r).WithDuration(e.clock.Since(start)).ToSlice()...)
	return canonical, data, nil
}

func (e *Engine) storeIfCurrent(ctx context.Context, st *stripe, gen uint64, r resolved, data []byte) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.gen != gen {
		e.discarded.Add(1)
		e.logger.DebugContext(ctx, "Key invalidated during recomputation, result not cached", e.fields(r).ToSlice()...)
		return
	}
	if err := e.store.Set(ctx, r.key, data, r.ttl); err != nil {
		e.storeErrors.Add(1)
		e.logger.LogDegraded(ctx, "Cache store write failed, value served uncached", err, log.OpStore, e.fields(r))
	}
}

// Invalidate drops keys from the store. The stripes of all keys are held
// together while their generations move and the delete runs, so no reader
// can publish a value computed before the call into any of them.
func (e *Engine) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(keys))
	seen := make(map[int]bool, len(keys))
	for _, key := range keys {
		if i := stripeIndex(key); !seen[i] {
			seen[i] = true
			indexes = append(indexes, i)
		}
	}
	sort.Ints(indexes)

	for _, i := range indexes {
		e.stripes[i].mu.Lock()
		e.stripes[i].gen++
	}
	err := e.store.Delete(ctx, keys...)
	for i := len(indexes) - 1; i >= 0; i-- {
		e.stripes[indexes[i]].mu.Unlock()
	}

	if err != nil {
		e.storeErrors.Add(1)
		return err
	}
	e.invalidated.Add(int64(len(keys)))
	return nil
}

func (e *Engine) Stats() Stats {
	return Stats{
		Hits:         e.hits.Load(),
		Misses:       e.misses.Load(),
		Recomputes:   e.recomputes.Load(),
		SourceErrors: e.sourceErrors.Load(),
		StoreErrors:  e.storeErrors.Load(),
		Invalidated:  e.invalidated.Load(),
		Discarded:    e.discarded.Load(),
	}
}

func (e *Engine) fields(r resolved) log.LogFields {
	return log.NewFields().WithMetric(r.metric.ID, r.plan.Granularity.Tag(), r.key)
}
