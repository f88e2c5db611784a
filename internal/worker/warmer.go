package worker

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"caixa/internal/aggregate"
	"caixa/internal/catalog"
	"caixa/internal/engine"
	"caixa/internal/log"
)

// Reader serves aggregates through the cache.
type Reader interface {
	Get(ctx context.Context, req engine.Request) (aggregate.Value, error)
}

// Warmer reads a fixed set of aggregates so that their cache entries are
// recomputed off the request path.
type Warmer struct {
	reader   Reader
	requests []engine.Request
	clock    clockwork.Clock
	limit    int
	logger   *log.Logger
}

type WarmerOption func(*Warmer)

func WithWarmerClock(c clockwork.Clock) WarmerOption {
	return func(w *Warmer) { w.clock = c }
}

// WithConcurrency bounds the number of reads in flight.
func WithConcurrency(n int) WarmerOption {
	return func(w *Warmer) {
		if n > 0 {
			w.limit = n
		}
	}
}

func WithWarmerLogger(l *log.Logger) WarmerOption {
	return func(w *Warmer) { w.logger = l }
}

func NewWarmer(reader Reader, requests []engine.Request, opts ...WarmerOption) *Warmer {
	w := &Warmer{
		reader:   reader,
		requests: requests,
		clock:    clockwork.NewRealClock(),
		limit:    runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.Wrap(nil, log.ComponentWorker)
	} else {
		w.logger = w.logger.WithComponent(log.ComponentWorker)
	}
	return w
}

// DefaultRequests lists every registered (metric, granularity) pair at the
// current anchor, in catalog order.
func DefaultRequests(cat *catalog.Catalog) []engine.Request {
	var reqs []engine.Request
	for _, m := range cat.Metrics() {
		for _, r := range m.Granularities {
			reqs = append(reqs, engine.Request{Metric: m.ID, Granularity: r.Granularity})
		}
	}
	return reqs
}

// WarmUp reads every request once and returns how many succeeded. A failed
// read is logged and does not stop the others.
func (w *Warmer) WarmUp(ctx context.Context) int {
	start := w.clock.Now()
	var ok atomic.Int64

	var g errgroup.Group
	g.SetLimit(w.limit)
	for _, req := range w.requests {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if _, err := w.reader.Get(ctx, req); err != nil {
				w.logger.LogDegraded(ctx, "Warm-up read failed", err, log.OpWarmUp,
					log.NewFields().WithMetric(req.Metric, req.Granularity.Tag(), ""))
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	// Failures are logged per request; no goroutine returns an error.
	_ = g.Wait()

	warmed := int(ok.Load())
	w.logger.DebugContext(ctx, "Cache warm-up finished",
		append(log.NewFields().WithOperation(log.OpWarmUp).WithDuration(w.clock.Since(start)).ToSlice(),
			"requested", len(w.requests),
			"warmed", warmed)...)
	return warmed
}

// Run warms up immediately and then every interval until ctx is done.
func (w *Warmer) Run(ctx context.Context, interval time.Duration) error {
	w.WarmUp(ctx)

	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			w.WarmUp(ctx)
		}
	}
}
