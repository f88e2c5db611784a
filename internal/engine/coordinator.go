package engine

import (
	"context"
	"fmt"
	"time"

	"caixa/internal/aggregate"
	"caixa/internal/cache"
	"caixa/internal/catalog"
	"caixa/internal/core"
	"caixa/internal/log"
)

// Coordinator turns ledger writes into cache invalidations.
type Coordinator struct {
	engine *Engine
	logger *log.Logger
}

func NewCoordinator(e *Engine) *Coordinator {
	return &Coordinator{
		engine: e,
		logger: e.logger.WithComponent(log.ComponentInvalidation),
	}
}

// Keys lists every cache key whose value a write can change, in catalog
// order and without duplicates.
//
// Each registration of the written kind is resolved at the fact time. The
// resulting key is affected when the fact falls inside the period the key
// covers: always for totals, the fact's own day, month and year for calendar
// buckets, and only when the fact is inside the current window for hourly and
// trailing series. An hourly series only exists for today, so facts of other
// days leave it alone. A trailing series may still hold a window computed up
// to one TTL ago, so the fact is also checked against that earlier window.
func (c *Coordinator) Keys(ev core.WriteEvent) []string {
	now := c.engine.Now()
	rule := c.engine.catalog.Rule(ev.Kind)

	var keys []string
	seen := make(map[string]bool)
	for _, at := range ev.Times() {
		for _, target := range rule.Targets {
			plan, err := aggregate.Resolve(target.Granularity, at, now)
			if err != nil {
				continue
			}
			if !plan.Period.Contains(at) && !c.inCachedWindow(target, at, now) {
				continue
			}
			key := cache.Key(target.Metric, target.Granularity.Tag(), plan.Discriminator)
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// inCachedWindow reports whether at falls inside the window a trailing
// target had one TTL before now. Its key never changes while the window
// slides, so a value cached before midnight still covers the day that has
// just left the current window.
func (c *Coordinator) inCachedWindow(target catalog.Target, at, now time.Time) bool {
	if !target.Granularity.Trailing() {
		return false
	}
	_, ttl, err := c.engine.catalog.Lookup(target.Metric, target.Granularity)
	if err != nil {
		return false
	}
	plan, err := aggregate.Resolve(target.Granularity, at, now.Add(-ttl))
	return err == nil && plan.Period.Contains(at)
}

// OnWrite drops the keys affected by ev and returns them. It must be called
// after the write is committed and before the write is reported as done.
// A failed drop is logged and otherwise ignored: the affected values stay
// stale until their TTL runs out.
func (c *Coordinator) OnWrite(ctx context.Context, ev core.WriteEvent) []string {
	fields := log.NewFields().WithWrite(ev)
	if err := ev.Validate(); err != nil {
		c.logger.LogDegraded(ctx, "Ignoring malformed write event", err, log.OpInvalidate, fields)
		return nil
	}

	keys := c.Keys(ev)
	if err := c.engine.Invalidate(ctx, keys...); err != nil {
		c.logger.LogDegraded(ctx, "Cache invalidation failed, values stay stale until their TTL", err,
			log.OpInvalidate, fields.WithErrorType(log.ErrorTypeCacheStore))
		return keys
	}

	c.logger.DebugContext(ctx, "Cache keys invalidated",
		append(fields.WithOperation(log.OpInvalidate).ToSlice(), log.FieldKeysDropped, len(keys))...)
	return keys
}

// DropKeys removes keys by hand, such as after an out-of-band ledger fix.
// Unlike OnWrite it reports store failures. Keys that do not follow the
// metric|granularity|discriminator scheme are rejected before anything is
// dropped.
func (c *Coordinator) DropKeys(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		metric, tag, _, ok := cache.SplitKey(key)
		if !ok {
			return fmt.Errorf("malformed cache key %q", key)
		}
		g, err := aggregate.ParseGranularity(tag)
		if err != nil {
			return fmt.Errorf("cache key %q: %w", key, err)
		}
		if _, _, err := c.engine.catalog.Lookup(metric, g); err != nil {
			return fmt.Errorf("cache key %q: %w", key, err)
		}
	}
	if err := c.engine.Invalidate(ctx, keys...); err != nil {
		return fmt.Errorf("drop keys: %w", err)
	}
	c.logger.InfoContext(ctx, "Cache keys dropped by hand",
		log.FieldOperation, log.OpInvalidate, log.FieldKeysDropped, len(keys))
	return nil
}
