package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrStoreUnavailable wraps transport failures of a Store.
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Store is a keyed byte store with per-entry expiry. Expired entries are
// absent. Deleting an absent key is not an error. Implementations must be
// safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// KeySeparator joins the parts of a key. Metric ids may not contain it.
const KeySeparator = "|"

// Key derives the cache key of a metric at a granularity and anchor, e.g.
// "cash.balance|day|2026-10-12" or "sales.total|last-7-days|trailing".
func Key(metric, granularity, discriminator string) string {
	return strings.Join([]string{metric, granularity, discriminator}, KeySeparator)
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (metric, granularity, discriminator string, ok bool) {
	parts := strings.Split(key, KeySeparator)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
