package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Value is a computed aggregate: a scalar, a series ordered oldest first, or
// a ranking whose points are labelled and ordered largest first.
// Values keep full precision; rounding belongs to whoever renders them.
type Value struct {
	IsSeries   bool              `json:"is_series"`
	Ranked     bool              `json:"ranked,omitempty"`
	Scalar     decimal.Decimal   `json:"scalar"`
	Points     []decimal.Decimal `json:"points,omitempty"`
	Labels     []string          `json:"labels,omitempty"`
	ComputedAt time.Time         `json:"computed_at"`
}

// Sum adds the points of a series, or returns the scalar.
func (v Value) Sum() decimal.Decimal {
	if !v.IsSeries {
		return v.Scalar
	}
	return decimal.Sum(decimal.Zero, v.Points...)
}

// Encode serialises a value for a cache store. Decimals travel as strings so
// a decoded value is exactly the one encoded.
func (v Value) Encode() ([]byte, error) {
	return json.Marshal(v)
}

func DecodeValue(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// Compute evaluates q over a resolved plan.
func Compute(ctx context.Context, src LedgerSource, q Query, plan Plan, now time.Time) (Value, error) {
	if q.Grouped() {
		return rank(ctx, src, q, plan, now)
	}
	if !plan.Granularity.IsSeries() {
		total, err := src.Aggregate(ctx, q, plan.Window)
		if err != nil {
			return Value{}, err
		}
		return Value{Scalar: total, ComputedAt: now}, nil
	}

	v := Value{IsSeries: true, Points: []decimal.Decimal{}, ComputedAt: now}
	if plan.Points() == 0 {
		return v, nil
	}
	points, err := src.AggregateByBucket(ctx, q, plan.Window, plan.Bucket)
	if err != nil {
		return Value{}, err
	}
	if len(points) != plan.Points() {
		return Value{}, fmt.Errorf("ledger returned %d points for %d buckets", len(points), plan.Points())
	}
	v.Points = points
	return v, nil
}

// rank evaluates a grouped query over a single window.
func rank(ctx context.Context, src LedgerSource, q Query, plan Plan, now time.Time) (Value, error) {
	if plan.Granularity.IsSeries() {
		return Value{}, fmt.Errorf("%w: %s cannot be ranked by %s", ErrInvalidGranularity, plan.Granularity, q.GroupBy)
	}
	groups, err := src.AggregateByGroup(ctx, q, plan.Window)
	if err != nil {
		return Value{}, err
	}
	v := Value{
		IsSeries:   true,
		Ranked:     true,
		Points:     make([]decimal.Decimal, len(groups)),
		Labels:     make([]string, len(groups)),
		ComputedAt: now,
	}
	for i, g := range groups {
		v.Labels[i] = g.Label
		v.Points[i] = g.Value
	}
	return v, nil
}
