package aggregate

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"caixa/internal/core"
)

// Row is one ledger fact held by a MemorySource.
type Row struct {
	Kind   core.Kind
	At     time.Time
	Amount decimal.Decimal
	Open   bool
	// Party is the customer of a sale or the supplier of a purchase.
	Party string
}

// MemorySource is an in-process LedgerSource. It counts the queries it
// serves and can be told to fail, which makes it the usual stand-in for the
// SQL ledger in tests.
type MemorySource struct {
	mu    sync.RWMutex
	rows  []Row
	err   error
	delay time.Duration

	calls atomic.Int64
}

func NewMemorySource(rows ...Row) *MemorySource {
	return &MemorySource{rows: rows}
}

func (s *MemorySource) Add(rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
}

// Fail makes every following query return err until Fail(nil) is called.
func (s *MemorySource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Slow delays every query by d.
func (s *MemorySource) Slow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Calls returns how many queries reached the source.
func (s *MemorySource) Calls() int64 {
	return s.calls.Load()
}

func (s *MemorySource) Aggregate(ctx context.Context, q Query, w Window) (decimal.Decimal, error) {
	rows, err := s.begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range rows {
		if matches(q, r) && w.Contains(r.At) {
			total = total.Add(contribution(q, r))
		}
	}
	return total, nil
}

func (s *MemorySource) AggregateByBucket(ctx context.Context, q Query, w Window, b Bucket) ([]decimal.Decimal, error) {
	rows, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	starts := b.Starts(w)
	index := make(map[string]int, len(starts))
	out := make([]decimal.Decimal, len(starts))
	for i, t := range starts {
		index[b.Label(t)] = i
		out[i] = decimal.Zero
	}
	for _, r := range rows {
		if !matches(q, r) || !w.Contains(r.At) {
			continue
		}
		at := r.At
		if len(starts) > 0 {
			at = at.In(starts[0].Location())
		}
		if i, ok := index[b.Label(at)]; ok {
			out[i] = out[i].Add(contribution(q, r))
		}
	}
	return out, nil
}

func (s *MemorySource) AggregateByGroup(ctx context.Context, q Query, w Window) ([]GroupValue, error) {
	rows, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]decimal.Decimal)
	for _, r := range rows {
		if matches(q, r) && w.Contains(r.At) {
			totals[r.Party] = totals[r.Party].Add(contribution(q, r))
		}
	}
	out := make([]GroupValue, 0, len(totals))
	for label, v := range totals {
		out = append(out, GroupValue{Label: label, Value: v})
	}
	slices.SortFunc(out, func(a, b GroupValue) int {
		if c := b.Value.Cmp(a.Value); c != 0 {
			return c
		}
		return strings.Compare(a.Label, b.Label)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemorySource) begin(ctx context.Context) ([]Row, error) {
	s.calls.Add(1)
	s.mu.RLock()
	rows, err, delay := append([]Row(nil), s.rows...), s.err, s.delay
	s.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return rows, err
}

func matches(q Query, r Row) bool {
	if r.Kind != q.Kind {
		return false
	}
	switch q.Filter {
	case FilterPositive:
		return r.Amount.IsPositive()
	case FilterNegative:
		return r.Amount.IsNegative()
	case FilterOpen:
		return r.Open
	default:
		return true
	}
}

func contribution(q Query, r Row) decimal.Decimal {
	if q.Op == OpCount {
		return decimal.NewFromInt(1)
	}
	return r.Amount
}
