package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"caixa/internal/core"
)

// Filter restricts which ledger rows take part in an aggregate.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterPositive Filter = "positive"
	FilterNegative Filter = "negative"
	// FilterOpen keeps payables that have not been settled.
	FilterOpen Filter = "open"
)

// Op is the aggregation operator.
type Op string

const (
	OpSum   Op = "sum"
	OpCount Op = "count"
)

// Group is the column a ranked aggregate is split by.
type Group string

const (
	GroupCustomer Group = "customer"
	GroupSupplier Group = "supplier"
)

// groupKinds lists the ledger each group column belongs to.
var groupKinds = map[Group]core.Kind{
	GroupCustomer: core.KindSale,
	GroupSupplier: core.KindPurchase,
}

// Query names the ledger rows an aggregate reads and how they are combined.
// With GroupBy set the rows are combined per group and ranked, largest
// first; a positive Limit keeps only that many groups.
type Query struct {
	Kind    core.Kind
	Filter  Filter
	Op      Op
	GroupBy Group
	Limit   int
}

// Grouped reports whether q yields a ranking rather than a single figure.
func (q Query) Grouped() bool {
	return q.GroupBy != ""
}

func (q Query) Validate() error {
	if !q.Kind.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidKind, q.Kind)
	}
	switch q.Filter {
	case FilterAll, FilterPositive, FilterNegative:
	case FilterOpen:
		if q.Kind != core.KindPayable {
			return fmt.Errorf("filter %q only applies to payables", q.Filter)
		}
	default:
		return fmt.Errorf("unknown filter %q", q.Filter)
	}
	switch q.Op {
	case OpSum, OpCount:
	default:
		return fmt.Errorf("unknown operator %q", q.Op)
	}
	if q.Grouped() {
		kind, ok := groupKinds[q.GroupBy]
		if !ok {
			return fmt.Errorf("unknown group %q", q.GroupBy)
		}
		if kind != q.Kind {
			return fmt.Errorf("group %q only applies to %s", q.GroupBy, kind)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", q.Limit)
	}
	if q.Limit > 0 && !q.Grouped() {
		return errors.New("limit needs a group")
	}
	return nil
}

// GroupValue is one entry of a ranking.
type GroupValue struct {
	Label string
	Value decimal.Decimal
}

// LedgerSource answers read-only aggregate queries over the ledger.
// Windows with no matching rows aggregate to zero.
type LedgerSource interface {
	// Aggregate combines the rows of q inside w. A zero Window means all time.
	Aggregate(ctx context.Context, q Query, w Window) (decimal.Decimal, error)
	// AggregateByBucket returns one value per b.Starts(w), oldest first.
	AggregateByBucket(ctx context.Context, q Query, w Window, b Bucket) ([]decimal.Decimal, error)
	// AggregateByGroup combines the rows of q inside w per q.GroupBy value,
	// largest first and ties by label.
	AggregateByGroup(ctx context.Context, q Query, w Window) ([]GroupValue, error)
}
