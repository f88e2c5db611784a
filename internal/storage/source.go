package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"caixa/internal/aggregate"
	"caixa/internal/core"
)

// tableSpec maps a ledger kind to its fact table.
type tableSpec struct {
	table  string
	amount string
	at     string
	// groups maps the rankable columns of the table.
	groups map[aggregate.Group]string
}

var tables = map[core.Kind]tableSpec{
	core.KindCashFlow: {table: "cash_flows", amount: "amount", at: "occurred_at"},
	core.KindPurchase: {table: "purchases", amount: "total", at: "purchased_at",
		groups: map[aggregate.Group]string{aggregate.GroupSupplier: "supplier"}},
	core.KindSale: {table: "sales", amount: "total_discounted", at: "sold_at",
		groups: map[aggregate.Group]string{aggregate.GroupCustomer: "customer"}},
	core.KindPayable: {table: "payables", amount: "installment", at: "due_at"},
}

// Aggregate implements aggregate.LedgerSource.
func (r *LedgerRepository) Aggregate(ctx context.Context, q aggregate.Query, w aggregate.Window) (decimal.Decimal, error) {
	spec, err := specFor(q)
	if err != nil {
		return decimal.Zero, err
	}
	where, args := r.predicate(spec, q, w)

	var units int64
	query := "SELECT " + measure(spec, q) + " FROM " + spec.table + where
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&units); err != nil {
		return decimal.Zero, fmt.Errorf("aggregate %s %s: %w", q.Kind, w, err)
	}
	return value(q, units), nil
}

// AggregateByBucket implements aggregate.LedgerSource. Buckets without rows
// are zero.
func (r *LedgerRepository) AggregateByBucket(ctx context.Context, q aggregate.Query, w aggregate.Window, b aggregate.Bucket) ([]decimal.Decimal, error) {
	spec, err := specFor(q)
	if err != nil {
		return nil, err
	}
	starts := b.Starts(w)
	out := make([]decimal.Decimal, len(starts))
	index := make(map[string]int, len(starts))
	for i, t := range starts {
		out[i] = decimal.Zero
		index[b.Label(t.In(r.loc))] = i
	}
	if len(starts) == 0 {
		return out, nil
	}

	where, args := r.predicate(spec, q, w)
	prefix := fmt.Sprintf("substr(%s, 1, %d)", spec.at, len(b.Layout()))
	query := "SELECT " + prefix + " AS bucket, " + measure(spec, q) +
		" FROM " + spec.table + where + " GROUP BY bucket"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s by %s %s: %w", q.Kind, b, w, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			label string
			units int64
		)
		if err := rows.Scan(&label, &units); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		if i, ok := index[label]; ok {
			out[i] = value(q, units)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return out, nil
}

// AggregateByGroup implements aggregate.LedgerSource.
func (r *LedgerRepository) AggregateByGroup(ctx context.Context, q aggregate.Query, w aggregate.Window) ([]aggregate.GroupValue, error) {
	spec, err := specFor(q)
	if err != nil {
		return nil, err
	}
	column, ok := spec.groups[q.GroupBy]
	if !ok {
		return nil, fmt.Errorf("%s cannot be grouped by %q", spec.table, q.GroupBy)
	}

	where, args := r.predicate(spec, q, w)
	query := "SELECT " + column + " AS label, " + measure(spec, q) + " AS measure" +
		" FROM " + spec.table + where +
		" GROUP BY label ORDER BY measure DESC, label ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s by %s %s: %w", q.Kind, q.GroupBy, w, err)
	}
	defer rows.Close()

	out := []aggregate.GroupValue{}
	for rows.Next() {
		var (
			label string
			units int64
		)
		if err := rows.Scan(&label, &units); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, aggregate.GroupValue{Label: label, Value: value(q, units)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

func specFor(q aggregate.Query) (tableSpec, error) {
	if err := q.Validate(); err != nil {
		return tableSpec{}, err
	}
	spec, ok := tables[q.Kind]
	if !ok {
		return tableSpec{}, fmt.Errorf("%w: %q", core.ErrInvalidKind, q.Kind)
	}
	return spec, nil
}

func measure(spec tableSpec, q aggregate.Query) string {
	if q.Op == aggregate.OpCount {
		return "COUNT(*)"
	}
	return "COALESCE(SUM(" + spec.amount + "), 0)"
}

func value(q aggregate.Query, units int64) decimal.Decimal {
	if q.Op == aggregate.OpCount {
		return decimal.NewFromInt(units)
	}
	return core.FromUnits(units)
}

func (r *LedgerRepository) predicate(spec tableSpec, q aggregate.Query, w aggregate.Window) (string, []any) {
	var (
		conds []string
		args  []any
	)
	switch q.Filter {
	case aggregate.FilterPositive:
		conds = append(conds, spec.amount+" > 0")
	case aggregate.FilterNegative:
		conds = append(conds, spec.amount+" < 0")
	case aggregate.FilterOpen:
		conds = append(conds, "status = ?")
		args = append(args, int(core.PayableOpen))
	}
	if !w.Unbounded() {
		if !w.From.IsZero() {
			conds = append(conds, spec.at+" >= ?")
			args = append(args, r.formatTime(w.From))
		}
		if !w.To.IsZero() {
			conds = append(conds, spec.at+" < ?")
			args = append(args, r.formatTime(w.To))
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
