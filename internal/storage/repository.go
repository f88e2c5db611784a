// Package storage keeps the ledger in SQLite and answers aggregate queries
// over it.
//
// Timestamps are stored as wall-clock text in the ledger time zone, so the
// text prefix of a timestamp names its hour, day and month and range
// predicates compare lexically.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"caixa/internal/core"

	_ "modernc.org/sqlite"
)

// timeLayout is the stored form of every timestamp column.
const timeLayout = time.DateTime

var ErrNotFound = errors.New("ledger row not found")

type LedgerRepository struct {
	db  *sql.DB
	loc *time.Location
}

// NewLedgerRepository opens (creating if needed) the ledger at dbPath and
// migrates it. Times are written and bucketed in loc.
func NewLedgerRepository(dbPath string, loc *time.Location) (*LedgerRepository, error) {
	if loc == nil {
		loc = time.Local
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("Ledger schema ready", "path", dbPath, "schema_version", version)

	return &LedgerRepository{db: db, loc: loc}, nil
}

func (r *LedgerRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Location is the calendar timestamps are stored in.
func (r *LedgerRepository) Location() *time.Location {
	return r.loc
}

func (r *LedgerRepository) formatTime(t time.Time) string {
	return t.In(r.loc).Format(timeLayout)
}

func (r *LedgerRepository) parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, r.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func (r *LedgerRepository) InsertCashFlow(ctx context.Context, c core.CashFlow) (core.CashFlow, error) {
	if err := c.Validate(); err != nil {
		return core.CashFlow{}, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO cash_flows (description, amount, occurred_at) VALUES (?, ?, ?)`,
		c.Description, core.ToUnits(c.Amount), r.formatTime(c.OccurredAt))
	if err != nil {
		return core.CashFlow{}, fmt.Errorf("insert cash flow: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return core.CashFlow{}, fmt.Errorf("cash flow id: %w", err)
	}

	slog.InfoContext(ctx, "Cash flow saved to SQLite",
		"id", c.ID,
		"amount", core.FormatAmount(c.Amount),
		"occurred_at", r.formatTime(c.OccurredAt))
	return c, nil
}

func (r *LedgerRepository) InsertPurchase(ctx context.Context, p core.Purchase) (core.Purchase, error) {
	if err := p.Validate(); err != nil {
		return core.Purchase{}, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO purchases (supplier, total, purchased_at) VALUES (?, ?, ?)`,
		p.Supplier, core.ToUnits(p.Total), r.formatTime(p.PurchasedAt))
	if err != nil {
		return core.Purchase{}, fmt.Errorf("insert purchase: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return core.Purchase{}, fmt.Errorf("purchase id: %w", err)
	}

	slog.InfoContext(ctx, "Purchase saved to SQLite",
		"id", p.ID,
		"supplier", p.Supplier,
		"total", core.FormatAmount(p.Total),
		"purchased_at", r.formatTime(p.PurchasedAt))
	return p, nil
}

func (r *LedgerRepository) InsertSale(ctx context.Context, s core.Sale) (core.Sale, error) {
	if err := s.Validate(); err != nil {
		return core.Sale{}, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sales (customer, total, total_discounted, sold_at) VALUES (?, ?, ?, ?)`,
		s.Customer, core.ToUnits(s.Total), core.ToUnits(s.TotalDiscounted), r.formatTime(s.SoldAt))
	if err != nil {
		return core.Sale{}, fmt.Errorf("insert sale: %w", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return core.Sale{}, fmt.Errorf("sale id: %w", err)
	}

	slog.InfoContext(ctx, "Sale saved to SQLite",
		"id", s.ID,
		"customer", s.Customer,
		"total_discounted", core.FormatAmount(s.TotalDiscounted),
		"sold_at", r.formatTime(s.SoldAt))
	return s, nil
}

func (r *LedgerRepository) InsertPayable(ctx context.Context, p core.Payable) (core.Payable, error) {
	if err := p.Validate(); err != nil {
		return core.Payable{}, err
	}
	p.Status = core.PayableOpen
	p.PaidAt = time.Time{}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO payables (description, installment, due_at, status) VALUES (?, ?, ?, ?)`,
		p.Description, core.ToUnits(p.Installment), r.formatTime(p.DueAt), int(core.PayableOpen))
	if err != nil {
		return core.Payable{}, fmt.Errorf("insert payable: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return core.Payable{}, fmt.Errorf("payable id: %w", err)
	}

	slog.InfoContext(ctx, "Payable saved to SQLite",
		"id", p.ID,
		"description", p.Description,
		"installment", core.FormatAmount(p.Installment),
		"due_at", r.formatTime(p.DueAt))
	return p, nil
}

func (r *LedgerRepository) GetPayable(ctx context.Context, id int64) (core.Payable, error) {
	var (
		p      core.Payable
		units  int64
		dueAt  string
		status int
		paidAt sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, description, installment, due_at, status, paid_at FROM payables WHERE id = ?`, id).
		Scan(&p.ID, &p.Description, &units, &dueAt, &status, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Payable{}, fmt.Errorf("payable %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Payable{}, fmt.Errorf("get payable %d: %w", id, err)
	}

	p.Installment = core.FromUnits(units)
	p.Status = core.PayableStatus(status)
	if p.DueAt, err = r.parseTime(dueAt); err != nil {
		return core.Payable{}, err
	}
	if paidAt.Valid {
		if p.PaidAt, err = r.parseTime(paidAt.String); err != nil {
			return core.Payable{}, err
		}
	}
	return p, nil
}

// SettlePayable marks an open payable as paid at paidAt and returns it as
// stored. Settling a paid payable is a no-op.
func (r *LedgerRepository) SettlePayable(ctx context.Context, id int64, paidAt time.Time) (core.Payable, error) {
	if paidAt.IsZero() {
		return core.Payable{}, core.ErrZeroTime
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE payables SET status = ?, paid_at = ? WHERE id = ? AND status = ?`,
		int(core.PayablePaid), r.formatTime(paidAt), id, int(core.PayableOpen))
	if err != nil {
		return core.Payable{}, fmt.Errorf("settle payable %d: %w", id, err)
	}

	p, err := r.GetPayable(ctx, id)
	if err != nil {
		return core.Payable{}, err
	}
	slog.InfoContext(ctx, "Payable settled",
		"id", p.ID,
		"due_at", r.formatTime(p.DueAt),
		"paid_at", r.formatTime(p.PaidAt))
	return p, nil
}

// ReschedulePayable moves the due date of a payable. It returns the payable
// as stored and the due date it had before.
func (r *LedgerRepository) ReschedulePayable(ctx context.Context, id int64, dueAt time.Time) (core.Payable, time.Time, error) {
	if dueAt.IsZero() {
		return core.Payable{}, time.Time{}, core.ErrZeroTime
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Payable{}, time.Time{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT due_at FROM payables WHERE id = ?`, id).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Payable{}, time.Time{}, fmt.Errorf("payable %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Payable{}, time.Time{}, fmt.Errorf("get payable %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE payables SET due_at = ? WHERE id = ?`, r.formatTime(dueAt), id); err != nil {
		return core.Payable{}, time.Time{}, fmt.Errorf("reschedule payable %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return core.Payable{}, time.Time{}, fmt.Errorf("commit transaction: %w", err)
	}

	prev, err := r.parseTime(previous)
	if err != nil {
		return core.Payable{}, time.Time{}, err
	}
	p, err := r.GetPayable(ctx, id)
	if err != nil {
		return core.Payable{}, time.Time{}, err
	}

	slog.InfoContext(ctx, "Payable rescheduled",
		"id", p.ID,
		"from", previous,
		"to", r.formatTime(p.DueAt))
	return p, prev, nil
}
