package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger kinds. Each kind is one fact table of the ledger.
const (
	KindCashFlow Kind = "cash_flow"
	KindPurchase Kind = "purchase"
	KindSale     Kind = "sale"
	KindPayable  Kind = "payable"
)

const (
	PayableOpen PayableStatus = 0
	PayablePaid PayableStatus = 1
)

type (
	Kind string

	PayableStatus int

	// CashFlow is a signed movement of the till: credits are positive, debits negative.
	CashFlow struct {
		ID          int64
		Description string
		Amount      decimal.Decimal
		OccurredAt  time.Time
	}

	Purchase struct {
		ID          int64
		Supplier    string
		Total       decimal.Decimal
		PurchasedAt time.Time
	}

	// Sale keeps both the gross total and the total after discounts; revenue
	// metrics read the discounted one.
	Sale struct {
		ID              int64
		Customer        string
		Total           decimal.Decimal
		TotalDiscounted decimal.Decimal
		SoldAt          time.Time
	}

	Payable struct {
		ID          int64
		Description string
		Installment decimal.Decimal
		DueAt       time.Time
		Status      PayableStatus
		PaidAt      time.Time
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidKind      = errors.New("invalid ledger kind")
	ErrZeroTime         = errors.New("time cannot be zero")
	ErrEmptyDescription = errors.New("empty description")
)

// Kinds lists every ledger kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindCashFlow, KindPurchase, KindSale, KindPayable}
}

// ParseKind accepts the canonical name and the dashed spelling used on the command line.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.TrimSpace(strings.ToLower(s)), "-", "_"))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

func (k Kind) Valid() bool {
	switch k {
	case KindCashFlow, KindPurchase, KindSale, KindPayable:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}

func (c CashFlow) Validate() error {
	if c.OccurredAt.IsZero() {
		return ErrZeroTime
	}
	if c.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if len(c.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}

func (p Purchase) Validate() error {
	if p.PurchasedAt.IsZero() {
		return ErrZeroTime
	}
	if !p.Total.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func (s Sale) Validate() error {
	if s.SoldAt.IsZero() {
		return ErrZeroTime
	}
	if !s.Total.IsPositive() || s.TotalDiscounted.IsNegative() {
		return ErrInvalidAmount
	}
	if s.TotalDiscounted.GreaterThan(s.Total) {
		return errors.New("discounted total exceeds gross total")
	}
	return nil
}

func (p Payable) Validate() error {
	if p.DueAt.IsZero() {
		return ErrZeroTime
	}
	if strings.TrimSpace(p.Description) == "" {
		return ErrEmptyDescription
	}
	if !p.Installment.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Event describes the write that recorded the cash flow.
func (c CashFlow) Event() WriteEvent {
	return WriteEvent{Kind: KindCashFlow, OccurredAt: c.OccurredAt, Amount: c.Amount}
}

func (p Purchase) Event() WriteEvent {
	return WriteEvent{Kind: KindPurchase, OccurredAt: p.PurchasedAt, Amount: p.Total}
}

func (s Sale) Event() WriteEvent {
	return WriteEvent{Kind: KindSale, OccurredAt: s.SoldAt, Amount: s.TotalDiscounted}
}

func (p Payable) Event() WriteEvent {
	return WriteEvent{Kind: KindPayable, OccurredAt: p.DueAt, Amount: p.Installment}
}
