package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caixa/internal/core"
	"caixa/internal/log"
)

// Ledger is the committed store of ledger facts.
type Ledger interface {
	InsertCashFlow(ctx context.Context, c core.CashFlow) (core.CashFlow, error)
	InsertPurchase(ctx context.Context, p core.Purchase) (core.Purchase, error)
	InsertSale(ctx context.Context, s core.Sale) (core.Sale, error)
	InsertPayable(ctx context.Context, p core.Payable) (core.Payable, error)
	SettlePayable(ctx context.Context, id int64, paidAt time.Time) (core.Payable, error)
	ReschedulePayable(ctx context.Context, id int64, dueAt time.Time) (core.Payable, time.Time, error)
	Close() error
}

// Invalidator drops the cached aggregates a committed write affects.
type Invalidator interface {
	OnWrite(ctx context.Context, ev core.WriteEvent) []string
}

// Publisher fans committed writes out to other processes sharing the cache.
type Publisher interface {
	PublishLedgerWrite(ctx context.Context, ev core.WriteEvent) error
	Close() error
}

// LedgerService orchestrates ledger writes across SQLite, the local cache and AMQP.
//
// A write is committed first, then its cache keys are dropped before the call
// returns, so the next read through this process sees it. Broadcasting to
// other processes is best effort.
type LedgerService struct {
	ledger      Ledger
	invalidator Invalidator
	publisher   Publisher
	origin      string
	logger      *log.Logger
}

// NewLedgerService wires the write path. publisher may be nil when no broker
// is configured; origin tags published events so this process can skip its
// own messages.
func NewLedgerService(ledger Ledger, invalidator Invalidator, publisher Publisher, origin string, logger *log.Logger) *LedgerService {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentLedger)
	} else {
		logger = logger.WithComponent(log.ComponentLedger)
	}
	return &LedgerService{
		ledger:      ledger,
		invalidator: invalidator,
		publisher:   publisher,
		origin:      origin,
		logger:      logger,
	}
}

func (s *LedgerService) RecordCashFlow(ctx context.Context, c core.CashFlow) (core.CashFlow, error) {
	if err := c.Validate(); err != nil {
		return core.CashFlow{}, err
	}
	saved, err := s.ledger.InsertCashFlow(ctx, c)
	if err != nil {
		return core.CashFlow{}, fmt.Errorf("save cash flow: %w", err)
	}
	s.committed(ctx, saved.Event(), saved.ID)
	return saved, nil
}

func (s *LedgerService) RecordPurchase(ctx context.Context, p core.Purchase) (core.Purchase, error) {
	if err := p.Validate(); err != nil {
		return core.Purchase{}, err
	}
	saved, err := s.ledger.InsertPurchase(ctx, p)
	if err != nil {
		return core.Purchase{}, fmt.Errorf("save purchase: %w", err)
	}
	s.committed(ctx, saved.Event(), saved.ID)
	return saved, nil
}

func (s *LedgerService) RecordSale(ctx context.Context, sale core.Sale) (core.Sale, error) {
	if err := sale.Validate(); err != nil {
		return core.Sale{}, err
	}
	saved, err := s.ledger.InsertSale(ctx, sale)
	if err != nil {
		return core.Sale{}, fmt.Errorf("save sale: %w", err)
	}
	s.committed(ctx, saved.Event(), saved.ID)
	return saved, nil
}

func (s *LedgerService) RecordPayable(ctx context.Context, p core.Payable) (core.Payable, error) {
	if err := p.Validate(); err != nil {
		return core.Payable{}, err
	}
	saved, err := s.ledger.InsertPayable(ctx, p)
	if err != nil {
		return core.Payable{}, fmt.Errorf("save payable: %w", err)
	}
	s.committed(ctx, saved.Event(), saved.ID)
	return saved, nil
}

// SettlePayable closes a payable. Open-payable aggregates of its due date change.
func (s *LedgerService) SettlePayable(ctx context.Context, id int64, paidAt time.Time) (core.Payable, error) {
	saved, err := s.ledger.SettlePayable(ctx, id, paidAt)
	if err != nil {
		return core.Payable{}, fmt.Errorf("settle payable: %w", err)
	}
	s.committed(ctx, saved.Event(), saved.ID)
	return saved, nil
}

// ReschedulePayable moves a payable to dueAt. Both the old and the new due
// dates are invalidated.
func (s *LedgerService) ReschedulePayable(ctx context.Context, id int64, dueAt time.Time) (core.Payable, error) {
	saved, previous, err := s.ledger.ReschedulePayable(ctx, id, dueAt)
	if err != nil {
		return core.Payable{}, fmt.Errorf("reschedule payable: %w", err)
	}
	ev := saved.Event()
	ev.PreviousOccurredAt = previous
	s.committed(ctx, ev, saved.ID)
	return saved, nil
}

func (s *LedgerService) committed(ctx context.Context, ev core.WriteEvent, id int64) {
	ev.Origin = s.origin
	if s.invalidator != nil {
		s.invalidator.OnWrite(ctx, ev)
	}

	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not available, skipping write broadcast",
			log.NewFields().WithWrite(ev).ToSlice()...)
		return
	}
	// Don't fail the write: it is committed and invalidated locally.
	if err := s.publisher.PublishLedgerWrite(ctx, ev); err != nil {
		s.logger.LogDegraded(ctx, "Failed to publish ledger write", err, log.OpPublish,
			log.NewFields().WithWrite(ev).WithErrorType(log.ErrorTypeNetwork).WithRecordID(id))
	}
}

// Close closes both the ledger and the publisher.
func (s *LedgerService) Close() error {
	var errs []error

	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %w", errors.Join(errs...))
	}

	return nil
}
