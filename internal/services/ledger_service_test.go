package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixa/internal/aggregate"
	"caixa/internal/cache"
	"caixa/internal/catalog"
	"caixa/internal/core"
	"caixa/internal/engine"
	"caixa/internal/log"
	"caixa/internal/storage"
)

var brt = time.FixedZone("BRT", -3*60*60)

// recorder records the order in which the write path touches its collaborators.
type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

type fakeLedger struct {
	rec    *recorder
	err    error
	closed bool
	nextID int64
}

func (l *fakeLedger) insert() (int64, error) {
	if l.err != nil {
		return 0, l.err
	}
	l.rec.add("commit")
	l.nextID++
	return l.nextID, nil
}

func (l *fakeLedger) InsertCashFlow(_ context.Context, c core.CashFlow) (core.CashFlow, error) {
	id, err := l.insert()
	c.ID = id
	return c, err
}

func (l *fakeLedger) InsertPurchase(_ context.Context, p core.Purchase) (core.Purchase, error) {
	id, err := l.insert()
	p.ID = id
	return p, err
}

func (l *fakeLedger) InsertSale(_ context.Context, s core.Sale) (core.Sale, error) {
	id, err := l.insert()
	s.ID = id
	return s, err
}

func (l *fakeLedger) InsertPayable(_ context.Context, p core.Payable) (core.Payable, error) {
	id, err := l.insert()
	p.ID = id
	return p, err
}

func (l *fakeLedger) SettlePayable(_ context.Context, id int64, paidAt time.Time) (core.Payable, error) {
	if _, err := l.insert(); err != nil {
		return core.Payable{}, err
	}
	return core.Payable{ID: id, Description: "rent", Installment: decimal.NewFromInt(10),
		DueAt: time.Date(2026, 10, 20, 0, 0, 0, 0, brt), Status: core.PayablePaid, PaidAt: paidAt}, nil
}

func (l *fakeLedger) ReschedulePayable(_ context.Context, id int64, dueAt time.Time) (core.Payable, time.Time, error) {
	if _, err := l.insert(); err != nil {
		return core.Payable{}, time.Time{}, err
	}
	return core.Payable{ID: id, Description: "rent", Installment: decimal.NewFromInt(10), DueAt: dueAt},
		time.Date(2026, 10, 20, 0, 0, 0, 0, brt), nil
}

func (l *fakeLedger) Close() error {
	l.closed = true
	return nil
}

type fakeInvalidator struct {
	rec    *recorder
	events []core.WriteEvent
}

func (i *fakeInvalidator) OnWrite(_ context.Context, ev core.WriteEvent) []string {
	i.rec.add("invalidate")
	i.events = append(i.events, ev)
	return nil
}

type fakePublisher struct {
	rec      *recorder
	err      error
	closeErr error
	events   []core.WriteEvent
}

func (p *fakePublisher) PublishLedgerWrite(_ context.Context, ev core.WriteEvent) error {
	p.rec.add("publish")
	p.events = append(p.events, ev)
	return p.err
}

func (p *fakePublisher) Close() error {
	return p.closeErr
}

type harness struct {
	svc       *LedgerService
	rec       *recorder
	ledger    *fakeLedger
	inv       *fakeInvalidator
	publisher *fakePublisher
}

func newHarness() *harness {
	rec := &recorder{}
	h := &harness{
		rec:       rec,
		ledger:    &fakeLedger{rec: rec},
		inv:       &fakeInvalidator{rec: rec},
		publisher: &fakePublisher{rec: rec},
	}
	h.svc = NewLedgerService(h.ledger, h.inv, h.publisher, "node-a", log.Discard())
	return h
}

func TestRecord_CommitThenInvalidateThenPublish(t *testing.T) {
	h := newHarness()
	at := time.Date(2026, 10, 12, 14, 0, 0, 0, brt)

	saved, err := h.svc.RecordCashFlow(context.Background(), core.CashFlow{Amount: decimal.NewFromInt(-40), OccurredAt: at})
	require.NoError(t, err)

	assert.Equal(t, int64(1), saved.ID)
	assert.Equal(t, []string{"commit", "invalidate", "publish"}, h.rec.steps)
	require.Len(t, h.inv.events, 1)
	assert.Equal(t, core.KindCashFlow, h.inv.events[0].Kind)
	assert.True(t, h.inv.events[0].OccurredAt.Equal(at))
	assert.Equal(t, "node-a", h.publisher.events[0].Origin)
}

func TestRecord_EveryKindEmitsItsEvent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	at := time.Date(2026, 10, 12, 14, 0, 0, 0, brt)

	_, err := h.svc.RecordPurchase(ctx, core.Purchase{Total: decimal.NewFromInt(5), PurchasedAt: at})
	require.NoError(t, err)
	_, err = h.svc.RecordSale(ctx, core.Sale{Total: decimal.NewFromInt(5), TotalDiscounted: decimal.NewFromInt(4), SoldAt: at})
	require.NoError(t, err)
	_, err = h.svc.RecordPayable(ctx, core.Payable{Description: "rent", Installment: decimal.NewFromInt(5), DueAt: at})
	require.NoError(t, err)

	require.Len(t, h.inv.events, 3)
	assert.Equal(t, core.KindPurchase, h.inv.events[0].Kind)
	assert.Equal(t, core.KindSale, h.inv.events[1].Kind)
	assert.True(t, h.inv.events[1].Amount.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, core.KindPayable, h.inv.events[2].Kind)
}

func TestRecord_InvalidInputTouchesNothing(t *testing.T) {
	h := newHarness()
	_, err := h.svc.RecordSale(context.Background(), core.Sale{Total: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, core.ErrZeroTime)
	assert.Empty(t, h.rec.steps)
}

func TestRecord_FailedCommitIsNotInvalidated(t *testing.T) {
	h := newHarness()
	h.ledger.err = errors.New("disk full")

	_, err := h.svc.RecordCashFlow(context.Background(), core.CashFlow{Amount: decimal.NewFromInt(1), OccurredAt: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, h.rec.steps)
}

func TestRecord_PublishFailureDoesNotFailTheWrite(t *testing.T) {
	h := newHarness()
	h.publisher.err = errors.New("circuit breaker is open")

	_, err := h.svc.RecordCashFlow(context.Background(), core.CashFlow{Amount: decimal.NewFromInt(1), OccurredAt: time.Now()})
	assert.NoError(t, err)
	assert.Equal(t, []string{"commit", "invalidate", "publish"}, h.rec.steps)
}

func TestRecord_WithoutPublisher(t *testing.T) {
	rec := &recorder{}
	inv := &fakeInvalidator{rec: rec}
	svc := NewLedgerService(&fakeLedger{rec: rec}, inv, nil, "", log.Discard())

	_, err := svc.RecordCashFlow(context.Background(), core.CashFlow{Amount: decimal.NewFromInt(1), OccurredAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, []string{"commit", "invalidate"}, rec.steps)
	assert.NoError(t, svc.Close())
}

func TestReschedulePayable_InvalidatesBothDates(t *testing.T) {
	h := newHarness()
	newDue := time.Date(2026, 11, 5, 0, 0, 0, 0, brt)

	_, err := h.svc.ReschedulePayable(context.Background(), 7, newDue)
	require.NoError(t, err)

	require.Len(t, h.inv.events, 1)
	ev := h.inv.events[0]
	assert.True(t, ev.OccurredAt.Equal(newDue))
	assert.True(t, ev.PreviousOccurredAt.Equal(time.Date(2026, 10, 20, 0, 0, 0, 0, brt)))
}

func TestSettlePayable_InvalidatesDueDate(t *testing.T) {
	h := newHarness()
	_, err := h.svc.SettlePayable(context.Background(), 7, time.Date(2026, 10, 14, 10, 0, 0, 0, brt))
	require.NoError(t, err)
	require.Len(t, h.inv.events, 1)
	assert.True(t, h.inv.events[0].OccurredAt.Equal(time.Date(2026, 10, 20, 0, 0, 0, 0, brt)))
}

func TestLedgerService_Close(t *testing.T) {
	t.Run("nil components", func(t *testing.T) {
		svc := &LedgerService{}
		assert.NoError(t, svc.Close())
	})

	t.Run("collects errors", func(t *testing.T) {
		h := newHarness()
		h.publisher.closeErr = errors.New("channel closed")
		err := h.svc.Close()
		require.Error(t, err)
		assert.True(t, h.ledger.closed)
		assert.Contains(t, err.Error(), "amqp: channel closed")
	})
}

// TestLedgerService_ReadAfterWrite runs the full write path against SQLite
// and the engine.
func TestLedgerService_ReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.NewLedgerRepository(filepath.Join(t.TempDir(), "caixa.db"), brt)
	require.NoError(t, err)

	cat, err := catalog.Default()
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 12, 15, 30, 0, 0, brt))
	eng := engine.New(cat, repo, cache.NewMemoryStore(cache.WithClock(clock)),
		engine.WithClock(clock), engine.WithLocation(brt), engine.WithLogger(log.Discard()))
	svc := NewLedgerService(repo, engine.NewCoordinator(eng), nil, "", log.Discard())
	defer svc.Close()

	record := func(day, hour int, amount string) {
		_, err := svc.RecordCashFlow(ctx, core.CashFlow{
			Amount:     decimal.RequireFromString(amount),
			OccurredAt: time.Date(2026, 10, day, hour, 0, 0, 0, brt),
		})
		require.NoError(t, err)
	}
	read := func(g aggregate.Granularity) string {
		v, err := eng.Get(ctx, engine.Request{Metric: "cash.balance", Granularity: g})
		require.NoError(t, err)
		return core.FormatAmount(v.Scalar)
	}

	record(12, 9, "150.00")
	record(11, 10, "200.00")
	assert.Equal(t, "150.00", read(aggregate.Day))
	assert.Equal(t, "350.00", read(aggregate.Total))

	record(12, 14, "-40.00")
	assert.Equal(t, "110.00", read(aggregate.Day))
	assert.Equal(t, "310.00", read(aggregate.Total))
	assert.Equal(t, "310.00", read(aggregate.Month))
}
