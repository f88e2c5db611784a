package report

import (
	"bytes"
	"context"
	"errors"
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
)

var brt = time.FixedZone("BRT", -3*60*60)

func newEngine(t *testing.T, rows ...aggregate.Row) *engine.Engine {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 12, 15, 30, 0, 0, brt))
	return engine.New(cat, aggregate.NewMemorySource(rows...), cache.NewMemoryStore(cache.WithClock(clock)),
		engine.WithClock(clock), engine.WithLocation(brt), engine.WithLogger(log.Discard()))
}

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 10, day, hour, minute, 0, 0, brt)
}

func find(t *testing.T, snap Snapshot, title string) Panel {
	t.Helper()
	for _, sec := range snap.Sections {
		for _, p := range sec.Panels {
			if p.Title == title {
				return p
			}
		}
	}
	t.Fatalf("no panel %q", title)
	return Panel{}
}

func TestDefaultLayout_IsInTheCatalog(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	for _, sec := range DefaultLayout() {
		for _, p := range sec.Panels {
			_, _, err := cat.Lookup(p.Metric, p.Granularity)
			assert.NoError(t, err, p.Title)
			if p.Chart != nil {
				_, _, err := cat.Lookup(p.Metric, *p.Chart)
				assert.NoError(t, err, p.Title+" chart")
			}
		}
	}
}

func TestBuild_RoundsOnlyForDisplay(t *testing.T) {
	eng := newEngine(t,
		aggregate.Row{Kind: core.KindCashFlow, At: at(12, 10, 0), Amount: decimal.NewFromInt(150)},
		aggregate.Row{Kind: core.KindCashFlow, At: at(12, 11, 20), Amount: decimal.NewFromInt(-40)},
		aggregate.Row{Kind: core.KindCashFlow, At: at(5, 9, 0), Amount: decimal.NewFromInt(200)},
		aggregate.Row{Kind: core.KindSale, At: at(12, 9, 0), Amount: decimal.RequireFromString("10.005")},
		aggregate.Row{Kind: core.KindSale, At: at(12, 9, 30), Amount: decimal.RequireFromString("10.005")},
	)

	snap := NewDashboard(eng, WithLogger(log.Discard())).Build(context.Background(), time.Time{})
	require.Zero(t, snap.Failed())

	assert.Equal(t, "310.00", find(t, snap, "Balance").Value)
	assert.Equal(t, "350.00", find(t, snap, "Credits").Value)
	assert.Equal(t, "-40.00", find(t, snap, "Debits").Value)

	today := find(t, snap, "Net today")
	assert.Equal(t, "110.00", today.Value)
	require.Len(t, today.Chart, 16, "hours up to the current one")
	assert.Equal(t, "150.00", today.Chart[10])
	assert.Equal(t, "-40.00", today.Chart[11])
	assert.Equal(t, "0.00", today.Chart[15])

	// 10.005 + 10.005 rounds once, not twice.
	assert.Equal(t, "20.01", find(t, snap, "Sales today").Value)
	assert.Equal(t, "2", find(t, snap, "Sales made this month").Value)
	assert.Len(t, find(t, snap, "Total purchases").Chart, 12)
}

type failingReader struct {
	Reader
	metric string
}

func (r failingReader) Get(ctx context.Context, req engine.Request) (aggregate.Value, error) {
	if req.Metric == r.metric {
		return aggregate.Value{}, errors.New("ledger unreachable")
	}
	return r.Reader.Get(ctx, req)
}

func TestBuild_KeepsHealthyPanelsWhenOneFails(t *testing.T) {
	eng := newEngine(t, aggregate.Row{Kind: core.KindPurchase, At: at(12, 8, 0), Amount: decimal.NewFromInt(80)})
	reader := failingReader{Reader: eng, metric: "payables.open"}

	snap := NewDashboard(reader, WithLogger(log.Discard())).Build(context.Background(), time.Time{})

	assert.Equal(t, 3, snap.Failed())
	due := find(t, snap, "Due today")
	assert.Empty(t, due.Value)
	assert.Equal(t, "ledger unreachable", due.Err)
	assert.Equal(t, "80.00", find(t, snap, "Purchases today").Value)
}

func TestBuild_AnchorSelectsThePeriod(t *testing.T) {
	eng := newEngine(t,
		aggregate.Row{Kind: core.KindSale, At: at(5, 12, 0), Amount: decimal.NewFromInt(30)},
		aggregate.Row{Kind: core.KindSale, At: at(12, 12, 0), Amount: decimal.NewFromInt(7)},
	)
	layout := []SectionSpec{{Name: "Sales", Panels: []PanelSpec{
		{Title: "Sales on the day", Metric: "sales.total", Granularity: aggregate.Day},
	}}}

	snap := NewDashboard(eng, WithLayout(layout), WithLogger(log.Discard())).Build(context.Background(), at(5, 0, 0))
	assert.Equal(t, "30.00", find(t, snap, "Sales on the day").Value)
}

func TestBuild_RanksCustomers(t *testing.T) {
	sale := func(customer, amount string, day int) aggregate.Row {
		return aggregate.Row{Kind: core.KindSale, At: at(day, 10, 0), Amount: decimal.RequireFromString(amount), Party: customer}
	}
	eng := newEngine(t,
		sale("Ana", "40", 1),
		sale("Bruno", "90.50", 3),
		sale("Ana", "60", 12),
		sale("", "5", 12),
	)

	snap := NewDashboard(eng, WithLogger(log.Discard())).Build(context.Background(), time.Time{})

	top := find(t, snap, "Top 10 customers")
	assert.Equal(t, "195.50", top.Value)
	assert.Equal(t, []Entry{
		{Label: "Ana", Value: "100.00"},
		{Label: "Bruno", Value: "90.50"},
		{Label: "(unnamed)", Value: "5.00"},
	}, top.Ranking)
}

func TestWriteText(t *testing.T) {
	snap := Snapshot{
		Anchor: at(12, 0, 0),
		Sections: []Section{
			{Name: "Cash flow", Panels: []Panel{
				{Title: "Balance", Value: "310.00", Chart: []string{"200.00", "110.00"}},
				{Title: "Net today", Err: "ledger unreachable"},
			}},
			{Name: "Sales", Panels: []Panel{
				{Title: "Sales today", Value: "7.00"},
				{Title: "Top 10 customers", Value: "12.00", Ranking: []Entry{{"Ana", "7.00"}, {"Bruno", "5.00"}}},
			}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, snap.WriteText(&buf))
	out := buf.String()

	assert.Contains(t, out, "As of 2026-10-12")
	assert.Contains(t, out, "CASH FLOW\n")
	assert.Regexp(t, `Balance\s+310\.00\s+200\.00 110\.00`, out)
	assert.Regexp(t, `Net today\s+unavailable\s+ledger unreachable`, out)
	assert.Contains(t, out, "\nSALES\n")
	assert.Regexp(t, `1\. Ana\s+7\.00`, out)
	assert.Regexp(t, `2\. Bruno\s+5\.00`, out)
}
