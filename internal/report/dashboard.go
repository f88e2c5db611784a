// Package report turns cached aggregates into dashboard panels. It is the
// only place amounts are rounded for display.
package report

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"caixa/internal/aggregate"
	"caixa/internal/core"
	"caixa/internal/engine"
	"caixa/internal/log"
)

const (
	defaultTimeout     = 7 * time.Second
	defaultConcurrency = 8
)

// Reader reads one aggregate; *engine.Engine satisfies it.
type Reader interface {
	Get(ctx context.Context, req engine.Request) (aggregate.Value, error)
}

// PanelSpec is a headline figure with an optional trend series.
type PanelSpec struct {
	Title       string
	Metric      string
	Granularity aggregate.Granularity
	Chart       *aggregate.Granularity
	// Count renders the figure as a whole number.
	Count bool
}

type SectionSpec struct {
	Name   string
	Panels []PanelSpec
}

// Panel is a rendered PanelSpec. Err is set instead of Value when the
// metric could not be read. Ranked metrics fill Ranking, largest first,
// and Value holds the total of the listed entries.
type Panel struct {
	Title   string
	Value   string
	Chart   []string
	Ranking []Entry
	Err     string
}

type Entry struct {
	Label string
	Value string
}

type Section struct {
	Name   string
	Panels []Panel
}

// Snapshot is one dashboard build.
type Snapshot struct {
	Anchor   time.Time
	Sections []Section
}

type Dashboard struct {
	reader      Reader
	layout      []SectionSpec
	timeout     time.Duration
	concurrency int
	logger      *log.Logger
}

type Option func(*Dashboard)

func WithLayout(layout []SectionSpec) Option {
	return func(d *Dashboard) { d.layout = layout }
}

func WithTimeout(t time.Duration) Option {
	return func(d *Dashboard) { d.timeout = t }
}

func WithConcurrency(n int) Option {
	return func(d *Dashboard) { d.concurrency = n }
}

func WithLogger(l *log.Logger) Option {
	return func(d *Dashboard) { d.logger = l }
}

func NewDashboard(reader Reader, opts ...Option) *Dashboard {
	d := &Dashboard{
		reader:      reader,
		layout:      DefaultLayout(),
		timeout:     defaultTimeout,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = log.Wrap(nil, log.ComponentReport)
	} else {
		d.logger = d.logger.WithComponent(log.ComponentReport)
	}
	if d.concurrency < 1 {
		d.concurrency = 1
	}
	return d
}

// Build reads every panel concurrently. A zero anchor means now. A panel
// whose metric fails carries the error; the rest of the dashboard is built
// regardless.
func (d *Dashboard) Build(ctx context.Context, anchor time.Time) Snapshot {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	snap := Snapshot{Anchor: anchor, Sections: make([]Section, len(d.layout))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, sec := range d.layout {
		snap.Sections[i] = Section{Name: sec.Name, Panels: make([]Panel, len(sec.Panels))}
		for j, spec := range sec.Panels {
			out := &snap.Sections[i].Panels[j]
			g.Go(func() error {
				*out = d.panel(gctx, spec, anchor)
				return nil
			})
		}
	}
	_ = g.Wait()

	return snap
}

func (d *Dashboard) panel(ctx context.Context, spec PanelSpec, anchor time.Time) Panel {
	p := Panel{Title: spec.Title}

	req := engine.Request{Metric: spec.Metric, Granularity: spec.Granularity, Anchor: anchor}
	v, err := d.reader.Get(ctx, req)
	if err != nil {
		d.failed(ctx, req, err)
		p.Err = err.Error()
		return p
	}
	p.Value = format(v.Sum(), spec.Count)
	if v.Ranked {
		p.Ranking = make([]Entry, len(v.Points))
		for i, pt := range v.Points {
			p.Ranking[i] = Entry{Label: partyLabel(v.Labels[i]), Value: format(pt, spec.Count)}
		}
	}

	if spec.Chart == nil {
		return p
	}
	req.Granularity = *spec.Chart
	series, err := d.reader.Get(ctx, req)
	if err != nil {
		d.failed(ctx, req, err)
		p.Err = err.Error()
		return p
	}
	p.Chart = make([]string, len(series.Points))
	for i, pt := range series.Points {
		p.Chart[i] = format(pt, spec.Count)
	}
	return p
}

func (d *Dashboard) failed(ctx context.Context, req engine.Request, err error) {
	d.logger.LogDegraded(ctx, "Dashboard panel unavailable", err, log.OpRead,
		log.NewFields().WithMetric(req.Metric, req.Granularity.Tag(), ""))
}

func format(v decimal.Decimal, count bool) string {
	if count {
		return v.StringFixed(0)
	}
	return core.FormatAmount(v)
}

func partyLabel(label string) string {
	if label == "" {
		return "(unnamed)"
	}
	return label
}
