package aggregate

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidAnchor rejects anchor and granularity combinations that cannot be
// resolved, such as an hourly series for a day other than today.
var ErrInvalidAnchor = errors.New("invalid anchor for granularity")

// TrailingDiscriminator names the single key of a sliding series.
const TrailingDiscriminator = "trailing"

// TotalDiscriminator names the single key of an all-time total.
const TotalDiscriminator = "all"

// Window is a closed-open interval [From, To). The zero Window is unbounded.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Unbounded() bool {
	return w.From.IsZero() && w.To.IsZero()
}

func (w Window) Contains(t time.Time) bool {
	if w.Unbounded() {
		return true
	}
	return !t.Before(w.From) && t.Before(w.To)
}

func (w Window) String() string {
	if w.Unbounded() {
		return "[all time]"
	}
	return fmt.Sprintf("[%s, %s)", w.From.Format(time.DateTime), w.To.Format(time.DateTime))
}

// Bucket is the width of one point of a series.
type Bucket string

const (
	BucketHour  Bucket = "hour"
	BucketDay   Bucket = "day"
	BucketMonth Bucket = "month"
)

// Layout is the wall-clock prefix that identifies a bucket. Stored timestamps
// share the "2006-01-02 15:04:05" layout, so a bucket is a prefix of it.
func (b Bucket) Layout() string {
	switch b {
	case BucketHour:
		return "2006-01-02 15"
	case BucketDay:
		return time.DateOnly
	case BucketMonth:
		return "2006-01"
	default:
		return ""
	}
}

func (b Bucket) Label(t time.Time) string {
	return t.Format(b.Layout())
}

// Next returns the start of the bucket that follows the one starting at t.
func (b Bucket) Next(t time.Time) time.Time {
	switch b {
	case BucketHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
	case BucketDay:
		return t.AddDate(0, 0, 1)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// Starts lists the bucket starts covering w, oldest first.
func (b Bucket) Starts(w Window) []time.Time {
	if w.Unbounded() || b.Layout() == "" {
		return nil
	}
	var starts []time.Time
	for t := w.From; t.Before(w.To); t = b.Next(t) {
		starts = append(starts, t)
	}
	return starts
}

// Plan is an anchor resolved under a granularity.
//
// Window is the range queried. Period is the range of fact times that can
// change the value, which is wider than Window for an in-progress series:
// the daily series of the current month only reads elapsed days but is keyed
// by the whole month.
type Plan struct {
	Granularity   Granularity
	Discriminator string
	Window        Window
	Period        Window
	Bucket        Bucket
	Starts        []time.Time
}

// Points is the number of values a series plan yields.
func (p Plan) Points() int {
	return len(p.Starts)
}

// Resolve maps an anchor to the window of g. Calendar boundaries follow the
// location of now; the anchor is converted to it first.
func Resolve(g Granularity, anchor, now time.Time) (Plan, error) {
	if err := g.Validate(); err != nil {
		return Plan{}, err
	}
	loc := now.Location()
	if anchor.IsZero() {
		anchor = now
	}
	anchor = anchor.In(loc)
	today := startOfDay(now)
	plan := Plan{Granularity: g}

	switch g.Scheme {
	case SchemeTotal:
		plan.Discriminator = TotalDiscriminator

	case SchemeDay:
		d := startOfDay(anchor)
		plan.Discriminator = d.Format(time.DateOnly)
		plan.Window = Window{From: d, To: d.AddDate(0, 0, 1)}
		plan.Period = plan.Window

	case SchemeMonth:
		m := startOfMonth(anchor)
		plan.Discriminator = m.Format("2006-01")
		plan.Window = Window{From: m, To: m.AddDate(0, 1, 0)}
		plan.Period = plan.Window

	case SchemeHourly:
		d := startOfDay(anchor)
		if !d.Equal(today) {
			return Plan{}, fmt.Errorf("%w: hourly series is only kept for today, got %s",
				ErrInvalidAnchor, d.Format(time.DateOnly))
		}
		plan.Discriminator = d.Format(time.DateOnly)
		plan.Bucket = BucketHour
		plan.Period = Window{From: d, To: d.AddDate(0, 0, 1)}
		plan.Window = Window{From: d, To: BucketHour.Next(startOfHour(now))}

	case SchemeDaily:
		m := startOfMonth(anchor)
		plan.Discriminator = m.Format("2006-01")
		plan.Bucket = BucketDay
		plan.Period = Window{From: m, To: m.AddDate(0, 1, 0)}
		plan.Window = elapsed(plan.Period, today.AddDate(0, 0, 1))

	case SchemeMonthly:
		y := time.Date(anchor.Year(), time.January, 1, 0, 0, 0, 0, loc)
		plan.Discriminator = y.Format("2006")
		plan.Bucket = BucketMonth
		plan.Period = Window{From: y, To: y.AddDate(1, 0, 0)}
		plan.Window = elapsed(plan.Period, startOfMonth(now).AddDate(0, 1, 0))

	case SchemeLastDays:
		plan.Discriminator = TrailingDiscriminator
		plan.Bucket = BucketDay
		plan.Window = Window{From: today.AddDate(0, 0, -(g.N - 1)), To: today.AddDate(0, 0, 1)}
		plan.Period = plan.Window

	case SchemeLastMonths:
		m := startOfMonth(now)
		plan.Discriminator = TrailingDiscriminator
		plan.Bucket = BucketMonth
		plan.Window = Window{From: m.AddDate(0, -(g.N - 1), 0), To: m.AddDate(0, 1, 0)}
		plan.Period = plan.Window
	}

	if plan.Bucket != "" {
		plan.Starts = plan.Bucket.Starts(plan.Window)
	}
	return plan, nil
}

// elapsed clips a period to the sub-windows that have started before limit.
// A period entirely in the future collapses to an empty window.
func elapsed(period Window, limit time.Time) Window {
	switch {
	case !limit.After(period.From):
		return Window{From: period.From, To: period.From}
	case limit.Before(period.To):
		return Window{From: period.From, To: limit}
	default:
		return period
	}
}

func startOfHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
