package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var saoPaulo = time.FixedZone("BRT", -3*60*60)

func at(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, saoPaulo)
}

func TestResolve_Scalars(t *testing.T) {
	now := at(2026, time.October, 12, 15)

	tests := []struct {
		name   string
		g      Granularity
		anchor time.Time
		disc   string
		window Window
	}{
		{
			name: "total is unbounded",
			g:    Total, anchor: now, disc: "all",
		},
		{
			name: "day of a back-dated anchor",
			g:    Day, anchor: at(2026, time.October, 9, 18), disc: "2026-10-09",
			window: Window{From: at(2026, time.October, 9, 0), To: at(2026, time.October, 10, 0)},
		},
		{
			name: "month crossing a year",
			g:    Month, anchor: at(2025, time.December, 31, 23), disc: "2025-12",
			window: Window{From: at(2025, time.December, 1, 0), To: at(2026, time.January, 1, 0)},
		},
		{
			name: "zero anchor means now",
			g:    Day, disc: "2026-10-12",
			window: Window{From: at(2026, time.October, 12, 0), To: at(2026, time.October, 13, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Resolve(tt.g, tt.anchor, now)
			require.NoError(t, err)
			assert.Equal(t, tt.disc, plan.Discriminator)
			assert.True(t, tt.window.From.Equal(plan.Window.From), "from %v", plan.Window.From)
			assert.True(t, tt.window.To.Equal(plan.Window.To), "to %v", plan.Window.To)
			assert.Zero(t, plan.Points())
		})
	}
}

func TestResolve_AnchorConvertedToCalendar(t *testing.T) {
	now := at(2026, time.October, 12, 15)
	// 01:00 UTC on the 13th is still the 12th in Sao Paulo.
	plan, err := Resolve(Day, time.Date(2026, time.October, 13, 1, 0, 0, 0, time.UTC), now)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-12", plan.Discriminator)
}

func TestResolve_DailyPartialWindow(t *testing.T) {
	now := at(2026, time.October, 10, 9)

	t.Run("current month emits elapsed days", func(t *testing.T) {
		plan, err := Resolve(Daily, now, now)
		require.NoError(t, err)
		require.Equal(t, 10, plan.Points())
		assert.Equal(t, "2026-10", plan.Discriminator)
		assert.True(t, plan.Starts[0].Equal(at(2026, time.October, 1, 0)))
		assert.True(t, plan.Starts[9].Equal(at(2026, time.October, 10, 0)))
		assert.True(t, plan.Period.Contains(at(2026, time.October, 25, 0)), "period covers the whole month")
	})

	t.Run("past month emits every day", func(t *testing.T) {
		plan, err := Resolve(Daily, at(2026, time.September, 3, 0), now)
		require.NoError(t, err)
		assert.Equal(t, 30, plan.Points())

		plan, err = Resolve(Daily, at(2024, time.February, 3, 0), now)
		require.NoError(t, err)
		assert.Equal(t, 29, plan.Points(), "leap february")
	})

	t.Run("future month is empty", func(t *testing.T) {
		plan, err := Resolve(Daily, at(2026, time.November, 1, 0), now)
		require.NoError(t, err)
		assert.Zero(t, plan.Points())
	})
}

func TestResolve_MonthlyPartialWindow(t *testing.T) {
	now := at(2026, time.October, 10, 9)

	plan, err := Resolve(Monthly, now, now)
	require.NoError(t, err)
	assert.Equal(t, 10, plan.Points())
	assert.Equal(t, "2026", plan.Discriminator)

	plan, err = Resolve(Monthly, at(2025, time.June, 1, 0), now)
	require.NoError(t, err)
	assert.Equal(t, 12, plan.Points())
}

func TestResolve_Hourly(t *testing.T) {
	now := time.Date(2026, time.October, 12, 14, 35, 0, 0, saoPaulo)

	plan, err := Resolve(Hourly, now, now)
	require.NoError(t, err)
	assert.Equal(t, 15, plan.Points(), "hours 00 through 14")
	assert.Equal(t, "2026-10-12", plan.Discriminator)
	assert.True(t, plan.Window.To.Equal(at(2026, time.October, 12, 15)))

	_, err = Resolve(Hourly, at(2026, time.October, 11, 10), now)
	assert.ErrorIs(t, err, ErrInvalidAnchor)

	_, err = Resolve(Hourly, at(2020, time.January, 1, 0), now)
	assert.ErrorIs(t, err, ErrInvalidAnchor)
}

func TestResolve_Trailing(t *testing.T) {
	now := at(2026, time.March, 2, 10)

	plan, err := Resolve(LastNDays(7), at(1999, time.January, 1, 0), now)
	require.NoError(t, err)
	assert.Equal(t, "trailing", plan.Discriminator)
	require.Equal(t, 7, plan.Points())
	assert.True(t, plan.Starts[0].Equal(at(2026, time.February, 24, 0)))
	assert.True(t, plan.Starts[6].Equal(at(2026, time.March, 2, 0)))

	plan, err = Resolve(LastNMonths(12), now, now)
	require.NoError(t, err)
	require.Equal(t, 12, plan.Points())
	assert.True(t, plan.Starts[0].Equal(at(2025, time.April, 1, 0)))
	assert.True(t, plan.Window.To.Equal(at(2026, time.April, 1, 0)))
}

func TestResolve_RejectsInvalidGranularity(t *testing.T) {
	_, err := Resolve(Granularity{Scheme: SchemeLastDays}, time.Time{}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidGranularity)
}

func TestWindow_Contains(t *testing.T) {
	w := Window{From: at(2026, time.October, 1, 0), To: at(2026, time.October, 2, 0)}
	assert.True(t, w.Contains(at(2026, time.October, 1, 0)))
	assert.True(t, w.Contains(at(2026, time.October, 1, 23)))
	assert.False(t, w.Contains(at(2026, time.October, 2, 0)), "closed-open")
	assert.True(t, Window{}.Contains(at(1990, time.January, 1, 0)))
}
