package aggregate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Scheme is the bucketing scheme of a granularity.
type Scheme string

const (
	SchemeTotal      Scheme = "total"
	SchemeDay        Scheme = "day"
	SchemeMonth      Scheme = "month"
	SchemeHourly     Scheme = "hourly"
	SchemeDaily      Scheme = "daily"
	SchemeMonthly    Scheme = "monthly"
	SchemeLastDays   Scheme = "last-days"
	SchemeLastMonths Scheme = "last-months"
)

var ErrInvalidGranularity = errors.New("invalid granularity")

// Granularity selects how an anchor resolves to a window and whether the
// value is a scalar or a series. N is only meaningful for trailing schemes.
type Granularity struct {
	Scheme Scheme
	N      int
}

var (
	Total   = Granularity{Scheme: SchemeTotal}
	Day     = Granularity{Scheme: SchemeDay}
	Month   = Granularity{Scheme: SchemeMonth}
	Hourly  = Granularity{Scheme: SchemeHourly}
	Daily   = Granularity{Scheme: SchemeDaily}
	Monthly = Granularity{Scheme: SchemeMonthly}
)

// LastNDays is the series of the n days ending today.
func LastNDays(n int) Granularity {
	return Granularity{Scheme: SchemeLastDays, N: n}
}

// LastNMonths is the series of the n months ending with the current one.
func LastNMonths(n int) Granularity {
	return Granularity{Scheme: SchemeLastMonths, N: n}
}

// Tag renders the stable name used in cache keys and configuration,
// e.g. "month" or "last-7-days".
func (g Granularity) Tag() string {
	switch g.Scheme {
	case SchemeLastDays:
		return fmt.Sprintf("last-%d-days", g.N)
	case SchemeLastMonths:
		return fmt.Sprintf("last-%d-months", g.N)
	default:
		return string(g.Scheme)
	}
}

func (g Granularity) String() string {
	return g.Tag()
}

// IsSeries reports whether the granularity yields an ordered series.
func (g Granularity) IsSeries() bool {
	switch g.Scheme {
	case SchemeTotal, SchemeDay, SchemeMonth:
		return false
	default:
		return true
	}
}

// Trailing reports whether the window slides with the clock and ignores the anchor.
func (g Granularity) Trailing() bool {
	return g.Scheme == SchemeLastDays || g.Scheme == SchemeLastMonths
}

func (g Granularity) Validate() error {
	switch g.Scheme {
	case SchemeTotal, SchemeDay, SchemeMonth, SchemeHourly, SchemeDaily, SchemeMonthly:
		if g.N != 0 {
			return fmt.Errorf("%w: %s takes no count", ErrInvalidGranularity, g.Scheme)
		}
		return nil
	case SchemeLastDays, SchemeLastMonths:
		if g.N < 1 {
			return fmt.Errorf("%w: %s needs a positive count", ErrInvalidGranularity, g.Scheme)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown scheme %q", ErrInvalidGranularity, g.Scheme)
	}
}

// ParseGranularity is the inverse of Tag.
func ParseGranularity(tag string) (Granularity, error) {
	tag = strings.TrimSpace(strings.ToLower(tag))
	if rest, ok := strings.CutPrefix(tag, "last-"); ok {
		for _, unit := range []struct {
			suffix string
			scheme Scheme
		}{{"-days", SchemeLastDays}, {"-months", SchemeLastMonths}} {
			num, ok := strings.CutSuffix(rest, unit.suffix)
			if !ok {
				continue
			}
			n, err := strconv.Atoi(num)
			if err != nil {
				return Granularity{}, fmt.Errorf("%w: %q", ErrInvalidGranularity, tag)
			}
			g := Granularity{Scheme: unit.scheme, N: n}
			return g, g.Validate()
		}
		return Granularity{}, fmt.Errorf("%w: %q", ErrInvalidGranularity, tag)
	}
	g := Granularity{Scheme: Scheme(tag)}
	if g.Trailing() {
		return Granularity{}, fmt.Errorf("%w: %q needs a count, e.g. last-7-days", ErrInvalidGranularity, tag)
	}
	return g, g.Validate()
}

// MarshalText lets granularities appear as plain strings in YAML and JSON.
func (g Granularity) MarshalText() ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return []byte(g.Tag()), nil
}

func (g *Granularity) UnmarshalText(text []byte) error {
	parsed, err := ParseGranularity(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
