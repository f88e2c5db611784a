package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// WriteEvent is produced by every ledger mutation once it is committed.
// OccurredAt is the time of the fact, which may be back-dated or in the future.
// PreviousOccurredAt is set when an update moved an existing row to another
// date, so the bucket it left is dropped as well.
type WriteEvent struct {
	Kind               Kind
	OccurredAt         time.Time
	PreviousOccurredAt time.Time
	Amount             decimal.Decimal
	Origin             string
}

func (e WriteEvent) Validate() error {
	if !e.Kind.Valid() {
		return ErrInvalidKind
	}
	if e.OccurredAt.IsZero() {
		return ErrZeroTime
	}
	return nil
}

// Times returns the fact times the event touches, oldest binding first.
func (e WriteEvent) Times() []time.Time {
	if e.PreviousOccurredAt.IsZero() || e.PreviousOccurredAt.Equal(e.OccurredAt) {
		return []time.Time{e.OccurredAt}
	}
	return []time.Time{e.OccurredAt, e.PreviousOccurredAt}
}
