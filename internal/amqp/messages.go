package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"caixa/internal/core"
)

// LedgerWriteMessage announces a committed ledger write to the other
// processes sharing the cache. It carries what invalidation needs, not the row.
type LedgerWriteMessage struct {
	ID                 string          `json:"id"`
	Origin             string          `json:"origin"`
	Kind               core.Kind       `json:"kind"`
	OccurredAt         time.Time       `json:"occurred_at"`
	PreviousOccurredAt *time.Time      `json:"previous_occurred_at,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Timestamp          time.Time       `json:"timestamp"`
}

// NewLedgerWriteMessage wraps ev in a message with a fresh id.
func NewLedgerWriteMessage(ev core.WriteEvent, now time.Time) *LedgerWriteMessage {
	msg := &LedgerWriteMessage{
		ID:         ulid.Make().String(),
		Origin:     ev.Origin,
		Kind:       ev.Kind,
		OccurredAt: ev.OccurredAt,
		Amount:     ev.Amount,
		Timestamp:  now,
	}
	if !ev.PreviousOccurredAt.IsZero() {
		prev := ev.PreviousOccurredAt
		msg.PreviousOccurredAt = &prev
	}
	return msg
}

// Event turns the message back into the write it describes.
func (m *LedgerWriteMessage) Event() core.WriteEvent {
	ev := core.WriteEvent{
		Kind:       m.Kind,
		OccurredAt: m.OccurredAt,
		Amount:     m.Amount,
		Origin:     m.Origin,
	}
	if m.PreviousOccurredAt != nil {
		ev.PreviousOccurredAt = *m.PreviousOccurredAt
	}
	return ev
}

// ToJSON converts the message to JSON bytes
func (m *LedgerWriteMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerWriteMessageFromJSON decodes and validates a message.
func LedgerWriteMessageFromJSON(data []byte) (*LedgerWriteMessage, error) {
	var msg LedgerWriteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Event().Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger write message: %w", err)
	}
	return &msg, nil
}

// NewOriginID names a process on the bus.
func NewOriginID() string {
	return ulid.Make().String()
}
