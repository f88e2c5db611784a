// Package worker runs the background loops of a caixa process: applying
// ledger writes announced by other processes and keeping hot aggregates warm.
package worker

import (
	"context"

	"caixa/internal/amqp"
	"caixa/internal/core"
	"caixa/internal/log"
)

// Invalidator drops the cached aggregates a write affects.
type Invalidator interface {
	OnWrite(ctx context.Context, ev core.WriteEvent) []string
}

// InvalidationWorker applies ledger writes received from the bus to the
// local cache.
type InvalidationWorker struct {
	invalidator Invalidator
	origin      string
	logger      *log.Logger
}

// NewInvalidationWorker builds a worker for the process named origin. Writes
// this process published itself were already invalidated and are skipped.
func NewInvalidationWorker(invalidator Invalidator, origin string, logger *log.Logger) *InvalidationWorker {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentWorker)
	} else {
		logger = logger.WithComponent(log.ComponentWorker)
	}
	return &InvalidationWorker{invalidator: invalidator, origin: origin, logger: logger}
}

// HandleLedgerWrite processes a single ledger write message from AMQP.
// Invalidation failures are absorbed by the invalidator, so the message is
// always acknowledged.
func (w *InvalidationWorker) HandleLedgerWrite(ctx context.Context, msg *amqp.LedgerWriteMessage) error {
	ev := msg.Event()
	fields := log.NewFields().WithWrite(ev)

	if w.origin != "" && msg.Origin == w.origin {
		w.logger.DebugContext(ctx, "Skipping own ledger write", fields.ToSlice()...)
		return nil
	}

	keys := w.invalidator.OnWrite(ctx, ev)
	w.logger.InfoContext(ctx, "Applied remote ledger write",
		append(fields.WithOperation(log.OpConsume).ToSlice(),
			log.FieldMessageID, msg.ID,
			log.FieldKeysDropped, len(keys))...)
	return nil
}
