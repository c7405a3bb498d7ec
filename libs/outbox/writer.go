package outbox

import (
	"context"
	"errors"

	"github.com/jinto-josan/web-apps-sub001/libs/db"
	"github.com/jinto-josan/web-apps-sub001/libs/domain"
)

// ErrNoTransaction means PublishAll was called outside a unit of work.
// Outbox rows must share the business write's transaction or the dual
// write problem comes back.
var ErrNoTransaction = errors.New("outbox: no transaction in context")

// Writer appends domain events to the outbox inside the caller's current
// unit of work, taken from the context. Event handlers running under the
// consumer's unit of work use this to emit follow-on events atomically
// with their own state change.
type Writer struct {
	repo *Repository
}

func NewWriter(repo *Repository) *Writer {
	return &Writer{repo: repo}
}

func (w *Writer) PublishAll(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, ok := db.TxFrom(ctx)
	if !ok {
		return ErrNoTransaction
	}
	return w.repo.Append(ctx, tx, events)
}
