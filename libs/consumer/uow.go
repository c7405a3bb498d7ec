package consumer

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/jinto-josan/web-apps-sub001/libs/db"
)

// UnitOfWork is one transactional scope for handling a single message.
// Everything the handler writes either commits with it or disappears.
type UnitOfWork interface {
	// Context binds the unit of work into ctx so repositories used by
	// the handler join it.
	Context(ctx context.Context) context.Context
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// BeginFunc opens a fresh unit of work.
type BeginFunc func(ctx context.Context) (UnitOfWork, error)

// PgxUnitOfWork adapts a pgx pool to BeginFunc.
func PgxUnitOfWork(pool *db.Pool) BeginFunc {
	return func(ctx context.Context) (UnitOfWork, error) {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}
		return pgxUow{tx: tx}, nil
	}
}

type pgxUow struct {
	tx pgx.Tx
}

func (u pgxUow) Context(ctx context.Context) context.Context { return db.WithTx(ctx, u.tx) }
func (u pgxUow) Commit(ctx context.Context) error            { return u.tx.Commit(ctx) }
func (u pgxUow) Rollback(ctx context.Context) error          { return u.tx.Rollback(ctx) }
