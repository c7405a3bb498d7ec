package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jinto-josan/web-apps-sub001/libs/db"
	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/internal/model"
)

var ErrNotFound = errors.New("viewer profile not found")

// querier is the slice of pgx shared by pgxpool.Pool and pgx.Tx, so the
// same queries run standalone or inside the consumer's unit of work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists viewer profiles under token-based optimistic
// concurrency: the store issues a fresh opaque token on every write and
// a conditional update commits only if the token the writer read is
// still current. Same invariant as the integer-version encoding, with
// the sequence hidden from callers.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) querier(ctx context.Context) querier {
	if tx, ok := db.TxFrom(ctx); ok {
		return tx
	}
	return r.pool
}

func newToken() string {
	return uuid.NewString()
}

func (r *Repository) Get(ctx context.Context, accountID string) (*model.ViewerProfile, error) {
	var p model.ViewerProfile
	err := r.querier(ctx).QueryRow(ctx, `
		SELECT account_id, subscription_id, plan, entitlement_state, token, created_at, updated_at
		FROM viewer_profiles
		WHERE account_id = $1
	`, accountID).Scan(&p.AccountID, &p.SubscriptionID, &p.Plan, &p.Entitlement, &p.Token, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Insert creates the profile and stamps its first token. A concurrent
// insert for the same account surfaces as a conflict rather than a
// duplicate row.
func (r *Repository) Insert(ctx context.Context, p *model.ViewerProfile) error {
	token := newToken()
	tag, err := r.querier(ctx).Exec(ctx, `
		INSERT INTO viewer_profiles (account_id, subscription_id, plan, entitlement_state, token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id) DO NOTHING
	`, p.AccountID, p.SubscriptionID, p.Plan, string(p.Entitlement), token, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert viewer profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("viewer profile %s already exists: %w", p.AccountID, domain.ErrVersionConflict)
	}
	p.Token = token
	return nil
}

// Update writes the profile conditionally on the token it was read at
// and rotates the token. Zero rows affected means another writer got
// there first.
func (r *Repository) Update(ctx context.Context, p *model.ViewerProfile) error {
	expected := p.Token
	next := newToken()
	tag, err := r.querier(ctx).Exec(ctx, `
		UPDATE viewer_profiles
		SET subscription_id = $2, plan = $3, entitlement_state = $4, token = $5, updated_at = $6
		WHERE account_id = $1 AND token = $7
	`, p.AccountID, p.SubscriptionID, p.Plan, string(p.Entitlement), next, p.UpdatedAt, expected)
	if err != nil {
		return fmt.Errorf("update viewer profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("viewer profile %s token mismatch: %w", p.AccountID, domain.ErrVersionConflict)
	}
	p.Token = next
	return nil
}
