// Package subscriptions holds the state transitions for the subscription
// aggregate. Keeping this out of HTTP handlers makes the transactional
// shape uniform: load, mutate, save under the loaded version, commit,
// then clear the published buffer.
package subscriptions

import (
	"context"
	"fmt"

	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/services/subscription-service/internal/model"
	"github.com/jinto-josan/web-apps-sub001/services/subscription-service/internal/storage"
)

type Service struct {
	repo  *storage.Repository
	clock domain.Clock
}

func New(repo *storage.Repository, clock domain.Clock) *Service {
	return &Service{repo: repo, clock: clock}
}

func (s *Service) Start(ctx context.Context, accountID string, plan model.Plan) (*model.Subscription, error) {
	sub, err := model.StartSubscription(s.clock, accountID, plan)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) ChangePlan(ctx context.Context, id model.SubscriptionID, expectedVersion int64, plan model.Plan) (*model.Subscription, error) {
	return s.mutate(ctx, id, expectedVersion, func(sub *model.Subscription) error {
		return sub.ChangePlan(s.clock, plan)
	})
}

func (s *Service) Cancel(ctx context.Context, id model.SubscriptionID, expectedVersion int64, reason string) (*model.Subscription, error) {
	return s.mutate(ctx, id, expectedVersion, func(sub *model.Subscription) error {
		return sub.Cancel(s.clock, reason)
	})
}

func (s *Service) Get(ctx context.Context, id model.SubscriptionID) (*model.Subscription, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) mutate(ctx context.Context, id model.SubscriptionID, expectedVersion int64, op func(*model.Subscription) error) (*model.Subscription, error) {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// The caller's precondition is checked against the loaded state
	// first; the conditional UPDATE in Save re-checks it server-side, so
	// a writer racing between the two still loses cleanly.
	if sub.Version() != expectedVersion {
		return nil, fmt.Errorf("subscription %s expected version %d, at %d: %w",
			id, expectedVersion, sub.Version(), domain.ErrVersionConflict)
	}
	if err := op(sub); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) commit(ctx context.Context, sub *model.Subscription) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.repo.Save(ctx, tx, sub); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	// Events are durably in the outbox now; drop the buffer.
	sub.ClearPending()
	return nil
}
