// Package profiles is the application layer over the viewer profile
// store. Profiles are normally written by the event projector; the only
// direct write is the support-tooling entitlement override, which runs
// under the same token precondition the store enforces.
package profiles

import (
	"context"
	"fmt"

	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/internal/model"
)

// Store is the slice of the repository this service reads and writes.
type Store interface {
	Get(ctx context.Context, accountID string) (*model.ViewerProfile, error)
	Update(ctx context.Context, p *model.ViewerProfile) error
}

type Service struct {
	store Store
	clock domain.Clock
}

func New(store Store, clock domain.Clock) *Service {
	return &Service{store: store, clock: clock}
}

func (s *Service) Get(ctx context.Context, accountID string) (*model.ViewerProfile, error) {
	return s.store.Get(ctx, accountID)
}

// OverrideEntitlement sets the entitlement directly, conditional on the
// token the caller read. The loaded token is checked first for a cheap
// early answer; the store's conditional update re-checks it, so a writer
// racing between the two still loses cleanly.
func (s *Service) OverrideEntitlement(ctx context.Context, accountID string, state model.EntitlementState, expectedToken string) (*model.ViewerProfile, error) {
	p, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if p.Token != expectedToken {
		return nil, fmt.Errorf("profile %s token mismatch: %w", accountID, domain.ErrVersionConflict)
	}
	if p.Entitlement == state {
		return p, nil
	}
	p.Entitlement = state
	p.UpdatedAt = s.clock.Now()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
