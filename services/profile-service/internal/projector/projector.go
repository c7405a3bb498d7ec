// Package projector folds subscription lifecycle events into viewer
// profiles. Handlers run inside the consumer's unit of work, so the
// profile write, the inbox bookkeeping and any follow-on outbox rows
// commit or roll back together.
package projector

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/libs/eventbus"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/events"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/internal/model"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/internal/storage"
	subevents "github.com/jinto-josan/web-apps-sub001/services/subscription-service/events"
)

// Store is the slice of the profile repository the projector needs.
type Store interface {
	Get(ctx context.Context, accountID string) (*model.ViewerProfile, error)
	Insert(ctx context.Context, p *model.ViewerProfile) error
	Update(ctx context.Context, p *model.ViewerProfile) error
}

// Publisher appends follow-on events to the service's own outbox inside
// the current unit of work.
type Publisher interface {
	PublishAll(ctx context.Context, events []domain.Event) error
}

type Projector struct {
	store Store
	pub   Publisher
	clock domain.Clock
	log   *slog.Logger
}

func New(store Store, pub Publisher, clock domain.Clock, log *slog.Logger) *Projector {
	return &Projector{store: store, pub: pub, clock: clock, log: log}
}

// Register subscribes the projector to the subscription event stream.
func (p *Projector) Register(reg *eventbus.Registry) {
	reg.RegisterHandler(subevents.TypeSubscriptionStarted, p.handleStarted)
	reg.RegisterHandler(subevents.TypeSubscriptionPlanChanged, p.handlePlanChanged)
	reg.RegisterHandler(subevents.TypeSubscriptionCancelled, p.handleCancelled)
}

// handleStarted provisions the viewer profile. A profile that already
// exists for the same subscription means the event was applied before;
// the handler is a no-op then, so a redelivered message that got past
// the inbox (reclaimed claim, FAILED retake) still changes nothing.
func (p *Projector) handleStarted(ctx context.Context, event domain.Event, correlationID string) error {
	e, ok := event.(subevents.SubscriptionStarted)
	if !ok {
		return errorUnexpectedShape(event)
	}
	existing, err := p.store.Get(ctx, e.AccountID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if existing != nil {
		if existing.SubscriptionID == e.SubscriptionID {
			p.log.Debug("profile already provisioned", "account_id", e.AccountID)
			return nil
		}
		// Account re-subscribed under a new subscription: rebind.
		existing.SubscriptionID = e.SubscriptionID
		existing.Plan = e.Plan
		existing.Entitlement = model.EntitlementActive
		existing.UpdatedAt = p.clock.Now()
		return p.store.Update(ctx, existing)
	}

	now := p.clock.Now()
	profile := &model.ViewerProfile{
		AccountID:      e.AccountID,
		SubscriptionID: e.SubscriptionID,
		Plan:           e.Plan,
		Entitlement:    model.EntitlementActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.store.Insert(ctx, profile); err != nil {
		return err
	}
	p.log.Info("viewer profile provisioned",
		"account_id", e.AccountID,
		"subscription_id", e.SubscriptionID,
		"correlation_id", correlationID)
	return p.pub.PublishAll(ctx, []domain.Event{events.ProfileProvisioned{
		EventBase:      domain.NewEventBase(p.clock),
		AccountID:      e.AccountID,
		SubscriptionID: e.SubscriptionID,
		Plan:           e.Plan,
	}})
}

// handlePlanChanged updates the entitlement plan. A missing profile is
// provisioned from the event: the stream is ordered per subscription,
// but a profile row can be absent after a retention purge and the
// projection must still converge.
func (p *Projector) handlePlanChanged(ctx context.Context, event domain.Event, correlationID string) error {
	e, ok := event.(subevents.SubscriptionPlanChanged)
	if !ok {
		return errorUnexpectedShape(event)
	}
	existing, err := p.store.Get(ctx, e.AccountID)
	if errors.Is(err, storage.ErrNotFound) {
		now := p.clock.Now()
		profile := &model.ViewerProfile{
			AccountID:      e.AccountID,
			SubscriptionID: e.SubscriptionID,
			Plan:           e.NewPlan,
			Entitlement:    model.EntitlementActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := p.store.Insert(ctx, profile); err != nil {
			return err
		}
		// Same contract as first-time provisioning: downstream readers
		// of profile.provisioned.v1 must also see profiles created by
		// this convergence path.
		return p.pub.PublishAll(ctx, []domain.Event{events.ProfileProvisioned{
			EventBase:      domain.NewEventBase(p.clock),
			AccountID:      e.AccountID,
			SubscriptionID: e.SubscriptionID,
			Plan:           e.NewPlan,
		}})
	}
	if err != nil {
		return err
	}
	if existing.Plan == e.NewPlan {
		return nil
	}
	existing.Plan = e.NewPlan
	existing.UpdatedAt = p.clock.Now()
	return p.store.Update(ctx, existing)
}

// handleCancelled flips the entitlement off. Unknown account is a no-op:
// there is nothing to revoke.
func (p *Projector) handleCancelled(ctx context.Context, event domain.Event, correlationID string) error {
	e, ok := event.(subevents.SubscriptionCancelled)
	if !ok {
		return errorUnexpectedShape(event)
	}
	existing, err := p.store.Get(ctx, e.AccountID)
	if errors.Is(err, storage.ErrNotFound) {
		p.log.Warn("cancellation for unknown profile", "account_id", e.AccountID)
		return nil
	}
	if err != nil {
		return err
	}
	if existing.Entitlement == model.EntitlementCancelled {
		return nil
	}
	existing.Entitlement = model.EntitlementCancelled
	existing.UpdatedAt = p.clock.Now()
	return p.store.Update(ctx, existing)
}

func errorUnexpectedShape(event domain.Event) error {
	return errors.New("unexpected event shape for " + event.EventType())
}
