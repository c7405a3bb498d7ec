package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/services/subscription-service/events"
)

type SubscriptionID string

func NewSubscriptionID() SubscriptionID {
	return SubscriptionID("sub-" + uuid.NewString())
}

type Plan string

const (
	PlanBasic    Plan = "basic"
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanBasic, PlanStandard, PlanPremium:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

var (
	ErrInvalidPlan      = errors.New("invalid plan")
	ErrAlreadyCancelled = errors.New("subscription already cancelled")
)

// Subscription is the aggregate root for one account's plan. Mutations go
// through the domain methods, which record the events the outbox will
// publish when the enclosing unit of work commits.
type Subscription struct {
	domain.AggregateBase

	ID        SubscriptionID
	AccountID string
	Plan      Plan
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func StartSubscription(clock domain.Clock, accountID string, plan Plan) (*Subscription, error) {
	if !plan.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPlan, plan)
	}
	now := clock.Now().UTC()
	sub := &Subscription{
		ID:        NewSubscriptionID(),
		AccountID: accountID,
		Plan:      plan,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sub.Record(events.SubscriptionStarted{
		EventBase:      domain.NewEventBase(clock),
		SubscriptionID: string(sub.ID),
		AccountID:      accountID,
		Plan:           string(plan),
	})
	return sub, nil
}

func (s *Subscription) ChangePlan(clock domain.Clock, plan Plan) error {
	if !plan.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidPlan, plan)
	}
	if s.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	if plan == s.Plan {
		return nil
	}
	old := s.Plan
	s.Plan = plan
	s.UpdatedAt = clock.Now().UTC()
	s.Record(events.SubscriptionPlanChanged{
		EventBase:      domain.NewEventBase(clock),
		SubscriptionID: string(s.ID),
		AccountID:      s.AccountID,
		OldPlan:        string(old),
		NewPlan:        string(plan),
	})
	return nil
}

func (s *Subscription) Cancel(clock domain.Clock, reason string) error {
	if s.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	s.Status = StatusCancelled
	s.UpdatedAt = clock.Now().UTC()
	s.Record(events.SubscriptionCancelled{
		EventBase:      domain.NewEventBase(clock),
		SubscriptionID: string(s.ID),
		AccountID:      s.AccountID,
		Reason:         reason,
	})
	return nil
}
