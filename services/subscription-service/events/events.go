// Package events defines the wire shapes published by the subscription
// service. Event types are stable strings: they name the Kafka topic and
// the decoder on every consuming service.
package events

import (
	"encoding/json"

	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/libs/eventbus"
)

const (
	TypeSubscriptionStarted     = "subscription.started.v1"
	TypeSubscriptionPlanChanged = "subscription.plan_changed.v1"
	TypeSubscriptionCancelled   = "subscription.cancelled.v1"
)

type SubscriptionStarted struct {
	domain.EventBase
	SubscriptionID string `json:"subscription_id"`
	AccountID      string `json:"account_id"`
	Plan           string `json:"plan"`
}

func (SubscriptionStarted) EventType() string     { return TypeSubscriptionStarted }
func (SubscriptionStarted) AggregateType() string { return "subscription" }
func (e SubscriptionStarted) AggregateID() string { return e.SubscriptionID }

type SubscriptionPlanChanged struct {
	domain.EventBase
	SubscriptionID string `json:"subscription_id"`
	AccountID      string `json:"account_id"`
	OldPlan        string `json:"old_plan"`
	NewPlan        string `json:"new_plan"`
}

func (SubscriptionPlanChanged) EventType() string     { return TypeSubscriptionPlanChanged }
func (SubscriptionPlanChanged) AggregateType() string { return "subscription" }
func (e SubscriptionPlanChanged) AggregateID() string { return e.SubscriptionID }

type SubscriptionCancelled struct {
	domain.EventBase
	SubscriptionID string `json:"subscription_id"`
	AccountID      string `json:"account_id"`
	Reason         string `json:"reason"`
}

func (SubscriptionCancelled) EventType() string     { return TypeSubscriptionCancelled }
func (SubscriptionCancelled) AggregateType() string { return "subscription" }
func (e SubscriptionCancelled) AggregateID() string { return e.SubscriptionID }

// RegisterTypes installs the decoders on a registry. Consumers register
// these once at startup before adding their handlers.
func RegisterTypes(reg *eventbus.Registry) {
	reg.RegisterType(TypeSubscriptionStarted, func(payload []byte) (domain.Event, error) {
		var e SubscriptionStarted
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	})
	reg.RegisterType(TypeSubscriptionPlanChanged, func(payload []byte) (domain.Event, error) {
		var e SubscriptionPlanChanged
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	})
	reg.RegisterType(TypeSubscriptionCancelled, func(payload []byte) (domain.Event, error) {
		var e SubscriptionCancelled
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	})
}
