// Package events defines the wire shapes the profile service publishes.
package events

import (
	"encoding/json"

	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/libs/eventbus"
)

const TypeProfileProvisioned = "profile.provisioned.v1"

type ProfileProvisioned struct {
	domain.EventBase
	AccountID      string `json:"account_id"`
	SubscriptionID string `json:"subscription_id"`
	Plan           string `json:"plan"`
}

func (ProfileProvisioned) EventType() string     { return TypeProfileProvisioned }
func (ProfileProvisioned) AggregateType() string { return "profile" }
func (e ProfileProvisioned) AggregateID() string { return e.AccountID }

func RegisterTypes(reg *eventbus.Registry) {
	reg.RegisterType(TypeProfileProvisioned, func(payload []byte) (domain.Event, error) {
		var e ProfileProvisioned
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	})
}
