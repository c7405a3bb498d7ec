package model

import (
	"errors"
	"time"
)

// EntitlementState is the profile's view of what the account may watch.
type EntitlementState string

const (
	EntitlementNone      EntitlementState = "none"
	EntitlementActive    EntitlementState = "active"
	EntitlementCancelled EntitlementState = "cancelled"
)

var ErrInvalidEntitlement = errors.New("invalid entitlement state")

func ParseEntitlement(s string) (EntitlementState, error) {
	switch EntitlementState(s) {
	case EntitlementNone, EntitlementActive, EntitlementCancelled:
		return EntitlementState(s), nil
	}
	return "", ErrInvalidEntitlement
}

// ViewerProfile is provisioned automatically from subscription events and
// carries the entitlement snapshot the playback services read. Concurrency
// is guarded by an opaque token the store regenerates on every write;
// writers echo the token they read as a conditional precondition.
type ViewerProfile struct {
	AccountID      string
	SubscriptionID string
	Plan           string
	Entitlement    EntitlementState

	// Token is store-issued and opaque to callers. Empty on a profile
	// that has not been persisted yet.
	Token     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
