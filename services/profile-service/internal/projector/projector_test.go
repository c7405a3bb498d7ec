package projector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/libs/eventbus"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/events"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/internal/model"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/internal/storage"
	subevents "github.com/jinto-josan/web-apps-sub001/services/subscription-service/events"
)

type memStore struct {
	profiles map[string]model.ViewerProfile
	inserts  int
	updates  int
	tokenSeq int
}

func newMemStore() *memStore {
	return &memStore{profiles: map[string]model.ViewerProfile{}}
}

func (s *memStore) nextToken() string {
	s.tokenSeq++
	return fmt.Sprintf("tok-%d", s.tokenSeq)
}

func (s *memStore) Get(_ context.Context, accountID string) (*model.ViewerProfile, error) {
	p, ok := s.profiles[accountID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (s *memStore) Insert(_ context.Context, p *model.ViewerProfile) error {
	if _, ok := s.profiles[p.AccountID]; ok {
		return domain.ErrVersionConflict
	}
	p.Token = s.nextToken()
	s.profiles[p.AccountID] = *p
	s.inserts++
	return nil
}

func (s *memStore) Update(_ context.Context, p *model.ViewerProfile) error {
	cur, ok := s.profiles[p.AccountID]
	if !ok || cur.Token != p.Token {
		return domain.ErrVersionConflict
	}
	p.Token = s.nextToken()
	s.profiles[p.AccountID] = *p
	s.updates++
	return nil
}

type memPublisher struct {
	published []domain.Event
}

func (p *memPublisher) PublishAll(_ context.Context, evs []domain.Event) error {
	p.published = append(p.published, evs...)
	return nil
}

func newProjector(t *testing.T) (*Projector, *memStore, *memPublisher) {
	t.Helper()
	store := newMemStore()
	pub := &memPublisher{}
	clock := domain.FixedClock{Instant: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(store, pub, clock, slog.New(slog.DiscardHandler)), store, pub
}

func started(subID, accountID, plan string) subevents.SubscriptionStarted {
	return subevents.SubscriptionStarted{
		EventBase:      domain.NewEventBase(domain.SystemClock()),
		SubscriptionID: subID,
		AccountID:      accountID,
		Plan:           plan,
	}
}

func TestStartedProvisionsProfile(t *testing.T) {
	p, store, pub := newProjector(t)

	if err := p.handleStarted(t.Context(), started("sub-1", "acc-1", "premium"), "corr-1"); err != nil {
		t.Fatalf("handleStarted: %v", err)
	}

	got := store.profiles["acc-1"]
	if got.SubscriptionID != "sub-1" || got.Plan != "premium" {
		t.Fatalf("unexpected profile: %+v", got)
	}
	if got.Entitlement != model.EntitlementActive {
		t.Fatalf("entitlement = %q, want active", got.Entitlement)
	}
	if got.Token == "" {
		t.Fatal("profile has no token after insert")
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.published))
	}
	prov, ok := pub.published[0].(events.ProfileProvisioned)
	if !ok {
		t.Fatalf("published %T, want ProfileProvisioned", pub.published[0])
	}
	if prov.AccountID != "acc-1" || prov.SubscriptionID != "sub-1" {
		t.Fatalf("unexpected provisioned event: %+v", prov)
	}
}

func TestStartedRedeliveredIsNoOp(t *testing.T) {
	p, store, pub := newProjector(t)
	ev := started("sub-1", "acc-1", "basic")

	for i := 0; i < 3; i++ {
		if err := p.handleStarted(t.Context(), ev, "corr-1"); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	if store.inserts != 1 || store.updates != 0 {
		t.Fatalf("inserts=%d updates=%d, want exactly one insert", store.inserts, store.updates)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.published))
	}
}

func TestStartedRebindsNewSubscription(t *testing.T) {
	p, store, _ := newProjector(t)

	if err := p.handleStarted(t.Context(), started("sub-1", "acc-1", "basic"), "c1"); err != nil {
		t.Fatal(err)
	}
	if err := p.handleCancelled(t.Context(), subevents.SubscriptionCancelled{
		EventBase:      domain.NewEventBase(domain.SystemClock()),
		SubscriptionID: "sub-1",
		AccountID:      "acc-1",
	}, "c2"); err != nil {
		t.Fatal(err)
	}
	if err := p.handleStarted(t.Context(), started("sub-2", "acc-1", "standard"), "c3"); err != nil {
		t.Fatal(err)
	}

	got := store.profiles["acc-1"]
	if got.SubscriptionID != "sub-2" || got.Plan != "standard" {
		t.Fatalf("unexpected profile after rebind: %+v", got)
	}
	if got.Entitlement != model.EntitlementActive {
		t.Fatalf("entitlement = %q, want active after rebind", got.Entitlement)
	}
}

func TestPlanChangedUpdatesPlan(t *testing.T) {
	p, store, _ := newProjector(t)

	if err := p.handleStarted(t.Context(), started("sub-1", "acc-1", "basic"), "c1"); err != nil {
		t.Fatal(err)
	}
	if err := p.handlePlanChanged(t.Context(), subevents.SubscriptionPlanChanged{
		EventBase:      domain.NewEventBase(domain.SystemClock()),
		SubscriptionID: "sub-1",
		AccountID:      "acc-1",
		OldPlan:        "basic",
		NewPlan:        "premium",
	}, "c2"); err != nil {
		t.Fatal(err)
	}

	if got := store.profiles["acc-1"].Plan; got != "premium" {
		t.Fatalf("plan = %q, want premium", got)
	}
}

func TestPlanChangedSamePlanIsNoOp(t *testing.T) {
	p, store, _ := newProjector(t)

	if err := p.handleStarted(t.Context(), started("sub-1", "acc-1", "basic"), "c1"); err != nil {
		t.Fatal(err)
	}
	if err := p.handlePlanChanged(t.Context(), subevents.SubscriptionPlanChanged{
		EventBase:      domain.NewEventBase(domain.SystemClock()),
		SubscriptionID: "sub-1",
		AccountID:      "acc-1",
		OldPlan:        "basic",
		NewPlan:        "basic",
	}, "c2"); err != nil {
		t.Fatal(err)
	}

	if store.updates != 0 {
		t.Fatalf("updates = %d, want 0 for same plan", store.updates)
	}
}

func TestPlanChangedProvisionsMissingProfile(t *testing.T) {
	p, store, pub := newProjector(t)

	if err := p.handlePlanChanged(t.Context(), subevents.SubscriptionPlanChanged{
		EventBase:      domain.NewEventBase(domain.SystemClock()),
		SubscriptionID: "sub-1",
		AccountID:      "acc-1",
		OldPlan:        "basic",
		NewPlan:        "premium",
	}, "c1"); err != nil {
		t.Fatal(err)
	}

	got := store.profiles["acc-1"]
	if got.Plan != "premium" || got.Entitlement != model.EntitlementActive {
		t.Fatalf("unexpected provisioned profile: %+v", got)
	}
	// Provisioning through this path announces the profile the same way
	// first-time provisioning does.
	if len(pub.published) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.published))
	}
	prov, ok := pub.published[0].(events.ProfileProvisioned)
	if !ok {
		t.Fatalf("published %T, want ProfileProvisioned", pub.published[0])
	}
	if prov.AccountID != "acc-1" || prov.Plan != "premium" {
		t.Fatalf("unexpected provisioned event: %+v", prov)
	}
}

func TestCancelledRevokesEntitlement(t *testing.T) {
	p, store, _ := newProjector(t)

	if err := p.handleStarted(t.Context(), started("sub-1", "acc-1", "basic"), "c1"); err != nil {
		t.Fatal(err)
	}
	ev := subevents.SubscriptionCancelled{
		EventBase:      domain.NewEventBase(domain.SystemClock()),
		SubscriptionID: "sub-1",
		AccountID:      "acc-1",
		Reason:         "user_request",
	}
	if err := p.handleCancelled(t.Context(), ev, "c2"); err != nil {
		t.Fatal(err)
	}
	if got := store.profiles["acc-1"].Entitlement; got != model.EntitlementCancelled {
		t.Fatalf("entitlement = %q, want cancelled", got)
	}

	// Redelivery changes nothing further.
	updatesBefore := store.updates
	if err := p.handleCancelled(t.Context(), ev, "c2"); err != nil {
		t.Fatal(err)
	}
	if store.updates != updatesBefore {
		t.Fatal("redelivered cancellation wrote again")
	}
}

func TestCancelledUnknownProfileIsNoOp(t *testing.T) {
	p, _, _ := newProjector(t)

	err := p.handleCancelled(t.Context(), subevents.SubscriptionCancelled{
		EventBase:      domain.NewEventBase(domain.SystemClock()),
		SubscriptionID: "sub-9",
		AccountID:      "acc-9",
	}, "c1")
	if err != nil {
		t.Fatalf("cancellation for unknown profile: %v", err)
	}
}

func TestRegisterSubscribesSubscriptionStream(t *testing.T) {
	p, _, _ := newProjector(t)
	reg := eventbus.NewRegistry()
	subevents.RegisterTypes(reg)
	p.Register(reg)

	topics := reg.Topics()
	sort.Strings(topics)
	want := []string{
		subevents.TypeSubscriptionCancelled,
		subevents.TypeSubscriptionPlanChanged,
		subevents.TypeSubscriptionStarted,
	}
	if len(topics) != len(want) {
		t.Fatalf("topics = %v, want %v", topics, want)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Fatalf("topics = %v, want %v", topics, want)
		}
	}
}
