package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jinto-josan/web-apps-sub001/libs/correlation"
	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/libs/eventbus"
	"github.com/jinto-josan/web-apps-sub001/libs/inbox"
)

// fakeLedger mirrors the inbox repository's claim semantics in memory.
type fakeLedger struct {
	mu           sync.Mutex
	rows         map[string]*ledgerRow
	reclaimAfter time.Duration
	now          func() time.Time
}

type ledgerRow struct {
	status    inbox.Status
	claimedAt time.Time
	lastError string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		rows:         map[string]*ledgerRow{},
		reclaimAfter: 5 * time.Minute,
		now:          time.Now,
	}
}

func (l *fakeLedger) Claim(_ context.Context, messageID string) (inbox.Claim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[messageID]
	if !ok {
		l.rows[messageID] = &ledgerRow{status: inbox.StatusInProgress, claimedAt: l.now()}
		return inbox.ClaimAcquired, nil
	}
	switch row.status {
	case inbox.StatusDone:
		return inbox.ClaimDuplicate, nil
	case inbox.StatusFailed:
		row.status = inbox.StatusInProgress
		row.claimedAt = l.now()
		return inbox.ClaimAcquired, nil
	default:
		if l.now().Sub(row.claimedAt) > l.reclaimAfter {
			row.claimedAt = l.now()
			return inbox.ClaimAcquired, nil
		}
		return inbox.ClaimBusy, nil
	}
}

func (l *fakeLedger) MarkDone(_ context.Context, messageID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows[messageID].status = inbox.StatusDone
	l.rows[messageID].lastError = ""
	return nil
}

func (l *fakeLedger) MarkFailed(_ context.Context, messageID string, lastError string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows[messageID].status = inbox.StatusFailed
	l.rows[messageID].lastError = lastError
	return nil
}

func (l *fakeLedger) status(messageID string) inbox.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.rows[messageID]; ok {
		return row.status
	}
	return ""
}

type fakeUow struct {
	commits   int
	rollbacks int
}

func (u *fakeUow) Context(ctx context.Context) context.Context { return ctx }
func (u *fakeUow) Commit(context.Context) error                { u.commits++; return nil }
func (u *fakeUow) Rollback(context.Context) error              { u.rollbacks++; return nil }

type planEvent struct {
	domain.EventBase
	Plan string `json:"plan"`
}

func (planEvent) EventType() string { return "subscription.started.v1" }

func testRegistry() *eventbus.Registry {
	reg := eventbus.NewRegistry()
	reg.RegisterType("subscription.started.v1", func(payload []byte) (domain.Event, error) {
		var e planEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	})
	return reg
}

func testMessage(id string) Message {
	return Message{
		ID:            id,
		EventType:     "subscription.started.v1",
		CorrelationID: "corr-1",
		Body:          []byte(`{"plan":"premium"}`),
	}
}

func newTestProcessor(ledger Ledger, reg *eventbus.Registry, uow *fakeUow) *Processor {
	begin := func(context.Context) (UnitOfWork, error) { return uow, nil }
	logger := slog.New(slog.DiscardHandler)
	return NewProcessor(ledger, begin, reg, logger, ProcessorConfig{HandlerTimeout: time.Second})
}

func TestProcess_ExactlyOnceUnderRedelivery(t *testing.T) {
	ledger := newFakeLedger()
	uow := &fakeUow{}
	reg := testRegistry()

	handled := 0
	reg.RegisterHandler("subscription.started.v1", func(_ context.Context, _ domain.Event, _ string) error {
		handled++
		return nil
	})
	p := newTestProcessor(ledger, reg, uow)

	// Five deliveries of the same logical message: all succeed, the
	// business handler runs exactly once.
	for i := 0; i < 5; i++ {
		if err := p.Process(context.Background(), testMessage("m-1")); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if handled != 1 {
		t.Fatalf("handler ran %d times, want 1", handled)
	}
	if uow.commits != 1 {
		t.Fatalf("expected 1 commit, got %d", uow.commits)
	}
	if ledger.status("m-1") != inbox.StatusDone {
		t.Fatalf("ledger status: %s", ledger.status("m-1"))
	}
}

func TestProcess_InFlightClaimRejected(t *testing.T) {
	ledger := newFakeLedger()
	uow := &fakeUow{}
	reg := testRegistry()

	release := make(chan struct{})
	started := make(chan struct{})
	reg.RegisterHandler("subscription.started.v1", func(ctx context.Context, _ domain.Event, _ string) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	p := newTestProcessor(ledger, reg, uow)

	done := make(chan error, 1)
	go func() { done <- p.Process(context.Background(), testMessage("m-1")) }()
	<-started

	// A competing delivery while the first consumer holds the claim.
	if err := p.Process(context.Background(), testMessage("m-1")); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if ledger.status("m-1") != inbox.StatusDone {
		t.Fatalf("ledger status: %s", ledger.status("m-1"))
	}
}

func TestProcess_HandlerFailureRollsBackAndRecords(t *testing.T) {
	ledger := newFakeLedger()
	uow := &fakeUow{}
	reg := testRegistry()

	reg.RegisterHandler("subscription.started.v1", func(context.Context, domain.Event, string) error {
		return errors.New("entitlement lookup unavailable")
	})
	p := newTestProcessor(ledger, reg, uow)

	err := p.Process(context.Background(), testMessage("m-1"))
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if uow.commits != 0 || uow.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d, want 0/1", uow.commits, uow.rollbacks)
	}
	if ledger.status("m-1") != inbox.StatusFailed {
		t.Fatalf("ledger status: %s", ledger.status("m-1"))
	}
	if ledger.rows["m-1"].lastError == "" {
		t.Fatal("last error must be recorded")
	}
}

func TestProcess_FailedThenRetrySucceeds(t *testing.T) {
	ledger := newFakeLedger()
	uow := &fakeUow{}
	reg := testRegistry()

	attempts := 0
	reg.RegisterHandler("subscription.started.v1", func(context.Context, domain.Event, string) error {
		attempts++
		if attempts == 1 {
			return errors.New("downstream broken")
		}
		return nil
	})
	p := newTestProcessor(ledger, reg, uow)

	if err := p.Process(context.Background(), testMessage("m-1")); err == nil {
		t.Fatal("first delivery should fail")
	}
	if ledger.status("m-1") != inbox.StatusFailed {
		t.Fatalf("after failure: %s", ledger.status("m-1"))
	}

	// Redelivery retakes the FAILED row and applies the effect once.
	if err := p.Process(context.Background(), testMessage("m-1")); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if ledger.status("m-1") != inbox.StatusDone {
		t.Fatalf("after retry: %s", ledger.status("m-1"))
	}
	if uow.commits != 1 {
		t.Fatalf("business effect committed %d times, want 1", uow.commits)
	}
}

func TestProcess_StaleClaimReclaimed(t *testing.T) {
	ledger := newFakeLedger()
	uow := &fakeUow{}
	reg := testRegistry()

	handled := 0
	reg.RegisterHandler("subscription.started.v1", func(context.Context, domain.Event, string) error {
		handled++
		return nil
	})
	p := newTestProcessor(ledger, reg, uow)

	// Simulate a consumer that claimed and crashed before commit.
	ledger.rows["m-1"] = &ledgerRow{
		status:    inbox.StatusInProgress,
		claimedAt: time.Now().Add(-time.Hour),
	}

	if err := p.Process(context.Background(), testMessage("m-1")); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if handled != 1 {
		t.Fatalf("handler ran %d times, want 1", handled)
	}
	if ledger.status("m-1") != inbox.StatusDone {
		t.Fatalf("ledger status: %s", ledger.status("m-1"))
	}
	if len(ledger.rows) != 1 {
		t.Fatalf("expected a single ledger row, got %d", len(ledger.rows))
	}
}

func TestProcess_UnknownEventType(t *testing.T) {
	ledger := newFakeLedger()
	uow := &fakeUow{}
	p := newTestProcessor(ledger, testRegistry(), uow)

	msg := testMessage("m-1")
	msg.EventType = "subscription.suspended.v9"
	err := p.Process(context.Background(), msg)
	if !errors.Is(err, eventbus.ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
	if ledger.status("m-1") != inbox.StatusFailed {
		t.Fatalf("ledger status: %s", ledger.status("m-1"))
	}
}

func TestProcess_NoHandlerRegistered(t *testing.T) {
	ledger := newFakeLedger()
	uow := &fakeUow{}
	// Type decodes but nothing subscribes to it here.
	p := newTestProcessor(ledger, testRegistry(), uow)

	err := p.Process(context.Background(), testMessage("m-1"))
	if !errors.Is(err, eventbus.ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
	if uow.commits != 0 {
		t.Fatalf("nothing should commit, got %d commits", uow.commits)
	}
}

func TestProcess_HandlerTimeout(t *testing.T) {
	ledger := newFakeLedger()
	uow := &fakeUow{}
	reg := testRegistry()

	reg.RegisterHandler("subscription.started.v1", func(ctx context.Context, _ domain.Event, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	begin := func(context.Context) (UnitOfWork, error) { return uow, nil }
	p := NewProcessor(ledger, begin, reg, slog.New(slog.DiscardHandler),
		ProcessorConfig{HandlerTimeout: 10 * time.Millisecond})

	err := p.Process(context.Background(), testMessage("m-1"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if uow.rollbacks != 1 || uow.commits != 0 {
		t.Fatalf("commits=%d rollbacks=%d, want 0/1", uow.commits, uow.rollbacks)
	}
	if ledger.status("m-1") != inbox.StatusFailed {
		t.Fatalf("ledger status: %s", ledger.status("m-1"))
	}
}

func TestProcess_PropagatesCorrelationAndCausation(t *testing.T) {
	ledger := newFakeLedger()
	uow := &fakeUow{}
	reg := testRegistry()

	var gotCorrelation, gotCausation string
	reg.RegisterHandler("subscription.started.v1", func(ctx context.Context, _ domain.Event, correlationID string) error {
		gotCorrelation = correlationID
		gotCausation = correlation.CausationID(ctx)
		return nil
	})
	p := newTestProcessor(ledger, reg, uow)

	if err := p.Process(context.Background(), testMessage("m-7")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if gotCorrelation != "corr-1" {
		t.Fatalf("correlation: got %q", gotCorrelation)
	}
	if gotCausation != "m-7" {
		t.Fatalf("causation: got %q", gotCausation)
	}
}
