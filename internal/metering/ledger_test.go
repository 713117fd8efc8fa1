package metering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/tenant"
)

type memoryStore struct {
	mu       sync.Mutex
	usage    map[pendingKey]UsageRecord
	policies map[ownerKey]LimitPolicy
	orgs     map[string][]string

	limitCalls   int
	orgCalls     int
	usageErr     error
	limitErr     error
	incrementErr error
	increments   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		usage:    map[pendingKey]UsageRecord{},
		policies: map[ownerKey]LimitPolicy{},
		orgs:     map[string][]string{},
	}
}

func (m *memoryStore) Usage(_ context.Context, kind OwnerKind, ownerID, period string) (UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usageErr != nil {
		return UsageRecord{}, m.usageErr
	}
	return m.usage[pendingKey{kind, ownerID, period}], nil
}

func (m *memoryStore) IncrementUsage(_ context.Context, kind OwnerKind, ownerID, period string, input, output int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrementErr != nil {
		return m.incrementErr
	}
	m.increments++
	key := pendingKey{kind, ownerID, period}
	rec := m.usage[key]
	rec.InputUnits += input
	rec.OutputUnits += output
	m.usage[key] = rec
	return nil
}

func (m *memoryStore) Limits(_ context.Context, kind OwnerKind, ownerID string) (LimitPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limitCalls++
	if m.limitErr != nil {
		return LimitPolicy{}, m.limitErr
	}
	return m.policies[ownerKey{kind, ownerID}], nil
}

func (m *memoryStore) Organizations(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgCalls++
	return m.orgs[userID], nil
}

func (m *memoryStore) setUsage(kind OwnerKind, id string, in, out int64) {
	m.usage[pendingKey{kind, id, testPeriod}] = UsageRecord{OwnerID: id, OwnerKind: kind, InputUnits: in, OutputUnits: out, Period: testPeriod}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []UsageEvent
	err    error
}

func (p *recordingPublisher) PublishUsage(_ context.Context, event UsageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

const testPeriod = "2026-03"

func testNow() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func newTestLedger(store Store, pub EventPublisher) *Ledger {
	cfg := LedgerConfig{Store: store, Now: testNow}
	if pub != nil {
		cfg.Publisher = pub
	}
	return NewLedger(cfg)
}

func TestPeriodForUsesUTCMonth(t *testing.T) {
	loc := time.FixedZone("CLT", -4*3600)
	if got := PeriodFor(time.Date(2026, 2, 28, 22, 0, 0, 0, loc)); got != "2026-03" {
		t.Fatalf("expected 2026-03, got %s", got)
	}
}

func TestCheckLimitsUnconstrained(t *testing.T) {
	store := newMemoryStore()
	store.setUsage(OwnerUser, "u1", 1_000_000, 1_000_000)
	if err := newTestLedger(store, nil).CheckLimits(context.Background(), "u1", 500); err != nil {
		t.Fatalf("expected no limit, got %v", err)
	}
}

func TestCheckLimitsInputIsStrict(t *testing.T) {
	store := newMemoryStore()
	store.policies[ownerKey{OwnerUser, "u1"}] = LimitPolicy{InputLimit: int64Ptr(1000)}
	store.setUsage(OwnerUser, "u1", 900, 0)
	ledger := newTestLedger(store, nil)

	if err := ledger.CheckLimits(context.Background(), "u1", 100); err != nil {
		t.Fatalf("900+100 == limit must pass, got %v", err)
	}
	err := ledger.CheckLimits(context.Background(), "u1", 101)
	var exceeded *LimitExceeded
	if !errors.As(err, &exceeded) || exceeded.Scope != ScopeUserInput {
		t.Fatalf("expected user_input violation, got %v", err)
	}
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected errors.Is ErrLimitExceeded")
	}
	if exceeded.Message == "" {
		t.Fatalf("expected user-facing message")
	}
}

func TestCheckLimitsOutputIsThreshold(t *testing.T) {
	store := newMemoryStore()
	store.policies[ownerKey{OwnerUser, "u1"}] = LimitPolicy{OutputLimit: int64Ptr(500)}
	ledger := newTestLedger(store, nil)

	store.setUsage(OwnerUser, "u1", 0, 499)
	if err := ledger.CheckLimits(context.Background(), "u1", 10_000); err != nil {
		t.Fatalf("below output limit must pass, got %v", err)
	}

	store.setUsage(OwnerUser, "u1", 0, 500)
	var exceeded *LimitExceeded
	if err := ledger.CheckLimits(context.Background(), "u1", 0); !errors.As(err, &exceeded) || exceeded.Scope != ScopeUserOutput {
		t.Fatalf("reaching output limit must block, got %v", err)
	}
}

func TestCheckLimitsOrganizationBreach(t *testing.T) {
	store := newMemoryStore()
	store.orgs["u1"] = []string{"org-ok", "org-full", "org-input"}
	store.policies[ownerKey{OwnerUser, "u1"}] = LimitPolicy{InputLimit: int64Ptr(1_000_000), OutputLimit: int64Ptr(1_000_000)}
	store.policies[ownerKey{OwnerOrganization, "org-ok"}] = LimitPolicy{OutputLimit: int64Ptr(100)}
	store.policies[ownerKey{OwnerOrganization, "org-full"}] = LimitPolicy{OutputLimit: int64Ptr(100)}
	store.policies[ownerKey{OwnerOrganization, "org-input"}] = LimitPolicy{InputLimit: int64Ptr(10)}
	store.setUsage(OwnerUser, "u1", 5, 5)
	store.setUsage(OwnerOrganization, "org-full", 0, 100)

	var exceeded *LimitExceeded
	err := newTestLedger(store, nil).CheckLimits(context.Background(), "u1", 50)
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected org violation, got %v", err)
	}
	if exceeded.Scope != ScopeOrgOutput || exceeded.OwnerID != "org-full" {
		t.Fatalf("expected first violating org in store order, got %+v", exceeded)
	}
}

func TestCheckLimitsUserCheckedBeforeOrganizations(t *testing.T) {
	store := newMemoryStore()
	store.orgs["u1"] = []string{"org-1"}
	store.policies[ownerKey{OwnerUser, "u1"}] = LimitPolicy{InputLimit: int64Ptr(10)}
	store.policies[ownerKey{OwnerOrganization, "org-1"}] = LimitPolicy{InputLimit: int64Ptr(10)}

	var exceeded *LimitExceeded
	err := newTestLedger(store, nil).CheckLimits(context.Background(), "u1", 50)
	if !errors.As(err, &exceeded) || exceeded.Scope != ScopeUserInput {
		t.Fatalf("expected user scope first, got %v", err)
	}
	if store.orgCalls != 0 {
		t.Fatalf("organizations should not be loaded after a user violation")
	}
}

func TestCheckLimitsFailsOpenOnBackendError(t *testing.T) {
	store := newMemoryStore()
	store.policies[ownerKey{OwnerUser, "u1"}] = LimitPolicy{InputLimit: int64Ptr(1)}
	store.usageErr = errors.New("connection refused")
	if err := newTestLedger(store, nil).CheckLimits(context.Background(), "u1", 100); err != nil {
		t.Fatalf("expected fail-open, got %v", err)
	}

	store.limitErr = errors.New("connection refused")
	if err := newTestLedger(store, nil).CheckLimits(context.Background(), "u1", 100); err != nil {
		t.Fatalf("expected fail-open, got %v", err)
	}
}

func TestRequestCacheAvoidsRefetchingPolicies(t *testing.T) {
	store := newMemoryStore()
	store.orgs["u1"] = []string{"org-1"}
	ledger := newTestLedger(store, nil)

	ctx := WithRequestCache(context.Background())
	for range 3 {
		if err := ledger.CheckLimits(ctx, "u1", 1); err != nil {
			t.Fatalf("unexpected: %v", err)
		}
	}
	ledger.RecordUsage(ctx, "u1", 1, 1)
	if store.limitCalls != 2 || store.orgCalls != 1 {
		t.Fatalf("expected one fetch per owner within a request, got limits=%d orgs=%d", store.limitCalls, store.orgCalls)
	}

	if err := ledger.CheckLimits(WithRequestCache(context.Background()), "u1", 1); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if store.limitCalls != 4 {
		t.Fatalf("a new request must not reuse the previous cache, got %d", store.limitCalls)
	}
}

func TestRecordUsageIncrementsUserAndOrganizations(t *testing.T) {
	store := newMemoryStore()
	store.orgs["u1"] = []string{"org-1", "org-2"}
	pub := &recordingPublisher{}
	ledger := newTestLedger(store, pub)

	ctx := tenant.WithContext(context.Background(), tenant.Context{SessionID: "sess-1"})
	ledger.RecordUsage(ctx, "u1", 120, 30)
	ledger.RecordUsage(ctx, "u1", 10, 5)

	for _, key := range []pendingKey{
		{OwnerUser, "u1", testPeriod},
		{OwnerOrganization, "org-1", testPeriod},
		{OwnerOrganization, "org-2", testPeriod},
	} {
		rec := store.usage[key]
		if rec.InputUnits != 130 || rec.OutputUnits != 35 {
			t.Fatalf("%v: unexpected usage %+v", key, rec)
		}
	}
	if len(pub.events) != 2 || pub.events[0].SessionID != "sess-1" || len(pub.events[0].OrganizationIDs) != 2 {
		t.Fatalf("unexpected events: %+v", pub.events)
	}
}

func TestRecordUsageZeroIsNoop(t *testing.T) {
	store := newMemoryStore()
	ledger := newTestLedger(store, nil)
	ledger.RecordUsage(context.Background(), "u1", 0, 0)
	ledger.RecordUsage(context.Background(), "u1", -5, 0)
	if store.increments != 0 {
		t.Fatalf("expected no increments, got %d", store.increments)
	}
}

func TestRecordUsageSurvivesCancelledRequest(t *testing.T) {
	store := newMemoryStore()
	ledger := newTestLedger(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ledger.RecordUsage(ctx, "u1", 10, 10)
	if store.increments != 1 {
		t.Fatalf("expected usage recorded despite cancellation")
	}
}

func TestRecordUsageRequeuesOnFailure(t *testing.T) {
	store := newMemoryStore()
	store.incrementErr = errors.New("db down")
	store.policies[ownerKey{OwnerUser, "u1"}] = LimitPolicy{OutputLimit: int64Ptr(50)}
	pub := &recordingPublisher{err: errors.New("kafka down")}
	ledger := newTestLedger(store, pub)

	ledger.RecordUsage(context.Background(), "u1", 40, 60)
	if ledger.Pending() != 1 {
		t.Fatalf("expected one pending increment, got %d", ledger.Pending())
	}

	var exceeded *LimitExceeded
	if err := ledger.CheckLimits(context.Background(), "u1", 0); !errors.As(err, &exceeded) {
		t.Fatalf("pending usage should count toward limits, got %v", err)
	}

	store.incrementErr = nil
	pub.err = nil
	ledger.Flush(context.Background())

	if ledger.Pending() != 0 {
		t.Fatalf("expected pending drained, got %d", ledger.Pending())
	}
	rec := store.usage[pendingKey{OwnerUser, "u1", testPeriod}]
	if rec.InputUnits != 40 || rec.OutputUnits != 60 {
		t.Fatalf("unexpected usage after flush: %+v", rec)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected event republished, got %d", len(pub.events))
	}
}

func TestLedgerStartStopFlushes(t *testing.T) {
	store := newMemoryStore()
	store.incrementErr = errors.New("db down")
	ledger := NewLedger(LedgerConfig{Store: store, Now: testNow, FlushInterval: time.Hour})
	ledger.RecordUsage(context.Background(), "u1", 1, 1)

	store.mu.Lock()
	store.incrementErr = nil
	store.mu.Unlock()

	ledger.Start()
	ledger.Stop()
	if ledger.Pending() != 0 {
		t.Fatalf("expected final flush on stop")
	}
}
