package metering

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/tenant"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
)

const maxPendingEvents = 1000

type LedgerConfig struct {
	Store         Store
	Publisher     EventPublisher
	Logger        logging.Logger
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Now           func() time.Time
}

// Ledger enforces hierarchical usage limits and records consumption for a
// user and every organization the user belongs to.
//
// Checks and records are not transactional: two concurrent requests from the
// same user may both pass CheckLimits before either records usage.
type Ledger struct {
	store         Store
	publisher     EventPublisher
	logger        logging.Logger
	flushInterval time.Duration
	writeTimeout  time.Duration
	now           func() time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu            sync.Mutex
	pending       map[pendingKey]*pendingUsage
	pendingEvents []UsageEvent
}

type pendingKey struct {
	kind    OwnerKind
	ownerID string
	period  string
}

type pendingUsage struct {
	input  int64
	output int64
}

func NewLedger(cfg LedgerConfig) *Ledger {
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		store:         cfg.Store,
		publisher:     cfg.Publisher,
		logger:        logger,
		flushInterval: flushInterval,
		writeTimeout:  writeTimeout,
		now:           now,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		pending:       make(map[pendingKey]*pendingUsage),
	}
}

// Start runs the background loop that retries failed increments.
func (l *Ledger) Start() {
	if l == nil || !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.loop()
}

// Stop flushes once more and waits for the loop to exit.
func (l *Ledger) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	if l.started.Load() {
		<-l.doneCh
	}
}

// CheckLimits returns nil when a call estimated at estimatedInput units may
// proceed, or a *LimitExceeded naming the first violated scope. The user is
// checked first, then each organization in store order.
//
// Input breaches when current+estimated > limit. Output breaches when
// current >= limit: output cannot be estimated up front, so reaching the
// limit already blocks the next call.
//
// Backend read failures are logged and the check is skipped for that owner.
func (l *Ledger) CheckLimits(ctx context.Context, ownerID string, estimatedInput int64) error {
	if l == nil || l.store == nil || ownerID == "" {
		return nil
	}
	if estimatedInput < 0 {
		estimatedInput = 0
	}
	period := PeriodFor(l.now())
	cache := cacheFrom(ctx)

	if exceeded := l.checkOwner(ctx, cache, OwnerUser, ownerID, period, estimatedInput); exceeded != nil {
		limitChecksTotal.WithLabelValues(string(exceeded.Scope)).Inc()
		return exceeded
	}

	orgs, err := l.organizations(ctx, cache, ownerID)
	if err != nil {
		ledgerErrorsTotal.WithLabelValues("organizations").Inc()
		l.logger.WithError(err).WithField("user_id", ownerID).Warn("Failed to load organizations for limit check")
	}
	for _, orgID := range orgs {
		if exceeded := l.checkOwner(ctx, cache, OwnerOrganization, orgID, period, estimatedInput); exceeded != nil {
			limitChecksTotal.WithLabelValues(string(exceeded.Scope)).Inc()
			return exceeded
		}
	}

	limitChecksTotal.WithLabelValues("allowed").Inc()
	return nil
}

func (l *Ledger) checkOwner(ctx context.Context, cache *requestCache, kind OwnerKind, ownerID, period string, estimatedInput int64) *LimitExceeded {
	policy, err := l.limits(ctx, cache, kind, ownerID)
	if err != nil {
		ledgerErrorsTotal.WithLabelValues("limits").Inc()
		l.logger.WithError(err).WithFields(logging.Fields{
			"owner_kind": kind,
			"owner_id":   ownerID,
		}).Warn("Failed to load limit policy, allowing call")
		return nil
	}
	if policy.Unconstrained() {
		return nil
	}

	usage, err := l.store.Usage(ctx, kind, ownerID, period)
	if err != nil {
		ledgerErrorsTotal.WithLabelValues("usage").Inc()
		l.logger.WithError(err).WithFields(logging.Fields{
			"owner_kind": kind,
			"owner_id":   ownerID,
		}).Warn("Failed to load usage, allowing call")
		return nil
	}
	// Increments still waiting for a retry count as consumed.
	if p := l.pendingFor(pendingKey{kind: kind, ownerID: ownerID, period: period}); p != nil {
		usage.InputUnits += p.input
		usage.OutputUnits += p.output
	}

	inputScope, outputScope := ScopeUserInput, ScopeUserOutput
	if kind == OwnerOrganization {
		inputScope, outputScope = ScopeOrgInput, ScopeOrgOutput
	}
	if policy.InputLimit != nil && usage.InputUnits+estimatedInput > *policy.InputLimit {
		return &LimitExceeded{
			Scope:   inputScope,
			OwnerID: ownerID,
			Limit:   *policy.InputLimit,
			Current: usage.InputUnits,
			Message: limitMessage(inputScope),
		}
	}
	if policy.OutputLimit != nil && usage.OutputUnits >= *policy.OutputLimit {
		return &LimitExceeded{
			Scope:   outputScope,
			OwnerID: ownerID,
			Limit:   *policy.OutputLimit,
			Current: usage.OutputUnits,
			Message: limitMessage(outputScope),
		}
	}
	return nil
}

func limitMessage(scope Scope) string {
	switch scope {
	case ScopeUserInput:
		return "Tu consulta supera el límite mensual de uso del asistente asignado a tu cuenta."
	case ScopeUserOutput:
		return "Alcanzaste el límite mensual de respuestas del asistente asignado a tu cuenta."
	case ScopeOrgInput:
		return "La consulta supera el límite mensual de uso del asistente de tu establecimiento."
	case ScopeOrgOutput:
		return "Tu establecimiento alcanzó el límite mensual de respuestas del asistente."
	default:
		return "Se alcanzó el límite de uso del asistente."
	}
}

func (l *Ledger) limits(ctx context.Context, cache *requestCache, kind OwnerKind, ownerID string) (LimitPolicy, error) {
	key := ownerKey{kind: kind, id: ownerID}
	if p, ok := cache.policy(key); ok {
		return p, nil
	}
	p, err := l.store.Limits(ctx, kind, ownerID)
	if err != nil {
		return LimitPolicy{}, err
	}
	cache.storePolicy(key, p)
	return p, nil
}

func (l *Ledger) organizations(ctx context.Context, cache *requestCache, userID string) ([]string, error) {
	if orgs, ok := cache.organizations(userID); ok {
		return orgs, nil
	}
	orgs, err := l.store.Organizations(ctx, userID)
	if err != nil {
		return nil, err
	}
	cache.storeOrganizations(userID, orgs)
	return orgs, nil
}

// RecordUsage adds a completed call's units to the user and to each of the
// user's organizations. It never fails the caller: increments that cannot be
// written are queued and retried by the flush loop.
func (l *Ledger) RecordUsage(ctx context.Context, ownerID string, input, output int64) {
	if l == nil || l.store == nil || ownerID == "" {
		return
	}
	input = max(input, 0)
	output = max(output, 0)
	if input == 0 && output == 0 {
		return
	}

	// The generation already happened; a cancelled request must still be billed.
	writeCtx := context.WithoutCancel(ctx)
	period := PeriodFor(l.now())

	orgs, err := l.organizations(writeCtx, cacheFrom(ctx), ownerID)
	if err != nil {
		ledgerErrorsTotal.WithLabelValues("organizations").Inc()
		l.logger.WithError(err).WithField("user_id", ownerID).Warn("Failed to load organizations, recording user usage only")
	}

	l.increment(writeCtx, pendingKey{kind: OwnerUser, ownerID: ownerID, period: period}, input, output)
	for _, orgID := range orgs {
		l.increment(writeCtx, pendingKey{kind: OwnerOrganization, ownerID: orgID, period: period}, input, output)
	}

	usageUnitsTotal.WithLabelValues(string(OwnerUser), "input").Add(float64(input))
	usageUnitsTotal.WithLabelValues(string(OwnerUser), "output").Add(float64(output))
	if len(orgs) > 0 {
		usageUnitsTotal.WithLabelValues(string(OwnerOrganization), "input").Add(float64(input * int64(len(orgs))))
		usageUnitsTotal.WithLabelValues(string(OwnerOrganization), "output").Add(float64(output * int64(len(orgs))))
	}

	if l.publisher != nil {
		l.publish(writeCtx, UsageEvent{
			UserID:          ownerID,
			OrganizationIDs: orgs,
			SessionID:       tenant.SessionID(ctx),
			InputUnits:      input,
			OutputUnits:     output,
			Period:          period,
			RecordedAt:      l.now().UTC(),
		})
	}
}

func (l *Ledger) increment(ctx context.Context, key pendingKey, input, output int64) {
	writeCtx, cancel := context.WithTimeout(ctx, l.writeTimeout)
	defer cancel()
	if err := l.store.IncrementUsage(writeCtx, key.kind, key.ownerID, key.period, input, output); err != nil {
		ledgerErrorsTotal.WithLabelValues("increment").Inc()
		l.logger.WithError(err).WithFields(logging.Fields{
			"owner_kind": key.kind,
			"owner_id":   key.ownerID,
			"period":     key.period,
		}).Warn("Failed to record usage, queued for retry")
		l.requeue(key, input, output)
	}
}

func (l *Ledger) publish(ctx context.Context, event UsageEvent) {
	pubCtx, cancel := context.WithTimeout(ctx, l.writeTimeout)
	defer cancel()
	if err := l.publisher.PublishUsage(pubCtx, event); err != nil {
		ledgerErrorsTotal.WithLabelValues("publish").Inc()
		l.logger.WithError(err).WithField("user_id", event.UserID).Warn("Failed to publish usage event, queued for retry")
		l.enqueueEvent(event)
	}
}

func (l *Ledger) loop() {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Flush(context.Background())
		case <-l.stopCh:
			l.Flush(context.Background())
			return
		}
	}
}

// Flush retries queued increments and events once.
func (l *Ledger) Flush(ctx context.Context) {
	if l == nil {
		return
	}
	l.mu.Lock()
	pending := l.pending
	events := l.pendingEvents
	l.pending = make(map[pendingKey]*pendingUsage)
	l.pendingEvents = nil
	l.mu.Unlock()

	for key, usage := range pending {
		l.increment(ctx, key, usage.input, usage.output)
	}
	for _, event := range events {
		l.publish(ctx, event)
	}
	l.updatePendingGauge()
}

// Pending reports how many increments are waiting for a retry.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Ledger) pendingFor(key pendingKey) *pendingUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pending[key]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (l *Ledger) requeue(key pendingKey, input, output int64) {
	l.mu.Lock()
	current, ok := l.pending[key]
	if !ok {
		current = &pendingUsage{}
		l.pending[key] = current
	}
	current.input += input
	current.output += output
	l.mu.Unlock()
	l.updatePendingGauge()
}

func (l *Ledger) enqueueEvent(event UsageEvent) {
	l.mu.Lock()
	if len(l.pendingEvents) >= maxPendingEvents {
		l.pendingEvents = l.pendingEvents[1:]
		l.logger.Warn("Usage event queue full, dropping oldest event")
	}
	l.pendingEvents = append(l.pendingEvents, event)
	l.mu.Unlock()
}

func (l *Ledger) updatePendingGauge() {
	l.mu.Lock()
	n := len(l.pending)
	l.mu.Unlock()
	ledgerPendingGauge.Set(float64(n))
}
