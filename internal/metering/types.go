package metering

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type OwnerKind string

const (
	OwnerUser         OwnerKind = "user"
	OwnerOrganization OwnerKind = "organization"
)

// UsageRecord holds consumed generation units for one owner in one period.
// Counts only grow within a period.
type UsageRecord struct {
	OwnerID     string
	OwnerKind   OwnerKind
	InputUnits  int64
	OutputUnits int64
	Period      string
}

// LimitPolicy caps usage per period. A nil limit is unconstrained.
type LimitPolicy struct {
	InputLimit  *int64
	OutputLimit *int64
}

// Unconstrained reports whether neither limit is set.
func (p LimitPolicy) Unconstrained() bool {
	return p.InputLimit == nil && p.OutputLimit == nil
}

type Scope string

const (
	ScopeUserInput  Scope = "user_input"
	ScopeUserOutput Scope = "user_output"
	ScopeOrgInput   Scope = "org_input"
	ScopeOrgOutput  Scope = "org_output"
)

var ErrLimitExceeded = errors.New("usage limit exceeded")

// LimitExceeded blocks a generation call before it is issued.
type LimitExceeded struct {
	Scope   Scope
	OwnerID string
	Limit   int64
	Current int64
	Message string
}

func (e *LimitExceeded) Error() string {
	return fmt.Sprintf("usage limit exceeded (%s, owner %s): %d of %d", e.Scope, e.OwnerID, e.Current, e.Limit)
}

func (e *LimitExceeded) Is(target error) bool {
	return target == ErrLimitExceeded
}

// UsageStore reads and increments usage counters.
type UsageStore interface {
	Usage(ctx context.Context, kind OwnerKind, ownerID, period string) (UsageRecord, error)
	IncrementUsage(ctx context.Context, kind OwnerKind, ownerID, period string, input, output int64) error
}

// PolicyStore reads limit policies and organization memberships.
type PolicyStore interface {
	Limits(ctx context.Context, kind OwnerKind, ownerID string) (LimitPolicy, error)
	Organizations(ctx context.Context, userID string) ([]string, error)
}

type Store interface {
	UsageStore
	PolicyStore
}

// PeriodFor returns the billing period (UTC calendar month) containing t.
func PeriodFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func int64Ptr(v int64) *int64 {
	return &v
}
