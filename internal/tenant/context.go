// Package tenant carries the per-request tenant values through context.Context.
// Values are installed once at request entry and never mutated afterwards.
package tenant

import "context"

type contextKey struct{}

// Caller identifies the authenticated user behind a request.
type Caller struct {
	UserID string
	Email  string
	Role   string
}

// Context is the read-only scope of one request: whose data it may touch and
// which index and case it works against.
type Context struct {
	RetrievalIndexID string
	OrganizationID   string
	CaseID           string
	CaseSummary      string
	SessionID        string
	Caller           Caller
}

// WithContext returns a child context carrying tc. The value is copied, so
// later changes to tc are not visible to readers of the returned context.
func WithContext(ctx context.Context, tc Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, tc)
}

func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	tc, ok := ctx.Value(contextKey{}).(Context)
	return tc, ok
}

// Current returns the active tenant context or the zero value when none is set.
func Current(ctx context.Context) Context {
	tc, _ := FromContext(ctx)
	return tc
}

func RetrievalIndexID(ctx context.Context) string {
	return Current(ctx).RetrievalIndexID
}

func OrganizationID(ctx context.Context) string {
	return Current(ctx).OrganizationID
}

func CaseID(ctx context.Context) string {
	return Current(ctx).CaseID
}

func CaseSummary(ctx context.Context) string {
	return Current(ctx).CaseSummary
}

func SessionID(ctx context.Context) string {
	return Current(ctx).SessionID
}

func UserID(ctx context.Context) string {
	return Current(ctx).Caller.UserID
}
