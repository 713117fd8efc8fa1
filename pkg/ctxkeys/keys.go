// Package ctxkeys defines the typed keys shared between the auth middleware,
// gin contexts and request contexts.
package ctxkeys

import "context"

// Key is a typed context key to prevent collisions.
type Key string

const (
	KeyUserID         Key = "user_id"
	KeyOrganizationID Key = "organization_id"
	KeyEmail          Key = "email"
	KeyRole           Key = "role"
	KeyAuthType       Key = "auth_type"
	KeyRequestID      Key = "request_id"
)

func GetUserID(ctx context.Context) string {
	return getString(ctx, KeyUserID)
}

func GetOrganizationID(ctx context.Context) string {
	return getString(ctx, KeyOrganizationID)
}

func GetEmail(ctx context.Context) string {
	return getString(ctx, KeyEmail)
}

func GetRole(ctx context.Context) string {
	return getString(ctx, KeyRole)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, KeyRequestID)
}

func getString(ctx context.Context, key Key) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
