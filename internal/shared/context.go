package shared

import (
	"context"
	"errors"
)

type contextKey string

const (
	orgContextKey   contextKey = "org"
	actorContextKey contextKey = "actor"
)

// ErrOrgMissing indicates a request reached an org-scoped handler without tenant context.
var ErrOrgMissing = errors.New("organization not resolved")

// ContextWithOrg stores the tenant organization id on the context.
func ContextWithOrg(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, orgContextKey, orgID)
}

// OrgFromContext returns the tenant organization id, or zero when absent.
func OrgFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(orgContextKey).(int64); ok {
		return v
	}
	return 0
}

// ContextWithActor stores the acting user id on the context.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey, actorID)
}

// ActorFromContext returns the acting user id, or zero when absent.
func ActorFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(actorContextKey).(int64); ok {
		return v
	}
	return 0
}
