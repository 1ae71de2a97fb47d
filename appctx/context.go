package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> utils).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyTenantId      = ContextKey("TenantId")
	ContextKeyCorrelationId = ContextKey("CorrelationId")

	// ContextKeyPrivileged marks an explicit, logged bypass of tenant scoping
	// (platform admin tooling, migrations). Its value is the bypass reason.
	ContextKeyPrivileged = ContextKey("Privileged")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
