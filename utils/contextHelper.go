package utils

import (
	"context"

	"github.com/mmdatafocus/books_imports/appctx"
)

var (
	ContextKeyTenantId      = appctx.ContextKeyTenantId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyPrivileged    = appctx.ContextKeyPrivileged
)

func GetTenantIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTenantId)
}

func SetTenantIdInContext(ctx context.Context, tenantId string) context.Context {
	return appctx.Set(ctx, ContextKeyTenantId, tenantId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetPrivilegedReasonFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyPrivileged)
}

func SetPrivilegedInContext(ctx context.Context, reason string) context.Context {
	return appctx.Set(ctx, ContextKeyPrivileged, reason)
}
