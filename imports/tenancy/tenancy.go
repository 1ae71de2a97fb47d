// Package tenancy makes the tenant an explicit argument of every data access.
//
// Repository functions take tenantID as a parameter and call DB to get a
// handle scoped to it. The gorm tenant guard (config.TenantGuardPlugin) then
// filters every statement on tenant-owned tables and rejects statements that
// carry no tenant at all. Cross-tenant work (dispatchers, janitors) must ask
// for it by name with Privileged.
package tenancy

import (
	"context"
	"strings"

	"github.com/mmdatafocus/books_imports/config"
	"github.com/mmdatafocus/books_imports/utils"
	"gorm.io/gorm"
)

var ErrTenantRequired = config.ErrTenantContextMissing

// Scope returns ctx carrying tenantID. An empty tenant is an error, never a
// silent "all tenants".
func Scope(ctx context.Context, tenantID string) (context.Context, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ctx, ErrTenantRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return utils.SetTenantIdInContext(ctx, tenantID), nil
}

// TenantFrom reads the tenant established by Scope.
func TenantFrom(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", ErrTenantRequired
	}
	id, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || id == "" {
		return "", ErrTenantRequired
	}
	return id, nil
}

// Privileged marks ctx as allowed to cross tenants. The reason is logged by the
// tenant guard on every statement it lets through.
func Privileged(ctx context.Context, reason string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(reason) == "" {
		reason = "unspecified"
	}
	return utils.SetPrivilegedInContext(ctx, reason)
}

// IsPrivileged reports whether ctx carries a privileged bypass.
func IsPrivileged(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	reason, ok := utils.GetPrivilegedReasonFromContext(ctx)
	return ok && reason != ""
}

// DB returns db bound to a context scoped to tenantID.
func DB(ctx context.Context, db *gorm.DB, tenantID string) (*gorm.DB, error) {
	scoped, err := Scope(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return db.WithContext(scoped), nil
}
