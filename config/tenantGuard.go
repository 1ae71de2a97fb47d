package config

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/mmdatafocus/books_imports/appctx"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// ErrTenantContextMissing is attached to any statement against a tenant-owned
// table that runs without a tenant in context and without a privileged bypass.
var ErrTenantContextMissing = errors.New("tenant context is required for tenant-owned tables")

// ErrTenantMismatch is attached to inserts whose tenant_id differs from the context tenant.
var ErrTenantMismatch = errors.New("row tenant_id does not match tenant context")

const tenantColumn = "tenant_id"

// TenantGuardPlugin enforces multi-tenant isolation by automatically scoping
// queries/updates/deletes to the request's tenant_id when the model has a tenant_id column.
//
// NOTE:
// - This does NOT apply to Raw SQL queries. Those must include tenant_id manually.
// - Privileged bypass is explicit via appctx.ContextKeyPrivileged and is always logged.
type TenantGuardPlugin struct {
	logger *logrus.Logger
}

func NewTenantGuardPlugin(logger *logrus.Logger) *TenantGuardPlugin {
	return &TenantGuardPlugin{logger: logger}
}

func (p *TenantGuardPlugin) Name() string { return "tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("tenant_guard:query", p.scopeCallback); err != nil {
		return err
	}
	// Row (First/Take/Scan)
	if err := db.Callback().Row().Before("gorm:row").Register("tenant_guard:row", p.scopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("tenant_guard:update", p.scopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("tenant_guard:delete", p.scopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Create().Before("gorm:create").Register("tenant_guard:create", p.createCallback); err != nil {
		return err
	}
	return nil
}

func (p *TenantGuardPlugin) scopeCallback(db *gorm.DB) {
	tenantID, ok := p.tenantFor(db)
	if !ok {
		return
	}

	// Always ANDed in, even next to an explicit tenant_id filter, so a caller
	// filter cannot widen the scope to another tenant.
	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: tenantColumn},
				Value:  tenantID,
			},
		},
	})
}

// createCallback stamps tenant_id on new rows that leave it empty and rejects
// rows written for a tenant other than the one in context.
func (p *TenantGuardPlugin) createCallback(db *gorm.DB) {
	tenantID, ok := p.tenantFor(db)
	if !ok {
		return
	}
	field := db.Statement.Schema.LookUpField(tenantColumn)
	if field == nil {
		return
	}
	ctx := db.Statement.Context
	rv := db.Statement.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			p.stampTenant(ctx, db, field, reflect.Indirect(rv.Index(i)), tenantID)
		}
	case reflect.Struct:
		p.stampTenant(ctx, db, field, rv, tenantID)
	}
}

func (p *TenantGuardPlugin) stampTenant(ctx context.Context, db *gorm.DB, field *schema.Field, rv reflect.Value, tenantID string) {
	current, zero := field.ValueOf(ctx, rv)
	if zero {
		if err := field.Set(ctx, rv, tenantID); err != nil {
			_ = db.AddError(err)
		}
		return
	}
	if s, ok := current.(string); ok && s != tenantID {
		if p.logger != nil {
			p.logger.WithFields(logrus.Fields{
				"field":     "TenantGuard",
				"table":     db.Statement.Table,
				"tenant_id": tenantID,
				"row":       s,
			}).Error(ErrTenantMismatch.Error())
		}
		_ = db.AddError(ErrTenantMismatch)
	}
}

// tenantFor returns the tenant to scope by. ok=false means "do not scope":
// either the table is not tenant-owned, the caller is privileged, or the
// statement was rejected.
func (p *TenantGuardPlugin) tenantFor(db *gorm.DB) (string, bool) {
	if db == nil || db.Statement == nil || db.Statement.Schema == nil {
		return "", false
	}
	if !hasTenantColumn(db) {
		return "", false
	}
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if reason, ok := appctx.GetString(ctx, appctx.ContextKeyPrivileged); ok && reason != "" {
		if p.logger != nil {
			p.logger.WithFields(logrus.Fields{
				"field":  "TenantGuard",
				"table":  db.Statement.Table,
				"reason": reason,
			}).Warn("tenant scope bypassed by privileged context")
		}
		return "", false
	}
	tenantID, _ := appctx.GetString(ctx, appctx.ContextKeyTenantId)
	if tenantID == "" {
		if p.logger != nil {
			p.logger.WithFields(logrus.Fields{
				"field": "TenantGuard",
				"table": db.Statement.Table,
			}).Error(ErrTenantContextMissing.Error())
		}
		_ = db.AddError(ErrTenantContextMissing)
		return "", false
	}
	return tenantID, true
}

func hasTenantColumn(db *gorm.DB) bool {
	for _, f := range db.Statement.Schema.Fields {
		if strings.EqualFold(f.DBName, tenantColumn) {
			return true
		}
	}
	return false
}
