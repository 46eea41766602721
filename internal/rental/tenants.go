package rental

import (
	"context"
	"errors"

	"github.com/vietddude/rentdesk/internal/core/domain"
	"github.com/vietddude/rentdesk/internal/infra/retry"
	"github.com/vietddude/rentdesk/internal/infra/storage"
)

const TenantsTable = "tenants"

// Tenants is CRUD for tenants.
type Tenants struct {
	*Service[domain.Tenant]
}

var tenantMapping = Mapping[domain.Tenant]{
	Table: TenantsTable,
	ToRecord: func(t domain.Tenant) storage.Record {
		return storage.Record{
			"id":          nullable(t.ID),
			"property_id": nullable(t.PropertyID),
			"name":        t.Name,
			"email":       t.Email,
			"phone":       t.Phone,
			"lease_start": optionalTime(t.LeaseStart),
			"lease_end":   optionalTime(t.LeaseEnd),
		}
	},
	FromRecord: func(r storage.Record) (domain.Tenant, error) {
		t := domain.Tenant{
			ID:         asString(r["id"]),
			PropertyID: asString(r["property_id"]),
			Name:       asString(r["name"]),
			Email:      asString(r["email"]),
			Phone:      asString(r["phone"]),
		}
		var errs [4]error
		t.LeaseStart, errs[0] = asOptionalTime("lease_start", r["lease_start"])
		t.LeaseEnd, errs[1] = asOptionalTime("lease_end", r["lease_end"])
		t.CreatedAt, errs[2] = asTime("created_at", r["created_at"])
		t.UpdatedAt, errs[3] = asTime("updated_at", r["updated_at"])
		return t, errors.Join(errs[:]...)
	},
	Validate: domain.Tenant.Validate,
}

func NewTenants(store storage.Store, exec *retry.Executor) *Tenants {
	return &Tenants{Service: NewService(tenantMapping, store, exec)}
}

// ByProperty lists the tenants of one property.
func (t *Tenants) ByProperty(ctx context.Context, propertyID string) ([]domain.Tenant, error) {
	return t.List(ctx, storage.Query{OrderBy: "name"}.Eq("property_id", propertyID))
}
