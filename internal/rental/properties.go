package rental

import (
	"errors"

	"github.com/vietddude/rentdesk/internal/core/domain"
	"github.com/vietddude/rentdesk/internal/infra/retry"
	"github.com/vietddude/rentdesk/internal/infra/storage"
)

const PropertiesTable = "properties"

// Properties is CRUD for properties.
type Properties struct {
	*Service[domain.Property]
}

var propertyMapping = Mapping[domain.Property]{
	Table: PropertiesTable,
	ToRecord: func(p domain.Property) storage.Record {
		return storage.Record{
			"id":                 nullable(p.ID),
			"name":               p.Name,
			"address":            p.Address,
			"units":              p.Units,
			"monthly_rent_cents": p.MonthlyRentCents,
		}
	},
	FromRecord: func(r storage.Record) (domain.Property, error) {
		p := domain.Property{
			ID:      asString(r["id"]),
			Name:    asString(r["name"]),
			Address: asString(r["address"]),
		}
		units, err1 := asInt64("units", r["units"])
		rent, err2 := asInt64("monthly_rent_cents", r["monthly_rent_cents"])
		created, err3 := asTime("created_at", r["created_at"])
		updated, err4 := asTime("updated_at", r["updated_at"])
		p.Units = int(units)
		p.MonthlyRentCents = rent
		p.CreatedAt = created
		p.UpdatedAt = updated
		return p, errors.Join(err1, err2, err3, err4)
	},
	Validate: domain.Property.Validate,
}

func NewProperties(store storage.Store, exec *retry.Executor) *Properties {
	return &Properties{Service: NewService(propertyMapping, store, exec)}
}
