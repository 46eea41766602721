package domain

import (
	"strings"
	"time"
)

// Property is a managed building or house
type Property struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Address          string    `json:"address"`
	Units            int       `json:"units"`
	MonthlyRentCents int64     `json:"monthly_rent_cents"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (p Property) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if strings.TrimSpace(p.Address) == "" {
		return &ValidationError{Field: "address", Reason: "is required"}
	}
	if p.Units < 1 {
		return &ValidationError{Field: "units", Reason: "must be at least 1"}
	}
	if p.MonthlyRentCents < 0 {
		return &ValidationError{Field: "monthly_rent_cents", Reason: "must not be negative"}
	}
	return nil
}
