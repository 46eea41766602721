package domain

import (
	"strings"
	"time"
)

// Tenant is a person renting a unit
type Tenant struct {
	ID         string     `json:"id"`
	PropertyID string     `json:"property_id,omitempty"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone,omitempty"`
	LeaseStart *time.Time `json:"lease_start,omitempty"`
	LeaseEnd   *time.Time `json:"lease_end,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (t Tenant) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if !strings.Contains(t.Email, "@") {
		return &ValidationError{Field: "email", Reason: "must be an email address"}
	}
	if t.LeaseStart != nil && t.LeaseEnd != nil && t.LeaseEnd.Before(*t.LeaseStart) {
		return &ValidationError{Field: "lease_end", Reason: "must not be before lease_start"}
	}
	return nil
}
