package storage

import (
	"context"
	"time"
)

// Record is one row keyed by column name.
type Record map[string]any

// ID returns the record's "id" column as a string, or "" when absent.
func (r Record) ID() string {
	if v, ok := r["id"].(string); ok {
		return v
	}
	return ""
}

// Filter is an equality condition on one column.
type Filter struct {
	Column string `json:"column"`
	Value  any    `json:"value"`
}

// Query narrows a Select.
type Query struct {
	Filters []Filter `json:"filters,omitempty"`
	OrderBy string   `json:"order_by,omitempty"`
	Desc    bool     `json:"desc,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Eq returns a copy of q with an extra equality filter.
func (q Query) Eq(column string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Column: column, Value: value})
	return q
}

// Store is a table-oriented backend. Every implementation reports a missing
// row on Update and Delete as fault.ErrNotFound.
type Store interface {
	// Insert writes rec and returns the stored row
	Insert(ctx context.Context, table string, rec Record) (Record, error)

	// Select returns rows matching q
	Select(ctx context.Context, table string, q Query) ([]Record, error)

	// Update applies patch to the row with the given id and returns it
	Update(ctx context.Context, table, id string, patch Record) (Record, error)

	// Delete removes the row with the given id
	Delete(ctx context.Context, table, id string) error
}

// Cache is a byte cache with per-key expiry.
type Cache interface {
	// Get returns the value and whether it was present
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value until ttl elapses
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string) error
}
