// Package rental exposes typed CRUD for rental entities on top of a
// storage.Store, with every backend call run through a retry executor.
package rental

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/rentdesk/internal/core/fault"
	"github.com/vietddude/rentdesk/internal/infra/retry"
	"github.com/vietddude/rentdesk/internal/infra/storage"
)

// Mapping converts an entity to and from backend records.
type Mapping[T any] struct {
	Table      string
	ToRecord   func(T) storage.Record
	FromRecord func(storage.Record) (T, error)
	Validate   func(T) error
}

// Service is CRUD for one entity type.
type Service[T any] struct {
	m     Mapping[T]
	store storage.Store
	exec  *retry.Executor
	now   func() time.Time
}

// NewService creates a service. exec should be dedicated to m.Table.
func NewService[T any](m Mapping[T], store storage.Store, exec *retry.Executor) *Service[T] {
	return &Service[T]{m: m, store: store, exec: exec, now: time.Now}
}

// Table returns the backing table name.
func (s *Service[T]) Table() string { return s.m.Table }

// Create assigns an id when missing, stamps both timestamps and inserts v.
func (s *Service[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	if err := s.validate(v); err != nil {
		return zero, err
	}
	rec := s.m.ToRecord(v)
	if rec.ID() == "" {
		rec["id"] = uuid.NewString()
	}
	now := s.now().UTC()
	rec["created_at"] = now
	rec["updated_at"] = now

	out, err := retry.WithRetry(ctx, s.exec, "create", func(ctx context.Context) (storage.Record, error) {
		return s.store.Insert(ctx, s.m.Table, rec)
	})
	if err != nil {
		return zero, err
	}
	return s.m.FromRecord(out)
}

// Get returns the entity with the given id or fault.ErrNotFound.
func (s *Service[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	rows, err := retry.WithRetry(ctx, s.exec, "get", func(ctx context.Context) ([]storage.Record, error) {
		return s.store.Select(ctx, s.m.Table, storage.Query{Limit: 1}.Eq("id", id))
	})
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("%s %s: %w", s.m.Table, id, fault.ErrNotFound)
	}
	return s.m.FromRecord(rows[0])
}

// List returns entities matching q, newest first unless q orders otherwise.
func (s *Service[T]) List(ctx context.Context, q storage.Query) ([]T, error) {
	if q.OrderBy == "" {
		q.OrderBy, q.Desc = "created_at", true
	}
	rows, err := retry.WithRetry(ctx, s.exec, "list", func(ctx context.Context) ([]storage.Record, error) {
		return s.store.Select(ctx, s.m.Table, q)
	})
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, rec := range rows {
		v, err := s.m.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Update replaces every mutable field of the entity with id. The id and
// created_at columns are never written.
func (s *Service[T]) Update(ctx context.Context, id string, v T) (T, error) {
	var zero T
	if err := s.validate(v); err != nil {
		return zero, err
	}
	patch := maps.Clone(s.m.ToRecord(v))
	delete(patch, "id")
	delete(patch, "created_at")
	patch["updated_at"] = s.now().UTC()

	out, err := retry.WithRetry(ctx, s.exec, "update", func(ctx context.Context) (storage.Record, error) {
		return s.store.Update(ctx, s.m.Table, id, patch)
	})
	if err != nil {
		return zero, err
	}
	return s.m.FromRecord(out)
}

// Delete removes the entity with id.
func (s *Service[T]) Delete(ctx context.Context, id string) error {
	_, err := retry.WithRetry(ctx, s.exec, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Delete(ctx, s.m.Table, id)
	})
	return err
}

func (s *Service[T]) validate(v T) error {
	if s.m.Validate == nil {
		return nil
	}
	return s.m.Validate(v)
}
