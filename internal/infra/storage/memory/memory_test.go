package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/rentdesk/internal/core/fault"
	"github.com/vietddude/rentdesk/internal/infra/storage"
)

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Insert(ctx, "tenants", storage.Record{"id": "t1", "name": "Ana", "rank": 2})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "tenants", storage.Record{"id": "t2", "name": "Bo", "rank": 1})
	require.NoError(t, err)

	rows, err := s.Select(ctx, "tenants", storage.Query{OrderBy: "rank"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "t2", rows[0].ID())

	rows, err = s.Select(ctx, "tenants", storage.Query{}.Eq("name", "Ana"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0].ID())

	rows, err = s.Select(ctx, "tenants", storage.Query{OrderBy: "rank", Desc: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0].ID())

	updated, err := s.Update(ctx, "tenants", "t1", storage.Record{"name": "Ana Maria", "id": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", updated["name"])
	assert.Equal(t, "t1", updated.ID())

	require.NoError(t, s.Delete(ctx, "tenants", "t1"))
	rows, err = s.Select(ctx, "tenants", storage.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Insert(ctx, "tenants", storage.Record{"name": "no id"})
	assert.Error(t, err)

	_, err = s.Insert(ctx, "tenants", storage.Record{"id": "t1"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "tenants", storage.Record{"id": "t1"})
	assert.True(t, fault.IsConflict(err))
	assert.Equal(t, fault.Fatal, fault.Classify(err))

	_, err = s.Update(ctx, "tenants", "missing", storage.Record{"name": "x"})
	assert.ErrorIs(t, err, fault.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "tenants", "missing"), fault.ErrNotFound)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	rec := storage.Record{"id": "p1", "name": "Elm"}
	_, err := s.Insert(ctx, "properties", rec)
	require.NoError(t, err)

	rec["name"] = "mutated"
	rows, err := s.Select(ctx, "properties", storage.Query{})
	require.NoError(t, err)
	rows[0]["name"] = "also mutated"

	rows, err = s.Select(ctx, "properties", storage.Query{})
	require.NoError(t, err)
	assert.Equal(t, "Elm", rows[0]["name"])
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "select:tenants:a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "select:properties:a", []byte("2"), time.Minute))

	v, ok, err := c.Get(ctx, "select:tenants:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, c.DeletePrefix(ctx, "select:tenants:"))
	_, ok, _ = c.Get(ctx, "select:tenants:a")
	assert.False(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, "select:properties:a")
	assert.False(t, ok, "expired")
}

func TestCache_Prune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "forever", []byte("3"), 0))

	assert.Equal(t, 0, c.Prune())
	now = now.Add(time.Minute)
	assert.Equal(t, 1, c.Prune())

	_, ok, _ := c.Get(ctx, "long")
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, "forever")
	assert.True(t, ok)
}
