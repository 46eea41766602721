package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/rentdesk/internal/core/fault"
	"github.com/vietddude/rentdesk/internal/infra/storage"
)

// Store keeps tables in process memory.
type Store struct {
	tables map[string]map[string]storage.Record
	seq    map[string][]string
	mu     sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		tables: make(map[string]map[string]storage.Record),
		seq:    make(map[string][]string),
	}
}

func (s *Store) Insert(ctx context.Context, table string, rec storage.Record) (storage.Record, error) {
	id := rec.ID()
	if id == "" {
		return nil, fmt.Errorf("insert into %s: missing id", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[table]
	if !ok {
		rows = make(map[string]storage.Record)
		s.tables[table] = rows
	}
	if _, exists := rows[id]; exists {
		return nil, &fault.APIError{
			Status:  409,
			Code:    "23505",
			Message: fmt.Sprintf("duplicate key value violates unique constraint %q", table+"_pkey"),
		}
	}
	rows[id] = maps.Clone(rec)
	s.seq[table] = append(s.seq[table], id)
	return maps.Clone(rec), nil
}

func (s *Store) Select(ctx context.Context, table string, q storage.Query) ([]storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []storage.Record{}
	for _, id := range s.seq[table] {
		rec, ok := s.tables[table][id]
		if !ok || !matches(rec, q.Filters) {
			continue
		}
		out = append(out, maps.Clone(rec))
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][q.OrderBy], out[j][q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, table, id string, patch storage.Record) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tables[table][id]
	if !ok {
		return nil, fmt.Errorf("update %s %s: %w", table, id, fault.ErrNotFound)
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		rec[k] = v
	}
	return maps.Clone(rec), nil
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table][id]; !ok {
		return fmt.Errorf("delete %s %s: %w", table, id, fault.ErrNotFound)
	}
	delete(s.tables[table], id)
	ids := s.seq[table]
	for i, v := range ids {
		if v == id {
			s.seq[table] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func matches(rec storage.Record, filters []storage.Filter) bool {
	for _, f := range filters {
		if fmt.Sprint(rec[f.Column]) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func compare(a, b any) int {
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case int:
		if y, ok := b.(int); ok {
			return x - y
		}
	case float64:
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Cache is an in-process storage.Cache.
type Cache struct {
	entries map[string]cacheEntry
	now     func() time.Time
	mu      sync.Mutex
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry), now: time.Now}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// Prune drops expired entries and returns how many were removed.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}
