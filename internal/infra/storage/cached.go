package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/rentdesk/internal/core/fault"
	"github.com/vietddude/rentdesk/internal/metrics"
)

// CachedStore caches Select results per table and query. Writes invalidate
// every cached query of the written table. When the backend fails with a
// transient error, an expired entry is served instead.
type CachedStore struct {
	next       Store
	cache      Cache
	ttl        time.Duration
	staleFor   time.Duration
	classifier *fault.Classifier
	log        *slog.Logger
	now        func() time.Time
}

type cachedRows struct {
	StoredAt time.Time `json:"stored_at"`
	Rows     []Record  `json:"rows"`
}

// CacheOption customizes a CachedStore.
type CacheOption func(*CachedStore)

// WithStaleFor sets how long past its TTL an entry may still be served on
// transient failure.
func WithStaleFor(d time.Duration) CacheOption {
	return func(s *CachedStore) { s.staleFor = d }
}

func WithCacheClassifier(c *fault.Classifier) CacheOption {
	return func(s *CachedStore) { s.classifier = c }
}

func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(s *CachedStore) { s.log = l }
}

func withCacheClock(now func() time.Time) CacheOption {
	return func(s *CachedStore) { s.now = now }
}

// NewCachedStore wraps next with cache.
func NewCachedStore(next Store, cache Cache, ttl time.Duration, opts ...CacheOption) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	s := &CachedStore{
		next:       next,
		cache:      cache,
		ttl:        ttl,
		staleFor:   time.Hour,
		classifier: fault.NewClassifier(fault.DefaultOptions()),
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func tablePrefix(table string) string {
	return "select:" + table + ":"
}

func selectKey(table string, q Query) (string, error) {
	raw, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(raw)
	return tablePrefix(table) + hex.EncodeToString(sum[:]), nil
}

func (s *CachedStore) Select(ctx context.Context, table string, q Query) ([]Record, error) {
	key, err := selectKey(table, q)
	if err != nil {
		return nil, fmt.Errorf("cache key: %w", err)
	}

	entry, found := s.lookup(ctx, key)
	if found && s.now().Sub(entry.StoredAt) < s.ttl {
		metrics.CacheLookups.WithLabelValues(table, "hit").Inc()
		return entry.Rows, nil
	}

	rows, err := s.next.Select(ctx, table, q)
	if err != nil {
		if found && s.classifier.IsRetryable(err) {
			metrics.CacheLookups.WithLabelValues(table, "stale").Inc()
			s.log.Warn("Serving stale cached rows",
				"table", table,
				"age", s.now().Sub(entry.StoredAt).Round(time.Second),
				"error", err,
			)
			return entry.Rows, nil
		}
		return nil, err
	}
	metrics.CacheLookups.WithLabelValues(table, "miss").Inc()

	raw, err := json.Marshal(cachedRows{StoredAt: s.now(), Rows: rows})
	if err == nil {
		err = s.cache.Set(ctx, key, raw, s.ttl+s.staleFor)
	}
	if err != nil {
		s.log.Warn("Failed to cache rows", "table", table, "error", err)
	}
	return rows, nil
}

func (s *CachedStore) lookup(ctx context.Context, key string) (cachedRows, bool) {
	var entry cachedRows
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Debug("Cache lookup failed", "key", key, "error", err)
		return entry, false
	}
	if !ok {
		return entry, false
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.log.Debug("Discarding unreadable cache entry", "key", key, "error", err)
		return entry, false
	}
	return entry, true
}

func (s *CachedStore) invalidate(ctx context.Context, table string) {
	if err := s.cache.DeletePrefix(ctx, tablePrefix(table)); err != nil {
		s.log.Warn("Failed to invalidate cache", "table", table, "error", err)
	}
}

func (s *CachedStore) Insert(ctx context.Context, table string, rec Record) (Record, error) {
	out, err := s.next.Insert(ctx, table, rec)
	if err == nil {
		s.invalidate(ctx, table)
	}
	return out, err
}

func (s *CachedStore) Update(ctx context.Context, table, id string, patch Record) (Record, error) {
	out, err := s.next.Update(ctx, table, id, patch)
	if err == nil {
		s.invalidate(ctx, table)
	}
	return out, err
}

func (s *CachedStore) Delete(ctx context.Context, table, id string) error {
	err := s.next.Delete(ctx, table, id)
	if err == nil {
		s.invalidate(ctx, table)
	}
	return err
}
