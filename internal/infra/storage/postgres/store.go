package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/rentdesk/internal/core/fault"
	"github.com/vietddude/rentdesk/internal/infra/storage"
)

// Tracker runs fn and records its outcome against backend reachability.
type Tracker interface {
	Track(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store implements storage.Store with plain SQL.
type Store struct {
	db      *DB
	tracker Tracker
}

// NewStore creates a store. tracker may be nil.
func NewStore(db *DB, tracker Tracker) *Store {
	return &Store{db: db, tracker: tracker}
}

func (s *Store) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tracker == nil {
		return fn(ctx)
	}
	return s.tracker.Track(ctx, fn)
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func sortedColumns(rec storage.Record) []string {
	cols := make([]string, 0, len(rec))
	for c := range rec {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

func (s *Store) Insert(ctx context.Context, table string, rec storage.Record) (storage.Record, error) {
	if len(rec) == 0 {
		return nil, fmt.Errorf("insert into %s: empty record", table)
	}
	cols := sortedColumns(rec)
	names := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = ident(c)
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = rec[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		ident(table), strings.Join(names, ", "), strings.Join(params, ", "))

	var out storage.Record
	err := s.run(ctx, func(ctx context.Context) error {
		row, err := s.queryOne(ctx, query, args...)
		out = row
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	return out, nil
}

func (s *Store) Select(ctx context.Context, table string, q storage.Query) ([]storage.Record, error) {
	var (
		b    strings.Builder
		args []any
	)
	fmt.Fprintf(&b, "SELECT * FROM %s", ident(table))
	for i, f := range q.Filters {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, f.Value)
		fmt.Fprintf(&b, "%s = $%d", ident(f.Column), len(args))
	}
	if q.OrderBy != "" {
		fmt.Fprintf(&b, " ORDER BY %s", ident(q.OrderBy))
		if q.Desc {
			b.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	out := []storage.Record{}
	err := s.run(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryxContext(ctx, b.String(), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			row, err := scan(rows)
			if err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, table, id string, patch storage.Record) (storage.Record, error) {
	patch = maps.Clone(patch)
	delete(patch, "id")
	if len(patch) == 0 {
		rows, err := s.Select(ctx, table, storage.Query{}.Eq("id", id))
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("update %s %s: %w", table, id, fault.ErrNotFound)
		}
		return rows[0], nil
	}

	cols := sortedColumns(patch)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		args = append(args, patch[c])
		sets[i] = fmt.Sprintf("%s = $%d", ident(c), len(args))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING *",
		ident(table), strings.Join(sets, ", "), len(args))

	var out storage.Record
	err := s.run(ctx, func(ctx context.Context) error {
		row, err := s.queryOne(ctx, query, args...)
		out = row
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update %s %s: %w", table, id, err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", ident(table))
	err := s.run(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fault.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (storage.Record, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fault.ErrNotFound
	}
	return scan(rows)
}

func scan(rows *sqlx.Rows) (storage.Record, error) {
	raw := make(map[string]any)
	if err := rows.MapScan(raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.ErrNotFound
		}
		return nil, err
	}
	rec := make(storage.Record, len(raw))
	for k, v := range raw {
		rec[k] = normalize(v)
	}
	return rec, nil
}

// normalize turns driver-specific representations into plain values.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	default:
		return v
	}
}
