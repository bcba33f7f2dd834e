// Package postgres implements the backend contracts directly on PostgreSQL:
// a pgx pool for reads and inserts, and LISTEN/NOTIFY for changes.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/city-pulse/internal/backend"
)

// ChangesChannel is the NOTIFY channel change triggers publish on. Each
// payload is a JSON change envelope: {type, table, record, old_record}.
const ChangesChannel = "citypulse_changes"

// Store implements backend.Store on a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects a pool to databaseURL and verifies it with a ping.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// CheckReadiness pings the pool.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Select(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, buildSelect(q))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Table, err)
	}

	out := make([]backend.Row, len(maps))
	for i, m := range maps {
		for k, v := range m {
			m[k] = normalizeValue(v)
		}
		out[i] = backend.Row(m)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, table string, row backend.Row) error {
	sql, args, err := buildInsert(table, row)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// Publish sends changes on ChangesChannel, for databases without triggers.
func (s *Store) Publish(ctx context.Context, changes ...backend.Change) error {
	for _, c := range changes {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode change: %w", err)
		}
		if _, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", ChangesChannel, string(payload)); err != nil {
			return fmt.Errorf("notify change: %w", err)
		}
	}
	return nil
}

func buildSelect(q backend.Query) string {
	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			quoted[i] = pgx.Identifier{c}.Sanitize()
		}
		cols = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	b.WriteString("SELECT " + cols + " FROM " + pgx.Identifier{q.Table}.Sanitize())
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY " + pgx.Identifier{q.OrderBy}.Sanitize())
		if q.Descending {
			b.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return b.String()
}

// buildInsert orders columns by name so statements are stable.
func buildInsert(table string, row backend.Row) (string, []any, error) {
	if strings.TrimSpace(table) == "" {
		return "", nil, fmt.Errorf("insert: table is required")
	}
	if len(row) == 0 {
		return "", nil, fmt.Errorf("insert %s: empty row", table)
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]string, len(keys))
	params := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = pgx.Identifier{k}.Sanitize()
		params[i] = "$" + strconv.Itoa(i+1)
		args[i] = row[k]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(), strings.Join(cols, ", "), strings.Join(params, ", "))
	return sql, args, nil
}

// normalizeValue converts driver types into the plain values the row
// decoders understand.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return v
	}
}
