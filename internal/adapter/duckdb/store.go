// Package duckdb serves backend tables from JSON fixtures loaded into an
// in-memory DuckDB database. It backs local development and demos.
package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb"

	"github.com/couchcryptid/city-pulse/internal/backend"
)

// Store implements backend.Store over an in-memory DuckDB database. Each
// fixture file <table>.json becomes a table of the same name.
type Store struct {
	db     *sql.DB
	tables []string
	logger *slog.Logger
}

// Open creates the database and loads every *.json fixture in dir with
// read_json_auto.
func Open(ctx context.Context, dir string, logger *slog.Logger) (*Store, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list fixtures: %w", err)
	}
	if len(paths) == 0 {
		if _, statErr := os.Stat(dir); statErr != nil {
			return nil, fmt.Errorf("fixtures dir: %w", statErr)
		}
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &Store{db: db, logger: logger}
	sort.Strings(paths)
	for _, p := range paths {
		table := strings.TrimSuffix(filepath.Base(p), ".json")
		stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM read_json_auto(%s)", quoteIdent(table), quoteLiteral(p))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("load fixture %s: %w", filepath.Base(p), err)
		}
		s.tables = append(s.tables, table)
		logger.Info("fixture loaded", "table", table, "path", p)
	}
	return s, nil
}

// Tables lists the loaded fixture tables.
func (s *Store) Tables() []string {
	return append([]string(nil), s.tables...)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Select(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, buildSelect(q))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Table, err)
	}

	var out []backend.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("select %s: scan: %w", q.Table, err)
		}
		row := make(backend.Row, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Table, err)
	}
	return out, nil
}

// Insert appends a row. Nested values are stored as JSON text, which the
// row decoders accept.
func (s *Store) Insert(ctx context.Context, table string, row backend.Row) error {
	if len(row) == 0 {
		return fmt.Errorf("insert %s: empty row", table)
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]string, len(keys))
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = quoteIdent(k)
		marks[i] = "?"
		v, err := insertValue(row[k])
		if err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		args[i] = v
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func buildSelect(q backend.Query) string {
	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			quoted[i] = quoteIdent(c)
		}
		cols = strings.Join(quoted, ", ")
	}
	stmt := "SELECT " + cols + " FROM " + quoteIdent(q.Table)
	if q.OrderBy != "" {
		stmt += " ORDER BY " + quoteIdent(q.OrderBy)
		if q.Descending {
			stmt += " DESC"
		}
	}
	if q.Limit > 0 {
		stmt += " LIMIT " + strconv.Itoa(q.Limit)
	}
	return stmt
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func insertValue(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any, backend.Row:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return v, nil
	}
}

// normalizeValue converts driver types into the plain values the row
// decoders understand. read_json_auto infers UUID columns from text.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case duckdb.UUID:
		return uuid.UUID(x).String()
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		if len(x) == 16 {
			if id, err := uuid.FromBytes(x); err == nil {
				return id.String()
			}
		}
		return string(x)
	case duckdb.Map:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalizeValue(val)
		}
		return m
	case map[string]any:
		for k, val := range x {
			x[k] = normalizeValue(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = normalizeValue(val)
		}
		return x
	default:
		return v
	}
}
