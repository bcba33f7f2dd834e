// Package backend defines the contract between the aggregator and the
// managed data service: row selection, inserts and change notifications.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Table names in the managed backend.
const (
	TableAreaMoods   = "city-one-table"
	TableEvents      = "city-one-events"
	TableCommunity   = "city-one-community"
	TableIncidents   = "incidents"
	TableCivicIssues = "civic_issues"
	TableTraffic     = "traffic"
)

// ErrRealtimeUnsupported is returned by change feeds that cannot stream a table.
var ErrRealtimeUnsupported = errors.New("realtime not supported")

// Row is one record as returned by the backend, keyed by column name.
type Row map[string]any

// Query selects rows from one table.
type Query struct {
	Table      string
	Columns    []string // empty selects all columns
	OrderBy    string
	Descending bool
	Limit      int // 0 means no limit
}

// Validate rejects queries with no table.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Table) == "" {
		return errors.New("query table is required")
	}
	if q.Limit < 0 {
		return fmt.Errorf("invalid query limit %d", q.Limit)
	}
	return nil
}

// Store reads and writes backend tables.
type Store interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) error
}

// ChangeType is the kind of row change.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ParseChangeType accepts the upper- or lower-case operation name.
func ParseChangeType(s string) (ChangeType, error) {
	switch ChangeType(strings.ToUpper(strings.TrimSpace(s))) {
	case ChangeInsert:
		return ChangeInsert, nil
	case ChangeUpdate:
		return ChangeUpdate, nil
	case ChangeDelete:
		return ChangeDelete, nil
	default:
		return "", fmt.Errorf("unknown change type %q", s)
	}
}

// Change is a single row change notification.
type Change struct {
	Type      ChangeType `json:"type"`
	Table     string     `json:"table"`
	Record    Row        `json:"record,omitempty"`
	OldRecord Row        `json:"old_record,omitempty"`
}

// Key returns the id of the affected row. DELETE changes usually only carry
// the old record.
func (c Change) Key() string {
	for _, r := range []Row{c.Record, c.OldRecord} {
		if id := RowID(r); id != "" {
			return id
		}
	}
	return ""
}

// DecodeChange parses the JSON change envelope shared by the postgres
// NOTIFY payload and the kafka change topic.
func DecodeChange(data []byte) (Change, error) {
	var raw struct {
		Type      string `json:"type"`
		Table     string `json:"table"`
		Record    Row    `json:"record"`
		OldRecord Row    `json:"old_record"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	t, err := ParseChangeType(raw.Type)
	if err != nil {
		return Change{}, err
	}
	if raw.Table == "" {
		return Change{}, errors.New("decode change: table is required")
	}
	return Change{Type: t, Table: raw.Table, Record: raw.Record, OldRecord: raw.OldRecord}, nil
}

// Subscription is a live change stream for one table.
type Subscription interface {
	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe()
	// Done is closed when the stream ends, either by Unsubscribe or failure.
	Done() <-chan struct{}
	// Err reports why the stream ended; nil after Unsubscribe.
	Err() error
}

// ChangeFeed streams row changes.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table string, fn func(Change)) (Subscription, error)
}

// RowID returns the row's "id" column as a string.
func RowID(r Row) string {
	switch v := r["id"].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
