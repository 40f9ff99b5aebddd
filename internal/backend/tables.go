package backend

import (
	"context"
	"fmt"
	"time"
)

const (
	TableNotifications        = "notifications"
	TableNotificationSettings = "notification_settings"
)

// Operators understood by both table clients, spelled as in PostgREST.
const (
	OpEq = "eq"
	OpLt = "lt"
)

// Filter is a predicate on a column. An empty Op means equality.
type Filter struct {
	Column string
	Op     string
	Value  interface{}
}

func Eq(column string, value interface{}) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// Lt matches rows whose column sorts strictly before value.
func Lt(column string, value interface{}) Filter {
	return Filter{Column: column, Op: OpLt, Value: value}
}

func (f Filter) op() string {
	if f.Op == "" {
		return OpEq
	}
	return f.Op
}

// Query pages with a keyset filter (e.g. Lt on the sort column) rather than
// an offset, so rows added or removed elsewhere do not shift the pages.
type Query struct {
	Filters   []Filter
	OrderBy   string
	OrderDesc bool
	Limit     int
}

// TableClient is the row-level interface of the backend, one table at a time.
// Select decodes into out, which must point to a slice.
type TableClient interface {
	Select(ctx context.Context, table string, q Query, out interface{}) error
	Insert(ctx context.Context, table string, row interface{}, out interface{}) error
	Upsert(ctx context.Context, table string, row interface{}, out interface{}) error
	Update(ctx context.Context, table string, filters []Filter, patch map[string]interface{}) error
	Delete(ctx context.Context, table string, filters []Filter) error
}

func filterValue(v interface{}) string {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}
