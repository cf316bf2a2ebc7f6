// Package backend is the client contract for the backend data service: table
// queries and writes, row change subscriptions and object storage.
//
// Two implementations exist. backend/postgres talks to Postgres and publishes
// change events through a realtime broker; backend/memory keeps everything in
// process for development and tests. Services receive a Store (and ObjectStore)
// through their constructors and never reach for a package-level client.
package backend

import (
	"context"
	"time"
)

// Tables touched by the application.
const (
	TableUsers       = "users"
	TableProfiles    = "profiles"
	TableConnections = "connections"
	TableMessages    = "messages"
)

// Object storage buckets.
const (
	BucketProfileImages = "profile-images"
	BucketCredentials   = "credentials"
	BucketMessageImages = "message-images"
)

// Record is one table row keyed by column name.
type Record map[string]any

// String returns the column as a string, or "" when absent or of another type.
func (r Record) String(col string) string {
	s, _ := r[col].(string)
	return s
}

// Time returns the column as a time, or the zero time.
func (r Record) Time(col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v
	case *time.Time:
		if v != nil {
			return *v
		}
	case string:
		// change events arrive as JSON
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// TimePtr returns the column as a time pointer, nil when unset.
func (r Record) TimePtr(col string) *time.Time {
	t := r.Time(col)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Bool returns the column as a bool.
func (r Record) Bool(col string) bool {
	b, _ := r[col].(bool)
	return b
}

// Float returns numeric columns as float64.
func (r Record) Float(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Int returns integer columns as int64.
func (r Record) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Strings returns text array columns.
func (r Record) Strings(col string) []string {
	switch v := r[col].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Nested returns an embedded record produced by a Join.
func (r Record) Nested(col string) Record {
	switch v := r[col].(type) {
	case Record:
		return v
	case map[string]any:
		return Record(v)
	}
	return nil
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Op is a filter operator.
type Op string

const (
	OpEq    Op = "eq"
	OpGt    Op = "gt"
	OpIn    Op = "in"
	OpILike Op = "ilike"
	OpIsNil Op = "is_nil"
)

// Filter is one predicate on a column. Any holds an OR group and All an AND
// group; either takes precedence over Column/Op/Value.
type Filter struct {
	Column string
	Op     Op
	Value  any
	Any    []Filter
	All    []Filter
}

// Eq matches rows where column equals value.
func Eq(col string, v any) Filter { return Filter{Column: col, Op: OpEq, Value: v} }

// Gt matches rows where column is greater than value (timestamps, numbers).
func Gt(col string, v any) Filter { return Filter{Column: col, Op: OpGt, Value: v} }

// In matches rows where column is one of the values.
func In(col string, values ...any) Filter { return Filter{Column: col, Op: OpIn, Value: values} }

// ILike matches case-insensitively on a substring.
func ILike(col, substr string) Filter { return Filter{Column: col, Op: OpILike, Value: substr} }

// IsNil matches rows where column is null.
func IsNil(col string) Filter { return Filter{Column: col, Op: OpIsNil} }

// Or matches rows satisfying at least one of the filters.
func Or(filters ...Filter) Filter { return Filter{Any: filters} }

// And groups filters inside an Or branch.
func And(filters ...Filter) Filter { return Filter{All: filters} }

// Order sorts results on a column.
type Order struct {
	Column string
	Desc   bool
}

// Asc orders ascending.
func Asc(col string) Order { return Order{Column: col} }

// Desc orders descending.
func Desc(col string) Order { return Order{Column: col, Desc: true} }

// Join embeds the row of Table whose id equals LocalColumn under the key As.
type Join struct {
	Table       string
	LocalColumn string
	As          string
	Columns     []string
}

// Query describes a read.
type Query struct {
	Columns []string
	Filters []Filter
	Order   []Order
	Join    *Join
	Limit   int
}

// EventKind is the type of row change.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
)

// ChangeEvent is one row change pushed by the realtime channel.
type ChangeEvent struct {
	Table string    `json:"table"`
	Kind  EventKind `json:"kind"`
	New   Record    `json:"new"`
	At    time.Time `json:"at"`
}

// SubscribeOptions narrows a subscription. Filters support Eq, In and Or
// groups of those, evaluated against the new row.
type SubscribeOptions struct {
	Kinds   []EventKind
	Filters []Filter
}

// Store is the relational part of the backend data service.
type Store interface {
	Query(ctx context.Context, table string, q Query) ([]Record, error)
	// Get returns the first matching row or apperr.ErrNotFound.
	Get(ctx context.Context, table string, q Query) (Record, error)
	Insert(ctx context.Context, table string, rec Record) (Record, error)
	// Update patches matching rows and returns how many changed.
	Update(ctx context.Context, table string, filters []Filter, patch Record) (int64, error)
	// Delete removes matching rows and returns how many were removed.
	Delete(ctx context.Context, table string, filters []Filter) (int64, error)
	Subscribe(ctx context.Context, table string, opts SubscribeOptions) (*Subscription, error)
}

// ObjectStore is the file part of the backend data service.
type ObjectStore interface {
	UploadObject(ctx context.Context, bucket, path string, data []byte) (string, error)
	PublicURL(bucket, path string) string
}
