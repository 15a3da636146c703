package storage

import (
	"context"

	"market-engine/models"
)

// Row is one record as a field -> value mapping.
type Row map[string]any

// FilterOp is a comparison supported by every RecordSource.
type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpContains FilterOp = "contains" // case-insensitive substring
	OpGte      FilterOp = "gte"
	OpLte      FilterOp = "lte"
	OpNotNull  FilterOp = "not_null"
)

// Filter restricts a query to rows where Field Op Value holds.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

func Eq(field string, v any) Filter { return Filter{Field: field, Op: OpEq, Value: v} }
func Contains(field, v string) Filter { return Filter{Field: field, Op: OpContains, Value: v} }
func Gte(field string, v any) Filter { return Filter{Field: field, Op: OpGte, Value: v} }
func Lte(field string, v any) Filter { return Filter{Field: field, Op: OpLte, Value: v} }
func NotNull(field string) Filter { return Filter{Field: field, Op: OpNotNull} }
func Asc(field string) Order { return Order{Field: field} }
func Desc(field string) Order { return Order{Field: field, Desc: true} }
func DescNullsLast(field string) Order { return Order{Field: field, Desc: true, NullsLast: true} }

// Order sorts a query. Without NullsLast, nulls sort as the largest value.
type Order struct {
	Field     string
	Desc      bool
	NullsLast bool
}

// Query describes what to read from a table. Empty Fields selects all columns.
type Query struct {
	Table   string
	Fields  []string
	Filters []Filter
	Order   []Order
}

// RecordSource is a paginated, possibly rate-limited table reader.
type RecordSource interface {
	Fetch(ctx context.Context, q Query, limit, offset int) ([]Row, error)
}

// OwnerWriter persists owner clusters with their identities and contacts.
type OwnerWriter interface {
	WriteOwners(ctx context.Context, owners []*models.Owner) error
	Close() error
}

// PropertyWriter persists property states.
type PropertyWriter interface {
	WriteProperties(ctx context.Context, properties []*models.Property) error
	Close() error
}

// RawRecordWriter persists an unprocessed snapshot of fetched transactions.
type RawRecordWriter interface {
	WriteRaw(records []*models.RawRecord) error
	Close() error
}
