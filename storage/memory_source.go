package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemorySource is an in-process RecordSource over fixed tables. It applies
// the same filter and ordering rules as PostgresSource.
type MemorySource struct {
	mu     sync.RWMutex
	tables map[string][]Row
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{tables: make(map[string][]Row)}
}

// Insert appends rows to table.
func (m *MemorySource) Insert(table string, rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = append(m.tables[table], rows...)
}

// Fetch implements RecordSource.
func (m *MemorySource) Fetch(ctx context.Context, q Query, limit, offset int) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	src := m.tables[q.Table]
	matched := make([]Row, 0, len(src))
	for _, row := range src {
		if matchesAll(row, q.Filters) {
			matched = append(matched, row)
		}
	}
	m.mu.RUnlock()

	if len(q.Order) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, o := range q.Order {
				c := compareOrdered(matched[i][o.Field], matched[j][o.Field], o)
				if c != 0 {
					return c < 0
				}
			}
			return false
		})
	}

	if offset >= len(matched) {
		return []Row{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]Row, len(matched))
	for i, row := range matched {
		out[i] = project(row, q.Fields)
	}
	return out, nil
}

func compareOrdered(a, b any, o Order) int {
	if o.NullsLast {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		case b == nil:
			return -1
		}
	}
	c := compareValues(a, b)
	if o.Desc {
		return -c
	}
	return c
}

func matchesAll(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !matches(row, f) {
			return false
		}
	}
	return true
}

func matches(row Row, f Filter) bool {
	v, present := row[f.Field]
	if !present || v == nil {
		return false
	}
	switch f.Op {
	case OpNotNull:
		return true
	case OpEq:
		return compareValues(v, f.Value) == 0
	case OpContains:
		return strings.Contains(strings.ToLower(String(v)), strings.ToLower(String(f.Value)))
	case OpGte:
		return compareValues(v, f.Value) >= 0
	case OpLte:
		return compareValues(v, f.Value) <= 0
	}
	return false
}

func project(row Row, fields []string) Row {
	out := make(Row, len(row))
	if len(fields) == 0 {
		for k, v := range row {
			out[k] = v
		}
		return out
	}
	for _, f := range fields {
		out[f] = row[f]
	}
	return out
}
