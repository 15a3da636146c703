package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"market-engine/utils"
)

var identRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// OpenPostgres opens a connection pool and waits for the server to accept
// connections.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}
	return db, nil
}

// PostgresSource reads tables through database/sql with parameterized
// queries. Table and field names must be plain identifiers.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource wraps an open database.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Fetch implements RecordSource. Query-shape errors (bad identifiers,
// SQL syntax or undefined columns) are marked permanent so callers do not
// retry them.
func (s *PostgresSource) Fetch(ctx context.Context, q Query, limit, offset int) ([]Row, error) {
	stmt, args, err := buildSelect(q, limit, offset)
	if err != nil {
		return nil, utils.Permanent(err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("postgres: query %s: %w", q.Table, err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("postgres: columns %s: %w", q.Table, err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", q.Table, err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("postgres: iterate %s: %w", q.Table, err))
	}
	return out, nil
}

func buildSelect(q Query, limit, offset int) (string, []any, error) {
	if !identRegexp.MatchString(q.Table) {
		return "", nil, fmt.Errorf("postgres: invalid table name %q", q.Table)
	}

	cols := "*"
	if len(q.Fields) > 0 {
		quoted := make([]string, len(q.Fields))
		for i, f := range q.Fields {
			if !identRegexp.MatchString(f) {
				return "", nil, fmt.Errorf("postgres: invalid field name %q", f)
			}
			quoted[i] = pq.QuoteIdentifier(f)
		}
		cols = strings.Join(quoted, ", ")
	}

	var sb strings.Builder
	var args []any
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, pq.QuoteIdentifier(q.Table))

	for i, f := range q.Filters {
		if !identRegexp.MatchString(f.Field) {
			return "", nil, fmt.Errorf("postgres: invalid filter field %q", f.Field)
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		col := pq.QuoteIdentifier(f.Field)
		switch f.Op {
		case OpNotNull:
			fmt.Fprintf(&sb, "%s IS NOT NULL", col)
			continue
		case OpEq:
			fmt.Fprintf(&sb, "%s = $%d", col, len(args)+1)
			args = append(args, f.Value)
		case OpContains:
			fmt.Fprintf(&sb, "%s::text ILIKE $%d", col, len(args)+1)
			args = append(args, "%"+escapeLike(String(f.Value))+"%")
		case OpGte:
			fmt.Fprintf(&sb, "%s >= $%d", col, len(args)+1)
			args = append(args, f.Value)
		case OpLte:
			fmt.Fprintf(&sb, "%s <= $%d", col, len(args)+1)
			args = append(args, f.Value)
		default:
			return "", nil, fmt.Errorf("postgres: unsupported filter op %q", f.Op)
		}
	}

	for i, o := range q.Order {
		if !identRegexp.MatchString(o.Field) {
			return "", nil, fmt.Errorf("postgres: invalid order field %q", o.Field)
		}
		if i == 0 {
			sb.WriteString(" ORDER BY ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(pq.QuoteIdentifier(o.Field))
		if o.Desc {
			sb.WriteString(" DESC")
		}
		if o.NullsLast {
			sb.WriteString(" NULLS LAST")
		}
	}

	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	if offset > 0 {
		fmt.Fprintf(&sb, " OFFSET $%d", len(args)+1)
		args = append(args, offset)
	}
	return sb.String(), args, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// classify marks errors that will fail identically on retry.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "42" {
		return utils.Permanent(err)
	}
	return err
}
