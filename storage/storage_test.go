package storage

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-engine/models"
	"market-engine/utils"
)

func date(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func seededSource() *MemorySource {
	m := NewMemorySource()
	m.Insert("transactions",
		Row{"id": int64(1), "community": "Dubai Marina", "price": 1_000_000.0, "transaction_date": date("2023-01-10")},
		Row{"id": int64(2), "community": "Business Bay", "price": 2_000_000.0, "transaction_date": date("2024-03-01")},
		Row{"id": int64(3), "community": "dubai marina", "price": 1_500_000.0, "transaction_date": nil},
		Row{"id": int64(4), "community": "Dubai Marina", "price": 900_000.0, "transaction_date": date("2024-03-01")},
	)
	return m
}

func ids(rows []Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i], _ = Int(r["id"])
	}
	return out
}

func TestMemorySourceFilters(t *testing.T) {
	m := seededSource()
	ctx := context.Background()

	rows, err := m.Fetch(ctx, Query{Table: "transactions", Filters: []Filter{Contains("community", "MARINA")}, Order: []Order{Asc("id")}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4}, ids(rows))

	rows, err = m.Fetch(ctx, Query{Table: "transactions", Filters: []Filter{Gte("transaction_date", "2024-01-01")}, Order: []Order{Asc("id")}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, ids(rows))

	rows, err = m.Fetch(ctx, Query{Table: "transactions", Filters: []Filter{NotNull("transaction_date"), Lte("price", 1_000_000.0)}, Order: []Order{Asc("id")}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, ids(rows))
}

func TestMemorySourceOrderingAndPaging(t *testing.T) {
	m := seededSource()
	ctx := context.Background()
	q := Query{Table: "transactions", Order: []Order{DescNullsLast("transaction_date"), Desc("id")}}

	all, err := m.Fetch(ctx, q, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2, 1, 3}, ids(all))

	page, err := m.Fetch(ctx, q, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(page))

	empty, err := m.Fetch(ctx, q, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	// Without NullsLast, nulls sort as the largest value like PostgreSQL.
	desc, err := m.Fetch(ctx, Query{Table: "transactions", Order: []Order{Desc("transaction_date"), Desc("id")}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ids(desc)[0])
}

func TestMemorySourceProjection(t *testing.T) {
	m := seededSource()
	rows, err := m.Fetch(context.Background(), Query{Table: "transactions", Fields: []string{"id"}}, 1, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0], 1)
}

func TestBuildSelect(t *testing.T) {
	q := Query{
		Table:   "transactions",
		Fields:  []string{"id", "price"},
		Filters: []Filter{Contains("community", "50%_off"), Gte("transaction_date", "2024-01-01"), NotNull("unit")},
		Order:   []Order{DescNullsLast("transaction_date"), Desc("id")},
	}
	stmt, args, err := buildSelect(q, 1000, 2000)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "id", "price" FROM "transactions" WHERE "community"::text ILIKE $1 AND "transaction_date" >= $2 AND "unit" IS NOT NULL ORDER BY "transaction_date" DESC NULLS LAST, "id" DESC LIMIT $3 OFFSET $4`,
		stmt)
	assert.Equal(t, []any{`%50\%\_off%`, "2024-01-01", 1000, 2000}, args)
}

func TestBuildSelectRejectsBadIdentifiers(t *testing.T) {
	_, _, err := buildSelect(Query{Table: "transactions; DROP TABLE owners"}, 10, 0)
	assert.Error(t, err)

	_, _, err = buildSelect(Query{Table: "transactions", Fields: []string{"price\""}}, 10, 0)
	assert.Error(t, err)
}

func TestPostgresSourceMarksBadQueryPermanent(t *testing.T) {
	s := &PostgresSource{}
	_, err := s.Fetch(context.Background(), Query{Table: "bad name"}, 10, 0)
	require.Error(t, err)
	assert.True(t, utils.IsPermanent(err))
}

func TestBuildInsert(t *testing.T) {
	stmt, args := buildInsert("owner_contacts", []string{"owner_id", "value"},
		[][]any{{"a", "+971500000001"}, {"b", "+971500000002"}}, "ON CONFLICT DO NOTHING")
	assert.Equal(t, "INSERT INTO owner_contacts (owner_id, value) VALUES ($1,$2),($3,$4) ON CONFLICT DO NOTHING", stmt)
	assert.Len(t, args, 4)
}

func TestValueConversions(t *testing.T) {
	f, ok := Float("1,250,000.50")
	assert.True(t, ok)
	assert.Equal(t, 1250000.5, f)

	_, ok = Float(nil)
	assert.False(t, ok)

	n, ok := Int("42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	tm, ok := Time("2024-05-06")
	assert.True(t, ok)
	assert.Equal(t, 2024, tm.Year())

	assert.Equal(t, "", String(nil))
}

func TestCSVWriterSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "snapshot.csv")
	w, err := NewCSVWriter(path)
	require.NoError(t, err)

	beds := 2
	d := date("2024-02-03")
	require.NoError(t, w.WriteRaw([]*models.RawRecord{
		{ID: 7, Community: "Dubai Marina", Building: "Princess Tower", Unit: "1203", SizeSqft: 1250, Price: 1_800_000, Bedrooms: &beds, TransactionDate: &d, BuyerName: "John Smith"},
		{ID: 8, Community: "Business Bay"},
	}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, snapshotHeader, records[0])
	assert.Equal(t, []string{"7", "Dubai Marina", "Princess Tower", "1203", "", "1250", "1800000", "2", "2024-02-03", "John Smith", "", "", ""}, records[1])
	assert.Equal(t, "", records[2][7])
}
