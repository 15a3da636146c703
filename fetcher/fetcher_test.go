package fetcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-engine/metrics"
	"market-engine/models"
	"market-engine/storage"
	"market-engine/utils"
)

// flakySource fails the first failures calls to each offset, then delegates.
type flakySource struct {
	inner    storage.RecordSource
	failures int
	err      error
	attempts map[int]int
	calls    int
}

func (s *flakySource) Fetch(ctx context.Context, q storage.Query, limit, offset int) ([]storage.Row, error) {
	s.calls++
	if s.attempts == nil {
		s.attempts = make(map[int]int)
	}
	s.attempts[offset]++
	if s.attempts[offset] <= s.failures {
		return nil, s.err
	}
	return s.inner.Fetch(ctx, q, limit, offset)
}

func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
}

func transactions(n int) *storage.MemorySource {
	m := storage.NewMemorySource()
	for i := 1; i <= n; i++ {
		m.Insert(TableTransactions, storage.Row{
			"id":               int64(i),
			"community":        "Dubai Marina",
			"price":            float64(1_000_000 + i),
			"size_sqft":        1200.0,
			"transaction_date": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i%30),
		})
	}
	return m
}

func TestFetchAllPagesUntilShortPage(t *testing.T) {
	tests := []struct {
		rows, pageSize, wantCalls int
	}{
		{rows: 25, pageSize: 10, wantCalls: 3},
		{rows: 20, pageSize: 10, wantCalls: 3}, // exact multiple needs one empty page
		{rows: 0, pageSize: 10, wantCalls: 1},
		{rows: 5, pageSize: 10, wantCalls: 1},
	}

	for _, tt := range tests {
		src := &flakySource{inner: transactions(tt.rows)}
		f := New(src, Options{PageSize: tt.pageSize, Sleep: noSleep(nil)}, utils.NewDiscardLogger(), nil)

		rows, err := f.FetchAll(context.Background(), storage.Query{
			Table: TableTransactions,
			Order: []storage.Order{storage.Asc("id")},
		})
		require.NoError(t, err)
		if len(rows) != tt.rows {
			t.Errorf("rows=%d page=%d: got %d rows, want %d", tt.rows, tt.pageSize, len(rows), tt.rows)
		}
		if src.calls != tt.wantCalls {
			t.Errorf("rows=%d page=%d: got %d calls, want %d", tt.rows, tt.pageSize, src.calls, tt.wantCalls)
		}
	}
}

func TestFetchAllNoSkipsOrDuplicates(t *testing.T) {
	f := New(transactions(37), Options{PageSize: 5}, utils.NewDiscardLogger(), nil)
	records, err := f.FetchTransactions(context.Background())
	require.NoError(t, err)

	seen := make(map[int64]bool)
	for _, r := range records {
		assert.False(t, seen[r.ID], "duplicate id %d", r.ID)
		seen[r.ID] = true
	}
	assert.Len(t, seen, 37)
}

func TestFetchAllRetriesWithExponentialBackoff(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	var delays []time.Duration
	src := &flakySource{inner: transactions(3), failures: 2, err: errors.New("502 bad gateway")}
	f := New(src, Options{PageSize: 10, MaxRetries: 3, BaseDelay: time.Second, Sleep: noSleep(&delays)}, utils.NewDiscardLogger(), m)

	rows, err := f.FetchAll(context.Background(), storage.Query{Table: TableTransactions})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchRetries.WithLabelValues(TableTransactions)))
}

func TestFetchAllFailsLoudlyAfterRetries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	boom := errors.New("connection refused")
	src := &flakySource{inner: transactions(3), failures: 10, err: boom}
	f := New(src, Options{PageSize: 10, MaxRetries: 3, Sleep: noSleep(nil)}, utils.NewDiscardLogger(), m)

	rows, err := f.FetchAll(context.Background(), storage.Query{Table: TableTransactions})
	require.Error(t, err)
	assert.Nil(t, rows)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchFailures.WithLabelValues(TableTransactions)))
}

// shiftingSource returns an overlapping row on the second page, as an
// unstable ordering would.
type shiftingSource struct{}

func (shiftingSource) Fetch(_ context.Context, _ storage.Query, limit, offset int) ([]storage.Row, error) {
	switch offset {
	case 0:
		return []storage.Row{{"id": int64(1)}, {"id": int64(2)}}, nil
	case 2:
		return []storage.Row{{"id": int64(2)}, {"id": int64(3)}}, nil
	}
	return nil, nil
}

func TestFetchAllDropsRowsRepeatedAcrossPages(t *testing.T) {
	f := New(shiftingSource{}, Options{PageSize: 2}, utils.NewDiscardLogger(), nil)
	rows, err := f.FetchAll(context.Background(), storage.Query{Table: TableTransactions})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, want := range []string{"1", "2", "3"} {
		assert.Equal(t, want, storage.String(rows[i]["id"]), fmt.Sprintf("row %d", i))
	}
}

func TestFetchTransactionsDecodes(t *testing.T) {
	m := storage.NewMemorySource()
	m.Insert(TableTransactions,
		storage.Row{"id": "11", "community": "JVC", "building": "Seven Palm", "unit": "402",
			"price": "1,450,000", "size_sqft": []byte("1320.5"), "bedrooms": int64(2),
			"transaction_date": "2024-06-30", "buyer_name": "John Smith", "buyer_phone": "0501234567"},
		storage.Row{"id": int64(12), "community": "JVC", "transaction_date": nil},
	)
	f := New(m, Options{}, utils.NewDiscardLogger(), nil)

	records, err := f.FetchTransactions(context.Background(), storage.Contains("community", "jvc"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	r := records[0]
	assert.Equal(t, int64(11), r.ID)
	assert.Equal(t, 1_450_000.0, r.Price)
	assert.Equal(t, 1320.5, r.SizeSqft)
	require.NotNil(t, r.Bedrooms)
	assert.Equal(t, 2, *r.Bedrooms)
	require.NotNil(t, r.TransactionDate)
	assert.Equal(t, time.June, r.TransactionDate.Month())

	assert.Nil(t, records[1].TransactionDate)
	assert.Nil(t, records[1].Bedrooms)
}

func TestDecodePropertyMeta(t *testing.T) {
	p, err := DecodeProperty(storage.Row{
		"id": int64(3), "building": "Cayan Tower", "unit": "5001", "last_price": "2500000.00",
		"owner_id": nil, "meta": `{"source":"transactions","needs_owner_review":true,"institutional_owner":{"owner_type":"developer","name":"EMAAR PROPERTIES","phone":""}}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "", p.OwnerID)
	assert.True(t, p.Meta.NeedsOwnerReview)
	require.NotNil(t, p.Meta.InstitutionalOwner)
	assert.Equal(t, models.OwnerDeveloper, p.Meta.InstitutionalOwner.OwnerType)

	_, err = DecodeProperty(storage.Row{"id": int64(4), "meta": "{broken"})
	assert.Error(t, err)
}
