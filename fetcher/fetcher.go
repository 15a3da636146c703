package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"market-engine/metrics"
	"market-engine/storage"
	"market-engine/utils"
)

const DefaultPageSize = 1000

var tracer = otel.Tracer("market-engine/fetcher")

// Options tune paging and retry behaviour.
type Options struct {
	PageSize    int
	MaxRetries  int
	BaseDelay   time.Duration
	RateLimitMs int

	// Sleep replaces the retry wait; tests use it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Fetcher retrieves complete record sets from a paginated source.
type Fetcher struct {
	source   storage.RecordSource
	pageSize int
	retry    *utils.RetryConfig
	pacer    *utils.Pacer
	logger   *utils.Logger
	metrics  *metrics.Metrics
}

// New creates a Fetcher over source.
func New(source storage.RecordSource, opts Options, logger *utils.Logger, m *metrics.Metrics) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	return &Fetcher{
		source:   source,
		pageSize: opts.PageSize,
		retry: &utils.RetryConfig{
			MaxAttempts: opts.MaxRetries,
			BaseDelay:   opts.BaseDelay,
			Logger:      logger,
			Sleep:       opts.Sleep,
		},
		pacer:   utils.NewPacer(opts.RateLimitMs),
		logger:  logger,
		metrics: m,
	}
}

// FetchAll pages through q until a short page. A page that still fails
// after all retries fails the whole call; no partial result is returned.
// Rows whose "id" was already returned on an earlier page are dropped, so q
// should order by a unique tiebreaker.
func (f *Fetcher) FetchAll(ctx context.Context, q storage.Query) ([]storage.Row, error) {
	ctx, span := tracer.Start(ctx, "fetcher.FetchAll")
	defer span.End()
	span.SetAttributes(attribute.String("table", q.Table), attribute.Int("page_size", f.pageSize))

	start := time.Now()
	defer f.metrics.ObserveFetch(q.Table, start)

	seen := utils.NewKeySet()
	var all []storage.Row

	for page := 0; ; page++ {
		if err := f.pacer.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("fetch %s: %w", q.Table, err)
		}

		rows, err := f.fetchPage(ctx, q, page)
		if err != nil {
			f.metrics.IncFetchFailure(q.Table)
			f.logger.Error("[fetcher] %s page %d failed: %v", q.Table, page+1, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		f.metrics.ObservePage(q.Table, len(rows))

		for _, row := range rows {
			if id, ok := row["id"]; ok && id != nil {
				if !seen.Add(storage.String(id)) {
					f.metrics.IncDuplicateRow(q.Table)
					f.logger.Warn("[fetcher] %s: dropping duplicate row id=%v on page %d", q.Table, id, page+1)
					continue
				}
			}
			all = append(all, row)
		}

		if len(rows) < f.pageSize {
			break
		}
	}

	span.SetAttributes(attribute.Int("rows", len(all)))
	f.logger.Debug("[fetcher] %s: fetched %d rows", q.Table, len(all))
	return all, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, q storage.Query, page int) ([]storage.Row, error) {
	ctx, span := tracer.Start(ctx, "fetcher.page")
	defer span.End()
	span.SetAttributes(attribute.String("table", q.Table), attribute.Int("page", page+1))

	retry := *f.retry
	retry.OnRetry = func(int, error) { f.metrics.IncFetchRetry(q.Table) }

	var rows []storage.Row
	op := fmt.Sprintf("fetch %s page %d", q.Table, page+1)
	err := retry.Do(ctx, op, func(ctx context.Context) error {
		var err error
		rows, err = f.source.Fetch(ctx, q, f.pageSize, page*f.pageSize)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}
