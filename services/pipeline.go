package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"market-engine/metrics"
	"market-engine/models"
	"market-engine/storage"
	"market-engine/utils"
)

var tracer = otel.Tracer("market-engine/services")

// ErrNoTransactions stops a rebuild that fetched nothing, so an empty read
// never wipes the stored owners.
var ErrNoTransactions = errors.New("no transactions fetched")

// TransactionLoader reads raw transactions.
type TransactionLoader interface {
	FetchTransactions(ctx context.Context, filters ...storage.Filter) ([]*models.RawRecord, error)
}

// RebuildOptions tune a RebuildPipeline. Snapshot is optional.
type RebuildOptions struct {
	FuzzyThreshold float64
	Snapshot       storage.RawRecordWriter
}

// RebuildSummary reports what one rebuild did.
type RebuildSummary struct {
	Fetched     int
	Cleaned     int
	Identities  int
	Owners      int
	Properties  int
	NeedsReview int
	Duration    time.Duration
}

// RebuildPipeline recomputes owners and property states from the full
// transaction history: fetch, snapshot, clean, resolve, build, write.
type RebuildPipeline struct {
	loader     TransactionLoader
	owners     storage.OwnerWriter
	properties storage.PropertyWriter
	snapshot   storage.RawRecordWriter
	cleaner    *Cleaner
	resolver   *IdentityResolver
	builder    *PropertyStateBuilder
	logger     *utils.Logger
}

func NewRebuildPipeline(loader TransactionLoader, owners storage.OwnerWriter, properties storage.PropertyWriter,
	opts RebuildOptions, logger *utils.Logger, m *metrics.Metrics) *RebuildPipeline {
	return &RebuildPipeline{
		loader:     loader,
		owners:     owners,
		properties: properties,
		snapshot:   opts.Snapshot,
		cleaner:    NewCleaner(logger),
		resolver:   NewIdentityResolver(IdentityOptions{Threshold: opts.FuzzyThreshold}, logger, m),
		builder:    NewPropertyStateBuilder(logger, m),
		logger:     logger,
	}
}

// Run executes one rebuild. Fetch and write failures abort it; a failed
// snapshot is only logged.
func (p *RebuildPipeline) Run(ctx context.Context) (*RebuildSummary, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "rebuild", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	fail := func(err error) (*RebuildSummary, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	raw, err := p.loader.FetchTransactions(ctx)
	if err != nil {
		return fail(fmt.Errorf("rebuild: %w", err))
	}
	if len(raw) == 0 {
		return fail(ErrNoTransactions)
	}
	p.logger.Info("[rebuild] Fetched %d transactions", len(raw))

	if p.snapshot != nil {
		if err := p.snapshot.WriteRaw(raw); err != nil {
			p.logger.Error("[rebuild] Snapshot write failed: %v", err)
		} else {
			p.logger.Info("[rebuild] Raw snapshot written")
		}
	}

	cleaned := p.cleaner.Clean(raw)
	identities := p.cleaner.ExtractIdentities(cleaned)
	res := p.resolver.Resolve(identities)
	props := p.builder.Build(cleaned, res)

	if err := p.owners.WriteOwners(ctx, res.Owners); err != nil {
		return fail(fmt.Errorf("rebuild: write owners: %w", err))
	}
	if err := p.properties.WriteProperties(ctx, props); err != nil {
		return fail(fmt.Errorf("rebuild: write properties: %w", err))
	}

	summary := &RebuildSummary{
		Fetched:    len(raw),
		Cleaned:    len(cleaned),
		Identities: len(identities),
		Owners:     len(res.Owners),
		Properties: len(props),
		Duration:   time.Since(start),
	}
	for _, prop := range props {
		if prop.Meta.NeedsOwnerReview {
			summary.NeedsReview++
		}
	}
	span.SetAttributes(
		attribute.Int("transactions", summary.Fetched),
		attribute.Int("owners", summary.Owners),
		attribute.Int("properties", summary.Properties),
	)
	p.logger.Info("[rebuild] Done in %s: %d owners, %d properties (%d need owner review)",
		summary.Duration.Round(time.Millisecond), summary.Owners, summary.Properties, summary.NeedsReview)
	return summary, nil
}
