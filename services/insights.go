package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"market-engine/fetcher"
	"market-engine/models"
	"market-engine/storage"
	"market-engine/utils"
)

// DefaultMinSizeSqft is 100 sqm. Smaller sizes are almost always sqm values
// recorded as sqft.
const DefaultMinSizeSqft = 1076

const (
	errNoData         = "No data found"
	errOwnerNotFound  = "Owner not found"
	errFewComparables = "Insufficient comparable sales"
	errFlatSizes      = "Insufficient size variation among comparables"
	errFewCommunities = "Need at least 2 communities with data"
)

// DataLoader reads the tables analytics run over; *fetcher.Fetcher
// satisfies it.
type DataLoader interface {
	FetchTransactions(ctx context.Context, filters ...storage.Filter) ([]*models.RawRecord, error)
	FetchProperties(ctx context.Context, filters ...storage.Filter) ([]*models.Property, error)
	FetchOwners(ctx context.Context, filters ...storage.Filter) ([]*models.Owner, error)
	FetchOwnerIdentities(ctx context.Context, filters ...storage.Filter) ([]fetcher.IdentityRow, error)
}

// ValidationError rejects malformed parameters before any data is read.
type ValidationError struct {
	Op  Operation
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s request: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// EngineOptions configure an AnalyticsEngine.
type EngineOptions struct {
	MinSizeSqft float64
	Now         func() time.Time
}

// AnalyticsEngine computes market statistics over freshly fetched data.
// Every operation re-reads its inputs; the engine holds no mutable state and
// is safe for concurrent use. Insufficient data is reported in the result's
// Error field; only fetch and validation failures are returned as errors.
type AnalyticsEngine struct {
	data     DataLoader
	aliases  *AliasResolver
	validate *validator.Validate
	minSize  float64
	now      func() time.Time
	logger   *utils.Logger
}

// NewAnalyticsEngine creates an engine. aliases may be nil, in which case
// community names are matched as given.
func NewAnalyticsEngine(data DataLoader, aliases *AliasResolver, opts EngineOptions, logger *utils.Logger) *AnalyticsEngine {
	e := &AnalyticsEngine{
		data:     data,
		aliases:  aliases,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		minSize:  opts.MinSizeSqft,
		now:      opts.Now,
		logger:   logger,
	}
	if e.minSize <= 0 {
		e.minSize = DefaultMinSizeSqft
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// pricedRecord is a transaction that passed the quality gate.
type pricedRecord struct {
	*models.RawRecord
	psf float64
}

// qualityGate drops records with a non-positive price or a size under the
// floor, and any whose price per sqft is not a finite positive number.
func (e *AnalyticsEngine) qualityGate(records []*models.RawRecord) []pricedRecord {
	out := make([]pricedRecord, 0, len(records))
	for _, r := range records {
		if r.Price <= 0 || r.SizeSqft < e.minSize {
			continue
		}
		psf := r.Price / r.SizeSqft
		if math.IsNaN(psf) || math.IsInf(psf, 0) || psf <= 0 {
			continue
		}
		out = append(out, pricedRecord{RawRecord: r, psf: psf})
	}
	return out
}

func (e *AnalyticsEngine) check(op Operation, params any) error {
	if err := e.validate.Struct(params); err != nil {
		return &ValidationError{Op: op, Err: err}
	}
	return nil
}

// canonicalCommunity maps a user-supplied community through the alias
// resolver. Store failures propagate.
func (e *AnalyticsEngine) canonicalCommunity(ctx context.Context, name string) (string, error) {
	if e.aliases == nil || name == "" {
		return name, nil
	}
	canonical, err := e.aliases.Resolve(ctx, name, models.AliasCommunity)
	if err != nil {
		return "", fmt.Errorf("resolve community %q: %w", name, err)
	}
	return canonical, nil
}

// gatedTransactions fetches transactions for community (all when empty)
// and applies the quality gate.
func (e *AnalyticsEngine) gatedTransactions(ctx context.Context, community string, extra ...storage.Filter) ([]pricedRecord, string, error) {
	canonical, err := e.canonicalCommunity(ctx, community)
	if err != nil {
		return nil, "", err
	}
	filters := append([]storage.Filter(nil), extra...)
	if canonical != "" {
		filters = append(filters, storage.Contains("community", canonical))
	}
	records, err := e.data.FetchTransactions(ctx, filters...)
	if err != nil {
		return nil, canonical, err
	}
	gated := e.qualityGate(records)
	e.logger.Debug("[analytics] %q: %d transactions, %d passed quality gate", canonical, len(records), len(gated))
	return gated, canonical, nil
}

func dated(records []pricedRecord) []pricedRecord {
	out := make([]pricedRecord, 0, len(records))
	for _, r := range records {
		if r.TransactionDate != nil {
			out = append(out, r)
		}
	}
	return out
}

// quantile uses linear interpolation between closest ranks, so the median
// of an even-length sample is the mean of the middle pair.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func sortedCopy(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	return out
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func roundTo(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
