package services

import (
	"context"
	"sort"

	"gonum.org/v1/gonum/stat"

	"market-engine/models"
	"market-engine/storage"
)

const (
	defaultMonthsBack    = 18
	maxComparables       = 20
	minComparables       = 3
	comparableSizeMargin = 0.30
)

// ComparablesParams describe the subject unit of a comparables search.
// SizeSqft and Bedrooms are only matched when set.
type ComparablesParams struct {
	Community  string  `json:"community" validate:"required"`
	Building   string  `json:"building"`
	SizeSqft   float64 `json:"size_sqft" validate:"gte=0"`
	Bedrooms   *int    `json:"bedrooms" validate:"omitempty,gte=0"`
	MonthsBack int     `json:"months_back" validate:"gte=0,lte=240"`
}

// ValuationParams describe the unit to value. Size is required because the
// estimate regresses price on size.
type ValuationParams struct {
	Community  string  `json:"community" validate:"required"`
	Building   string  `json:"building"`
	SizeSqft   float64 `json:"size_sqft" validate:"gt=0"`
	Bedrooms   *int    `json:"bedrooms" validate:"omitempty,gte=0"`
	MonthsBack int     `json:"months_back" validate:"gte=0,lte=240"`
}

// FindComparables returns up to 20 recent gated sales in the community,
// newest first, within 30% of the subject size.
func (e *AnalyticsEngine) FindComparables(ctx context.Context, p ComparablesParams) (*models.ComparableSet, error) {
	if err := e.check(OpComparables, p); err != nil {
		return nil, err
	}
	records, err := e.comparables(ctx, p)
	if err != nil {
		return nil, err
	}
	out := &models.ComparableSet{Comparables: make([]models.Comparable, 0, len(records)), Count: len(records)}
	for _, r := range records {
		out.Comparables = append(out.Comparables, models.Comparable{
			ID:              r.ID,
			Community:       r.Community,
			Building:        r.Building,
			Unit:            r.Unit,
			SizeSqft:        r.SizeSqft,
			Price:           r.Price,
			PSF:             round2(r.psf),
			Bedrooms:        r.Bedrooms,
			TransactionDate: r.TransactionDate,
		})
	}
	return out, nil
}

func (e *AnalyticsEngine) comparables(ctx context.Context, p ComparablesParams) ([]pricedRecord, error) {
	months := p.MonthsBack
	if months == 0 {
		months = defaultMonthsBack
	}
	cutoff := e.now().AddDate(0, 0, -months*30)
	filters := []storage.Filter{storage.Gte("transaction_date", cutoff)}
	if p.Building != "" {
		filters = append(filters, storage.Contains("building", p.Building))
	}

	records, _, err := e.gatedTransactions(ctx, p.Community, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]pricedRecord, 0, len(records))
	for _, r := range records {
		if r.TransactionDate == nil {
			continue
		}
		if p.SizeSqft > 0 {
			lo := p.SizeSqft * (1 - comparableSizeMargin)
			hi := p.SizeSqft * (1 + comparableSizeMargin)
			if r.SizeSqft < lo || r.SizeSqft > hi {
				continue
			}
		}
		if p.Bedrooms != nil && (r.Bedrooms == nil || *r.Bedrooms != *p.Bedrooms) {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].TransactionDate, out[j].TransactionDate
		if !a.Equal(*b) {
			return a.After(*b)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > maxComparables {
		out = out[:maxComparables]
	}
	return out, nil
}

// EstimateValue fits price = alpha + beta*size over the comparables and
// evaluates it at the subject size. Confidence is the fit's R².
func (e *AnalyticsEngine) EstimateValue(ctx context.Context, p ValuationParams) (*models.Valuation, error) {
	if err := e.check(OpEstimateValue, p); err != nil {
		return nil, err
	}
	records, err := e.comparables(ctx, ComparablesParams(p))
	if err != nil {
		return nil, err
	}
	out := &models.Valuation{ComparableCount: len(records)}
	if len(records) < minComparables {
		out.Error = errFewComparables
		return out, nil
	}

	sizes := make([]float64, len(records))
	prices := make([]float64, len(records))
	flat := true
	for i, r := range records {
		sizes[i] = r.SizeSqft
		prices[i] = r.Price
		if r.SizeSqft != sizes[0] {
			flat = false
		}
	}
	if flat {
		out.Error = errFlatSizes
		return out, nil
	}

	alpha, beta := stat.LinearRegression(sizes, prices, nil, false)
	estimate := round2(alpha + beta*p.SizeSqft)
	confidence := round2(stat.RSquared(sizes, prices, nil, alpha, beta))
	avgPSF := round2(sum(prices) / sum(sizes))
	sorted := sortedCopy(prices)

	out.EstimatedPrice = &estimate
	out.Confidence = &confidence
	out.AvgPSF = &avgPSF
	out.PriceRange = &models.PriceRange{
		Min:    round2(sorted[0]),
		Max:    round2(sorted[len(sorted)-1]),
		Median: round2(quantile(sorted, 0.5)),
	}
	return out, nil
}
