package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"market-engine/models"
	"market-engine/storage"
)

const (
	defaultVelocityWindow = 90
	activityWindowDays    = 90
	activityVelocityCap   = 10.0
	activityVolumeCap     = 1e9
)

// MarketStatsParams filter a market summary. Dates are YYYY-MM-DD.
type MarketStatsParams struct {
	Community string `json:"community"`
	StartDate string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

// GrowthParams select the community and bucket size of a growth series.
type GrowthParams struct {
	Community string `json:"community" validate:"required"`
	Period    string `json:"period" validate:"omitempty,oneof=YoY QoQ MoM"`
}

// SeasonalParams scope a seasonal breakdown.
type SeasonalParams struct {
	Community string `json:"community"`
}

// VelocityParams scope a transaction velocity query.
type VelocityParams struct {
	Community  string `json:"community"`
	WindowDays int    `json:"window_days" validate:"gte=0,lte=3650"`
}

// ActivityParams scope a market activity score.
type ActivityParams struct {
	Community string `json:"community"`
}

// MarketStats summarizes price and price per sqft for the matching
// transactions.
func (e *AnalyticsEngine) MarketStats(ctx context.Context, p MarketStatsParams) (*models.MarketStats, error) {
	if err := e.check(OpMarketStats, p); err != nil {
		return nil, err
	}
	var (
		filters    []storage.Filter
		start, end time.Time
	)
	if p.StartDate != "" {
		start, _ = time.Parse(time.DateOnly, p.StartDate)
		filters = append(filters, storage.Gte("transaction_date", start))
	}
	if p.EndDate != "" {
		end, _ = time.Parse(time.DateOnly, p.EndDate)
		if !start.IsZero() && end.Before(start) {
			return nil, &ValidationError{Op: OpMarketStats, Err: fmt.Errorf("end_date %s is before start_date %s", p.EndDate, p.StartDate)}
		}
		// Inclusive of the whole end day.
		filters = append(filters, storage.Lte("transaction_date", end.AddDate(0, 0, 1).Add(-time.Nanosecond)))
	}

	records, _, err := e.gatedTransactions(ctx, p.Community, filters...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &models.MarketStats{Error: errNoData}, nil
	}

	prices := make([]float64, len(records))
	psfs := make([]float64, len(records))
	for i, r := range records {
		prices[i] = r.Price
		psfs[i] = r.psf
	}
	sortedPrices := sortedCopy(prices)
	sortedPSF := sortedCopy(psfs)

	return &models.MarketStats{
		AvgPrice:         round2(stat.Mean(prices, nil)),
		MedianPrice:      round2(quantile(sortedPrices, 0.5)),
		AvgPSF:           round2(stat.Mean(psfs, nil)),
		MedianPSF:        round2(quantile(sortedPSF, 0.5)),
		TotalVolume:      round2(sum(prices)),
		TransactionCount: len(records),
		Percentile25:     round2(quantile(sortedPrices, 0.25)),
		Percentile75:     round2(quantile(sortedPrices, 0.75)),
	}, nil
}

func periodKey(t time.Time, period string) string {
	switch period {
	case "QoQ":
		return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	case "MoM":
		return t.Format("2006-01")
	}
	return t.Format("2006")
}

// GrowthRate buckets price per sqft by year, quarter or month and reports
// the change between consecutive buckets.
func (e *AnalyticsEngine) GrowthRate(ctx context.Context, p GrowthParams) (*models.GrowthSeries, error) {
	if err := e.check(OpGrowthRate, p); err != nil {
		return nil, err
	}
	if p.Period == "" {
		p.Period = "YoY"
	}
	records, community, err := e.gatedTransactions(ctx, p.Community)
	if err != nil {
		return nil, err
	}
	records = dated(records)
	out := &models.GrowthSeries{Community: community, Period: p.Period}
	if len(records) == 0 {
		out.Error = errNoData
		return out, nil
	}

	buckets := make(map[string][]float64)
	for _, r := range records {
		key := periodKey(*r.TransactionDate, p.Period)
		buckets[key] = append(buckets[key], r.psf)
	}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	avgs := make([]float64, len(keys))
	for i, k := range keys {
		avgs[i] = stat.Mean(buckets[k], nil)
		period := models.GrowthPeriod{Period: k, AvgPSF: round2(avgs[i]), Count: len(buckets[k])}
		if i > 0 {
			change := round2((avgs[i] - avgs[i-1]) / avgs[i-1] * 100)
			period.PctChange = &change
		}
		out.Periods = append(out.Periods, period)
	}
	if n := len(avgs); n >= 2 {
		out.LatestChange = *out.Periods[n-1].PctChange
		out.CumulativeChange = round2((avgs[n-1] - avgs[0]) / avgs[0] * 100)
	}
	return out, nil
}

// SeasonalPatterns aggregates transactions by calendar month across years.
func (e *AnalyticsEngine) SeasonalPatterns(ctx context.Context, p SeasonalParams) (*models.SeasonalPatterns, error) {
	if err := e.check(OpSeasonalPatterns, p); err != nil {
		return nil, err
	}
	records, _, err := e.gatedTransactions(ctx, p.Community)
	if err != nil {
		return nil, err
	}
	records = dated(records)
	if len(records) == 0 {
		return &models.SeasonalPatterns{Error: errNoData}, nil
	}

	var months [13]models.MonthActivity
	for _, r := range records {
		m := &months[r.TransactionDate.Month()]
		m.TransactionCount++
		m.TotalVolume += r.Price
	}
	var breakdown []models.MonthActivity
	for i := 1; i <= 12; i++ {
		m := months[i]
		if m.TransactionCount == 0 {
			continue
		}
		m.Month = i
		m.Name = time.Month(i).String()
		m.AvgPrice = round2(m.TotalVolume / float64(m.TransactionCount))
		m.TotalVolume = round2(m.TotalVolume)
		breakdown = append(breakdown, m)
	}

	byCount := append([]models.MonthActivity(nil), breakdown...)
	sort.SliceStable(byCount, func(i, j int) bool {
		return byCount[i].TransactionCount > byCount[j].TransactionCount
	})
	busiest := byCount[:min(3, len(byCount))]

	slowest := append([]models.MonthActivity(nil), breakdown...)
	sort.SliceStable(slowest, func(i, j int) bool {
		return slowest[i].TransactionCount < slowest[j].TransactionCount
	})
	slowest = slowest[:min(3, len(slowest))]

	return &models.SeasonalPatterns{
		BusiestMonths: busiest,
		SlowestMonths: slowest,
		Breakdown:     breakdown,
	}, nil
}

// TransactionVelocity counts transactions in the window that ends at the
// most recent transaction date.
func (e *AnalyticsEngine) TransactionVelocity(ctx context.Context, p VelocityParams) (*models.Velocity, error) {
	if err := e.check(OpTransactionVelocity, p); err != nil {
		return nil, err
	}
	window := p.WindowDays
	if window == 0 {
		window = defaultVelocityWindow
	}
	records, _, err := e.gatedTransactions(ctx, p.Community)
	if err != nil {
		return nil, err
	}
	records = dated(records)
	if len(records) == 0 {
		return &models.Velocity{WindowDays: window, Error: errNoData}, nil
	}

	latest := *records[0].TransactionDate
	for _, r := range records[1:] {
		if r.TransactionDate.After(latest) {
			latest = *r.TransactionDate
		}
	}
	cutoff := latest.AddDate(0, 0, -window)
	recent := 0
	for _, r := range records {
		if !r.TransactionDate.Before(cutoff) {
			recent++
		}
	}

	velocity := float64(recent) / float64(window)
	return &models.Velocity{
		Velocity:           round2(velocity),
		WindowDays:         window,
		RecentTransactions: recent,
		AvgPerDay:          round2(velocity),
		AvgPerWeek:         round2(velocity * 7),
		AvgPerMonth:        round2(velocity * 30),
	}, nil
}

// MarketActivityScore combines recent velocity, total volume and the monthly
// count trend into a 0-100 score weighted 40/30/30.
func (e *AnalyticsEngine) MarketActivityScore(ctx context.Context, p ActivityParams) (*models.ActivityScore, error) {
	if err := e.check(OpMarketActivityScore, p); err != nil {
		return nil, err
	}
	records, _, err := e.gatedTransactions(ctx, p.Community)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &models.ActivityScore{Score: 0, Factors: &models.ActivityFactors{}}, nil
	}

	cutoff := e.now().AddDate(0, 0, -activityWindowDays)
	recent := 0
	var volume float64
	monthly := make(map[string]float64)
	for _, r := range records {
		volume += r.Price
		if r.TransactionDate == nil {
			continue
		}
		if !r.TransactionDate.Before(cutoff) {
			recent++
		}
		monthly[r.TransactionDate.Format("2006-01")]++
	}

	perMonth := float64(recent) / (activityWindowDays / 30)
	velocityScore := math.Min(perMonth/activityVelocityCap*100, 100)
	volumeScore := math.Min(volume/activityVolumeCap*100, 100)

	trendScore := 50.0
	if len(monthly) > 1 {
		keys := make([]string, 0, len(monthly))
		counts := make([]float64, 0, len(monthly))
		for k := range monthly {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			counts = append(counts, monthly[k])
		}
		trend := (counts[len(counts)-1]/stat.Mean(counts, nil) - 1) * 100
		trendScore = clamp(50+trend, 0, 100)
	}

	score := 0.4*velocityScore + 0.3*volumeScore + 0.3*trendScore
	return &models.ActivityScore{
		Score: round2(score),
		Factors: &models.ActivityFactors{
			VelocityScore:    round2(velocityScore),
			VolumeScore:      round2(volumeScore),
			TrendScore:       round2(trendScore),
			VelocityPerMonth: round2(perMonth),
			TotalVolume:      round2(volume),
		},
	}, nil
}
