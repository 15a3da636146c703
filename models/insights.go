package models

import "time"

// MarketStats summarizes prices over a filtered record set.
type MarketStats struct {
	AvgPrice         float64 `json:"avg_price,omitempty"`
	MedianPrice      float64 `json:"median_price,omitempty"`
	AvgPSF           float64 `json:"avg_psf,omitempty"`
	MedianPSF        float64 `json:"median_psf,omitempty"`
	TotalVolume      float64 `json:"total_volume,omitempty"`
	TransactionCount int     `json:"transaction_count,omitempty"`
	Percentile25     float64 `json:"percentile_25,omitempty"`
	Percentile75     float64 `json:"percentile_75,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// GrowthPeriod is one bucket of a growth series.
type GrowthPeriod struct {
	Period    string   `json:"period"`
	AvgPSF    float64  `json:"avg_psf"`
	Count     int      `json:"count"`
	PctChange *float64 `json:"pct_change"`
}

// GrowthSeries is the bucketed price-per-sqft trend of a community.
type GrowthSeries struct {
	Community        string         `json:"community,omitempty"`
	Period           string         `json:"period,omitempty"`
	Periods          []GrowthPeriod `json:"periods,omitempty"`
	LatestChange     float64        `json:"latest_change"`
	CumulativeChange float64        `json:"cumulative_change"`
	Error            string         `json:"error,omitempty"`
}

// MonthActivity is the aggregate of one calendar month across years.
type MonthActivity struct {
	Month            int     `json:"month"`
	Name             string  `json:"name"`
	TransactionCount int     `json:"transaction_count"`
	TotalVolume      float64 `json:"total_volume"`
	AvgPrice         float64 `json:"avg_price"`
}

// SeasonalPatterns ranks calendar months by transaction count.
type SeasonalPatterns struct {
	BusiestMonths []MonthActivity `json:"busiest_months,omitempty"`
	SlowestMonths []MonthActivity `json:"slowest_months,omitempty"`
	Breakdown     []MonthActivity `json:"monthly_breakdown,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Velocity is the transaction rate over a trailing window.
type Velocity struct {
	Velocity           float64 `json:"velocity"`
	WindowDays         int     `json:"window_days"`
	RecentTransactions int     `json:"recent_transactions"`
	AvgPerDay          float64 `json:"avg_per_day"`
	AvgPerWeek         float64 `json:"avg_per_week"`
	AvgPerMonth        float64 `json:"avg_per_month"`
	Error              string  `json:"error,omitempty"`
}

// Comparable is one recent sale used as valuation evidence.
type Comparable struct {
	ID              int64      `json:"id"`
	Community       string     `json:"community"`
	Building        string     `json:"building"`
	Unit            string     `json:"unit"`
	SizeSqft        float64    `json:"size_sqft"`
	Price           float64    `json:"price"`
	PSF             float64    `json:"psf"`
	Bedrooms        *int       `json:"bedrooms,omitempty"`
	TransactionDate *time.Time `json:"transaction_date,omitempty"`
}

// ComparableSet is the outcome of a comparables search.
type ComparableSet struct {
	Comparables []Comparable `json:"comparables"`
	Count       int          `json:"count"`
	Error       string       `json:"error,omitempty"`
}

// PriceRange spans the prices of a comparable set.
type PriceRange struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
}

// Valuation is a regression estimate from comparables. The estimate fields
// are nil when Error is set.
type Valuation struct {
	EstimatedPrice  *float64    `json:"estimated_price,omitempty"`
	Confidence      *float64    `json:"confidence,omitempty"`
	AvgPSF          *float64    `json:"avg_psf,omitempty"`
	PriceRange      *PriceRange `json:"price_range,omitempty"`
	ComparableCount int         `json:"comparable_count"`
	Error           string      `json:"error,omitempty"`
}

// CorrelationPair is one off-diagonal cell of a correlation matrix.
type CorrelationPair struct {
	Community1  string  `json:"community_1"`
	Community2  string  `json:"community_2"`
	Correlation float64 `json:"correlation"`
	DataPoints  int     `json:"data_points"`
}

// Correlation holds the Pearson matrix of monthly price-per-sqft series.
type Correlation struct {
	Matrix            map[string]map[string]float64 `json:"correlation_matrix,omitempty"`
	Strongest         []CorrelationPair             `json:"strongest_correlations,omitempty"`
	OverlappingMonths int                           `json:"overlapping_months,omitempty"`
	Error             string                        `json:"error,omitempty"`
}

// SellerCandidate is an owner who has held a unit long enough to be a
// likely seller.
type SellerCandidate struct {
	OwnerID   string  `json:"owner_id"`
	RawName   string  `json:"raw_name"`
	RawPhone  string  `json:"raw_phone"`
	Community string  `json:"community"`
	Building  string  `json:"building"`
	Unit      string  `json:"unit"`
	LastPrice float64 `json:"last_price"`
	HoldYears float64 `json:"hold_years"`
}

// SellerCandidates lists seller prospects, longest hold first.
type SellerCandidates struct {
	Candidates []SellerCandidate `json:"candidates"`
	Count      int               `json:"count"`
	Error      string            `json:"error,omitempty"`
}

// ActivityFactors are the components of a market activity score.
type ActivityFactors struct {
	VelocityScore    float64 `json:"velocity_score"`
	VolumeScore      float64 `json:"volume_score"`
	TrendScore       float64 `json:"trend_score"`
	VelocityPerMonth float64 `json:"velocity_per_month"`
	TotalVolume      float64 `json:"total_volume"`
}

// ActivityScore is a 0-100 composite of velocity, volume and trend.
type ActivityScore struct {
	Score   float64          `json:"score"`
	Factors *ActivityFactors `json:"factors"`
	Error   string           `json:"error,omitempty"`
}

// Investor is one owner cluster ranked by portfolio value.
type Investor struct {
	ClusterID          string  `json:"cluster_id"`
	OwnerID            string  `json:"owner_id"`
	Name               string  `json:"name"`
	Phone              string  `json:"phone"`
	PropertyCount      int     `json:"property_count"`
	PortfolioValue     float64 `json:"portfolio_value"`
	CommunityDiversity int     `json:"community_diversity"`
}

// InvestorRanking lists the largest portfolios.
type InvestorRanking struct {
	Investors []Investor `json:"investors"`
	Error     string     `json:"error,omitempty"`
}

// Portfolio is every property held by one owner cluster.
type Portfolio struct {
	OwnerID       string      `json:"owner_id,omitempty"`
	OwnerName     string      `json:"owner_name,omitempty"`
	OwnerPhone    string      `json:"owner_phone,omitempty"`
	ClusterID     string      `json:"cluster_id,omitempty"`
	PropertyCount int         `json:"property_count"`
	TotalValue    float64     `json:"total_value"`
	Communities   []string    `json:"communities,omitempty"`
	Properties    []*Property `json:"properties,omitempty"`
	Error         string      `json:"error,omitempty"`
}
