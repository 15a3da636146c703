package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func bayComparables() []sale {
	return []sale{
		{id: 20, community: "Business Bay", building: "Bay Square", unit: "1", price: 1_700_000, size: 1200, date: "2024-01-10", bedrooms: intPtr(1)},
		{id: 21, community: "Business Bay", building: "Bay Square", unit: "2", price: 1_900_000, size: 1400, date: "2024-02-10", bedrooms: intPtr(2)},
		{id: 22, community: "Business Bay", building: "Bay Square", unit: "3", price: 2_100_000, size: 1600, date: "2024-03-10", bedrooms: intPtr(2)},
		{id: 23, community: "Business Bay", building: "Executive Towers", unit: "4", price: 2_300_000, size: 1800, date: "2024-04-10", bedrooms: intPtr(3)},
		{id: 24, community: "Business Bay", building: "Bay Square", unit: "5", price: 1_000_000, size: 1500, date: "2020-01-01"},
		{id: 25, community: "Business Bay", building: "Bay Square", unit: "6", price: 4_000_000, size: 3000, date: "2024-05-01"},
		{id: 26, community: "Dubai Marina", building: "Cayan Tower", unit: "7", price: 2_000_000, size: 1500, date: "2024-05-01"},
	}
}

func comparableIDs(t *testing.T, e *AnalyticsEngine, p ComparablesParams) []int64 {
	t.Helper()
	set, err := e.FindComparables(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, len(set.Comparables), set.Count)
	var ids []int64
	for _, c := range set.Comparables {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestFindComparablesFilters(t *testing.T) {
	e, _ := newTestEngine(t, bayComparables(), nil)

	assert.Equal(t, []int64{23, 22, 21, 20}, comparableIDs(t, e, ComparablesParams{Community: "Business Bay", SizeSqft: 1500}))
	assert.Equal(t, []int64{25, 23, 22, 21, 20}, comparableIDs(t, e, ComparablesParams{Community: "Business Bay"}))
	assert.Equal(t, []int64{22, 21}, comparableIDs(t, e, ComparablesParams{Community: "Business Bay", SizeSqft: 1500, Bedrooms: intPtr(2)}))
	assert.Equal(t, []int64{25, 22, 21, 20}, comparableIDs(t, e, ComparablesParams{Community: "Business Bay", Building: "bay sq"}))
	assert.Equal(t, []int64{25, 23, 22, 21, 20, 24}, comparableIDs(t, e, ComparablesParams{Community: "Business Bay", MonthsBack: 60}))
}

func TestFindComparablesRequiresCommunity(t *testing.T) {
	e, _ := newTestEngine(t, bayComparables(), nil)

	_, err := e.FindComparables(context.Background(), ComparablesParams{SizeSqft: 1500})
	assert.True(t, IsValidation(err))
}

func TestEstimateValueRegression(t *testing.T) {
	e, _ := newTestEngine(t, bayComparables(), nil)

	v, err := e.EstimateValue(context.Background(), ValuationParams{Community: "Business Bay", SizeSqft: 1500})
	require.NoError(t, err)
	require.Empty(t, v.Error)
	assert.Equal(t, 4, v.ComparableCount)

	require.NotNil(t, v.EstimatedPrice)
	assert.InDelta(t, 2_000_000, *v.EstimatedPrice, 0.01)
	require.NotNil(t, v.Confidence)
	assert.InDelta(t, 1.0, *v.Confidence, 1e-9)
	require.NotNil(t, v.AvgPSF)
	assert.Equal(t, 1333.33, *v.AvgPSF)

	require.NotNil(t, v.PriceRange)
	assert.Equal(t, 1_700_000.0, v.PriceRange.Min)
	assert.Equal(t, 2_300_000.0, v.PriceRange.Max)
	assert.Equal(t, 2_000_000.0, v.PriceRange.Median)
}

func TestEstimateValueTooFewComparables(t *testing.T) {
	e, _ := newTestEngine(t, bayComparables(), nil)

	v, err := e.EstimateValue(context.Background(), ValuationParams{Community: "Business Bay", SizeSqft: 1500, Bedrooms: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, "Insufficient comparable sales", v.Error)
	assert.Equal(t, 2, v.ComparableCount)
	assert.Nil(t, v.EstimatedPrice)

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.NotContains(t, fields, "estimated_price")
	assert.NotContains(t, fields, "confidence")
	assert.Contains(t, fields, "error")
}

func TestEstimateValueFlatSizes(t *testing.T) {
	sales := []sale{
		{id: 1, community: "Arjan", price: 1_000_000, size: 1200, date: "2024-01-01"},
		{id: 2, community: "Arjan", price: 1_100_000, size: 1200, date: "2024-02-01"},
		{id: 3, community: "Arjan", price: 1_050_000, size: 1200, date: "2024-03-01"},
	}
	e, _ := newTestEngine(t, sales, nil)

	v, err := e.EstimateValue(context.Background(), ValuationParams{Community: "Arjan", SizeSqft: 1200})
	require.NoError(t, err)
	assert.Equal(t, "Insufficient size variation among comparables", v.Error)
	assert.Nil(t, v.EstimatedPrice)
}

func TestEstimateValueRequiresSize(t *testing.T) {
	e, _ := newTestEngine(t, bayComparables(), nil)

	_, err := e.EstimateValue(context.Background(), ValuationParams{Community: "Business Bay"})
	assert.True(t, IsValidation(err))
}
