package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"market-engine/models"
)

const (
	minOverlapMonths = 3
	topCorrelations  = 5
)

// CorrelationParams name the communities to compare.
type CorrelationParams struct {
	Communities []string `json:"communities" validate:"min=2,dive,required"`
}

type monthlySeries struct {
	community string
	psf       map[string]float64
}

// CommunityCorrelation computes the Pearson correlation of monthly average
// price per sqft between every pair of communities, over the months all of
// them have data for. Pairs whose correlation is undefined are left out.
func (e *AnalyticsEngine) CommunityCorrelation(ctx context.Context, p CorrelationParams) (*models.Correlation, error) {
	if err := e.check(OpCorrelation, p); err != nil {
		return nil, err
	}

	var series []monthlySeries
	seen := make(map[string]bool)
	for _, name := range p.Communities {
		records, community, err := e.gatedTransactions(ctx, name)
		if err != nil {
			return nil, err
		}
		if seen[community] {
			continue
		}
		seen[community] = true

		buckets := make(map[string][]float64)
		for _, r := range dated(records) {
			key := r.TransactionDate.Format("2006-01")
			buckets[key] = append(buckets[key], r.psf)
		}
		if len(buckets) == 0 {
			continue
		}
		s := monthlySeries{community: community, psf: make(map[string]float64, len(buckets))}
		for k, v := range buckets {
			s.psf[k] = stat.Mean(v, nil)
		}
		series = append(series, s)
	}
	if len(series) < 2 {
		return &models.Correlation{Error: errFewCommunities}, nil
	}

	var months []string
	for month := range series[0].psf {
		shared := true
		for _, s := range series[1:] {
			if _, ok := s.psf[month]; !ok {
				shared = false
				break
			}
		}
		if shared {
			months = append(months, month)
		}
	}
	sort.Strings(months)
	if len(months) < minOverlapMonths {
		return &models.Correlation{
			OverlappingMonths: len(months),
			Error:             fmt.Sprintf("Insufficient overlapping data points (%d months)", len(months)),
		}, nil
	}

	values := make([][]float64, len(series))
	for i, s := range series {
		values[i] = make([]float64, len(months))
		for j, m := range months {
			values[i][j] = s.psf[m]
		}
	}

	out := &models.Correlation{
		Matrix:            make(map[string]map[string]float64, len(series)),
		OverlappingMonths: len(months),
	}
	for _, s := range series {
		out.Matrix[s.community] = make(map[string]float64, len(series))
	}
	var pairs []models.CorrelationPair
	for i := range series {
		for j := i; j < len(series); j++ {
			r := stat.Correlation(values[i], values[j], nil)
			if math.IsNaN(r) {
				continue
			}
			r = roundTo(r, 3)
			a, b := series[i].community, series[j].community
			out.Matrix[a][b] = r
			out.Matrix[b][a] = r
			if i != j {
				pairs = append(pairs, models.CorrelationPair{Community1: a, Community2: b, Correlation: r, DataPoints: len(months)})
			}
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return math.Abs(pairs[i].Correlation) > math.Abs(pairs[j].Correlation)
	})
	if len(pairs) > topCorrelations {
		pairs = pairs[:topCorrelations]
	}
	out.Strongest = pairs
	return out, nil
}
