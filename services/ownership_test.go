package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-engine/fetcher"
	"market-engine/storage"
)

func ownershipTables() map[string][]storage.Row {
	prop := func(id int64, community, building, unit string, price float64, date, owner string) storage.Row {
		row := storage.Row{
			"id": id, "community": community, "building": building, "unit": unit,
			"status": "owned", "last_price": price, "owner_id": owner,
		}
		if date != "" {
			row["last_transaction_date"] = date
		}
		return row
	}
	return map[string][]storage.Row{
		fetcher.TableOwners: {
			{"id": "o1", "cluster_id": "c1", "name": "John Smith", "phone": "050 123 4567", "norm_name": "JOHN SMITH", "norm_phone": "+971501234567", "owner_type": "individual"},
			{"id": "o2", "cluster_id": "c2", "name": "Emirates NBD Bank", "norm_name": "EMIRATES NBD BANK", "owner_type": "bank"},
			{"id": "o3", "cluster_id": "c3", "name": "Jane Doe", "phone": "ext 4455", "norm_name": "JANE DOE", "owner_type": "individual"},
		},
		fetcher.TableProperties: {
			prop(1, "Dubai Marina", "Cayan Tower", "101", 2_000_000, "2018-07-01", "o1"),
			prop(2, "Dubai Marina", "Cayan Tower", "102", 1_000_000, "2022-07-01", "o3"),
			prop(3, "Dubai Marina", "Marina Gate", "1", 9_000_000, "2010-01-01", ""),
			prop(4, "Business Bay", "Executive Towers", "1", 8_000_000, "2010-01-01", "o2"),
			prop(5, "Business Bay", "Executive Towers", "2", 1_500_000, "", "o3"),
			prop(6, "Dubai Marina", "Marina Gate", "2", 3_000_000, "2020-01-01", "o3"),
		},
		fetcher.TableOwnerIdentities: {
			{"owner_id": "o1", "raw_name": "John Smith", "raw_phone": "050 123 4567", "norm_name": "JOHN SMITH", "norm_phone": "+971501234567"},
			{"owner_id": "o3", "raw_name": "Jane Doe", "raw_phone": "ext 4455", "norm_name": "JANE DOE", "norm_phone": ""},
		},
	}
}

func TestLikelySellers(t *testing.T) {
	e, _ := newTestEngine(t, nil, ownershipTables())
	ctx := context.Background()

	s, err := e.LikelySellers(ctx, SellerParams{})
	require.NoError(t, err)
	require.Equal(t, 2, s.Count)
	assert.Equal(t, "o1", s.Candidates[0].OwnerID)
	assert.Equal(t, "John Smith", s.Candidates[0].RawName)
	assert.Equal(t, 6.0, s.Candidates[0].HoldYears)
	assert.Equal(t, "o3", s.Candidates[1].OwnerID)
	assert.Equal(t, "2", s.Candidates[1].Unit)
	assert.Equal(t, 4.5, s.Candidates[1].HoldYears)

	s, err = e.LikelySellers(ctx, SellerParams{MinHoldYears: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count)

	// Only a bank-owned unit and an undated unit remain here.
	s, err = e.LikelySellers(ctx, SellerParams{Community: "Business Bay"})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Count)
	assert.NotNil(t, s.Candidates)

	_, err = e.LikelySellers(ctx, SellerParams{MinHoldYears: -1})
	assert.True(t, IsValidation(err))
}

func TestTopInvestors(t *testing.T) {
	e, _ := newTestEngine(t, nil, ownershipTables())
	ctx := context.Background()

	r, err := e.TopInvestors(ctx, InvestorParams{})
	require.NoError(t, err)
	require.Len(t, r.Investors, 2)

	top := r.Investors[0]
	assert.Equal(t, "o3", top.OwnerID)
	assert.Equal(t, "c3", top.ClusterID)
	assert.Equal(t, 3, top.PropertyCount)
	assert.Equal(t, 5_500_000.0, top.PortfolioValue)
	assert.Equal(t, 2, top.CommunityDiversity)
	assert.Equal(t, "o1", r.Investors[1].OwnerID)

	r, err = e.TopInvestors(ctx, InvestorParams{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, r.Investors, 1)
}

func TestTopInvestorsWithoutOwners(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)

	r, err := e.TopInvestors(context.Background(), InvestorParams{})
	require.NoError(t, err)
	assert.Equal(t, "No owner data found", r.Error)
	assert.Empty(t, r.Investors)
}

func TestOwnerPortfolioLookup(t *testing.T) {
	e, _ := newTestEngine(t, nil, ownershipTables())
	ctx := context.Background()

	p, err := e.OwnerPortfolio(ctx, PortfolioParams{Phone: "+971 50 123 4567"})
	require.NoError(t, err)
	require.Empty(t, p.Error)
	assert.Equal(t, "o1", p.OwnerID)
	assert.Equal(t, "c1", p.ClusterID)
	assert.Equal(t, "John Smith", p.OwnerName)
	assert.Equal(t, 1, p.PropertyCount)
	assert.Equal(t, 2_000_000.0, p.TotalValue)
	assert.Equal(t, []string{"Dubai Marina"}, p.Communities)

	// Unnormalizable phones fall back to the stored raw value.
	p, err = e.OwnerPortfolio(ctx, PortfolioParams{Phone: "ext 4455"})
	require.NoError(t, err)
	assert.Equal(t, "o3", p.OwnerID)
	assert.Equal(t, 3, p.PropertyCount)
	assert.Equal(t, 5_500_000.0, p.TotalValue)
	assert.Equal(t, []string{"Business Bay", "Dubai Marina"}, p.Communities)

	p, err = e.OwnerPortfolio(ctx, PortfolioParams{Name: "  jane   doe "})
	require.NoError(t, err)
	assert.Equal(t, "o3", p.OwnerID)
}

func TestOwnerPortfolioNotFound(t *testing.T) {
	e, _ := newTestEngine(t, nil, ownershipTables())
	ctx := context.Background()

	p, err := e.OwnerPortfolio(ctx, PortfolioParams{Phone: "0509999999"})
	require.NoError(t, err)
	assert.Equal(t, "Owner not found", p.Error)
	assert.Zero(t, p.PropertyCount)

	_, err = e.OwnerPortfolio(ctx, PortfolioParams{Phone: "  ", Name: ""})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, OpOwnerPortfolio, verr.Op)
}
