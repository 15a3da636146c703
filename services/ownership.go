package services

import (
	"context"
	"sort"
	"strings"

	"market-engine/fetcher"
	"market-engine/models"
	"market-engine/storage"
)

const (
	defaultMinHoldYears  = 3
	defaultSellerLimit   = 50
	defaultInvestorLimit = 10
	daysPerYear          = 365.25
)

// SellerParams filter likely sellers.
type SellerParams struct {
	Community    string  `json:"community"`
	MinHoldYears float64 `json:"min_hold_years" validate:"gte=0"`
	Limit        int     `json:"limit" validate:"gte=0,lte=1000"`
}

// InvestorParams bound the investor ranking.
type InvestorParams struct {
	Limit int `json:"limit" validate:"gte=0,lte=1000"`
}

// PortfolioParams identify an owner by phone, name, or both. Phone is tried
// first.
type PortfolioParams struct {
	Phone string `json:"phone"`
	Name  string `json:"name" validate:"required_without=Phone"`
}

func (e *AnalyticsEngine) ownersByID(ctx context.Context) (map[string]*models.Owner, error) {
	owners, err := e.data.FetchOwners(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Owner, len(owners))
	for _, o := range owners {
		out[o.ID] = o
	}
	return out, nil
}

func (e *AnalyticsEngine) properties(ctx context.Context, community string) ([]*models.Property, error) {
	canonical, err := e.canonicalCommunity(ctx, community)
	if err != nil {
		return nil, err
	}
	var filters []storage.Filter
	if canonical != "" {
		filters = append(filters, storage.Contains("community", canonical))
	}
	return e.data.FetchProperties(ctx, filters...)
}

// privateOwner returns the owner of p when it is a known, non-institutional
// owner.
func privateOwner(p *models.Property, owners map[string]*models.Owner) *models.Owner {
	if p.OwnerID == "" {
		return nil
	}
	o, ok := owners[p.OwnerID]
	if !ok || o.Type.IsInstitutional() {
		return nil
	}
	return o
}

// LikelySellers ranks individual owners by how long they have held their
// unit. Units without a transaction date are skipped.
func (e *AnalyticsEngine) LikelySellers(ctx context.Context, p SellerParams) (*models.SellerCandidates, error) {
	if err := e.check(OpLikelySellers, p); err != nil {
		return nil, err
	}
	minHold := p.MinHoldYears
	if minHold == 0 {
		minHold = defaultMinHoldYears
	}
	limit := p.Limit
	if limit == 0 {
		limit = defaultSellerLimit
	}

	props, err := e.properties(ctx, p.Community)
	if err != nil {
		return nil, err
	}
	owners, err := e.ownersByID(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	candidates := make([]models.SellerCandidate, 0)
	for _, prop := range props {
		if prop.LastTransactionDate == nil {
			continue
		}
		owner := privateOwner(prop, owners)
		if owner == nil {
			continue
		}
		hold := now.Sub(*prop.LastTransactionDate).Hours() / 24 / daysPerYear
		if hold < minHold {
			continue
		}
		candidates = append(candidates, models.SellerCandidate{
			OwnerID:   owner.ID,
			RawName:   owner.Name,
			RawPhone:  owner.Phone,
			Community: prop.Community,
			Building:  prop.Building,
			Unit:      prop.Unit,
			LastPrice: prop.LastPrice,
			HoldYears: roundTo(hold, 1),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].HoldYears != candidates[j].HoldYears {
			return candidates[i].HoldYears > candidates[j].HoldYears
		}
		return models.PropertyKey(candidates[i].Building, candidates[i].Unit) < models.PropertyKey(candidates[j].Building, candidates[j].Unit)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return &models.SellerCandidates{Candidates: candidates, Count: len(candidates)}, nil
}

// TopInvestors ranks owner clusters by the summed last price of the
// properties they hold.
func (e *AnalyticsEngine) TopInvestors(ctx context.Context, p InvestorParams) (*models.InvestorRanking, error) {
	if err := e.check(OpTopInvestors, p); err != nil {
		return nil, err
	}
	limit := p.Limit
	if limit == 0 {
		limit = defaultInvestorLimit
	}

	props, err := e.data.FetchProperties(ctx)
	if err != nil {
		return nil, err
	}
	owners, err := e.ownersByID(ctx)
	if err != nil {
		return nil, err
	}

	byOwner := make(map[string]*models.Investor)
	communities := make(map[string]map[string]struct{})
	for _, prop := range props {
		owner := privateOwner(prop, owners)
		if owner == nil {
			continue
		}
		inv, ok := byOwner[owner.ID]
		if !ok {
			inv = &models.Investor{ClusterID: owner.ClusterID, OwnerID: owner.ID, Name: owner.Name, Phone: owner.Phone}
			byOwner[owner.ID] = inv
			communities[owner.ID] = make(map[string]struct{})
		}
		inv.PropertyCount++
		inv.PortfolioValue += prop.LastPrice
		if prop.Community != "" {
			communities[owner.ID][prop.Community] = struct{}{}
		}
	}
	if len(byOwner) == 0 {
		return &models.InvestorRanking{Investors: []models.Investor{}, Error: "No owner data found"}, nil
	}

	investors := make([]models.Investor, 0, len(byOwner))
	for id, inv := range byOwner {
		inv.CommunityDiversity = len(communities[id])
		inv.PortfolioValue = round2(inv.PortfolioValue)
		investors = append(investors, *inv)
	}
	sort.Slice(investors, func(i, j int) bool {
		a, b := investors[i], investors[j]
		if a.PortfolioValue != b.PortfolioValue {
			return a.PortfolioValue > b.PortfolioValue
		}
		if a.PropertyCount != b.PropertyCount {
			return a.PropertyCount > b.PropertyCount
		}
		return a.OwnerID < b.OwnerID
	})
	if len(investors) > limit {
		investors = investors[:limit]
	}
	return &models.InvestorRanking{Investors: investors}, nil
}

// OwnerPortfolio finds an owner by phone (normalized, then as stored) or by
// normalized name and lists the properties the owner holds.
func (e *AnalyticsEngine) OwnerPortfolio(ctx context.Context, p PortfolioParams) (*models.Portfolio, error) {
	p.Phone = strings.TrimSpace(p.Phone)
	p.Name = strings.TrimSpace(p.Name)
	if err := e.check(OpOwnerPortfolio, p); err != nil {
		return nil, err
	}

	match, err := e.lookupIdentity(ctx, p)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return &models.Portfolio{Error: errOwnerNotFound}, nil
	}

	out := &models.Portfolio{OwnerID: match.OwnerID, OwnerName: match.RawName, OwnerPhone: match.RawPhone}
	owners, err := e.data.FetchOwners(ctx, storage.Eq("id", match.OwnerID))
	if err != nil {
		return nil, err
	}
	if len(owners) > 0 {
		out.ClusterID = owners[0].ClusterID
		out.OwnerName = owners[0].Name
		out.OwnerPhone = owners[0].Phone
	}

	props, err := e.data.FetchProperties(ctx, storage.Eq("owner_id", match.OwnerID))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, prop := range props {
		out.TotalValue += prop.LastPrice
		if _, ok := seen[prop.Community]; !ok && prop.Community != "" {
			seen[prop.Community] = struct{}{}
			out.Communities = append(out.Communities, prop.Community)
		}
	}
	sort.Strings(out.Communities)
	out.Properties = props
	out.PropertyCount = len(props)
	out.TotalValue = round2(out.TotalValue)
	return out, nil
}

func (e *AnalyticsEngine) lookupIdentity(ctx context.Context, p PortfolioParams) (*fetcher.IdentityRow, error) {
	var attempts [][]storage.Filter
	if p.Phone != "" {
		if norm := NormalizePhone(p.Phone); norm != "" {
			attempts = append(attempts, []storage.Filter{storage.Eq("norm_phone", norm)})
		}
		attempts = append(attempts, []storage.Filter{storage.Eq("raw_phone", p.Phone)})
	}
	if p.Name != "" {
		if norm := NormalizeName(p.Name); norm != "" {
			attempts = append(attempts, []storage.Filter{storage.Eq("norm_name", norm)})
		}
	}

	for _, filters := range attempts {
		rows, err := e.data.FetchOwnerIdentities(ctx, filters...)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			if rows[i].OwnerID != "" {
				return &rows[i], nil
			}
		}
	}
	return nil, nil
}
