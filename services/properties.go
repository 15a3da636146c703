package services

import (
	"sort"

	"market-engine/metrics"
	"market-engine/models"
	"market-engine/utils"
)

// PropertyStateBuilder collapses transactions into one current state per
// (building, unit).
type PropertyStateBuilder struct {
	logger  *utils.Logger
	metrics *metrics.Metrics
}

func NewPropertyStateBuilder(logger *utils.Logger, m *metrics.Metrics) *PropertyStateBuilder {
	return &PropertyStateBuilder{logger: logger, metrics: m}
}

// Build keeps the latest transaction per property (undated transactions
// lose to dated ones, ties go to the highest id) and links its buyer to the
// resolved owner. Institutional buyers are not linked: the property is
// flagged for review and the raw buyer kept in meta. Output is ordered by
// building, then unit.
func (b *PropertyStateBuilder) Build(records []*models.RawRecord, res *Resolution) []*models.Property {
	latest := make(map[string]*models.RawRecord)
	counts := make(map[string]int)
	skipped := 0

	for _, r := range records {
		if !r.HasPropertyKey() {
			skipped++
			continue
		}
		key := models.PropertyKey(r.Building, r.Unit)
		counts[key]++
		if cur, ok := latest[key]; !ok || newer(r, cur) {
			latest[key] = r
		}
	}

	out := make([]*models.Property, 0, len(latest))
	review := 0
	for key, r := range latest {
		p := b.fromRecord(r, res)
		p.Meta.TransactionCount = counts[key]
		if p.Meta.NeedsOwnerReview {
			review++
		}
		b.metrics.ObserveProperty(p.Meta.NeedsOwnerReview)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Building != out[j].Building {
			return out[i].Building < out[j].Building
		}
		return out[i].Unit < out[j].Unit
	})

	b.logger.Info("[properties] Built %d properties from %d records (%d without unit key, %d need owner review)",
		len(out), len(records), skipped, review)
	return out
}

func (b *PropertyStateBuilder) fromRecord(r *models.RawRecord, res *Resolution) *models.Property {
	p := &models.Property{
		Community:           r.Community,
		Building:            r.Building,
		Unit:                r.Unit,
		PropertyType:        r.PropertyType,
		Bedrooms:            r.Bedrooms,
		SizeSqft:            r.SizeSqft,
		Status:              models.PropertyStatusOwned,
		LastPrice:           r.Price,
		LastTransactionDate: r.TransactionDate,
		Meta: models.PropertyMeta{
			Source:            models.PropertySource,
			LastTransactionID: r.ID,
			BuyerName:         r.BuyerName,
			BuyerPhone:        r.BuyerPhone,
		},
	}

	var owner *models.Owner
	if res != nil {
		owner = res.OwnerFor(r.BuyerName, r.BuyerPhone)
	}
	if owner == nil {
		return p
	}

	if owner.Type.IsInstitutional() {
		p.Meta.NeedsOwnerReview = true
		p.Meta.InstitutionalOwner = &models.InstitutionalOwner{
			OwnerID:   owner.ID,
			OwnerType: owner.Type,
			Name:      r.BuyerName,
			Phone:     r.BuyerPhone,
		}
		return p
	}
	p.OwnerID = owner.ID
	return p
}

// newer reports whether a supersedes b as the latest transaction.
func newer(a, b *models.RawRecord) bool {
	switch {
	case a.TransactionDate == nil && b.TransactionDate == nil:
		return a.ID > b.ID
	case a.TransactionDate == nil:
		return false
	case b.TransactionDate == nil:
		return true
	}
	if !a.TransactionDate.Equal(*b.TransactionDate) {
		return a.TransactionDate.After(*b.TransactionDate)
	}
	return a.ID > b.ID
}
