package fetcher

import (
	"context"
	"encoding/json"
	"fmt"

	"market-engine/models"
	"market-engine/storage"
)

const (
	TableTransactions    = "transactions"
	TableProperties      = "properties"
	TableOwners          = "owners"
	TableOwnerIdentities = "owner_identities"
	TableAliases         = "aliases"
)

// TransactionFields are the columns every transaction query selects.
var TransactionFields = []string{
	"id", "community", "building", "unit", "property_type", "size_sqft", "price",
	"transaction_date", "buyer_name", "seller_name", "buyer_phone", "seller_phone", "bedrooms",
}

var propertyFields = []string{
	"id", "community", "building", "unit", "property_type", "bedrooms", "size_sqft",
	"status", "last_price", "last_transaction_date", "owner_id", "meta",
}

var ownerFields = []string{"id", "cluster_id", "name", "phone", "norm_name", "norm_phone", "owner_type"}

// IdentityRow links a stored identity to its owner.
type IdentityRow struct {
	OwnerID string
	models.Identity
}

// FetchTransactions returns transactions newest first (undated last, ties by
// highest id).
func (f *Fetcher) FetchTransactions(ctx context.Context, filters ...storage.Filter) ([]*models.RawRecord, error) {
	rows, err := f.FetchAll(ctx, storage.Query{
		Table:   TableTransactions,
		Fields:  TransactionFields,
		Filters: filters,
		Order:   []storage.Order{storage.DescNullsLast("transaction_date"), storage.Desc("id")},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.RawRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, DecodeRecord(row))
	}
	return out, nil
}

// FetchProperties returns stored property states ordered by id.
func (f *Fetcher) FetchProperties(ctx context.Context, filters ...storage.Filter) ([]*models.Property, error) {
	rows, err := f.FetchAll(ctx, storage.Query{
		Table:   TableProperties,
		Fields:  propertyFields,
		Filters: filters,
		Order:   []storage.Order{storage.Asc("id")},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Property, 0, len(rows))
	for _, row := range rows {
		p, err := DecodeProperty(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// FetchOwners returns stored owners ordered by id.
func (f *Fetcher) FetchOwners(ctx context.Context, filters ...storage.Filter) ([]*models.Owner, error) {
	rows, err := f.FetchAll(ctx, storage.Query{
		Table:   TableOwners,
		Fields:  ownerFields,
		Filters: filters,
		Order:   []storage.Order{storage.Asc("id")},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Owner, 0, len(rows))
	for _, row := range rows {
		out = append(out, DecodeOwner(row))
	}
	return out, nil
}

// FetchOwnerIdentities returns stored identities matching filters.
func (f *Fetcher) FetchOwnerIdentities(ctx context.Context, filters ...storage.Filter) ([]IdentityRow, error) {
	rows, err := f.FetchAll(ctx, storage.Query{
		Table:   TableOwnerIdentities,
		Fields:  []string{"owner_id", "raw_name", "raw_phone", "norm_name", "norm_phone"},
		Filters: filters,
		Order:   []storage.Order{storage.Asc("raw_name"), storage.Asc("raw_phone")},
	})
	if err != nil {
		return nil, err
	}
	out := make([]IdentityRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, IdentityRow{
			OwnerID: storage.String(row["owner_id"]),
			Identity: models.Identity{
				RawName:   storage.String(row["raw_name"]),
				RawPhone:  storage.String(row["raw_phone"]),
				NormName:  storage.String(row["norm_name"]),
				NormPhone: storage.String(row["norm_phone"]),
			},
		})
	}
	return out, nil
}

// DecodeRecord converts a transaction row. Missing or unparsable numbers
// decode as zero and are rejected later by the quality gate.
func DecodeRecord(row storage.Row) *models.RawRecord {
	r := &models.RawRecord{
		Community:    storage.String(row["community"]),
		Building:     storage.String(row["building"]),
		Unit:         storage.String(row["unit"]),
		PropertyType: storage.String(row["property_type"]),
		BuyerName:    storage.String(row["buyer_name"]),
		BuyerPhone:   storage.String(row["buyer_phone"]),
		SellerName:   storage.String(row["seller_name"]),
		SellerPhone:  storage.String(row["seller_phone"]),
	}
	r.ID, _ = storage.Int(row["id"])
	r.Price, _ = storage.Float(row["price"])
	r.SizeSqft, _ = storage.Float(row["size_sqft"])
	if n, ok := storage.Int(row["bedrooms"]); ok {
		b := int(n)
		r.Bedrooms = &b
	}
	if t, ok := storage.Time(row["transaction_date"]); ok {
		r.TransactionDate = &t
	}
	return r
}

// DecodeProperty converts a property row, including its JSON meta payload.
func DecodeProperty(row storage.Row) (*models.Property, error) {
	p := &models.Property{
		Community:    storage.String(row["community"]),
		Building:     storage.String(row["building"]),
		Unit:         storage.String(row["unit"]),
		PropertyType: storage.String(row["property_type"]),
		Status:       storage.String(row["status"]),
		OwnerID:      storage.String(row["owner_id"]),
	}
	p.ID, _ = storage.Int(row["id"])
	p.SizeSqft, _ = storage.Float(row["size_sqft"])
	p.LastPrice, _ = storage.Float(row["last_price"])
	if n, ok := storage.Int(row["bedrooms"]); ok {
		b := int(n)
		p.Bedrooms = &b
	}
	if t, ok := storage.Time(row["last_transaction_date"]); ok {
		p.LastTransactionDate = &t
	}

	switch meta := row["meta"].(type) {
	case nil:
	case models.PropertyMeta:
		p.Meta = meta
	default:
		raw := storage.String(meta)
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &p.Meta); err != nil {
				return nil, fmt.Errorf("decode property %d meta: %w", p.ID, err)
			}
		}
	}
	return p, nil
}

// DecodeOwner converts an owner row.
func DecodeOwner(row storage.Row) *models.Owner {
	ownerType := models.OwnerType(storage.String(row["owner_type"]))
	if ownerType == "" {
		ownerType = models.OwnerUnknown
	}
	return &models.Owner{
		ID:        storage.String(row["id"]),
		ClusterID: storage.String(row["cluster_id"]),
		Name:      storage.String(row["name"]),
		Phone:     storage.String(row["phone"]),
		NormName:  storage.String(row["norm_name"]),
		NormPhone: storage.String(row["norm_phone"]),
		Type:      ownerType,
	}
}

// DecodeAlias converts an alias row.
func DecodeAlias(row storage.Row) models.Alias {
	a := models.Alias{
		Alias:     storage.String(row["alias"]),
		Type:      models.AliasType(storage.String(row["type"])),
		Canonical: storage.String(row["canonical"]),
	}
	a.Confidence, _ = storage.Float(row["confidence"])
	return a
}
