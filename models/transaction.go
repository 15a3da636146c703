package models

import "time"

// RawRecord is one transaction row as fetched from the record source.
// It is never mutated after decoding.
type RawRecord struct {
	ID              int64
	Community       string
	Building        string
	Unit            string
	PropertyType    string
	Price           float64
	SizeSqft        float64
	Bedrooms        *int
	TransactionDate *time.Time
	BuyerName       string
	BuyerPhone      string
	SellerName      string
	SellerPhone     string
}

// PricePerSqft returns price divided by size, or 0 when size is not positive.
func (r *RawRecord) PricePerSqft() float64 {
	if r.SizeSqft <= 0 {
		return 0
	}
	return r.Price / r.SizeSqft
}

// HasPropertyKey reports whether the record identifies a physical unit.
func (r *RawRecord) HasPropertyKey() bool {
	return r.Building != "" && r.Unit != ""
}
