package models

// AliasType is the kind of location an alias names.
type AliasType string

const (
	AliasCommunity AliasType = "community"
	AliasBuilding  AliasType = "building"
)

// Alias maps a free-text location name to its canonical form.
type Alias struct {
	Alias      string    `json:"alias" yaml:"alias"`
	Type       AliasType `json:"type" yaml:"type"`
	Canonical  string    `json:"canonical" yaml:"canonical"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
}
