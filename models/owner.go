package models

// OwnerType classifies who is behind an owner cluster.
type OwnerType string

const (
	OwnerIndividual OwnerType = "individual"
	OwnerDeveloper  OwnerType = "developer"
	OwnerBank       OwnerType = "bank"
	OwnerLender     OwnerType = "lender"
	OwnerGovernment OwnerType = "government"
	OwnerUnknown    OwnerType = "unknown"
)

// IsInstitutional reports whether the type denotes a developer, bank, lender
// or government body rather than a person.
func (t OwnerType) IsInstitutional() bool {
	switch t {
	case OwnerDeveloper, OwnerBank, OwnerLender, OwnerGovernment:
		return true
	}
	return false
}

// Identity is a raw (name, phone) pair seen on a transaction together with
// its normalized comparison keys.
type Identity struct {
	RawName   string `json:"raw_name"`
	RawPhone  string `json:"raw_phone"`
	NormName  string `json:"norm_name"`
	NormPhone string `json:"norm_phone"`
}

// Key identifies the identity by its raw pair.
func (i Identity) Key() string {
	return IdentityKey(i.RawName, i.RawPhone)
}

// IdentityKey builds the lookup key for a raw name and phone.
func IdentityKey(rawName, rawPhone string) string {
	return rawName + "\x1f" + rawPhone
}

// OwnerCluster is a group of identities believed to be one real owner.
type OwnerCluster struct {
	ID      string
	Members []Identity
}

// Contact is a phone number attached to an owner.
type Contact struct {
	OwnerID string `json:"owner_id"`
	Type    string `json:"contact_type"`
	Value   string `json:"value"`
	Primary bool   `json:"is_primary"`
}

// Owner is the materialized representative of a cluster.
type Owner struct {
	ID        string     `json:"id"`
	ClusterID string     `json:"cluster_id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	NormName  string     `json:"norm_name"`
	NormPhone string     `json:"norm_phone"`
	Type      OwnerType  `json:"owner_type"`
	Members   []Identity `json:"members,omitempty"`
	Contacts  []Contact  `json:"contacts,omitempty"`
}
