package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"market-engine/models"
	"market-engine/utils"
)

// CountryCode is the calling code phone numbers are normalized into.
const CountryCode = "971"

const subscriberDigits = 9

var legalSuffixes = map[string]struct{}{
	"LLC": {}, "LIMITED": {}, "LTD": {}, "CO": {}, "COMPANY": {},
	"INC": {}, "PLC": {}, "PJSC": {}, "FZE": {}, "FZCO": {},
}

// Keyword lists are checked in this order; the first hit wins.
var ownerTypeKeywords = []struct {
	ownerType models.OwnerType
	keywords  []string
}{
	{models.OwnerGovernment, []string{"GOVERNMENT", "MUNICIPALITY", "MINISTRY", "AUTHORITY", "DEPARTMENT"}},
	{models.OwnerBank, []string{"BANK", "FINANCE", "CREDIT", "CAPITAL", "ISLAMIC", "MORTGAGE"}},
	{models.OwnerLender, []string{"LEASING", "FUND", "FUNDING", "LENDER"}},
	{models.OwnerDeveloper, []string{"DEVELOPER", "PROPERTIES", "PROPERTY", "HOLDING", "ESTATE", "INVEST",
		"PROJECT", "CONTRACTING", "COMMUNITIES", "HOMES"}},
}

// Cleaner canonicalizes raw transaction text and identity fields.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean trims text fields and drops records whose id repeats an earlier one.
// Records without an id are kept.
func (c *Cleaner) Clean(raw []*models.RawRecord) []*models.RawRecord {
	seen := make(map[int64]struct{})
	result := make([]*models.RawRecord, 0, len(raw))

	for _, r := range raw {
		if r.ID != 0 {
			if _, dup := seen[r.ID]; dup {
				c.logger.Debug("[cleaner] Duplicate transaction skipped: %d", r.ID)
				continue
			}
			seen[r.ID] = struct{}{}
		}

		cleaned := *r
		cleaned.Community = normaliseText(r.Community)
		cleaned.Building = normaliseText(r.Building)
		cleaned.Unit = normaliseText(r.Unit)
		cleaned.PropertyType = normaliseText(r.PropertyType)
		cleaned.BuyerName = normaliseText(r.BuyerName)
		cleaned.BuyerPhone = strings.TrimSpace(r.BuyerPhone)
		cleaned.SellerName = normaliseText(r.SellerName)
		cleaned.SellerPhone = strings.TrimSpace(r.SellerPhone)
		result = append(result, &cleaned)
	}

	c.logger.Info("[cleaner] Cleaned %d → %d records (dropped %d)",
		len(raw), len(result), len(raw)-len(result))
	return result
}

// ExtractIdentities returns the distinct (raw name, raw phone) pairs of the
// records: all buyers in record order, then all sellers. Pairs with neither
// a name nor a phone are skipped.
func (c *Cleaner) ExtractIdentities(records []*models.RawRecord) []models.Identity {
	seen := make(map[string]struct{})
	var out []models.Identity

	add := func(name, phone string) {
		if name == "" && phone == "" {
			return
		}
		key := models.IdentityKey(name, phone)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, NewIdentity(name, phone))
	}

	for _, r := range records {
		add(r.BuyerName, r.BuyerPhone)
	}
	for _, r := range records {
		add(r.SellerName, r.SellerPhone)
	}

	c.logger.Debug("[cleaner] Extracted %d distinct identities from %d records", len(out), len(records))
	return out
}

// NewIdentity pairs a raw name and phone with their normalized keys.
func NewIdentity(rawName, rawPhone string) models.Identity {
	return models.Identity{
		RawName:   rawName,
		RawPhone:  rawPhone,
		NormName:  NormalizeName(rawName),
		NormPhone: NormalizePhone(rawPhone),
	}
}

// NormalizeName folds accents, uppercases, collapses whitespace and drops
// legal-suffix tokens such as LLC or LTD, unless nothing else remains.
func NormalizeName(s string) string {
	s = strings.ToUpper(foldAccents(s))
	tokens := strings.Fields(s)

	kept := tokens[:0:0]
	for _, tok := range tokens {
		bare := strings.ReplaceAll(strings.Trim(tok, ".,"), ".", "")
		if _, suffix := legalSuffixes[bare]; suffix {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		kept = tokens
	}
	return strings.Join(kept, " ")
}

// NormalizePhone maps a local, country-prefixed or bare subscriber number to
// "+971XXXXXXXXX". Ambiguous input keeps its last nine digits; fewer than
// nine digits yields "".
func NormalizePhone(s string) string {
	digits := digitsOnly(s)
	n := len(digits)

	switch {
	case n == 0:
		return ""
	case strings.HasPrefix(digits, CountryCode) && n == len(CountryCode)+subscriberDigits:
		return "+" + digits
	case strings.HasPrefix(digits, "0") && n == 1+subscriberDigits:
		return "+" + CountryCode + digits[1:]
	case n == subscriberDigits:
		return "+" + CountryCode + digits
	case n > subscriberDigits:
		return "+" + CountryCode + digits[n-subscriberDigits:]
	}
	return ""
}

// PhonesMatch reports whether both inputs normalize to the same number.
func PhonesMatch(a, b string) bool {
	na := NormalizePhone(a)
	return na != "" && na == NormalizePhone(b)
}

// InferOwnerType classifies a buyer or seller name by keyword.
func InferOwnerType(name string) models.OwnerType {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "" {
		return models.OwnerUnknown
	}
	for _, group := range ownerTypeKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(upper, kw) {
				return group.ownerType
			}
		}
	}
	return models.OwnerIndividual
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
