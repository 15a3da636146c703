package services

import (
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hbollon/go-edlib"

	"market-engine/metrics"
	"market-engine/models"
	"market-engine/utils"
)

// DefaultFuzzyThreshold is the minimum name similarity (0-100) for two
// unphoned identities to share a cluster.
const DefaultFuzzyThreshold = 90

var (
	clusterNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("market-engine/owner-cluster"))
	ownerNamespace   = uuid.NewSHA1(uuid.NameSpaceOID, []byte("market-engine/owner"))
)

// Similarity scores two normalized names from 0 (unrelated) to 100 (equal).
type Similarity func(a, b string) float64

// IndelRatio is 200*LCS/(len a + len b): the share of characters kept by
// the cheapest insert/delete edit between a and b. Two empty strings score 100.
func IndelRatio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	return 200 * float64(edlib.LCS(a, b)) / float64(total)
}

// indelRatioBound is the best IndelRatio any strings of these lengths can reach.
func indelRatioBound(la, lb int) float64 {
	if la+lb == 0 {
		return 100
	}
	return 200 * float64(min(la, lb)) / float64(la+lb)
}

// IdentityOptions configure an IdentityResolver.
type IdentityOptions struct {
	Threshold  float64
	Similarity Similarity // nil uses IndelRatio
}

// IdentityResolver groups raw buyer/seller identities into owner clusters.
type IdentityResolver struct {
	threshold  float64
	similarity Similarity
	bound      func(la, lb int) float64
	logger     *utils.Logger
	metrics    *metrics.Metrics
}

// NewIdentityResolver creates a resolver. A zero threshold means
// DefaultFuzzyThreshold.
func NewIdentityResolver(opts IdentityOptions, logger *utils.Logger, m *metrics.Metrics) *IdentityResolver {
	r := &IdentityResolver{
		threshold:  opts.Threshold,
		similarity: opts.Similarity,
		logger:     logger,
		metrics:    m,
	}
	if r.threshold <= 0 {
		r.threshold = DefaultFuzzyThreshold
	}
	if r.similarity == nil {
		r.similarity = IndelRatio
		r.bound = indelRatioBound
	}
	return r
}

// Resolution is the outcome of one resolution run.
type Resolution struct {
	// Assignments maps models.Identity.Key() to cluster id.
	Assignments map[string]string
	Clusters    []*models.OwnerCluster // creation order
	Owners      []*models.Owner        // one per cluster, same order

	ownerByCluster map[string]*models.Owner
}

// ClusterOf returns the cluster of a raw (name, phone) pair.
func (res *Resolution) ClusterOf(rawName, rawPhone string) (string, bool) {
	id, ok := res.Assignments[models.IdentityKey(rawName, rawPhone)]
	return id, ok
}

// OwnerFor returns the owner of a raw (name, phone) pair, or nil.
func (res *Resolution) OwnerFor(rawName, rawPhone string) *models.Owner {
	id, ok := res.ClusterOf(rawName, rawPhone)
	if !ok {
		return nil
	}
	return res.ownerByCluster[id]
}

// ResolveRecords extracts identities from records and resolves them.
func (r *IdentityResolver) ResolveRecords(records []*models.RawRecord) *Resolution {
	return r.Resolve(NewCleaner(r.logger).ExtractIdentities(records))
}

// Resolve assigns every identity to a cluster, in order:
//  1. an earlier identity with the same normalized phone,
//  2. the first earlier distinct normalized name whose similarity reaches
//     the threshold, in first-seen order,
//  3. otherwise a new cluster.
//
// Clusters only absorb identities; they never merge with each other or
// split. Repeated keys keep their first assignment.
func (r *IdentityResolver) Resolve(identities []models.Identity) *Resolution {
	ds := NewDisjointSet(len(identities))
	members := make([]models.Identity, 0, len(identities))
	clusterIDs := make(map[int]string) // root -> cluster id
	assigned := make(map[string]int)   // identity key -> element

	phoneToRoot := make(map[string]int)
	nameToRoot := make(map[string]int)
	var names []string
	var nameLens []int
	comparisons := 0

	for _, id := range identities {
		key := id.Key()
		if _, dup := assigned[key]; dup {
			continue
		}

		e := ds.Add()
		members = append(members, id)
		assigned[key] = e
		target, rule := -1, "new"

		if id.NormPhone != "" {
			if root, ok := phoneToRoot[id.NormPhone]; ok {
				target, rule = ds.Find(root), "phone"
			}
		}

		if target < 0 && id.NormName != "" {
			l := utf8.RuneCountInString(id.NormName)
			for i, candidate := range names {
				if r.bound != nil && r.bound(l, nameLens[i]) < r.threshold {
					continue
				}
				comparisons++
				if r.similarity(id.NormName, candidate) >= r.threshold {
					target, rule = ds.Find(nameToRoot[candidate]), "name"
					break
				}
			}
		}

		var root int
		if target >= 0 {
			root = ds.Union(e, target)
		} else {
			root = e
			clusterIDs[root] = uuid.NewSHA1(clusterNamespace, []byte(key)).String()
		}
		r.metrics.IncIdentity(rule)

		if id.NormPhone != "" {
			phoneToRoot[id.NormPhone] = root
		}
		if id.NormName != "" {
			if _, seen := nameToRoot[id.NormName]; !seen {
				names = append(names, id.NormName)
				nameLens = append(nameLens, utf8.RuneCountInString(id.NormName))
			}
			nameToRoot[id.NormName] = root
		}
	}
	r.metrics.AddFuzzyComparisons(comparisons)

	res := &Resolution{
		Assignments:    make(map[string]string, len(members)),
		ownerByCluster: make(map[string]*models.Owner),
	}
	roots, groups := ds.Sets()
	for _, root := range roots {
		cluster := &models.OwnerCluster{ID: clusterIDs[root]}
		for _, e := range groups[root] {
			cluster.Members = append(cluster.Members, members[e])
			res.Assignments[members[e].Key()] = cluster.ID
		}
		owner := buildOwner(cluster)
		res.Clusters = append(res.Clusters, cluster)
		res.Owners = append(res.Owners, owner)
		res.ownerByCluster[cluster.ID] = owner
	}

	r.logger.Info("[identity] Resolved %d identities into %d clusters (%d name comparisons)",
		len(members), len(res.Clusters), comparisons)
	return res
}

// buildOwner materializes the representative of a cluster: first non-empty
// name, first normalized phone, and every distinct phone as a contact.
func buildOwner(c *models.OwnerCluster) *models.Owner {
	o := &models.Owner{
		ID:        uuid.NewSHA1(ownerNamespace, []byte(c.ID)).String(),
		ClusterID: c.ID,
		Members:   c.Members,
	}

	seenPhones := make(map[string]struct{})
	for _, m := range c.Members {
		if o.Name == "" && m.RawName != "" {
			o.Name = m.RawName
			o.NormName = m.NormName
		}
		if m.NormPhone == "" {
			continue
		}
		if o.NormPhone == "" {
			o.Phone = m.RawPhone
			o.NormPhone = m.NormPhone
		}
		if _, dup := seenPhones[m.NormPhone]; dup {
			continue
		}
		seenPhones[m.NormPhone] = struct{}{}
		o.Contacts = append(o.Contacts, models.Contact{
			OwnerID: o.ID,
			Type:    "mobile",
			Value:   m.NormPhone,
			Primary: len(o.Contacts) == 0,
		})
	}
	o.Type = InferOwnerType(o.Name)
	return o
}
