package services

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-engine/metrics"
	"market-engine/models"
)

func TestDisjointSetUnionKeepsTargetRoot(t *testing.T) {
	d := NewDisjointSet(4)
	a, b, c, e := d.Add(), d.Add(), d.Add(), d.Add()

	assert.Equal(t, a, d.Union(b, a))
	assert.Equal(t, a, d.Union(c, b))
	assert.Equal(t, a, d.Find(c))
	assert.Equal(t, 3, d.Size(c))
	assert.Equal(t, e, d.Find(e))

	roots, members := d.Sets()
	assert.Equal(t, []int{a, e}, roots)
	assert.Equal(t, []int{a, b, c}, members[a])
	assert.Equal(t, []int{e}, members[e])
}

func TestIndelRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"JOHN SMITH", "JOHN SMITH", 100},
		{"", "", 100},
		{"ABCD", "", 0},
		{"ABCD", "ABCE", 75},
		{"MOHAMMED ALI", "MOHAMMAD ALI", 200.0 * 11 / 24},
	}
	for _, tt := range tests {
		got := IndelRatio(tt.a, tt.b)
		if fmt.Sprintf("%.6f", got) != fmt.Sprintf("%.6f", tt.want) {
			t.Errorf("IndelRatio(%q, %q) = %.4f; want %.4f", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestScenarioSharedPhoneJoinsDifferentNames(t *testing.T) {
	r := NewIdentityResolver(IdentityOptions{}, newTestLogger(), nil)
	records := []*models.RawRecord{
		{ID: 1, BuyerName: "John Smith", BuyerPhone: "501234567"},
		{ID: 2, BuyerName: "J. SMITH", BuyerPhone: "501234567"},
		{ID: 3, BuyerName: "Jane Doe"},
	}

	res := r.ResolveRecords(records)
	require.Len(t, res.Clusters, 2)
	assert.Len(t, res.Clusters[0].Members, 2)
	assert.Len(t, res.Clusters[1].Members, 1)

	john, _ := res.ClusterOf("John Smith", "501234567")
	j, _ := res.ClusterOf("J. SMITH", "501234567")
	jane, _ := res.ClusterOf("Jane Doe", "")
	assert.Equal(t, john, j)
	assert.NotEqual(t, john, jane)

	owner := res.OwnerFor("J. SMITH", "501234567")
	require.NotNil(t, owner)
	assert.Equal(t, "John Smith", owner.Name)
	assert.Equal(t, "+971501234567", owner.NormPhone)
	assert.Equal(t, models.OwnerIndividual, owner.Type)
	require.Len(t, owner.Contacts, 1)
	assert.True(t, owner.Contacts[0].Primary)
}

func TestFuzzyThresholdBoundary(t *testing.T) {
	scores := map[[2]string]float64{
		{"ALPHB", "ALPHA"}: 90,
		{"GAMMB", "GAMMA"}: 89,
	}
	fixed := func(a, b string) float64 { return scores[[2]string{a, b}] }

	r := NewIdentityResolver(IdentityOptions{Threshold: 90, Similarity: fixed}, newTestLogger(), nil)
	res := r.Resolve([]models.Identity{
		NewIdentity("alpha", ""),
		NewIdentity("alphb", ""),
		NewIdentity("gamma", ""),
		NewIdentity("gammb", ""),
	})

	a, _ := res.ClusterOf("alpha", "")
	b, _ := res.ClusterOf("alphb", "")
	g, _ := res.ClusterOf("gamma", "")
	h, _ := res.ClusterOf("gammb", "")
	assert.Equal(t, a, b, "similarity exactly at the threshold joins")
	assert.NotEqual(t, g, h, "similarity one below the threshold does not join")
	assert.Len(t, res.Clusters, 3)
}

func TestFuzzyFirstMatchInInsertionOrderWins(t *testing.T) {
	thirdMatchesAll := func(a, b string) float64 {
		if a == "THIRD OWNER" {
			return 100
		}
		return 0
	}
	r := NewIdentityResolver(IdentityOptions{Similarity: thirdMatchesAll}, newTestLogger(), nil)

	// The third identity matches both earlier names and must join the
	// earliest one.
	res := r.Resolve([]models.Identity{
		NewIdentity("First Owner", "0501111111"),
		NewIdentity("Second Owner", "0502222222"),
		NewIdentity("Third Owner", ""),
	})
	first, _ := res.ClusterOf("First Owner", "0501111111")
	third, _ := res.ClusterOf("Third Owner", "")
	assert.Equal(t, first, third)
}

func TestPhoneTakesPrecedenceOverName(t *testing.T) {
	never := func(a, b string) float64 { return 0 }
	r := NewIdentityResolver(IdentityOptions{Similarity: never}, newTestLogger(), nil)

	res := r.Resolve([]models.Identity{
		NewIdentity("Completely Different", "+971 50 123 4567"),
		NewIdentity("Nothing Alike", "0501234567"),
	})
	assert.Len(t, res.Clusters, 1)
}

func TestFuzzyNameJoinsUnphonedVariant(t *testing.T) {
	r := NewIdentityResolver(IdentityOptions{}, newTestLogger(), nil)
	res := r.Resolve([]models.Identity{
		NewIdentity("Mohammed Abdullah Al Mansoori", "0509998888"),
		NewIdentity("MOHAMMED ABDULLA AL MANSOORI", ""),
	})
	assert.Len(t, res.Clusters, 1)
}

func randomIdentities(rng *rand.Rand, n int) []models.Identity {
	first := []string{"Ahmed", "Fatima", "John", "Priya", "Omar", "Li", "Maria", "Ahmad"}
	last := []string{"Khan", "Smith", "Al Maktoum", "Patel", "Haddad", "Smyth", "Chen"}
	out := make([]models.Identity, 0, n)
	for i := 0; i < n; i++ {
		name := first[rng.Intn(len(first))] + " " + last[rng.Intn(len(last))]
		phone := ""
		if rng.Intn(3) > 0 {
			phone = fmt.Sprintf("05%08d", rng.Intn(15))
		}
		out = append(out, NewIdentity(name, phone))
	}
	return out
}

func TestResolutionPartitionsIdentities(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 20; run++ {
		ids := randomIdentities(rng, 60)
		res := NewIdentityResolver(IdentityOptions{}, newTestLogger(), nil).Resolve(ids)

		distinct := make(map[string]struct{})
		for _, id := range ids {
			distinct[id.Key()] = struct{}{}
		}

		seen := make(map[string]int)
		for _, c := range res.Clusters {
			require.NotEmpty(t, c.Members)
			for _, m := range c.Members {
				seen[m.Key()]++
				assert.Equal(t, c.ID, res.Assignments[m.Key()])
			}
		}
		assert.Len(t, seen, len(distinct))
		for key, count := range seen {
			assert.Equal(t, 1, count, "identity %q in %d clusters", key, count)
		}
		assert.Len(t, res.Owners, len(res.Clusters))

		// Phone precedence: equal normalized phones always share a cluster.
		byPhone := make(map[string]string)
		for _, id := range ids {
			if id.NormPhone == "" {
				continue
			}
			cluster := res.Assignments[id.Key()]
			if prev, ok := byPhone[id.NormPhone]; ok {
				assert.Equal(t, prev, cluster)
			}
			byPhone[id.NormPhone] = cluster
		}
	}
}

func TestLengthBoundDoesNotChangeResult(t *testing.T) {
	ids := randomIdentities(rand.New(rand.NewSource(42)), 200)

	pruned := NewIdentityResolver(IdentityOptions{}, newTestLogger(), nil).Resolve(ids)
	exhaustive := NewIdentityResolver(IdentityOptions{Similarity: IndelRatio}, newTestLogger(), nil).Resolve(ids)

	assert.Equal(t, exhaustive.Assignments, pruned.Assignments)
}

func TestResolutionIsDeterministic(t *testing.T) {
	ids := randomIdentities(rand.New(rand.NewSource(3)), 50)
	a := NewIdentityResolver(IdentityOptions{}, newTestLogger(), nil).Resolve(ids)
	b := NewIdentityResolver(IdentityOptions{}, newTestLogger(), nil).Resolve(ids)
	assert.Equal(t, a.Assignments, b.Assignments)
	assert.Equal(t, a.Owners[0].ID, b.Owners[0].ID)
}

func TestInstitutionalOwnerContacts(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := NewIdentityResolver(IdentityOptions{}, newTestLogger(), m)
	res := r.Resolve([]models.Identity{
		NewIdentity("Emaar Properties PJSC", "0501000000"),
		NewIdentity("EMAAR PROPERTIES", "0502000000"),
		NewIdentity("Emaar Properties", "0501000000"),
	})

	require.Len(t, res.Owners, 1)
	o := res.Owners[0]
	assert.Equal(t, models.OwnerDeveloper, o.Type)
	require.Len(t, o.Contacts, 2)
	assert.Equal(t, "+971501000000", o.Contacts[0].Value)
	assert.True(t, o.Contacts[0].Primary)
	assert.False(t, o.Contacts[1].Primary)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClustersCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdentitiesResolved.WithLabelValues("name")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdentitiesResolved.WithLabelValues("phone")))
}
