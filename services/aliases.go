package services

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"market-engine/fetcher"
	"market-engine/metrics"
	"market-engine/models"
	"market-engine/storage"
	"market-engine/utils"
)

var (
	// ErrAliasStoreUnavailable wraps failures reading the alias store. A
	// name that simply has no alias is never an error.
	ErrAliasStoreUnavailable = errors.New("alias store unavailable")
	ErrUnknownAliasType      = errors.New("unknown alias type")
)

//go:embed seed_aliases.yaml
var seedAliasesYAML []byte

// RowFetcher reads complete result sets; *fetcher.Fetcher satisfies it.
type RowFetcher interface {
	FetchAll(ctx context.Context, q storage.Query) ([]storage.Row, error)
}

type aliasTable struct {
	base     map[string]string // immutable after load
	byLength []string          // base keys, longest first
	learned  sync.Map          // lowercase input -> canonical, from partial matches
}

func newAliasTable(base map[string]string) *aliasTable {
	keys := make([]string, 0, len(base))
	for k := range base {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return &aliasTable{base: base, byLength: keys}
}

func (t *aliasTable) lookup(key string) (string, bool) {
	if c, ok := t.base[key]; ok {
		return c, true
	}
	if c, ok := t.learned.Load(key); ok {
		return c.(string), true
	}
	return "", false
}

// AliasResolver maps free-text community and building names to canonical
// names. Each alias type is loaded once on first use: the embedded seed
// table overlaid with the alias store. Reads after the load take no locks.
type AliasResolver struct {
	store   RowFetcher
	logger  *utils.Logger
	metrics *metrics.Metrics

	group  singleflight.Group
	tables map[models.AliasType]*atomic.Pointer[aliasTable]
	seed   map[models.AliasType]map[string]string
}

// NewAliasResolver creates a resolver backed by store. It fails only if the
// embedded seed table is malformed.
func NewAliasResolver(store RowFetcher, logger *utils.Logger, m *metrics.Metrics) (*AliasResolver, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(seedAliasesYAML, &raw); err != nil {
		return nil, fmt.Errorf("parse seed aliases: %w", err)
	}

	r := &AliasResolver{
		store:   store,
		logger:  logger,
		metrics: m,
		tables:  make(map[models.AliasType]*atomic.Pointer[aliasTable]),
		seed:    make(map[models.AliasType]map[string]string),
	}
	for _, t := range []models.AliasType{models.AliasCommunity, models.AliasBuilding} {
		r.tables[t] = &atomic.Pointer[aliasTable]{}
		seed := make(map[string]string, len(raw[string(t)]))
		for alias, canonical := range raw[string(t)] {
			seed[strings.ToLower(strings.TrimSpace(alias))] = canonical
		}
		r.seed[t] = seed
	}
	return r, nil
}

// Resolve returns the canonical name for name. Lookup order: cached exact
// match, then the best-confidence alias in the store containing name (cached
// for next time), then name unchanged. A store failure still returns name,
// together with an error wrapping ErrAliasStoreUnavailable.
func (r *AliasResolver) Resolve(ctx context.Context, name string, t models.AliasType) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return name, nil
	}

	tbl, loadErr := r.table(ctx, t)
	if tbl == nil {
		return name, loadErr
	}
	if canonical, ok := tbl.lookup(key); ok {
		r.metrics.IncAliasLookup(string(t), "exact")
		return canonical, nil
	}
	if loadErr != nil {
		r.metrics.IncAliasLookup(string(t), "error")
		return name, loadErr
	}

	best, found, err := r.searchStore(ctx, key, t)
	if err != nil {
		r.metrics.IncAliasLookup(string(t), "error")
		r.logger.Warn("[aliases] partial lookup for %q (%s) failed: %v", name, t, err)
		return name, err
	}
	if !found {
		r.metrics.IncAliasLookup(string(t), "miss")
		return name, nil
	}

	tbl.learned.Store(key, best.Canonical)
	r.metrics.IncAliasLookup(string(t), "partial")
	r.logger.Debug("[aliases] %q -> %q via %q (confidence %.2f)", name, best.Canonical, best.Alias, best.Confidence)
	return best.Canonical, nil
}

// InferFromText finds the longest known community alias embedded in text
// and returns its canonical name, or "" if none occurs.
func (r *AliasResolver) InferFromText(ctx context.Context, text string) (string, error) {
	tbl, err := r.table(ctx, models.AliasCommunity)
	if tbl == nil {
		return "", err
	}
	lower := strings.ToLower(text)
	for _, alias := range tbl.byLength {
		if strings.Contains(lower, alias) {
			return tbl.base[alias], err
		}
	}
	return "", err
}

// AllAliases lists the stored aliases of a canonical name, highest
// confidence first.
func (r *AliasResolver) AllAliases(ctx context.Context, canonical string, t models.AliasType) ([]models.Alias, error) {
	rows, err := r.store.FetchAll(ctx, storage.Query{
		Table:   fetcher.TableAliases,
		Fields:  []string{"alias", "type", "canonical", "confidence"},
		Filters: []storage.Filter{storage.Eq("canonical", canonical), storage.Eq("type", string(t))},
		Order:   []storage.Order{storage.Desc("confidence"), storage.Asc("alias")},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAliasStoreUnavailable, err)
	}
	out := make([]models.Alias, 0, len(rows))
	for _, row := range rows {
		out = append(out, fetcher.DecodeAlias(row))
	}
	return out, nil
}

// Refresh reloads one alias type from the store, discarding learned entries.
func (r *AliasResolver) Refresh(ctx context.Context, t models.AliasType) error {
	ptr, ok := r.tables[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAliasType, t)
	}
	_, err, _ := r.group.Do("refresh:"+string(t), func() (any, error) {
		tbl, err := r.loadTable(ctx, t)
		if err != nil {
			return nil, err
		}
		ptr.Store(tbl)
		return tbl, nil
	})
	return err
}

// Preload loads every alias type.
func (r *AliasResolver) Preload(ctx context.Context) error {
	for _, t := range []models.AliasType{models.AliasCommunity, models.AliasBuilding} {
		if _, err := r.table(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// table returns the loaded table for t. If the store load fails it returns
// a seed-only table together with the error; the load is retried on the
// next call.
func (r *AliasResolver) table(ctx context.Context, t models.AliasType) (*aliasTable, error) {
	ptr, ok := r.tables[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAliasType, t)
	}
	if tbl := ptr.Load(); tbl != nil {
		return tbl, nil
	}

	v, err, _ := r.group.Do(string(t), func() (any, error) {
		if tbl := ptr.Load(); tbl != nil {
			return tbl, nil
		}
		tbl, err := r.loadTable(ctx, t)
		if err != nil {
			return nil, err
		}
		ptr.Store(tbl)
		return tbl, nil
	})
	if err != nil {
		r.logger.Warn("[aliases] loading %s aliases failed, using seed table: %v", t, err)
		return newAliasTable(r.seed[t]), err
	}
	return v.(*aliasTable), nil
}

func (r *AliasResolver) loadTable(ctx context.Context, t models.AliasType) (*aliasTable, error) {
	rows, err := r.store.FetchAll(ctx, storage.Query{
		Table:   fetcher.TableAliases,
		Fields:  []string{"alias", "canonical", "confidence"},
		Filters: []storage.Filter{storage.Eq("type", string(t))},
		Order:   []storage.Order{storage.Desc("confidence"), storage.Asc("alias")},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load %s aliases: %w", ErrAliasStoreUnavailable, t, err)
	}

	base := make(map[string]string, len(r.seed[t])+len(rows))
	for k, v := range r.seed[t] {
		base[k] = v
	}
	fromStore := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		a := fetcher.DecodeAlias(row)
		key := strings.ToLower(strings.TrimSpace(a.Alias))
		if key == "" || a.Canonical == "" {
			continue
		}
		if _, dup := fromStore[key]; dup {
			continue
		}
		fromStore[key] = struct{}{}
		base[key] = a.Canonical
	}

	r.metrics.IncAliasLoad(string(t))
	r.logger.Info("[aliases] Loaded %d %s aliases (%d from store)", len(base), t, len(fromStore))
	return newAliasTable(base), nil
}

func (r *AliasResolver) searchStore(ctx context.Context, key string, t models.AliasType) (models.Alias, bool, error) {
	rows, err := r.store.FetchAll(ctx, storage.Query{
		Table:   fetcher.TableAliases,
		Fields:  []string{"alias", "canonical", "confidence"},
		Filters: []storage.Filter{storage.Eq("type", string(t)), storage.Contains("alias", key)},
		Order:   []storage.Order{storage.Desc("confidence"), storage.Asc("alias")},
	})
	if err != nil {
		return models.Alias{}, false, fmt.Errorf("%w: %w", ErrAliasStoreUnavailable, err)
	}
	for _, row := range rows {
		a := fetcher.DecodeAlias(row)
		if a.Canonical != "" {
			return a, true, nil
		}
	}
	return models.Alias{}, false, nil
}
