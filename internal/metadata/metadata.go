// Package metadata implements the ResourceMetadata registry of
// spec.md §3: an immutable-at-runtime, boot-loaded table from resource
// kind to its CRD schema, cost tiers, and annotation template.
//
// Per SPEC_FULL.md's supplemented features, the registry is loaded from
// a config-supplied JSON file rather than compiled in, so an operator
// can add a resource kind without a binary rebuild.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// CostTier holds the per-unit and monthly-minimum cost for one tier.
type CostTier struct {
	Minimum float64 `json:"minimum"`
	Delta   float64 `json:"delta"`
}

// Kind describes one registered resource kind.
type Kind struct {
	Kind               string              `json:"kind"`
	Category           string              `json:"category"`
	CRDStatusFields    []string            `json:"crd_status_fields"`
	Cost               map[string]CostTier `json:"cost"`
	HandlebarsTemplate string              `json:"handlebars_template"`
}

// Registry is the immutable, boot-loaded set of known resource kinds.
type Registry struct {
	kinds map[string]Kind
}

// Load reads the registry from a JSON file shaped as a list of Kind.
func Load(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata file %s: %w", path, err)
	}

	var list []Kind
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("parsing metadata file %s: %w", path, err)
	}

	return FromKinds(list), nil
}

// FromKinds builds a Registry directly from a slice of Kind; Load uses it,
// and so do tests.
func FromKinds(list []Kind) *Registry {
	kinds := make(map[string]Kind, len(list))
	for _, k := range list {
		kinds[k.Kind] = k
	}
	return &Registry{kinds: kinds}
}

// Lookup returns the Kind registered for kind, or false if unknown.
func (r *Registry) Lookup(kind string) (Kind, bool) {
	k, ok := r.kinds[kind]
	return k, ok
}

// HRP derives the bech32 human-readable prefix for a resource kind, per
// spec.md §6: "lower(kind) \ 'port'" — the lowercased kind with any
// trailing "port" suffix removed.
func HRP(kind string) string {
	lower := strings.ToLower(kind)
	return strings.TrimSuffix(lower, "port")
}

// CostForUnits computes units_cost and an optional minimum_cost for a
// usage aggregation group, per spec.md §4.7.
func (k Kind) CostForUnits(tier string, units int64, intervalSeconds int64, daysInMonth int) (unitsCost float64, minimumCost float64, hasMinimum bool) {
	tierCost, ok := k.Cost[tier]
	if !ok {
		return 0, 0, false
	}

	unitsCost = round2(float64(units) * tierCost.Delta)

	if tierCost.Minimum > 0 {
		secondsInMonth := float64(daysInMonth * 24 * 60 * 60)
		minimumCost = round2(tierCost.Minimum * float64(intervalSeconds) / secondsInMonth)
		hasMinimum = true
	}

	return unitsCost, minimumCost, hasMinimum
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
