package syncer

import (
	"fmt"
	"math"
	"sort"

	"github.com/ignite/sqp-sync/internal/warehouse"
)

// FilterStrategy selects which ASINs are in scope for a sync run. A
// strategy is immutable once attached to an invocation, and Resolve is
// deterministic: the same candidate distribution always yields the same
// ordered set.
type FilterStrategy interface {
	Name() string
	Resolve(candidates []warehouse.ASINVolume) []string
}

// AllASINs places no restriction on the extraction.
type AllASINs struct{}

func (AllASINs) Name() string { return "all" }

// Resolve returns every candidate ASIN. The sync service short-circuits
// this strategy to an unrestricted warehouse predicate.
func (AllASINs) Resolve(candidates []warehouse.ASINVolume) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.ASIN
	}
	return out
}

// TopASINs keeps the N highest-volume products.
type TopASINs struct{ Count int }

func (s TopASINs) Name() string { return fmt.Sprintf("top-%d", s.Count) }

// Resolve ranks by impression volume descending, ties broken by ASIN
// lexical order.
func (s TopASINs) Resolve(candidates []warehouse.ASINVolume) []string {
	if s.Count <= 0 {
		return nil
	}
	ranked := make([]warehouse.ASINVolume, len(candidates))
	copy(ranked, candidates)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Impressions != ranked[j].Impressions {
			return ranked[i].Impressions > ranked[j].Impressions
		}
		return ranked[i].ASIN < ranked[j].ASIN
	})
	n := s.Count
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].ASIN
	}
	return out
}

// SpecificASINs keeps an explicit set, silently dropping ASINs that are not
// present in the window rather than erroring.
type SpecificASINs struct{ ASINs []string }

func (s SpecificASINs) Name() string { return fmt.Sprintf("specific-%d", len(s.ASINs)) }

func (s SpecificASINs) Resolve(candidates []warehouse.ASINVolume) []string {
	present := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		present[c.ASIN] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, a := range s.ASINs {
		if _, ok := present[a]; !ok {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// RepresentativeASINs samples across the impression-volume distribution so
// head, mid, and tail products are all covered. Candidates are grouped into
// log10 volume buckets; when Count is at least the number of non-empty
// buckets, every bucket contributes at least one ASIN.
type RepresentativeASINs struct{ Count int }

func (s RepresentativeASINs) Name() string { return fmt.Sprintf("representative-%d", s.Count) }

func (s RepresentativeASINs) Resolve(candidates []warehouse.ASINVolume) []string {
	if s.Count <= 0 || len(candidates) == 0 {
		return nil
	}

	// Bucket by order of magnitude. Zero-impression candidates share the
	// lowest bucket.
	buckets := make(map[int][]warehouse.ASINVolume)
	maxBucket := 0
	for _, c := range candidates {
		b := 0
		if c.Impressions > 0 {
			b = int(math.Log10(float64(c.Impressions))) + 1
		}
		buckets[b] = append(buckets[b], c)
		if b > maxBucket {
			maxBucket = b
		}
	}

	// Within each bucket: volume descending, ASIN ascending for ties.
	order := make([]int, 0, len(buckets))
	for b := range buckets {
		order = append(order, b)
		sort.Slice(buckets[b], func(i, j int) bool {
			if buckets[b][i].Impressions != buckets[b][j].Impressions {
				return buckets[b][i].Impressions > buckets[b][j].Impressions
			}
			return buckets[b][i].ASIN < buckets[b][j].ASIN
		})
	}
	sort.Sort(sort.Reverse(sort.IntSlice(order)))

	// Round-robin from the head bucket down until Count is reached; the
	// first full cycle guarantees one pick per non-empty bucket.
	var out []string
	for round := 0; len(out) < s.Count; round++ {
		picked := false
		for _, b := range order {
			if round < len(buckets[b]) {
				out = append(out, buckets[b][round].ASIN)
				picked = true
				if len(out) == s.Count {
					break
				}
			}
		}
		if !picked {
			break
		}
	}
	sort.Strings(out)
	return out
}

// ParseStrategy builds a strategy from CLI-style inputs.
func ParseStrategy(name string, count int, asins []string) (FilterStrategy, error) {
	switch name {
	case "", "all":
		return AllASINs{}, nil
	case "top":
		if count <= 0 {
			return nil, fmt.Errorf("top strategy requires a positive count")
		}
		return TopASINs{Count: count}, nil
	case "specific":
		if len(asins) == 0 {
			return nil, fmt.Errorf("specific strategy requires at least one ASIN")
		}
		return SpecificASINs{ASINs: asins}, nil
	case "representative":
		if count <= 0 {
			return nil, fmt.Errorf("representative strategy requires a positive count")
		}
		return RepresentativeASINs{Count: count}, nil
	}
	return nil, fmt.Errorf("unknown filter strategy %q", name)
}
