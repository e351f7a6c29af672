// Copyright 2021 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package fitness

import (
	"math"
	"sort"

	"github.com/grailbio/mutfit/genome"
)

// ExclusionSet aggregates, across all contributing clades, the amino-acid
// mutations that must not enter the merge: founder-defining changes
// (already divergent, not recurrent) and every mutation reachable at an
// excluded/masked site. The expected projection covers masked sites too,
// so they must come out of both sides of the join.
func ExclusionSet(g *genome.Genome, founders map[string]*Founder, rename Renamer,
	excludedSites map[int]bool) (map[AaKey]bool, error) {
	excl := make(map[AaKey]bool)
	for _, f := range founders {
		for m := range f.Divergence {
			keys, err := aaKeysAt(g, f, rename, m.Site, m.To)
			if err != nil {
				return nil, err
			}
			for _, k := range keys {
				excl[k] = true
			}
		}
		for site := range excludedSites {
			if !g.IsCoding(site) {
				continue
			}
			from, ok := f.Nt(site)
			if !ok {
				continue
			}
			for _, to := range []byte(genome.Nts) {
				if to == from {
					continue
				}
				keys, err := aaKeysAt(g, f, rename, site, to)
				if err != nil {
					return nil, err
				}
				for _, k := range keys {
					excl[k] = true
				}
			}
		}
	}
	return excl, nil
}

// cellCounts is one cell's joined actual and expected counts at amino-acid
// granularity.
type cellCounts struct {
	actual   int64
	expected float64
}

// MergeResult holds the joined expected-vs-actual counts per grid cell,
// ready for pooling at the three granularities.
type MergeResult struct {
	cells map[CellKey]map[AaKey]cellCounts
}

// Merge joins expected counts with actual counts per (clade, subset, aa
// mutation) and removes the exclusion set from both sides. Cells of clades
// without a rate spectrum are left out entirely: their fitness is
// unavailable, not zero.
func Merge(cells map[CellKey]CountTable, expected map[string]map[AaKey]float64,
	g *genome.Genome, founders map[string]*Founder, rename Renamer,
	excl map[AaKey]bool) (*MergeResult, error) {
	res := &MergeResult{cells: make(map[CellKey]map[AaKey]cellCounts)}
	for cell, counts := range cells {
		exp, ok := expected[cell.Clade]
		if !ok {
			continue
		}
		f := founders[cell.Clade]
		actual, err := AggregateAaCounts(counts, g, f, rename)
		if err != nil {
			return nil, err
		}
		joined := make(map[AaKey]cellCounts)
		for k, e := range exp {
			if excl[k] {
				continue
			}
			joined[k] = cellCounts{expected: e}
		}
		for k, n := range actual {
			if excl[k] {
				continue
			}
			c := joined[k]
			c.actual = n
			joined[k] = c
		}
		res.cells[cell] = joined
	}
	return res, nil
}

func sortAaKeys(keys []AaKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Gene != b.Gene {
			return a.Gene < b.Gene
		}
		if a.Site != b.Site {
			return a.Site < b.Site
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
}

// MergedRows renders the full per-cell join, sorted by clade, subset, and
// mutation. Rows under minExpected are flagged, not dropped; that filter
// belongs to the fitness tables.
func (r *MergeResult) MergedRows(minExpected float64) []MergedRow {
	cellKeys := make([]CellKey, 0, len(r.cells))
	for cell := range r.cells {
		cellKeys = append(cellKeys, cell)
	}
	sort.Slice(cellKeys, func(i, j int) bool {
		if cellKeys[i].Clade != cellKeys[j].Clade {
			return cellKeys[i].Clade < cellKeys[j].Clade
		}
		return cellKeys[i].Subset < cellKeys[j].Subset
	})
	var rows []MergedRow
	for _, cell := range cellKeys {
		joined := r.cells[cell]
		keys := make([]AaKey, 0, len(joined))
		for k := range joined {
			keys = append(keys, k)
		}
		sortAaKeys(keys)
		for _, k := range keys {
			c := joined[k]
			rows = append(rows, MergedRow{
				Clade:       cell.Clade,
				Subset:      cell.Subset,
				Gene:        k.Gene,
				AaSite:      int64(k.Site),
				WtAa:        string(k.From),
				MutAa:       string(k.To),
				Expected:    c.expected,
				Actual:      c.actual,
				LowExpected: c.expected < minExpected,
			})
		}
	}
	return rows
}

// fitnessScore is the pseudocount-regularized log-ratio. Callers must have
// established expected > 0; the pseudocount keeps the score finite as
// either count approaches zero.
func fitnessScore(actual int64, expected, pseudocount float64) float64 {
	return math.Log((float64(actual) + pseudocount) / (expected + pseudocount))
}

// pool sums actual and expected counts across the cells selected by keep.
// Summing happens before the log-ratio so that pooled estimates are not
// biased by cells with very different totals.
func (r *MergeResult) pool(keep func(CellKey) bool) map[AaKey]cellCounts {
	pooled := make(map[AaKey]cellCounts)
	for cell, joined := range r.cells {
		if !keep(cell) {
			continue
		}
		for k, c := range joined {
			p := pooled[k]
			p.actual += c.actual
			p.expected += c.expected
			pooled[k] = p
		}
	}
	return pooled
}

// fitnessRows converts pooled counts to sorted fitness rows, omitting
// zero-expected records (undefined fitness) and records under the
// consumer-side minExpected filter.
func fitnessRows(pooled map[AaKey]cellCounts, pseudocount, minExpected float64) []FitnessRow {
	keys := make([]AaKey, 0, len(pooled))
	for k, c := range pooled {
		if c.expected <= 0 || c.expected < minExpected {
			continue
		}
		keys = append(keys, k)
	}
	sortAaKeys(keys)
	rows := make([]FitnessRow, 0, len(keys))
	for _, k := range keys {
		c := pooled[k]
		rows = append(rows, FitnessRow{
			Gene:     k.Gene,
			AaSite:   int64(k.Site),
			WtAa:     string(k.From),
			MutAa:    string(k.To),
			Expected: c.expected,
			Actual:   c.actual,
			Fitness:  fitnessScore(c.actual, c.expected, pseudocount),
		})
	}
	return rows
}

// FitnessAll pools every cell in the grid. The pooled "all" estimate sums
// raw counts across every contributing clade and subset before the
// log-ratio; clades are not weighted by reliability.
func (r *MergeResult) FitnessAll(pseudocount, minExpected float64) []FitnessRow {
	pooled := r.pool(func(CellKey) bool { return true })
	return fitnessRows(pooled, pseudocount, minExpected)
}

// FitnessByClade pools the subsets within each clade.
func (r *MergeResult) FitnessByClade(pseudocount, minExpected float64) []CladeFitnessRow {
	clades := make(map[string]bool)
	for cell := range r.cells {
		clades[cell.Clade] = true
	}
	names := make([]string, 0, len(clades))
	for clade := range clades {
		names = append(names, clade)
	}
	sort.Strings(names)
	var rows []CladeFitnessRow
	for _, clade := range names {
		pooled := r.pool(func(cell CellKey) bool { return cell.Clade == clade })
		for _, fr := range fitnessRows(pooled, pseudocount, minExpected) {
			rows = append(rows, CladeFitnessRow{
				Clade:    clade,
				Gene:     fr.Gene,
				AaSite:   fr.AaSite,
				WtAa:     fr.WtAa,
				MutAa:    fr.MutAa,
				Expected: fr.Expected,
				Actual:   fr.Actual,
				Fitness:  fr.Fitness,
			})
		}
	}
	return rows
}

// FitnessBySubset pools the clades within each subset.
func (r *MergeResult) FitnessBySubset(pseudocount, minExpected float64) []SubsetFitnessRow {
	subsets := make(map[string]bool)
	for cell := range r.cells {
		subsets[cell.Subset] = true
	}
	names := make([]string, 0, len(subsets))
	for subset := range subsets {
		names = append(names, subset)
	}
	sort.Strings(names)
	var rows []SubsetFitnessRow
	for _, subset := range names {
		pooled := r.pool(func(cell CellKey) bool { return cell.Subset == subset })
		for _, fr := range fitnessRows(pooled, pseudocount, minExpected) {
			rows = append(rows, SubsetFitnessRow{
				Subset:   subset,
				Gene:     fr.Gene,
				AaSite:   fr.AaSite,
				WtAa:     fr.WtAa,
				MutAa:    fr.MutAa,
				Expected: fr.Expected,
				Actual:   fr.Actual,
				Fitness:  fr.Fitness,
			})
		}
	}
	return rows
}
