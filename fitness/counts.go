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
	"fmt"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/mutfit/genome"
)

// CellKey identifies one cell of the (clade, subset) analysis grid.
type CellKey struct {
	Clade  string
	Subset string
}

// CountTable holds additive nucleotide mutation counts for one grid cell.
// A mutation absent from the table has count zero; an empty table is a
// legitimate result for a cell with no qualifying branches.
type CountTable map[genome.NtMut]int64

// CountOpts are the Mutation Counter's filter settings, derived from the
// Config plus the aggregated site exclusions.
type CountOpts struct {
	MaxNtMutations              int
	MaxReversionsToRef          int
	MaxReversionsToCladeFounder int
	ExcludeRefToFounderMuts     bool
	ExcludeTerminalBranches     bool
	// ExcludedSites is the union of sites_to_exclude, the UShER mask, and
	// the site-mask table.
	ExcludedSites map[int]bool
}

// CountOptsFromConfig assembles CountOpts from the config and the two mask
// tables.
func CountOptsFromConfig(cfg Config, mask []SiteMaskRow, usher []UsherMaskedSiteRow) CountOpts {
	excluded := make(map[int]bool)
	for _, site := range cfg.SitesToExclude {
		excluded[site] = true
	}
	for _, row := range usher {
		excluded[int(row.Site)] = true
	}
	for _, row := range mask {
		if row.Masked {
			excluded[int(row.Site)] = true
		}
	}
	return CountOpts{
		MaxNtMutations:              cfg.MaxNtMutations,
		MaxReversionsToRef:          cfg.MaxReversionsToRef,
		MaxReversionsToCladeFounder: cfg.MaxReversionsToCladeFounder,
		ExcludeRefToFounderMuts:     cfg.ExcludeRefToFounderMuts,
		ExcludeTerminalBranches:     cfg.ExcludeTerminalBranches,
		ExcludedSites:               excluded,
	}
}

// ntMutOf validates and converts one branch row to a NtMut. Unparseable
// nucleotides are schema violations, fatal for the stage.
func ntMutOf(row BranchMutRow) (genome.NtMut, error) {
	if len(row.AncNt) != 1 || !genome.IsNt(row.AncNt[0]) {
		return genome.NtMut{}, fmt.Errorf("mutation counter: clade %s subset %s site %d: bad ancestral nucleotide %q",
			row.Clade, row.Subset, row.Site, row.AncNt)
	}
	if len(row.DerNt) != 1 || !genome.IsNt(row.DerNt[0]) {
		return genome.NtMut{}, fmt.Errorf("mutation counter: clade %s subset %s site %d: bad derived nucleotide %q",
			row.Clade, row.Subset, row.Site, row.DerNt)
	}
	if row.Site < 1 {
		return genome.NtMut{}, fmt.Errorf("mutation counter: clade %s subset %s: non-positive site %d",
			row.Clade, row.Subset, row.Site)
	}
	return genome.NtMut{Site: int(row.Site), From: row.AncNt[0], To: row.DerNt[0]}, nil
}

// FilterBranchMuts applies the counting filters, in order, to one grid
// cell's branch mutation rows and returns the surviving rows:
//
//  1. whole branches over the mutation-load cap are dropped;
//  2. per branch, reversions toward the reference (resp. clade founder)
//     are dropped when their per-branch count exceeds the cap;
//  3. mutations matching the clade's founder-vs-reference divergence are
//     dropped when configured;
//  4. mutations at excluded/masked sites are dropped.
//
// The result does not depend on row order, and re-filtering filtered rows
// is a no-op.
func FilterBranchMuts(rows []BranchMutRow, g *genome.Genome, f *Founder, opts CountOpts) ([]BranchMutRow, error) {
	byBranch := make(map[string][]BranchMutRow)
	var branches []string
	for _, row := range rows {
		if _, seen := byBranch[row.Branch]; !seen {
			branches = append(branches, row.Branch)
		}
		byBranch[row.Branch] = append(byBranch[row.Branch], row)
	}
	sort.Strings(branches)

	var kept []BranchMutRow
	for _, branch := range branches {
		brows := byBranch[branch]
		if opts.ExcludeTerminalBranches && brows[0].Terminal {
			continue
		}
		load := len(brows)
		for _, row := range brows {
			if int(row.BranchMuts) > load {
				load = int(row.BranchMuts)
			}
		}
		if load > opts.MaxNtMutations {
			continue
		}

		// Per-branch reversion census. A branch exceeding a reversion cap
		// has all reversions of that kind dropped; non-reversion mutations
		// on the branch survive.
		nRevRef, nRevFounder := 0, 0
		for _, row := range brows {
			m, err := ntMutOf(row)
			if err != nil {
				return nil, err
			}
			if !g.IsCoding(m.Site) {
				continue
			}
			if m.To == g.RefNt(m.Site) {
				nRevRef++
			}
			if nt, ok := f.Nt(m.Site); ok && m.To == nt && m.To != g.RefNt(m.Site) {
				nRevFounder++
			}
		}
		dropRevRef := nRevRef > opts.MaxReversionsToRef
		dropRevFounder := nRevFounder > opts.MaxReversionsToCladeFounder

		for _, row := range brows {
			m, err := ntMutOf(row)
			if err != nil {
				return nil, err
			}
			if !g.IsCoding(m.Site) {
				log.Error.Printf("mutation counter: clade %s subset %s: dropping mutation %s outside the coding region",
					row.Clade, row.Subset, m)
				continue
			}
			if dropRevRef && m.To == g.RefNt(m.Site) {
				continue
			}
			if dropRevFounder {
				if nt, ok := f.Nt(m.Site); ok && m.To == nt && m.To != g.RefNt(m.Site) {
					continue
				}
			}
			if opts.ExcludeRefToFounderMuts && f.Divergence[m] {
				continue
			}
			if opts.ExcludedSites[m.Site] {
				continue
			}
			kept = append(kept, row)
		}
	}
	return kept, nil
}

// CountMutations runs the filters and accumulates the surviving mutations
// into a CountTable. Counting is associative and commutative: any
// partition of the input rows by branch sums to the same table.
func CountMutations(rows []BranchMutRow, g *genome.Genome, f *Founder, opts CountOpts) (CountTable, error) {
	kept, err := FilterBranchMuts(rows, g, f, opts)
	if err != nil {
		return nil, err
	}
	counts := make(CountTable)
	for _, row := range kept {
		m, err := ntMutOf(row)
		if err != nil {
			return nil, err
		}
		counts[m]++
	}
	return counts, nil
}

// NtCountRows renders one cell's count table as sorted artifact rows.
func NtCountRows(cell CellKey, counts CountTable) []NtCountRow {
	muts := make([]genome.NtMut, 0, len(counts))
	for m := range counts {
		muts = append(muts, m)
	}
	sort.Slice(muts, func(i, j int) bool {
		if muts[i].Site != muts[j].Site {
			return muts[i].Site < muts[j].Site
		}
		return muts[i].String() < muts[j].String()
	})
	rows := make([]NtCountRow, 0, len(muts))
	for _, m := range muts {
		rows = append(rows, NtCountRow{
			Clade:    cell.Clade,
			Subset:   cell.Subset,
			Site:     int64(m.Site),
			Mutation: m.String(),
			Count:    counts[m],
		})
	}
	return rows
}
