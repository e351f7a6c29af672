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

import "sort"

// AllSubset is the default subset name used when the config defines no
// sample_subsets: the grid then has a single subset spanning every sample.
const AllSubset = "all"

// CountClades tallies samples per clade label.
func CountClades(samples []SampleRow) map[string]int {
	counts := make(map[string]int)
	for _, s := range samples {
		counts[s.Clade]++
	}
	return counts
}

// SelectClades returns the sorted set of clades with at least minSamples
// samples. This set is the single source of truth for the per-clade fan-out
// of every downstream stage: a clade absent here is absent from every
// output. An empty counts map yields an empty selection, not an error.
func SelectClades(counts map[string]int, minSamples int) []string {
	var clades []string
	for clade, n := range counts {
		if n >= minSamples {
			clades = append(clades, clade)
		}
	}
	sort.Strings(clades)
	return clades
}

// CladeCountRows renders the clade counts artifact, sorted by clade.
func CladeCountRows(counts map[string]int, minSamples int) []CladeCountRow {
	rows := make([]CladeCountRow, 0, len(counts))
	for clade, n := range counts {
		rows = append(rows, CladeCountRow{
			Clade:    clade,
			Samples:  int64(n),
			Adequate: n >= minSamples,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Clade < rows[j].Clade })
	return rows
}

// MatchSubsets returns the names of the subsets whose pattern matches the
// sample identifier. Subsets are a partition of samples by contract, so at
// most one name is expected; the full list is returned for diagnostics.
func MatchSubsets(subsets []Subset, sample string) []string {
	var names []string
	for _, s := range subsets {
		if s.Pattern.MatchString(sample) {
			names = append(names, s.Name)
		}
	}
	return names
}

// SubsetNames returns the subset dimension of the analysis grid: the
// configured subsets in name order, or the single default subset when none
// are configured.
func SubsetNames(subsets []Subset) []string {
	if len(subsets) == 0 {
		return []string{AllSubset}
	}
	names := make([]string, 0, len(subsets))
	for _, s := range subsets {
		names = append(names, s.Name)
	}
	return names
}
