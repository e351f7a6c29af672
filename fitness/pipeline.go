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

// Package fitness estimates the fitness effect of amino-acid mutations
// from mutation counts observed on a mutation-annotated phylogenetic tree.
// The pipeline is a single-pass deterministic batch transform: clade
// selection, founder resolution, filtered mutation counting over the
// (clade, subset) grid, synonymous rate estimation, neutral expected-count
// projection, and pseudocount-regularized fitness scoring.
package fitness

import (
	"context"
	"fmt"
	"runtime"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/mutfit/genome"
)

// Output artifact names under Config.OutDir.
const (
	CladeCountsFile   = "clade_counts.tsv"
	NtCountsFile      = "nt_mutation_counts.tsv"
	RatesFile         = "rates_by_clade.tsv"
	MergedFile        = "expected_vs_actual.tsv"
	FitnessAllFile    = "aa_fitness.tsv"
	FitnessCladeFile  = "aa_fitness_by_clade.tsv"
	FitnessSubsetFile = "aa_fitness_by_subset.tsv"
)

func loadGenome(ctx context.Context, cfg Config) (g *genome.Genome, err error) {
	fa, err := file.Open(ctx, cfg.RefFasta)
	if err != nil {
		return nil, errors.E(err, "reference fasta", cfg.RefFasta)
	}
	defer func() {
		if e := fa.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	orfs, err := file.Open(ctx, cfg.OrfTable)
	if err != nil {
		return nil, errors.E(err, "orf table", cfg.OrfTable)
	}
	defer func() {
		if e := orfs.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	return genome.Load(fa.Reader(ctx), orfs.Reader(ctx))
}

// Run executes the whole pipeline under cfg. It is idempotent: re-running
// with identical inputs produces bit-identical outputs.
func Run(ctx context.Context, cfg Config) error {
	subsets, err := cfg.Validate()
	if err != nil {
		return err
	}
	g, err := loadGenome(ctx, cfg)
	if err != nil {
		return err
	}

	// Discovery phase: the selected clade set fixes the shape of every
	// later stage. It is recomputed from the sample table on every run,
	// never cached.
	samples, err := ReadSamples(ctx, cfg.SampleTable)
	if err != nil {
		return err
	}
	cladeCounts := CountClades(samples)
	clades := SelectClades(cladeCounts, cfg.MinCladeSamples)
	if err := WriteCladeCounts(ctx, file.Join(cfg.OutDir, CladeCountsFile),
		CladeCountRows(cladeCounts, cfg.MinCladeSamples)); err != nil {
		return errors.E(err, "clade selector")
	}
	log.Printf("clade selector: %d/%d clades have >= %d samples", len(clades), len(cladeCounts), cfg.MinCladeSamples)

	subsetNames := SubsetNames(subsets)
	if len(subsets) > 0 {
		tally := make(map[string]int)
		for _, s := range samples {
			for _, name := range MatchSubsets(subsets, s.Sample) {
				tally[name]++
			}
		}
		for _, name := range subsetNames {
			log.Printf("subset %s matches %d samples", name, tally[name])
		}
	}
	founders, err := resolveFounders(ctx, cfg, g, clades)
	if err != nil {
		return err
	}

	opts, err := countOpts(ctx, cfg)
	if err != nil {
		return err
	}
	cells, err := countGrid(ctx, cfg, g, clades, subsetNames, founders, opts)
	if err != nil {
		return err
	}

	spectra := EstimateRates(cells, clades, g, founders, cfg.SynonymousSpectraMinCounts)
	if err := WriteRates(ctx, file.Join(cfg.OutDir, RatesFile), RateRows(spectra)); err != nil {
		return errors.E(err, "rate estimator")
	}
	for _, clade := range clades {
		if _, ok := spectra[clade]; !ok {
			log.Printf("rate estimator: clade %s below %d synonymous counts, no spectrum",
				clade, cfg.SynonymousSpectraMinCounts)
		}
	}

	expected, err := projectExpected(g, clades, founders, spectra, cfg.renameGene)
	if err != nil {
		return err
	}

	// Synchronization point: every per-cell count and per-clade projection
	// is complete before the merge starts.
	excl, err := ExclusionSet(g, founders, cfg.renameGene, opts.ExcludedSites)
	if err != nil {
		return errors.E(err, "fitness estimator")
	}
	merged, err := Merge(cells, expected, g, founders, cfg.renameGene, excl)
	if err != nil {
		return errors.E(err, "fitness estimator")
	}
	if err := WriteMerged(ctx, file.Join(cfg.OutDir, MergedFile), merged.MergedRows(cfg.MinExpectedCount)); err != nil {
		return errors.E(err, "fitness estimator")
	}
	p, m := cfg.FitnessPseudocount, cfg.MinExpectedCount
	if err := WriteFitness(ctx, file.Join(cfg.OutDir, FitnessAllFile), merged.FitnessAll(p, m)); err != nil {
		return errors.E(err, "fitness estimator")
	}
	if err := WriteCladeFitness(ctx, file.Join(cfg.OutDir, FitnessCladeFile), merged.FitnessByClade(p, m)); err != nil {
		return errors.E(err, "fitness estimator")
	}
	if err := WriteSubsetFitness(ctx, file.Join(cfg.OutDir, FitnessSubsetFile), merged.FitnessBySubset(p, m)); err != nil {
		return errors.E(err, "fitness estimator")
	}
	log.Printf("fitness estimator: done (%d clades, %d subsets)", len(clades), len(subsetNames))
	return nil
}

// resolveFounders resolves the founder of every selected clade in
// parallel. A selected clade with no founder-mutation rows at all is a
// referential inconsistency in the inputs and is fatal: without a founder
// nothing downstream is defined for the clade.
func resolveFounders(ctx context.Context, cfg Config, g *genome.Genome, clades []string) (map[string]*Founder, error) {
	rows, err := ReadFounderMuts(ctx, cfg.FounderMutTable)
	if err != nil {
		return nil, err
	}
	byClade := GroupFounderMuts(rows)
	resolved := make([]*Founder, len(clades))
	err = traverse.Each(len(clades), func(i int) error {
		clade := clades[i]
		muts, ok := byClade[clade]
		if !ok {
			return fmt.Errorf("founder resolver: no founder mutations for selected clade %s", clade)
		}
		f, err := ResolveFounder(g, clade, muts)
		if err != nil {
			return err
		}
		resolved[i] = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	founders := make(map[string]*Founder, len(clades))
	for i, clade := range clades {
		founders[clade] = resolved[i]
	}
	return founders, nil
}

func countOpts(ctx context.Context, cfg Config) (CountOpts, error) {
	var mask []SiteMaskRow
	var usher []UsherMaskedSiteRow
	var err error
	if cfg.SiteMaskTable != "" {
		if mask, err = ReadSiteMask(ctx, cfg.SiteMaskTable); err != nil {
			return CountOpts{}, err
		}
	}
	if cfg.UsherMaskedSites != "" {
		if usher, err = ReadUsherMaskedSites(ctx, cfg.UsherMaskedSites); err != nil {
			return CountOpts{}, err
		}
	}
	return CountOptsFromConfig(cfg, mask, usher), nil
}

// countGrid reads the branch mutation table once, scatters its rows over
// the (clade, subset) grid, and counts each cell independently. Cells are
// embarrassingly parallel: each job writes only its own output slots.
func countGrid(ctx context.Context, cfg Config, g *genome.Genome, clades, subsetNames []string,
	founders map[string]*Founder, opts CountOpts) (map[CellKey]CountTable, error) {
	rows, err := ReadBranchMuts(ctx, cfg.BranchMutTable)
	if err != nil {
		return nil, err
	}
	selected := make(map[string]bool, len(clades))
	for _, clade := range clades {
		selected[clade] = true
	}
	known := make(map[string]bool, len(subsetNames))
	for _, name := range subsetNames {
		known[name] = true
	}
	byCell := make(map[CellKey][]BranchMutRow)
	for _, row := range rows {
		if !selected[row.Clade] {
			// Below-threshold clades are silently absent everywhere.
			continue
		}
		if !known[row.Subset] {
			return nil, fmt.Errorf("mutation counter: clade %s: unknown subset %q in branch table", row.Clade, row.Subset)
		}
		byCell[CellKey{Clade: row.Clade, Subset: row.Subset}] = append(
			byCell[CellKey{Clade: row.Clade, Subset: row.Subset}], row)
	}

	// Every grid cell exists in the output, including cells with no
	// qualifying branches (their table is all-zero, not missing).
	cellKeys := make([]CellKey, 0, len(clades)*len(subsetNames))
	for _, clade := range clades {
		for _, subset := range subsetNames {
			cellKeys = append(cellKeys, CellKey{Clade: clade, Subset: subset})
		}
	}
	tables := make([]CountTable, len(cellKeys))
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(cellKeys) {
		parallelism = len(cellKeys)
	}
	if parallelism > 0 {
		err = traverse.Each(parallelism, func(jobIdx int) error {
			startIdx := (jobIdx * len(cellKeys)) / parallelism
			endIdx := ((jobIdx + 1) * len(cellKeys)) / parallelism
			for i := startIdx; i < endIdx; i++ {
				cell := cellKeys[i]
				table, err := CountMutations(byCell[cell], g, founders[cell.Clade], opts)
				if err != nil {
					return err
				}
				tables[i] = table
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// cellKeys is already in (clade, subset) order: clades and subsetNames
	// are sorted, so the artifact below is deterministic.
	cells := make(map[CellKey]CountTable, len(cellKeys))
	var artifact []NtCountRow
	for i, cell := range cellKeys {
		cells[cell] = tables[i]
		artifact = append(artifact, NtCountRows(cell, tables[i])...)
	}
	if err := WriteNtCounts(ctx, file.Join(cfg.OutDir, NtCountsFile), artifact); err != nil {
		return nil, errors.E(err, "mutation counter")
	}
	return cells, nil
}

func projectExpected(g *genome.Genome, clades []string, founders map[string]*Founder,
	spectra map[string]Spectrum, rename Renamer) (map[string]map[AaKey]float64, error) {
	expected := make(map[string]map[AaKey]float64)
	projected := make([]map[AaKey]float64, len(clades))
	err := traverse.Each(len(clades), func(i int) error {
		spectrum, ok := spectra[clades[i]]
		if !ok {
			return nil
		}
		exp, err := ProjectExpected(g, founders[clades[i]], spectrum, rename)
		if err != nil {
			return errors.E(err, "expected-count projector", clades[i])
		}
		projected[i] = exp
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, clade := range clades {
		if projected[i] != nil {
			expected[clade] = projected[i]
		}
	}
	return expected, nil
}
