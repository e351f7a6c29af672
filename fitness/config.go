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
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface of the pipeline. It is loaded
// from a YAML file, validated once up front, and then passed by value to
// each stage; no stage reads configuration from anywhere else.
type Config struct {
	// Input artifacts. Paths may be local or s3://; a .gz suffix on any
	// tabular input is decompressed transparently.
	RefFasta        string `yaml:"ref_fasta"`
	OrfTable        string `yaml:"orf_table"`
	SampleTable     string `yaml:"sample_table"`
	BranchMutTable  string `yaml:"branch_mut_table"`
	FounderMutTable string `yaml:"founder_mut_table"`
	SiteMaskTable   string `yaml:"site_mask_table"`
	UsherMaskedSites string `yaml:"usher_masked_sites"`
	OutDir          string `yaml:"out_dir"`

	// MinCladeSamples is the minimum number of samples a clade needs to be
	// analyzed at all; smaller clades are silently dropped.
	MinCladeSamples int `yaml:"min_clade_samples"`
	// MaxNtMutations drops whole branches carrying more nucleotide
	// mutations than this (likely misplaced or low-quality branches).
	MaxNtMutations int `yaml:"max_nt_mutations"`
	// MaxReversionsToRef and MaxReversionsToCladeFounder cap, per branch,
	// how many reversions toward the reference / clade founder are
	// believed; a branch exceeding a cap has those reversions dropped.
	MaxReversionsToRef          int `yaml:"max_reversions_to_ref"`
	MaxReversionsToCladeFounder int `yaml:"max_reversions_to_clade_founder"`
	// ExcludeRefToFounderMuts drops observed mutations identical to a
	// founder-defining change of the clade, so founder divergence is not
	// double counted as recurrent mutation.
	ExcludeRefToFounderMuts bool `yaml:"exclude_ref_to_founder_muts"`
	// SitesToExclude lists 1-based genomic sites excluded from counting in
	// every clade, in addition to the mask tables.
	SitesToExclude []int `yaml:"sites_to_exclude"`
	// SampleSubsets maps subset name to a regexp matched against sample
	// identifiers. The names must partition the samples; when empty, the
	// single subset "all" covers everything.
	SampleSubsets map[string]string `yaml:"sample_subsets"`
	// ExcludeTerminalBranches counts internal branches only when set.
	ExcludeTerminalBranches bool `yaml:"exclude_terminal_branches"`
	// SynonymousSpectraMinCounts excludes a clade from rate estimation if
	// its total synonymous count is below this; the clade then has no
	// spectrum, not a zero spectrum.
	SynonymousSpectraMinCounts int `yaml:"synonymous_spectra_min_counts"`
	// FitnessPseudocount is added to both actual and expected counts
	// before the log-ratio.
	FitnessPseudocount float64 `yaml:"fitness_pseudocount"`
	// MinExpectedCount is the consumer-side filter: fitness rows with a
	// pooled expected count below it are withheld from the fitness tables
	// (they remain, flagged, in the merged table).
	MinExpectedCount float64 `yaml:"min_expected_count"`
	// Orf1abToNsps maps an nsp name to its 1-based inclusive codon range
	// within the ORF1ab polyprotein; when non-empty, ORF1ab records are
	// renamed to the containing nsp before aggregation.
	Orf1abToNsps map[string][]int `yaml:"orf1ab_to_nsps"`

	// Parallelism bounds the number of concurrently processed grid cells;
	// 0 means runtime.NumCPU().
	Parallelism int `yaml:"parallelism"`
}

// DefaultConfig provides the thresholds used for the published SARS-CoV-2
// analyses; artifact paths must always come from the config file.
var DefaultConfig = Config{
	MinCladeSamples:             10000,
	MaxNtMutations:              4,
	MaxReversionsToRef:          1,
	MaxReversionsToCladeFounder: 1,
	ExcludeRefToFounderMuts:     true,
	SynonymousSpectraMinCounts:  5000,
	FitnessPseudocount:          0.5,
	MinExpectedCount:            10,
}

// LoadConfig reads and unmarshals a YAML config file on top of
// DefaultConfig. The path may be local or s3://, like every other input.
// It does not validate; call Validate before running.
func LoadConfig(ctx context.Context, path string) (cfg Config, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return DefaultConfig, errors.E(err, "config", path)
	}
	defer func() {
		if e := f.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	if cfg, err = ReadConfig(f.Reader(ctx)); err != nil {
		return cfg, errors.E(err, "config", path)
	}
	return cfg, nil
}

// ReadConfig unmarshals YAML config bytes from r on top of DefaultConfig.
func ReadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig
	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Subset is one named sample partition with its compiled pattern.
type Subset struct {
	Name    string
	Pattern *regexp.Regexp
}

// Validate fails fast on any configuration problem so that no stage starts
// on a bad config. It returns the compiled subsets, sorted by name.
func (c *Config) Validate() ([]Subset, error) {
	if c.MinCladeSamples < 1 {
		return nil, fmt.Errorf("config: min_clade_samples must be >= 1, got %d", c.MinCladeSamples)
	}
	if c.MaxNtMutations < 1 {
		return nil, fmt.Errorf("config: max_nt_mutations must be >= 1, got %d", c.MaxNtMutations)
	}
	if c.MaxReversionsToRef < 0 || c.MaxReversionsToCladeFounder < 0 {
		return nil, errors.New("config: reversion caps must be >= 0")
	}
	if c.SynonymousSpectraMinCounts < 1 {
		return nil, fmt.Errorf("config: synonymous_spectra_min_counts must be >= 1, got %d",
			c.SynonymousSpectraMinCounts)
	}
	if c.FitnessPseudocount <= 0 {
		return nil, fmt.Errorf("config: fitness_pseudocount must be > 0, got %g", c.FitnessPseudocount)
	}
	if c.MinExpectedCount < 0 {
		return nil, fmt.Errorf("config: min_expected_count must be >= 0, got %g", c.MinExpectedCount)
	}
	for _, site := range c.SitesToExclude {
		if site < 1 {
			return nil, fmt.Errorf("config: sites_to_exclude has non-positive site %d", site)
		}
	}
	for nsp, r := range c.Orf1abToNsps {
		if len(r) != 2 || r[0] < 1 || r[1] < r[0] {
			return nil, fmt.Errorf("config: orf1ab_to_nsps[%s] must be a [first, last] codon range, got %v", nsp, r)
		}
	}
	subsets := make([]Subset, 0, len(c.SampleSubsets))
	for name, pat := range c.SampleSubsets {
		if name == AllSubset {
			return nil, fmt.Errorf("config: subset name %q is reserved", AllSubset)
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, errors.E(err, "config: sample_subsets", name)
		}
		subsets = append(subsets, Subset{Name: name, Pattern: re})
	}
	sort.Slice(subsets, func(i, j int) bool { return subsets[i].Name < subsets[j].Name })
	return subsets, nil
}

// renameGene applies the orf1ab_to_nsps map to one (gene, codon) pair,
// returning the nsp-level name and codon when the map covers it.
func (c *Config) renameGene(gene string, codon int) (string, int) {
	if gene != "ORF1ab" || len(c.Orf1abToNsps) == 0 {
		return gene, codon
	}
	for nsp, r := range c.Orf1abToNsps {
		if codon >= r[0] && codon <= r[1] {
			return nsp, codon - r[0] + 1
		}
	}
	return gene, codon
}
