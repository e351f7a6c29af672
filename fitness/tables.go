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
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
	pkgerrors "github.com/pkg/errors"
)

// The tabular contracts between the pipeline and its external
// collaborators. Column names are the contract; encoding is TSV, optionally
// gzipped on the input side.

// SampleRow is one row of the tree-derived sample table.
type SampleRow struct {
	Sample string `tsv:"sample"`
	Date   string `tsv:"date"`
	Clade  string `tsv:"clade"`
}

// CladeCountRow reports how many samples a clade has and whether that is
// adequate for analysis.
type CladeCountRow struct {
	Clade    string `tsv:"clade"`
	Samples  int64  `tsv:"n_samples"`
	Adequate bool   `tsv:"adequate_sample_count"`
}

// BranchMutRow is one nucleotide substitution observed on one tree branch,
// as emitted by the external tree-extraction tool.
type BranchMutRow struct {
	Clade    string `tsv:"clade"`
	Subset   string `tsv:"subset"`
	Branch   string `tsv:"branch"`
	Terminal bool   `tsv:"terminal"`
	// BranchMuts is the total nucleotide mutation load of the branch, used
	// by the quality filters.
	BranchMuts int64  `tsv:"branch_muts"`
	Site       int64  `tsv:"site"`
	AncNt      string `tsv:"anc_nt"`
	DerNt      string `tsv:"der_nt"`
}

// FounderMutRow is one nucleotide difference between a clade founder and
// the reference.
type FounderMutRow struct {
	Clade     string `tsv:"clade"`
	Site      int64  `tsv:"site"`
	RefNt     string `tsv:"ref_nt"`
	FounderNt string `tsv:"founder_nt"`
}

// SiteMaskRow marks one genomic site as excluded, with a reason.
type SiteMaskRow struct {
	Site   int64  `tsv:"site"`
	Masked bool   `tsv:"masked"`
	Reason string `tsv:"reason"`
}

// UsherMaskedSiteRow is one globally problematic site from the UShER mask.
type UsherMaskedSiteRow struct {
	Site int64 `tsv:"site"`
}

// NtCountRow is one aggregated nucleotide mutation count within a
// (clade, subset) cell.
type NtCountRow struct {
	Clade    string `tsv:"clade"`
	Subset   string `tsv:"subset"`
	Site     int64  `tsv:"site"`
	Mutation string `tsv:"nt_mutation"`
	Count    int64  `tsv:"count"`
}

// RateRow is one entry of a clade's synonymous rate spectrum.
type RateRow struct {
	Clade   string  `tsv:"clade"`
	MutType string  `tsv:"nt_mut_type"`
	Rate    float64 `tsv:"rate"`
	Count   int64   `tsv:"count"`
}

// MergedRow is one expected-vs-actual record at amino-acid granularity for
// one (clade, subset) cell.
type MergedRow struct {
	Clade       string  `tsv:"clade"`
	Subset      string  `tsv:"subset"`
	Gene        string  `tsv:"gene"`
	AaSite      int64   `tsv:"aa_site"`
	WtAa        string  `tsv:"wt_aa"`
	MutAa       string  `tsv:"mut_aa"`
	Expected    float64 `tsv:"expected_count"`
	Actual      int64   `tsv:"actual_count"`
	LowExpected bool    `tsv:"low_expected"`
}

// FitnessRow is one pooled fitness estimate. Clade and Subset are filled
// only in the by-clade and by-subset variants respectively.
type FitnessRow struct {
	Gene     string  `tsv:"gene"`
	AaSite   int64   `tsv:"aa_site"`
	WtAa     string  `tsv:"wt_aa"`
	MutAa    string  `tsv:"mut_aa"`
	Expected float64 `tsv:"expected_count"`
	Actual   int64   `tsv:"actual_count"`
	Fitness  float64 `tsv:"fitness"`
}

// CladeFitnessRow is a FitnessRow keyed additionally by clade.
type CladeFitnessRow struct {
	Clade    string  `tsv:"clade"`
	Gene     string  `tsv:"gene"`
	AaSite   int64   `tsv:"aa_site"`
	WtAa     string  `tsv:"wt_aa"`
	MutAa    string  `tsv:"mut_aa"`
	Expected float64 `tsv:"expected_count"`
	Actual   int64   `tsv:"actual_count"`
	Fitness  float64 `tsv:"fitness"`
}

// SubsetFitnessRow is a FitnessRow keyed additionally by subset.
type SubsetFitnessRow struct {
	Subset   string  `tsv:"subset"`
	Gene     string  `tsv:"gene"`
	AaSite   int64   `tsv:"aa_site"`
	WtAa     string  `tsv:"wt_aa"`
	MutAa    string  `tsv:"mut_aa"`
	Expected float64 `tsv:"expected_count"`
	Actual   int64   `tsv:"actual_count"`
	Fitness  float64 `tsv:"fitness"`
}

// tableReader wraps a (possibly gzipped) table file behind a tsv.Reader
// with header-name column binding.
type tableReader struct {
	*tsv.Reader
	f  file.File
	gz *gzip.Reader
}

func openTable(ctx context.Context, path string) (*tableReader, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	tr := &tableReader{f: f}
	var r io.Reader = f.Reader(ctx)
	if strings.HasSuffix(path, ".gz") {
		if tr.gz, err = gzip.NewReader(r); err != nil {
			_ = f.Close(ctx)
			return nil, pkgerrors.Wrapf(err, "%s: not a valid gzip stream", path)
		}
		r = tr.gz
	}
	tr.Reader = tsv.NewReader(r)
	tr.Reader.HasHeaderRow = true
	tr.Reader.UseHeaderNames = true
	return tr, nil
}

func (tr *tableReader) close(ctx context.Context) error {
	var err error
	if tr.gz != nil {
		err = tr.gz.Close()
	}
	if e := tr.f.Close(ctx); e != nil && err == nil {
		err = e
	}
	return err
}

// readTable streams rows of a table into visit. The stage name labels
// schema violations with the offending file.
func readTable(ctx context.Context, path, stage string, visit func(read func(v interface{}) error) error) (err error) {
	tr, err := openTable(ctx, path)
	if err != nil {
		return errors.E(err, stage, path)
	}
	defer func() {
		if e := tr.close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	if err = visit(tr.Read); err != nil && err != io.EOF {
		return errors.E(err, stage, path)
	}
	return nil
}

// ReadSamples reads the sample table.
func ReadSamples(ctx context.Context, path string) ([]SampleRow, error) {
	var rows []SampleRow
	err := readTable(ctx, path, "sample table", func(read func(interface{}) error) error {
		for {
			var row SampleRow
			if err := read(&row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
	})
	return rows, err
}

// ReadBranchMuts reads the per-branch mutation table.
func ReadBranchMuts(ctx context.Context, path string) ([]BranchMutRow, error) {
	var rows []BranchMutRow
	err := readTable(ctx, path, "branch mutation table", func(read func(interface{}) error) error {
		for {
			var row BranchMutRow
			if err := read(&row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
	})
	return rows, err
}

// ReadFounderMuts reads the founder-to-reference mutation table.
func ReadFounderMuts(ctx context.Context, path string) ([]FounderMutRow, error) {
	var rows []FounderMutRow
	err := readTable(ctx, path, "founder mutation table", func(read func(interface{}) error) error {
		for {
			var row FounderMutRow
			if err := read(&row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
	})
	return rows, err
}

// ReadSiteMask reads the site-mask table. Rows with Masked=false are legal
// and ignored by the caller.
func ReadSiteMask(ctx context.Context, path string) ([]SiteMaskRow, error) {
	var rows []SiteMaskRow
	err := readTable(ctx, path, "site mask table", func(read func(interface{}) error) error {
		for {
			var row SiteMaskRow
			if err := read(&row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
	})
	return rows, err
}

// ReadUsherMaskedSites reads the UShER problematic-sites table.
func ReadUsherMaskedSites(ctx context.Context, path string) ([]UsherMaskedSiteRow, error) {
	var rows []UsherMaskedSiteRow
	err := readTable(ctx, path, "usher masked sites table", func(read func(interface{}) error) error {
		for {
			var row UsherMaskedSiteRow
			if err := read(&row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
	})
	return rows, err
}

// writeTable writes rows (a slice of tsv-tagged structs, passed row by row
// through next) to path.
func writeTable(ctx context.Context, path string, n int, row func(i int) interface{}) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if e := f.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	w := tsv.NewRowWriter(f.Writer(ctx))
	for i := 0; i < n; i++ {
		if err = w.Write(row(i)); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteCladeCounts writes the clade counts table.
func WriteCladeCounts(ctx context.Context, path string, rows []CladeCountRow) error {
	return writeTable(ctx, path, len(rows), func(i int) interface{} { return &rows[i] })
}

// WriteNtCounts writes the per-cell nucleotide count table.
func WriteNtCounts(ctx context.Context, path string, rows []NtCountRow) error {
	return writeTable(ctx, path, len(rows), func(i int) interface{} { return &rows[i] })
}

// WriteRates writes the rate-by-clade table.
func WriteRates(ctx context.Context, path string, rows []RateRow) error {
	return writeTable(ctx, path, len(rows), func(i int) interface{} { return &rows[i] })
}

// WriteMerged writes the expected-vs-actual merged table.
func WriteMerged(ctx context.Context, path string, rows []MergedRow) error {
	return writeTable(ctx, path, len(rows), func(i int) interface{} { return &rows[i] })
}

// WriteFitness writes the pooled (all-data) fitness table.
func WriteFitness(ctx context.Context, path string, rows []FitnessRow) error {
	return writeTable(ctx, path, len(rows), func(i int) interface{} { return &rows[i] })
}

// WriteCladeFitness writes the by-clade fitness table.
func WriteCladeFitness(ctx context.Context, path string, rows []CladeFitnessRow) error {
	return writeTable(ctx, path, len(rows), func(i int) interface{} { return &rows[i] })
}

// WriteSubsetFitness writes the by-subset fitness table.
func WriteSubsetFitness(ctx context.Context, path string, rows []SubsetFitnessRow) error {
	return writeTable(ctx, path, len(rows), func(i int) interface{} { return &rows[i] })
}
