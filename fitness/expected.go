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

	"github.com/grailbio/mutfit/genome"
)

// AaKey identifies one amino-acid level mutation after gene renaming. It
// is a genome.AaMut; the alias names its role as the merge and pooling key.
type AaKey = genome.AaMut

// Renamer rewrites a (gene, codon) pair, e.g. ORF1ab -> nsp names. The
// identity Renamer is valid.
type Renamer func(gene string, codon int) (string, int)

// aaKeysAt derives the amino-acid mutation keys produced by changing site
// to nt, in the founder codon context: one key per ORF covering the site.
func aaKeysAt(g *genome.Genome, f *Founder, rename Renamer, site int, to byte) ([]AaKey, error) {
	infos := g.SiteInfo(site)
	keys := make([]AaKey, 0, len(infos))
	for _, cs := range infos {
		codon := f.Codon(g, cs)
		wt, ok := genome.TranslateCodon(codon)
		if !ok {
			return nil, fmt.Errorf("%s site %d: untranslatable founder codon %q", cs.Gene, site, codon)
		}
		_, mut, err := genome.ClassifyCodonChange(codon, cs.Pos, to)
		if err != nil {
			return nil, err
		}
		gene, codonSite := rename(cs.Gene, cs.Codon)
		keys = append(keys, AaKey{Gene: gene, Site: codonSite, From: wt, To: mut})
	}
	return keys, nil
}

// ProjectExpected computes the neutral-model expected count of every
// amino-acid mutation reachable by a single nucleotide change from the
// clade's founder: each coding site contributes one opportunity per
// alternative nucleotide, valued at the clade's rate for that change type.
// Deviations of the actual counts from this projection are the fitness
// signal. Change types absent from the spectrum contribute nothing.
func ProjectExpected(g *genome.Genome, f *Founder, spectrum Spectrum, rename Renamer) (map[AaKey]float64, error) {
	expected := make(map[AaKey]float64)
	for _, site := range g.CodingSites() {
		from, ok := f.Nt(site)
		if !ok {
			continue
		}
		for _, to := range []byte(genome.Nts) {
			if to == from {
				continue
			}
			rate, ok := spectrum[MutType{From: from, To: to}]
			if !ok {
				continue
			}
			keys, err := aaKeysAt(g, f, rename, site, to)
			if err != nil {
				return nil, err
			}
			for _, k := range keys {
				expected[k] += rate.Rate
			}
		}
	}
	return expected, nil
}

// AggregateAaCounts folds one cell's nucleotide counts to amino-acid
// granularity using the same key derivation as ProjectExpected, so the
// merge joins exactly.
func AggregateAaCounts(counts CountTable, g *genome.Genome, f *Founder, rename Renamer) (map[AaKey]int64, error) {
	aa := make(map[AaKey]int64)
	for m, n := range counts {
		keys, err := aaKeysAt(g, f, rename, m.Site, m.To)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			aa[k] += n
		}
	}
	return aa, nil
}
