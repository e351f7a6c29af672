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

	"github.com/grailbio/mutfit/genome"
)

// MutType is a nucleotide change type irrespective of site, e.g. C->T.
type MutType struct {
	From byte
	To   byte
}

func (t MutType) String() string {
	return fmt.Sprintf("%cto%c", t.From, t.To)
}

// MutTypes lists the 12 nucleotide change types in a fixed order.
func MutTypes() []MutType {
	var types []MutType
	for _, from := range []byte(genome.Nts) {
		for _, to := range []byte(genome.Nts) {
			if from != to {
				types = append(types, MutType{From: from, To: to})
			}
		}
	}
	return types
}

// Rate is one spectrum entry: a per-opportunity synonymous rate and the
// raw count supporting it.
type Rate struct {
	Rate  float64
	Count int64
}

// Spectrum is a clade's neutral mutation-rate spectrum, estimated purely
// from synonymous mutations. Change types with zero synonymous opportunity
// in the clade's founder are absent.
type Spectrum map[MutType]Rate

// synonymousEverywhere reports whether changing site to nt is synonymous in
// every ORF covering the site, in the founder codon context. A change that
// is synonymous in one overlapping reading frame but not another is not
// synonymous.
func synonymousEverywhere(g *genome.Genome, f *Founder, site int, to byte) bool {
	infos := g.SiteInfo(site)
	if len(infos) == 0 {
		return false
	}
	for _, cs := range infos {
		effect, _, err := genome.ClassifyCodonChange(f.Codon(g, cs), cs.Pos, to)
		if err != nil || effect != genome.Synonymous {
			return false
		}
	}
	return true
}

// SynonymousOpportunities counts, per change type, the founder coding
// sites at which that change is synonymous. This is the denominator that
// makes rates comparable across clades with different founders.
func SynonymousOpportunities(g *genome.Genome, f *Founder) map[MutType]int64 {
	opps := make(map[MutType]int64)
	for _, site := range g.CodingSites() {
		from, ok := f.Nt(site)
		if !ok {
			continue
		}
		for _, to := range []byte(genome.Nts) {
			if to == from {
				continue
			}
			if synonymousEverywhere(g, f, site, to) {
				opps[MutType{From: from, To: to}]++
			}
		}
	}
	return opps
}

// EstimateRates computes each clade's synonymous rate spectrum from its
// counts pooled across subsets; subsets partition samples by provenance,
// not biology, so the clade-level spectrum sums its cells. Clades whose
// total synonymous count is below minCounts get no spectrum at all;
// downstream stages must treat the absence as "no rate available", never
// as a zero rate.
func EstimateRates(cells map[CellKey]CountTable, clades []string, g *genome.Genome,
	founders map[string]*Founder, minCounts int) map[string]Spectrum {
	spectra := make(map[string]Spectrum)
	for _, clade := range clades {
		f := founders[clade]
		if f == nil {
			continue
		}
		synCounts := make(map[MutType]int64)
		var total int64
		for cell, counts := range cells {
			if cell.Clade != clade {
				continue
			}
			for m, n := range counts {
				if !synonymousEverywhere(g, f, m.Site, m.To) {
					continue
				}
				synCounts[MutType{From: m.From, To: m.To}] += n
				total += n
			}
		}
		if total < int64(minCounts) {
			continue
		}
		opps := SynonymousOpportunities(g, f)
		spectrum := make(Spectrum)
		for _, t := range MutTypes() {
			opp := opps[t]
			if opp == 0 {
				continue
			}
			spectrum[t] = Rate{
				Rate:  float64(synCounts[t]) / float64(opp),
				Count: synCounts[t],
			}
		}
		spectra[clade] = spectrum
	}
	return spectra
}

// RateRows renders the rate-by-clade artifact, sorted by clade then change
// type.
func RateRows(spectra map[string]Spectrum) []RateRow {
	clades := make([]string, 0, len(spectra))
	for clade := range spectra {
		clades = append(clades, clade)
	}
	sort.Strings(clades)
	var rows []RateRow
	for _, clade := range clades {
		for _, t := range MutTypes() {
			r, ok := spectra[clade][t]
			if !ok {
				continue
			}
			rows = append(rows, RateRow{
				Clade:   clade,
				MutType: t.String(),
				Rate:    r.Rate,
				Count:   r.Count,
			})
		}
	}
	return rows
}
