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

	"github.com/grailbio/base/log"
	"github.com/grailbio/mutfit/genome"
)

// Founder is the inferred ancestral sequence of one clade, restricted to
// coding sites, plus its divergence from the reference. Founders never
// contain indels; the extraction tooling guarantees substitution-only
// founder mutation lists.
type Founder struct {
	Clade string
	// Divergence is the set of founder-defining mutations vs the reference,
	// restricted to coding sites.
	Divergence map[genome.NtMut]bool

	seq map[int]byte
}

// ResolveFounder derives a clade's founder sequence by applying its
// founder-vs-reference mutations to the reference, keeping coding sites
// only. Records at non-coding sites are dropped with a diagnostic, and
// records whose stated reference nucleotide disagrees with the genome are
// dropped likewise; neither aborts the run. The returned founder covers
// every coding site.
func ResolveFounder(g *genome.Genome, clade string, muts []FounderMutRow) (*Founder, error) {
	f := &Founder{
		Clade:      clade,
		Divergence: make(map[genome.NtMut]bool),
		seq:        make(map[int]byte, len(g.CodingSites())),
	}
	for _, site := range g.CodingSites() {
		f.seq[site] = g.RefNt(site)
	}
	for _, m := range muts {
		if len(m.RefNt) != 1 || len(m.FounderNt) != 1 ||
			!genome.IsNt(m.RefNt[0]) || !genome.IsNt(m.FounderNt[0]) {
			return nil, fmt.Errorf("founder resolver: clade %s site %d: bad nucleotides %q -> %q",
				clade, m.Site, m.RefNt, m.FounderNt)
		}
		site := int(m.Site)
		if !g.IsCoding(site) {
			log.Error.Printf("founder resolver: clade %s: dropping founder mutation at non-coding site %d", clade, site)
			continue
		}
		if g.RefNt(site) != m.RefNt[0] {
			log.Error.Printf("founder resolver: clade %s site %d: reference is %c, record says %c; dropping",
				clade, site, g.RefNt(site), m.RefNt[0])
			continue
		}
		f.seq[site] = m.FounderNt[0]
		f.Divergence[genome.NtMut{Site: site, From: m.RefNt[0], To: m.FounderNt[0]}] = true
	}
	return f, nil
}

// Nt returns the founder nucleotide at a 1-based coding site.
func (f *Founder) Nt(site int) (byte, bool) {
	nt, ok := f.seq[site]
	return nt, ok
}

// Codon assembles the founder codon containing cs.
func (f *Founder) Codon(g *genome.Genome, cs genome.CodingSite) string {
	return g.Codon(cs, func(site int) byte {
		if nt, ok := f.seq[site]; ok {
			return nt
		}
		return g.RefNt(site)
	})
}

// GroupFounderMuts splits the founder mutation table by clade.
func GroupFounderMuts(rows []FounderMutRow) map[string][]FounderMutRow {
	byClade := make(map[string][]FounderMutRow)
	for _, row := range rows {
		byClade[row.Clade] = append(byClade[row.Clade], row)
	}
	return byClade
}
