// Package genome holds the reference-genome side of the fitness pipeline:
// the reference nucleotide sequence, the ORF annotation, and the per-site
// codon bookkeeping needed to classify nucleotide changes at the protein
// level. All genomic sites are 1-based, matching the convention of the
// mutation tables produced by the tree-extraction tooling.
package genome

import (
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/bio/encoding/fasta"
)

// Orf is a protein-coding region. Start and End are 1-based inclusive
// genomic coordinates, as annotations conventionally write them; the length
// must be a multiple of three. Overlapping ORFs are allowed (ORF1a/ORF1b).
type Orf struct {
	Name  string
	Start int
	End   int
}

// Orfs is the full coding annotation of a genome.
type Orfs []Orf

type orfRow struct {
	Gene  string `tsv:"gene"`
	Start int64  `tsv:"start"`
	End   int64  `tsv:"end"`
}

// ReadOrfs reads a gene coordinate table with columns gene/start/end
// (1-based inclusive).
func ReadOrfs(r io.Reader) (Orfs, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	var orfs Orfs
	for {
		var row orfRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.E(err, "orf table")
		}
		orfs = append(orfs, Orf{Name: row.Gene, Start: int(row.Start), End: int(row.End)})
	}
	return orfs, nil
}

// CodingSite locates one genomic site within one ORF. A site inside two
// overlapping ORFs has one CodingSite per ORF.
type CodingSite struct {
	Gene string
	// Codon is the 1-based codon number within the gene.
	Codon int
	// Pos is the position within the codon, 0..2.
	Pos int
	// CodonStart is the 1-based genomic site of the codon's first base.
	CodonStart int
}

// Genome is an immutable reference genome plus its coding annotation.
type Genome struct {
	seq    string
	orfs   Orfs
	sites  map[int][]CodingSite
	coding []int
}

// New builds a Genome from a nucleotide sequence and its ORF annotation.
func New(seq string, orfs Orfs) (*Genome, error) {
	g := &Genome{seq: seq, orfs: orfs, sites: make(map[int][]CodingSite)}
	for _, orf := range orfs {
		if orf.Start < 1 || orf.End > len(seq) || orf.Start > orf.End {
			return nil, fmt.Errorf("orf %s: coordinates [%d, %d] outside genome of length %d",
				orf.Name, orf.Start, orf.End, len(seq))
		}
		n := orf.End - orf.Start + 1
		if n%3 != 0 {
			return nil, fmt.Errorf("orf %s: length %d not a multiple of 3", orf.Name, n)
		}
		for site := orf.Start; site <= orf.End; site++ {
			off := site - orf.Start
			g.sites[site] = append(g.sites[site], CodingSite{
				Gene:       orf.Name,
				Codon:      off/3 + 1,
				Pos:        off % 3,
				CodonStart: site - off%3,
			})
		}
	}
	for i := 0; i < len(seq); i++ {
		if !IsNt(seq[i]) {
			return nil, fmt.Errorf("reference has non-ACGT nucleotide %q at site %d", seq[i], i+1)
		}
	}
	g.coding = make([]int, 0, len(g.sites))
	for site := range g.sites {
		g.coding = append(g.coding, site)
	}
	sort.Ints(g.coding)
	return g, nil
}

// Load reads a single-sequence reference FASTA and an ORF table.
func Load(fastaReader, orfReader io.Reader) (*Genome, error) {
	fa, err := fasta.New(fastaReader)
	if err != nil {
		return nil, errors.E(err, "reference fasta")
	}
	names := fa.SeqNames()
	if len(names) != 1 {
		return nil, fmt.Errorf("reference fasta: want exactly 1 sequence, got %d", len(names))
	}
	n, err := fa.Len(names[0])
	if err != nil {
		return nil, err
	}
	seq, err := fa.Get(names[0], 0, n)
	if err != nil {
		return nil, err
	}
	orfs, err := ReadOrfs(orfReader)
	if err != nil {
		return nil, err
	}
	return New(seq, orfs)
}

// Len returns the genome length in nucleotides.
func (g *Genome) Len() int { return len(g.seq) }

// Orfs returns the coding annotation.
func (g *Genome) Orfs() Orfs { return g.orfs }

// RefNt returns the reference nucleotide at a 1-based site.
func (g *Genome) RefNt(site int) byte { return g.seq[site-1] }

// IsCoding reports whether the 1-based site falls in at least one ORF.
func (g *Genome) IsCoding(site int) bool {
	_, ok := g.sites[site]
	return ok
}

// SiteInfo returns the codon bookkeeping for a site, one entry per ORF that
// covers it. The returned slice must not be modified.
func (g *Genome) SiteInfo(site int) []CodingSite {
	return g.sites[site]
}

// CodingSites returns all coding sites in ascending order. The returned
// slice must not be modified.
func (g *Genome) CodingSites() []int { return g.coding }

// Codon assembles the codon containing cs, reading each base through nt
// (a site -> nucleotide accessor, e.g. a clade founder's sequence).
func (g *Genome) Codon(cs CodingSite, nt func(site int) byte) string {
	var b [3]byte
	for i := 0; i < 3; i++ {
		b[i] = nt(cs.CodonStart + i)
	}
	return string(b[:])
}
