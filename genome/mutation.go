package genome

import (
	"fmt"
	"strconv"

	"github.com/grailbio/base/errors"
)

// NtMut is a single-nucleotide substitution at a 1-based genomic site,
// written in the conventional form "C100T".
type NtMut struct {
	Site int
	From byte
	To   byte
}

// ParseNtMut parses a mutation string of the form "C100T". Anything else,
// including indels and ambiguity codes, is an error.
func ParseNtMut(s string) (NtMut, error) {
	if len(s) < 3 {
		return NtMut{}, errors.New("mutation string too short: " + s)
	}
	from, to := s[0], s[len(s)-1]
	if !IsNt(from) || !IsNt(to) {
		return NtMut{}, errors.New("mutation string has non-ACGT nucleotide: " + s)
	}
	site, err := strconv.Atoi(s[1 : len(s)-1])
	if err != nil || site < 1 {
		return NtMut{}, errors.New("mutation string has bad site: " + s)
	}
	return NtMut{Site: site, From: from, To: to}, nil
}

func (m NtMut) String() string {
	return fmt.Sprintf("%c%d%c", m.From, m.Site, m.To)
}

// AaMut is an amino-acid substitution at a 1-based codon site within a gene,
// e.g. {Gene: "S", Site: 501, From: 'N', To: 'Y'}.
type AaMut struct {
	Gene string
	Site int
	From byte
	To   byte
}

func (m AaMut) String() string {
	return fmt.Sprintf("%s:%c%d%c", m.Gene, m.From, m.Site, m.To)
}

// Synonymous reports whether the mutation leaves the amino acid unchanged.
func (m AaMut) Synonymous() bool { return m.From == m.To }

// MutEffect classifies the protein-level consequence of a nucleotide change.
type MutEffect int

const (
	Synonymous MutEffect = iota
	Nonsynonymous
	IntroducesStop
)

// ClassifyCodonChange determines the effect of replacing position pos (0..2)
// of codon with nt, returning the effect and the mutant amino acid.
func ClassifyCodonChange(codon string, pos int, nt byte) (MutEffect, byte, error) {
	wt, ok := TranslateCodon(codon)
	if !ok {
		return Nonsynonymous, 0, errors.New("untranslatable codon: " + codon)
	}
	mut, ok := TranslateCodon(mutateCodon(codon, pos, nt))
	if !ok {
		return Nonsynonymous, 0, fmt.Errorf("untranslatable mutant codon: %s pos %d -> %c", codon, pos, nt)
	}
	switch {
	case mut == wt:
		return Synonymous, mut, nil
	case mut == StopAa:
		return IntroducesStop, mut, nil
	default:
		return Nonsynonymous, mut, nil
	}
}
