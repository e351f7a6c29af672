package genome

// Nts lists the four nucleotides in the order used throughout this module.
const Nts = "ACGT"

// StopAa is the amino-acid letter used for stop codons.
const StopAa = '*'

// codonTable is the standard genetic code.
var codonTable = map[string]byte{
	"TTT": 'F', "TTC": 'F',
	"TTA": 'L', "TTG": 'L', "CTT": 'L', "CTC": 'L', "CTA": 'L', "CTG": 'L',
	"ATT": 'I', "ATC": 'I', "ATA": 'I',
	"ATG": 'M',
	"GTT": 'V', "GTC": 'V', "GTA": 'V', "GTG": 'V',
	"TCT": 'S', "TCC": 'S', "TCA": 'S', "TCG": 'S', "AGT": 'S', "AGC": 'S',
	"CCT": 'P', "CCC": 'P', "CCA": 'P', "CCG": 'P',
	"ACT": 'T', "ACC": 'T', "ACA": 'T', "ACG": 'T',
	"GCT": 'A', "GCC": 'A', "GCA": 'A', "GCG": 'A',
	"TAT": 'Y', "TAC": 'Y',
	"TAA": StopAa, "TAG": StopAa, "TGA": StopAa,
	"CAT": 'H', "CAC": 'H',
	"CAA": 'Q', "CAG": 'Q',
	"AAT": 'N', "AAC": 'N',
	"AAA": 'K', "AAG": 'K',
	"GAT": 'D', "GAC": 'D',
	"GAA": 'E', "GAG": 'E',
	"TGT": 'C', "TGC": 'C',
	"TGG": 'W',
	"CGT": 'R', "CGC": 'R', "CGA": 'R', "CGG": 'R', "AGA": 'R', "AGG": 'R',
	"GGT": 'G', "GGC": 'G', "GGA": 'G', "GGG": 'G',
}

// IsNt reports whether b is one of the four unambiguous nucleotides.
// Ambiguity codes (N etc) are deliberately rejected; callers treat them as
// schema violations rather than coercing.
func IsNt(b byte) bool {
	return b == 'A' || b == 'C' || b == 'G' || b == 'T'
}

// TranslateCodon returns the amino acid encoded by a three-letter codon.
// ok is false if the codon contains a non-ACGT character.
func TranslateCodon(codon string) (aa byte, ok bool) {
	aa, ok = codonTable[codon]
	return
}

// mutateCodon returns codon with the base at pos (0..2) replaced by nt.
func mutateCodon(codon string, pos int, nt byte) string {
	b := []byte(codon)
	b[pos] = nt
	return string(b)
}
