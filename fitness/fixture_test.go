package fitness

import (
	"testing"

	"github.com/grailbio/mutfit/genome"
	"github.com/stretchr/testify/require"
)

// The test genome shared by the package tests: sites 1-3 and 19-21 are
// noncoding, gene A spans 4-15, gene B spans 13-18 overlapping A at 13-15.
//
//	site: 123 456 789 012 345 678 901
//	      ATT ATG ACC CTG AAA GGG TAA
const testSeq = "ATTATGACCCTGAAAGGGTAA"

func testGenome(t *testing.T) *genome.Genome {
	t.Helper()
	g, err := genome.New(testSeq, genome.Orfs{
		{Name: "A", Start: 4, End: 15},
		{Name: "B", Start: 13, End: 18},
	})
	require.NoError(t, err)
	return g
}

// refFounder resolves a founder identical to the reference.
func refFounder(t *testing.T, g *genome.Genome, clade string) *Founder {
	t.Helper()
	f, err := ResolveFounder(g, clade, nil)
	require.NoError(t, err)
	return f
}

// br builds one branch mutation row.
func br(clade, subset, branch string, load int, site int, anc, der byte) BranchMutRow {
	return BranchMutRow{
		Clade:      clade,
		Subset:     subset,
		Branch:     branch,
		BranchMuts: int64(load),
		Site:       int64(site),
		AncNt:      string(anc),
		DerNt:      string(der),
	}
}

// identity is the no-op gene renamer.
func identity(gene string, codon int) (string, int) { return gene, codon }

// permissiveOpts applies no filtering beyond the schema checks.
func permissiveOpts() CountOpts {
	return CountOpts{
		MaxNtMutations:              1000,
		MaxReversionsToRef:          1000,
		MaxReversionsToCladeFounder: 1000,
		ExcludedSites:               map[int]bool{},
	}
}
