package genome_test

import (
	"strings"
	"testing"

	"github.com/grailbio/mutfit/genome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The test genome: sites 1-3 and 19-21 are noncoding, gene A spans 4-15,
// gene B spans 13-18 and overlaps A at 13-15.
//
//	site: 123 456 789 012 345 678 901
//	      ATT ATG ACC CTG AAA GGG TAA
const testSeq = "ATTATGACCCTGAAAGGGTAA"

func testOrfs() genome.Orfs {
	return genome.Orfs{
		{Name: "A", Start: 4, End: 15},
		{Name: "B", Start: 13, End: 18},
	}
}

func testGenome(t *testing.T) *genome.Genome {
	g, err := genome.New(testSeq, testOrfs())
	require.NoError(t, err)
	return g
}

func TestReadOrfs(t *testing.T) {
	in := "gene\tstart\tend\nA\t4\t15\nB\t13\t18\n"
	orfs, err := genome.ReadOrfs(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, testOrfs(), orfs)
}

func TestNewRejectsBadAnnotation(t *testing.T) {
	_, err := genome.New(testSeq, genome.Orfs{{Name: "X", Start: 4, End: 30}})
	assert.Error(t, err)
	_, err = genome.New(testSeq, genome.Orfs{{Name: "X", Start: 4, End: 7}})
	assert.Error(t, err)
	_, err = genome.New("ATNATG", genome.Orfs{{Name: "X", Start: 1, End: 6}})
	assert.Error(t, err)
}

func TestCodingSites(t *testing.T) {
	g := testGenome(t)
	sites := g.CodingSites()
	require.Len(t, sites, 15)
	assert.Equal(t, 4, sites[0])
	assert.Equal(t, 18, sites[len(sites)-1])
	assert.False(t, g.IsCoding(3))
	assert.False(t, g.IsCoding(19))
	assert.True(t, g.IsCoding(4))
}

func TestSiteInfo(t *testing.T) {
	g := testGenome(t)

	// Site 9 is the third position of gene A's second codon.
	info := g.SiteInfo(9)
	require.Len(t, info, 1)
	assert.Equal(t, genome.CodingSite{Gene: "A", Codon: 2, Pos: 2, CodonStart: 7}, info[0])

	// Site 14 sits in both overlapping genes.
	info = g.SiteInfo(14)
	require.Len(t, info, 2)
	assert.Equal(t, genome.CodingSite{Gene: "A", Codon: 4, Pos: 1, CodonStart: 13}, info[0])
	assert.Equal(t, genome.CodingSite{Gene: "B", Codon: 1, Pos: 1, CodonStart: 13}, info[1])

	assert.Empty(t, g.SiteInfo(2))
}

func TestCodon(t *testing.T) {
	g := testGenome(t)
	cs := g.SiteInfo(9)[0]
	ref := func(site int) byte { return g.RefNt(site) }
	assert.Equal(t, "ACC", g.Codon(cs, ref))

	// A site accessor override changes only its own position.
	assert.Equal(t, "ACT", g.Codon(cs, func(site int) byte {
		if site == 9 {
			return 'T'
		}
		return g.RefNt(site)
	}))
}

func TestLoad(t *testing.T) {
	fa := ">ref test genome\n" + testSeq[:10] + "\n" + testSeq[10:] + "\n"
	orfs := "gene\tstart\tend\nA\t4\t15\nB\t13\t18\n"
	g, err := genome.Load(strings.NewReader(fa), strings.NewReader(orfs))
	require.NoError(t, err)
	assert.Equal(t, len(testSeq), g.Len())
	assert.Equal(t, byte('C'), g.RefNt(9))
}

func TestLoadRejectsMultiSequenceFasta(t *testing.T) {
	fa := ">a\nATG\n>b\nATG\n"
	orfs := "gene\tstart\tend\nA\t1\t3\n"
	_, err := genome.Load(strings.NewReader(fa), strings.NewReader(orfs))
	assert.Error(t, err)
}
