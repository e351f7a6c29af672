package fitness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectExpected(t *testing.T) {
	g := testGenome(t)
	f := refFounder(t, g, "20A")
	spectrum := Spectrum{MutType{From: 'C', To: 'T'}: {Rate: 0.01, Count: 10}}

	expected, err := ProjectExpected(g, f, spectrum, identity)
	require.NoError(t, err)

	// The founder has C at sites 8, 9, 10; each contributes one
	// opportunity at the C->T rate, keyed by its amino-acid consequence.
	assert.InDelta(t, 0.01, expected[AaKey{Gene: "A", Site: 2, From: 'T', To: 'I'}], 1e-12) // site 8
	assert.InDelta(t, 0.01, expected[AaKey{Gene: "A", Site: 2, From: 'T', To: 'T'}], 1e-12) // site 9
	assert.InDelta(t, 0.01, expected[AaKey{Gene: "A", Site: 3, From: 'L', To: 'L'}], 1e-12) // site 10
	assert.Len(t, expected, 3)
}

func TestProjectExpectedSumsSitesWithSameAaMutation(t *testing.T) {
	g := testGenome(t)
	f := refFounder(t, g, "20A")
	// G->A and G->T at site 12 both keep Leu, so the synonymous Leu
	// record accumulates both change types' rates.
	spectrum := Spectrum{
		MutType{From: 'G', To: 'A'}: {Rate: 0.02},
		MutType{From: 'G', To: 'T'}: {Rate: 0.03},
	}
	expected, err := ProjectExpected(g, f, spectrum, identity)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, expected[AaKey{Gene: "A", Site: 3, From: 'L', To: 'L'}], 1e-12)
}

func TestProjectExpectedOverlappingOrfs(t *testing.T) {
	g := testGenome(t)
	f := refFounder(t, g, "20A")
	spectrum := Spectrum{MutType{From: 'A', To: 'G'}: {Rate: 0.1}}
	expected, err := ProjectExpected(g, f, spectrum, identity)
	require.NoError(t, err)

	// Site 15 sits in both genes: each gets its own amino-acid record.
	assert.InDelta(t, 0.1, expected[AaKey{Gene: "A", Site: 4, From: 'K', To: 'K'}], 1e-12)
	assert.InDelta(t, 0.1, expected[AaKey{Gene: "B", Site: 1, From: 'K', To: 'K'}], 1e-12)
}

func TestProjectExpectedUsesFounderContext(t *testing.T) {
	g := testGenome(t)
	// Founder T at site 9 changes both the wildtype codon (ACT) and which
	// change types apply at the site.
	f, err := ResolveFounder(g, "20A", []FounderMutRow{
		{Clade: "20A", Site: 9, RefNt: "C", FounderNt: "T"},
	})
	require.NoError(t, err)
	spectrum := Spectrum{MutType{From: 'T', To: 'A'}: {Rate: 0.2}}
	expected, err := ProjectExpected(g, f, spectrum, identity)
	require.NoError(t, err)

	// Site 9 founder T -> A gives ACT -> ACA, still Thr; sites 5 and 11
	// are the other founder T coding sites.
	assert.InDelta(t, 0.2, expected[AaKey{Gene: "A", Site: 2, From: 'T', To: 'T'}], 1e-12)
	assert.InDelta(t, 0.2, expected[AaKey{Gene: "A", Site: 1, From: 'M', To: 'K'}], 1e-12) // site 5: ATG -> AAG
	assert.InDelta(t, 0.2, expected[AaKey{Gene: "A", Site: 3, From: 'L', To: 'Q'}], 1e-12) // site 11: CTG -> CAG
	assert.Len(t, expected, 3)
}

func TestAggregateAaCounts(t *testing.T) {
	g := testGenome(t)
	f := refFounder(t, g, "20A")
	counts := CountTable{
		{Site: 9, From: 'C', To: 'T'}:  2, // A:T2T
		{Site: 8, From: 'C', To: 'T'}:  1, // A:T2I
		{Site: 15, From: 'A', To: 'G'}: 3, // A:K4K and B:K1K
	}
	aa, err := AggregateAaCounts(counts, g, f, identity)
	require.NoError(t, err)
	assert.Equal(t, map[AaKey]int64{
		{Gene: "A", Site: 2, From: 'T', To: 'T'}: 2,
		{Gene: "A", Site: 2, From: 'T', To: 'I'}: 1,
		{Gene: "A", Site: 4, From: 'K', To: 'K'}: 3,
		{Gene: "B", Site: 1, From: 'K', To: 'K'}: 3,
	}, aa)
}

func TestAaKeyRenaming(t *testing.T) {
	g := testGenome(t)
	f := refFounder(t, g, "20A")
	rename := func(gene string, codon int) (string, int) {
		if gene == "A" {
			return "nsp1", codon
		}
		return gene, codon
	}
	counts := CountTable{{Site: 9, From: 'C', To: 'T'}: 1}
	aa, err := AggregateAaCounts(counts, g, f, rename)
	require.NoError(t, err)
	assert.Equal(t, map[AaKey]int64{
		{Gene: "nsp1", Site: 2, From: 'T', To: 'T'}: 1,
	}, aa)

	spectrum := Spectrum{MutType{From: 'C', To: 'T'}: {Rate: 0.01}}
	expected, err := ProjectExpected(g, f, spectrum, rename)
	require.NoError(t, err)
	_, ok := expected[AaKey{Gene: "nsp1", Site: 2, From: 'T', To: 'T'}]
	assert.True(t, ok)
}

func TestAaKeyRendering(t *testing.T) {
	// AaKey is a genome.AaMut, so merge keys render in the conventional
	// gene:wt-site-mut notation.
	k := AaKey{Gene: "S", Site: 501, From: 'N', To: 'Y'}
	assert.Equal(t, "S:N501Y", k.String())
	assert.False(t, k.Synonymous())
	assert.True(t, AaKey{Gene: "A", Site: 2, From: 'T', To: 'T'}.Synonymous())
}
