package fitness

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountAndSelectClades(t *testing.T) {
	samples := []SampleRow{
		{Sample: "s1", Clade: "20A"},
		{Sample: "s2", Clade: "20A"},
		{Sample: "s3", Clade: "20A"},
		{Sample: "s4", Clade: "20B"},
		{Sample: "s5", Clade: "21K"},
		{Sample: "s6", Clade: "21K"},
	}
	counts := CountClades(samples)
	assert.Equal(t, map[string]int{"20A": 3, "20B": 1, "21K": 2}, counts)

	// Below-threshold clades are dropped silently, and the selection is
	// sorted so the fan-out is deterministic.
	assert.Equal(t, []string{"20A", "21K"}, SelectClades(counts, 2))
	assert.Empty(t, SelectClades(counts, 10))
}

func TestSelectCladesEmptyInput(t *testing.T) {
	assert.Empty(t, SelectClades(CountClades(nil), 1))
}

func TestCladeCountRows(t *testing.T) {
	rows := CladeCountRows(map[string]int{"20B": 1, "20A": 3}, 2)
	require.Len(t, rows, 2)
	assert.Equal(t, CladeCountRow{Clade: "20A", Samples: 3, Adequate: true}, rows[0])
	assert.Equal(t, CladeCountRow{Clade: "20B", Samples: 1, Adequate: false}, rows[1])
}

func TestSubsetNames(t *testing.T) {
	assert.Equal(t, []string{AllSubset}, SubsetNames(nil))

	subsets := []Subset{
		{Name: "england", Pattern: regexp.MustCompile("England")},
		{Name: "usa", Pattern: regexp.MustCompile("USA")},
	}
	assert.Equal(t, []string{"england", "usa"}, SubsetNames(subsets))
}

func TestMatchSubsets(t *testing.T) {
	subsets := []Subset{
		{Name: "england", Pattern: regexp.MustCompile("England")},
		{Name: "usa", Pattern: regexp.MustCompile("USA")},
	}
	assert.Equal(t, []string{"usa"}, MatchSubsets(subsets, "USA/CA-123/2021"))
	assert.Empty(t, MatchSubsets(subsets, "Japan/TY-1/2021"))
}
