package fitness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testFasta   = ">ref\n" + testSeq + "\n"
	testOrfTSV  = "gene\tstart\tend\nA\t4\t15\nB\t13\t18\n"
	testSamples = "sample\tdate\tclade\n" +
		"s1\t2021-01-01\t20A\n" +
		"s2\t2021-01-02\t20A\n" +
		"s3\t2021-01-03\t20A\n" +
		"s4\t2021-01-04\t20B\n"
	// 20A has a harmless founder annotation at a noncoding site, so its
	// founder resolves to the reference.
	testFounders = "clade\tsite\tref_nt\tfounder_nt\n20A\t2\tT\tA\n"
	testBranches = "clade\tsubset\tbranch\tterminal\tbranch_muts\tsite\tanc_nt\tder_nt\n" +
		"20A\tall\tb1\tfalse\t1\t9\tC\tT\n" + // synonymous
		"20A\tall\tb2\tfalse\t1\t10\tC\tT\n" + // synonymous
		"20A\tall\tb3\tfalse\t1\t12\tG\tA\n" + // synonymous
		"20A\tall\tb4\tfalse\t1\t14\tA\tG\n" + // nonsynonymous in A and B
		"20B\tall\tb5\tfalse\t1\t9\tC\tT\n" // below-threshold clade
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// testPipelineConfig lays out a complete input fixture under dir and
// returns a runnable config pointing at it.
func testPipelineConfig(t *testing.T, dir, samples, founders, branches string) Config {
	t.Helper()
	outDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(outDir, 0755))
	cfg := DefaultConfig
	cfg.RefFasta = writeTestFile(t, dir, "ref.fasta", testFasta)
	cfg.OrfTable = writeTestFile(t, dir, "orfs.tsv", testOrfTSV)
	cfg.SampleTable = writeTestFile(t, dir, "samples.tsv", samples)
	cfg.FounderMutTable = writeTestFile(t, dir, "founders.tsv", founders)
	cfg.BranchMutTable = writeTestFile(t, dir, "branches.tsv", branches)
	cfg.OutDir = outDir
	cfg.MinCladeSamples = 2
	cfg.SynonymousSpectraMinCounts = 1
	cfg.MinExpectedCount = 0
	cfg.Parallelism = 2
	return cfg
}

func readOutput(t *testing.T, cfg Config, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.OutDir, name))
	require.NoError(t, err)
	return string(data)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	cfg := testPipelineConfig(t, t.TempDir(), testSamples, testFounders, testBranches)
	require.NoError(t, Run(ctx, cfg))

	cladeCounts := readOutput(t, cfg, CladeCountsFile)
	assert.Contains(t, cladeCounts, "20A\t3\ttrue")
	assert.Contains(t, cladeCounts, "20B\t1\tfalse")

	// 20B is below min_clade_samples; the clade counts table is the only
	// place it appears.
	for _, name := range []string{
		NtCountsFile, RatesFile, MergedFile,
		FitnessAllFile, FitnessCladeFile, FitnessSubsetFile,
	} {
		assert.NotContains(t, readOutput(t, cfg, name), "20B", name)
	}

	ntCounts := readOutput(t, cfg, NtCountsFile)
	assert.Contains(t, ntCounts, "20A\tall\t9\tC9T\t1")
	assert.Contains(t, ntCounts, "20A\tall\t14\tA14G\t1")

	// Two C->T and one G->A synonymous observations; the spectrum has
	// nonzero rates for both types.
	rates := readOutput(t, cfg, RatesFile)
	assert.Contains(t, rates, "20A\tCtoT\t")
	assert.Contains(t, rates, "20A\tGtoA\t")

	// C->T at site 8 is a nonsynonymous opportunity (T -> I in gene A), so
	// the fitness table has an expected-but-unobserved record for it.
	fitness := readOutput(t, cfg, FitnessAllFile)
	assert.Contains(t, fitness, "A\t2\tT\tI")

	// The observed A14G (K -> R in both overlapping genes) had no A->G
	// synonymous observations backing an expected count, so it appears in
	// the merged table but not the fitness tables.
	merged := readOutput(t, cfg, MergedFile)
	assert.Contains(t, merged, "A\t4\tK\tR")
	assert.Contains(t, merged, "B\t1\tK\tR")
	assert.NotContains(t, fitness, "K\tR")

	byClade := readOutput(t, cfg, FitnessCladeFile)
	assert.Contains(t, byClade, "20A\tA\t2\tT\tI")
	bySubset := readOutput(t, cfg, FitnessSubsetFile)
	assert.Contains(t, bySubset, "all\tA\t2\tT\tI")
}

func TestRunIsDeterministic(t *testing.T) {
	ctx := context.Background()
	cfg := testPipelineConfig(t, t.TempDir(), testSamples, testFounders, testBranches)
	require.NoError(t, Run(ctx, cfg))
	first := readOutput(t, cfg, FitnessAllFile)
	firstMerged := readOutput(t, cfg, MergedFile)

	require.NoError(t, Run(ctx, cfg))
	assert.Equal(t, first, readOutput(t, cfg, FitnessAllFile))
	assert.Equal(t, firstMerged, readOutput(t, cfg, MergedFile))
}

func TestRunEmptyInputs(t *testing.T) {
	ctx := context.Background()
	header := func(s string) string { return strings.SplitAfter(s, "\n")[0] }
	cfg := testPipelineConfig(t, t.TempDir(),
		header(testSamples), header(testFounders), header(testBranches))
	require.NoError(t, Run(ctx, cfg))

	// Every artifact exists; with no clades selected they carry no rows.
	for _, name := range []string{
		CladeCountsFile, NtCountsFile, RatesFile, MergedFile,
		FitnessAllFile, FitnessCladeFile, FitnessSubsetFile,
	} {
		info, err := os.Stat(filepath.Join(cfg.OutDir, name))
		require.NoError(t, err, name)
		assert.False(t, info.IsDir())
	}
}

func TestRunUnknownSubsetFatal(t *testing.T) {
	ctx := context.Background()
	branches := testBranches + "20A\tusa\tb6\tfalse\t1\t9\tC\tT\n"
	cfg := testPipelineConfig(t, t.TempDir(), testSamples, testFounders, branches)
	err := Run(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown subset")
}

func TestRunMissingFounderFatal(t *testing.T) {
	ctx := context.Background()
	// 20A is selected but has no founder rows at all.
	founders := "clade\tsite\tref_nt\tfounder_nt\n20B\t2\tT\tA\n"
	cfg := testPipelineConfig(t, t.TempDir(), testSamples, testFounders, testBranches)
	cfg.FounderMutTable = writeTestFile(t, t.TempDir(), "founders2.tsv", founders)
	err := Run(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no founder mutations")
}

func TestRunWithSubsetsConfigured(t *testing.T) {
	ctx := context.Background()
	branches := "clade\tsubset\tbranch\tterminal\tbranch_muts\tsite\tanc_nt\tder_nt\n" +
		"20A\tengland\tb1\tfalse\t1\t9\tC\tT\n" +
		"20A\tusa\tb2\tfalse\t1\t10\tC\tT\n"
	samples := "sample\tdate\tclade\n" +
		"England/1\t2021-01-01\t20A\n" +
		"USA/1\t2021-01-02\t20A\n" +
		"USA/2\t2021-01-03\t20A\n"
	cfg := testPipelineConfig(t, t.TempDir(), samples, testFounders, branches)
	cfg.SampleSubsets = map[string]string{
		"england": "^England/",
		"usa":     "^USA/",
	}
	require.NoError(t, Run(ctx, cfg))

	ntCounts := readOutput(t, cfg, NtCountsFile)
	assert.Contains(t, ntCounts, "20A\tengland\t9\tC9T\t1")
	assert.Contains(t, ntCounts, "20A\tusa\t10\tC10T\t1")
	assert.NotContains(t, ntCounts, "\tall\t")

	// Rates pool the clade's cells, so the spectrum sees both C->T counts.
	rates := readOutput(t, cfg, RatesFile)
	var ctot string
	for _, line := range strings.Split(rates, "\n") {
		if strings.HasPrefix(line, "20A\tCtoT\t") {
			ctot = line
		}
	}
	require.NotEmpty(t, ctot)
	assert.True(t, strings.HasSuffix(ctot, "\t2"), ctot)
}
