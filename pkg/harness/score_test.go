package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRun(t *testing.T, outputDir, runID string, results []*TestResult) *RunStore {
	t.Helper()
	store, err := OpenRunStore(outputDir, runID)
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, store.AppendResult(r, true))
	}
	return store
}

func TestEnrichRetrievalMetrics(t *testing.T) {
	cases := IndexTestCases([]*TestCase{
		answerableCase("tc_1", goldAt("a.md", "")),
		answerableCase("tc_2", goldAt("b.md", "")),
	})
	store := seedRun(t, t.TempDir(), "20250101_000000", []*TestResult{
		{TestCaseID: "tc_1", Config: &RunConfig{K: 5}, RetrievedChunks: []RetrievedChunk{chunkAt("a.md", "")}},
		{TestCaseID: "tc_2", Config: &RunConfig{K: 5}, RetrievedChunks: []RetrievedChunk{chunkAt("z.md", "")}},
		{TestCaseID: "tc_unknown", Config: &RunConfig{K: 5}},
	})

	scored, err := EnrichRetrievalMetrics(store, cases)
	require.NoError(t, err)
	assert.Equal(t, 2, scored)

	results, err := store.LoadResults()
	require.NoError(t, err)
	require.Len(t, results, 3, "unknown test cases are kept, not dropped")

	require.NotNil(t, results[0].RetrievalMetrics)
	assert.Equal(t, 1.0, *results[0].RetrievalMetrics.RecallAtK)
	require.NotNil(t, results[1].RetrievalMetrics)
	assert.Equal(t, 0.0, *results[1].RetrievalMetrics.RecallAtK)
	assert.Nil(t, results[2].RetrievalMetrics)
}

func TestEnrichRetrievalMetrics_Idempotent(t *testing.T) {
	cases := IndexTestCases([]*TestCase{answerableCase("tc_1", goldAt("a.md", ""))})
	store := seedRun(t, t.TempDir(), "20250101_000000", []*TestResult{
		{TestCaseID: "tc_1", Config: &RunConfig{K: 5}, RetrievedChunks: []RetrievedChunk{chunkAt("a.md", "")}},
	})

	_, err := EnrichRetrievalMetrics(store, cases)
	require.NoError(t, err)
	first, err := store.LoadResults()
	require.NoError(t, err)

	_, err = EnrichRetrievalMetrics(store, cases)
	require.NoError(t, err)
	second, err := store.LoadResults()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEnrichRetrievalMetrics_EmptyRun(t *testing.T) {
	store, err := OpenRunStore(t.TempDir(), "20250101_000000")
	require.NoError(t, err)

	_, err = EnrichRetrievalMetrics(store, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no results")
}

func TestEnrichAbstention(t *testing.T) {
	cases := IndexTestCases([]*TestCase{
		answerableCase("tc_a", goldAt("a.md", "")),
		unanswerableCase("tc_u"),
	})
	store := seedRun(t, t.TempDir(), "20250101_000000", []*TestResult{
		{TestCaseID: "tc_a", Answer: "real answer", Config: &RunConfig{K: 5}},
		{TestCaseID: "tc_u", Answer: "made up", Config: &RunConfig{K: 5}},
	})

	scored, err := EnrichAbstention(store, cases)
	require.NoError(t, err)
	assert.Equal(t, 1, scored, "only unanswerable cases are scored")

	results, err := store.LoadResults()
	require.NoError(t, err)
	assert.Nil(t, results[0].Abstention)
	require.NotNil(t, results[1].Abstention)
	assert.False(t, results[1].Abstention.Abstained)
	assert.True(t, results[1].Abstention.Hallucinated)
}

func TestUpdateAggregateMetrics(t *testing.T) {
	cases := IndexTestCases([]*TestCase{answerableCase("tc_1", goldAt("a.md", ""))})
	store := seedRun(t, t.TempDir(), "20250101_000000", []*TestResult{
		{TestCaseID: "tc_1", Config: &RunConfig{K: 5}, RetrievedChunks: []RetrievedChunk{chunkAt("a.md", "")}},
	})
	require.NoError(t, store.WriteConfig(&StoredConfig{
		RunConfig:         RunConfig{K: 5},
		EvalSetCommitHash: "seedhash",
	}))
	// A prior metrics document with run-time aggregates that scoring passes
	// cannot recompute.
	require.NoError(t, store.WriteMetrics(&AggregateMetrics{
		OperationalMetrics: &OperationalMetrics{TotalTests: 1, SuccessfulTests: 1},
		Latency:            &LatencyStats{P50Ms: 100, P95Ms: 100, TotalMs: 100},
	}, "", "seedhash"))

	agg, err := UpdateAggregateMetrics(store, cases)
	require.NoError(t, err)

	require.NotNil(t, agg.RecallAtKAvg)
	assert.Equal(t, 1.0, *agg.RecallAtKAvg)
	require.NotNil(t, agg.OperationalMetrics, "operational metrics carry over")
	assert.Equal(t, 1, agg.OperationalMetrics.TotalTests)
	require.NotNil(t, agg.Latency)
	assert.Equal(t, 100.0, agg.Latency.P50Ms)

	doc, err := store.LoadMetrics()
	require.NoError(t, err)
	assert.Equal(t, "seedhash", doc.EvalSetCommitHash)
	assert.NotEmpty(t, doc.ConfigHash)
}

func TestCompareRuns(t *testing.T) {
	outputDir := t.TempDir()
	cases := IndexTestCases([]*TestCase{answerableCase("tc_1", goldAt("a.md", ""))})

	baseline := seedRun(t, outputDir, "20250101_000000", []*TestResult{
		{TestCaseID: "tc_1", Question: "q tc_1", Config: &RunConfig{K: 5},
			RetrievedChunks: []RetrievedChunk{chunkAt("a.md", "")}},
	})
	require.NoError(t, baseline.WriteConfig(&StoredConfig{
		RunConfig: RunConfig{K: 5}, EvalSetCommitHash: "samehash",
	}))
	_, err := EnrichRetrievalMetrics(baseline, cases)
	require.NoError(t, err)
	_, err = UpdateAggregateMetrics(baseline, cases)
	require.NoError(t, err)

	next := seedRun(t, outputDir, "20250102_000000", []*TestResult{
		{TestCaseID: "tc_1", Question: "q tc_1", Config: &RunConfig{K: 10},
			RetrievedChunks: []RetrievedChunk{chunkAt("z.md", "")}},
	})
	require.NoError(t, next.WriteConfig(&StoredConfig{
		RunConfig: RunConfig{K: 10}, EvalSetCommitHash: "samehash",
	}))
	_, err = EnrichRetrievalMetrics(next, cases)
	require.NoError(t, err)
	_, err = UpdateAggregateMetrics(next, cases)
	require.NoError(t, err)

	cmp, err := CompareRuns(outputDir, "20250101_000000", "20250102_000000", false)
	require.NoError(t, err)

	assert.True(t, cmp.InvariantsOK)
	recall, ok := cmp.Metrics["recall_at_k_avg"]
	require.True(t, ok)
	assert.Equal(t, 1.0, recall.Baseline)
	assert.Equal(t, 0.0, recall.New)

	assert.Contains(t, cmp.ConfigDiffs, "k")
	require.Len(t, cmp.Regressions, 1)
	assert.Equal(t, "tc_1", cmp.Regressions[0].TestCaseID)
	assert.Empty(t, cmp.Improvements)
}

func TestCompareRuns_MissingRun(t *testing.T) {
	_, err := CompareRuns(t.TempDir(), "20250101_000000", "20250102_000000", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
