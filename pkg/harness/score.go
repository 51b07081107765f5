package harness

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Scoring passes enrich a run's persisted results in place: load all
// records, attach scores, rewrite the file. Each pass is idempotent, so
// re-running one after an interruption or a scorer fix is always safe.

// EnrichRetrievalMetrics attaches retrieval metrics to every result whose
// test case is known. Results referencing an unknown test_case_id are kept
// unscored and warned about, not dropped. Returns the number of results
// scored.
func EnrichRetrievalMetrics(store *RunStore, cases map[string]*TestCase) (int, error) {
	results, err := store.LoadResults()
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("run %s has no results to score", store.RunID())
	}

	scored := 0
	for _, result := range results {
		tc, ok := cases[result.TestCaseID]
		if !ok {
			slog.Warn("result references unknown test case, left unscored",
				"run_id", store.RunID(), "test_case_id", result.TestCaseID)
			continue
		}
		result.RetrievalMetrics = ComputeRetrievalMetrics(result, tc)
		scored++
	}

	if err := store.RewriteResults(results); err != nil {
		return 0, err
	}
	return scored, nil
}

// EnrichAbstention attaches abstention results to every unanswerable test
// case's result. Answerable cases are untouched; the scorer produces
// nothing for them, and a runner-recorded abstention on an answerable case
// is kept as captured. Returns the number of results scored.
func EnrichAbstention(store *RunStore, cases map[string]*TestCase) (int, error) {
	results, err := store.LoadResults()
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("run %s has no results to score", store.RunID())
	}

	scored := 0
	for _, result := range results {
		tc, ok := cases[result.TestCaseID]
		if !ok {
			slog.Warn("result references unknown test case, left unscored",
				"run_id", store.RunID(), "test_case_id", result.TestCaseID)
			continue
		}
		if abstention := ScoreAbstention(result, tc); abstention != nil {
			result.Abstention = abstention
			scored++
		}
	}

	if err := store.RewriteResults(results); err != nil {
		return 0, err
	}
	return scored, nil
}

// UpdateAggregateMetrics recomputes the run's aggregate from its current
// results and rewrites metrics.json. Run-time operational, latency, and
// coverage aggregates are carried over from the existing document; they
// derive from the live run, not from stored results.
func UpdateAggregateMetrics(store *RunStore, cases map[string]*TestCase) (*AggregateMetrics, error) {
	results, err := store.LoadResults()
	if err != nil {
		return nil, err
	}

	agg := AggregateRun(results, cases)

	existing, err := store.LoadMetrics()
	if err != nil {
		return nil, err
	}
	if existing.AggregateMetrics != nil {
		agg.OperationalMetrics = existing.AggregateMetrics.OperationalMetrics
		agg.Latency = existing.AggregateMetrics.Latency
		agg.IndexingCoverage = existing.AggregateMetrics.IndexingCoverage
	}

	config, err := store.LoadConfig()
	if err != nil {
		return nil, err
	}

	evalSetHash := existing.EvalSetCommitHash
	if evalSetHash == "" {
		evalSetHash = config.EvalSetCommitHash
	}

	if err := store.WriteMetrics(agg, ConfigHash(&config.RunConfig), evalSetHash); err != nil {
		return nil, err
	}
	return agg, nil
}

// CompareRuns loads two persisted runs and produces the full comparison:
// invariant warnings, per-metric deltas, config diffs, and per-test
// regression/improvement classification.
func CompareRuns(outputDir, baselineID, newID string, ignoreInvariants bool) (*Comparison, error) {
	baseline, err := loadRun(outputDir, baselineID)
	if err != nil {
		return nil, err
	}
	next, err := loadRun(outputDir, newID)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{
		BaselineRunID: baselineID,
		NewRunID:      newID,
		InvariantsOK:  true,
	}

	if !ignoreInvariants {
		cmp.InvariantsOK, cmp.Warnings = CheckInvariants(
			baseline.config, next.config, baseline.metrics, next.metrics)
	}

	cmp.Metrics = CompareAggregates(baseline.metrics.AggregateMetrics, next.metrics.AggregateMetrics)
	cmp.ConfigDiffs = CompareConfigs(&baseline.config.RunConfig, &next.config.RunConfig)
	cmp.Regressions, cmp.Improvements = FindTestChanges(baseline.results, next.results)

	return cmp, nil
}

type loadedRun struct {
	config  *StoredConfig
	metrics *MetricsDocument
	results []*TestResult
}

func loadRun(outputDir, runID string) (*loadedRun, error) {
	if _, err := os.Stat(filepath.Join(outputDir, runID)); err != nil {
		return nil, fmt.Errorf("run directory not found: %w", err)
	}
	store, err := OpenRunStore(outputDir, runID)
	if err != nil {
		return nil, err
	}

	config, err := store.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	metrics, err := store.LoadMetrics()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	results, err := store.LoadResults()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("run %s has no results", runID)
	}

	return &loadedRun{config: config, metrics: metrics, results: results}, nil
}
