package harness

import (
	"fmt"
	"maps"
	"math"
	"sort"
)

// judgeTemperatureTolerance bounds the float drift allowed between two
// runs' judge temperatures before the comparison is flagged.
const judgeTemperatureTolerance = 0.001

// Score bands for per-test classification. A judged score crossing from
// the high band down below the low band is a regression; the mirror
// crossing is an improvement. Movement inside [low, high) is noise and
// produces no classification.
const (
	judgeScoreHigh = 4.0
	judgeScoreLow  = 3.0
)

// MetricComparison is one metric's baseline-to-new delta. DeltaPct is nil
// when the baseline is zero; a percentage of nothing is undefined, not
// infinite.
type MetricComparison struct {
	Baseline float64  `json:"baseline"`
	New      float64  `json:"new"`
	Delta    float64  `json:"delta"`
	DeltaPct *float64 `json:"delta_pct"`
}

// TestChange names one test case whose outcome flipped between runs.
type TestChange struct {
	TestCaseID string   `json:"test_case_id"`
	Question   string   `json:"question"`
	Changes    []string `json:"changes"`
}

// ConfigDiff is one config field that differs between runs.
type ConfigDiff struct {
	Baseline any `json:"baseline"`
	New      any `json:"new"`
}

// Comparison is the full output of comparing two runs.
type Comparison struct {
	BaselineRunID string                      `json:"baseline_run_id"`
	NewRunID      string                      `json:"new_run_id"`
	InvariantsOK  bool                        `json:"invariants_ok"`
	Warnings      []string                    `json:"warnings,omitempty"`
	Metrics       map[string]MetricComparison `json:"metrics"`
	ConfigDiffs   map[string]ConfigDiff       `json:"config_diffs,omitempty"`
	Regressions   []TestChange                `json:"regressions"`
	Improvements  []TestChange                `json:"improvements"`
}

// CheckInvariants verifies that two runs are comparable: same eval-set
// hash, judge model, judge prompt version, and judge temperature. For each
// invariant, both absent is fine (retrieval-only runs carry no judge
// settings), exactly one present is a warning, and both present but
// different is a warning. Returns false when any both-present invariant
// differs.
func CheckInvariants(baseline, next *StoredConfig, baselineMetrics, nextMetrics *MetricsDocument) (bool, []string) {
	var warnings []string
	allMatch := true

	hash1 := evalSetHash(baseline, baselineMetrics)
	hash2 := evalSetHash(next, nextMetrics)
	switch {
	case hash1 != "" && hash2 != "":
		if hash1 != hash2 {
			warnings = append(warnings, fmt.Sprintf(
				"eval set hash differs: %s vs %s", shortHash(hash1), shortHash(hash2)))
			allMatch = false
		}
	case hash1 != "" || hash2 != "":
		warnings = append(warnings, "one run missing eval_set_commit_hash (comparison may be invalid)")
	}

	model1, model2 := configField(baseline, func(c *RunConfig) string { return c.JudgeModel }),
		configField(next, func(c *RunConfig) string { return c.JudgeModel })
	switch {
	case model1 != "" && model2 != "":
		if model1 != model2 {
			warnings = append(warnings, fmt.Sprintf("judge model differs: %s vs %s", model1, model2))
			allMatch = false
		}
	case model1 != "" || model2 != "":
		warnings = append(warnings, "one run missing judge_model (comparison may be invalid)")
	}

	prompt1, prompt2 := configField(baseline, func(c *RunConfig) string { return c.JudgePromptVersion }),
		configField(next, func(c *RunConfig) string { return c.JudgePromptVersion })
	switch {
	case prompt1 != "" && prompt2 != "":
		if prompt1 != prompt2 {
			warnings = append(warnings, fmt.Sprintf("judge prompt version differs: %s vs %s", prompt1, prompt2))
			allMatch = false
		}
	case prompt1 != "" || prompt2 != "":
		warnings = append(warnings, "one run missing judge_prompt_version (comparison may be invalid)")
	}

	temp1, temp2 := judgeTemperature(baseline), judgeTemperature(next)
	switch {
	case temp1 != nil && temp2 != nil:
		if math.Abs(*temp1-*temp2) > judgeTemperatureTolerance {
			warnings = append(warnings, fmt.Sprintf("judge temperature differs: %g vs %g", *temp1, *temp2))
			allMatch = false
		}
	case temp1 != nil || temp2 != nil:
		warnings = append(warnings, "one run missing judge_temperature (comparison may be invalid)")
	}

	return allMatch, warnings
}

// CompareAggregates computes per-metric deltas for every metric present in
// both runs' aggregates. Metrics absent from either side are skipped, not
// treated as zero.
func CompareAggregates(baseline, next *AggregateMetrics) map[string]MetricComparison {
	comparisons := map[string]MetricComparison{}
	if baseline == nil || next == nil {
		return comparisons
	}

	pairs := []struct {
		name     string
		baseline *float64
		next     *float64
	}{
		{"recall_at_k_avg", baseline.RecallAtKAvg, next.RecallAtKAvg},
		{"recall_all_at_k_avg", baseline.RecallAllAtKAvg, next.RecallAllAtKAvg},
		{"mrr_avg", baseline.MRRAvg, next.MRRAvg},
		{"precision_at_k_avg", baseline.PrecisionAtKAvg, next.PrecisionAtKAvg},
		{"scope_miss_rate", baseline.ScopeMissRate, next.ScopeMissRate},
		{"attribution_hit_rate", baseline.AttributionHitRate, next.AttributionHitRate},
		{"groundedness_avg", baseline.GroundednessAvg, next.GroundednessAvg},
		{"correctness_avg", baseline.CorrectnessAvg, next.CorrectnessAvg},
		{"abstention_accuracy", baseline.AbstentionAccuracy, next.AbstentionAccuracy},
		{"hallucination_rate_unanswerable", baseline.HallucinationRateUnanswerable, next.HallucinationRateUnanswerable},
	}
	for _, p := range pairs {
		if p.baseline != nil && p.next != nil {
			comparisons[p.name] = compareValues(*p.baseline, *p.next)
		}
	}

	if baseline.Latency != nil && next.Latency != nil {
		comparisons["latency_p50_ms"] = compareValues(baseline.Latency.P50Ms, next.Latency.P50Ms)
		comparisons["latency_p95_ms"] = compareValues(baseline.Latency.P95Ms, next.Latency.P95Ms)
	}

	return comparisons
}

// FindTestChanges classifies per-test regressions and improvements over
// the intersection of the two runs' test cases. A regression is recall
// flipping 1.0 to 0.0, or a judged score crossing from the high band down
// below the low band; improvements are the mirror image. Output is sorted
// by test case id so two invocations diff cleanly.
func FindTestChanges(baseline, next []*TestResult) (regressions, improvements []TestChange) {
	baselineByID := indexByTestCase(baseline)
	nextByID := indexByTestCase(next)

	ids := make([]string, 0, len(baselineByID))
	for id := range baselineByID {
		if _, ok := nextByID[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		r1, r2 := baselineByID[id], nextByID[id]

		var changes []string
		isRegression := false
		isImprovement := false

		recall1, recall2 := storedRecall(r1), storedRecall(r2)
		if recall1 == 1.0 && recall2 == 0.0 {
			isRegression = true
			changes = append(changes, "recall_at_k: 1.0 → 0.0")
		} else if recall1 == 0.0 && recall2 == 1.0 {
			isImprovement = true
			changes = append(changes, "recall_at_k: 0.0 → 1.0")
		}

		if g1, g2 := judgedScore(r1.Groundedness), judgedScore(r2.Groundedness); g1 != nil && g2 != nil {
			switch {
			case *g1 >= judgeScoreHigh && *g2 < judgeScoreLow:
				isRegression = true
				changes = append(changes, fmt.Sprintf("groundedness: %.1f → %.1f", *g1, *g2))
			case *g1 < judgeScoreLow && *g2 >= judgeScoreHigh:
				isImprovement = true
				changes = append(changes, fmt.Sprintf("groundedness: %.1f → %.1f", *g1, *g2))
			}
		}

		if c1, c2 := correctnessScore(r1.Correctness), correctnessScore(r2.Correctness); c1 != nil && c2 != nil {
			switch {
			case *c1 >= judgeScoreHigh && *c2 < judgeScoreLow:
				isRegression = true
				changes = append(changes, fmt.Sprintf("correctness: %.1f → %.1f", *c1, *c2))
			case *c1 < judgeScoreLow && *c2 >= judgeScoreHigh:
				isImprovement = true
				changes = append(changes, fmt.Sprintf("correctness: %.1f → %.1f", *c1, *c2))
			}
		}

		if isRegression {
			regressions = append(regressions, TestChange{TestCaseID: id, Question: r1.Question, Changes: changes})
		}
		if isImprovement {
			improvements = append(improvements, TestChange{TestCaseID: id, Question: r1.Question, Changes: changes})
		}
	}

	return regressions, improvements
}

// CompareConfigs reports the config fields that differ between runs.
func CompareConfigs(baseline, next *RunConfig) map[string]ConfigDiff {
	diffs := map[string]ConfigDiff{}
	if baseline == nil {
		baseline = &RunConfig{}
	}
	if next == nil {
		next = &RunConfig{}
	}

	add := func(field string, v1, v2 any, differ bool) {
		if differ {
			diffs[field] = ConfigDiff{Baseline: v1, New: v2}
		}
	}

	add("k", baseline.K, next.K, baseline.K != next.K)
	add("rerank_weights", baseline.RerankWeights, next.RerankWeights,
		!maps.Equal(baseline.RerankWeights, next.RerankWeights))
	add("folder_mode", baseline.FolderMode, next.FolderMode, baseline.FolderMode != next.FolderMode)
	add("llm_model", baseline.LLMModel, next.LLMModel, baseline.LLMModel != next.LLMModel)
	add("embedding_model", baseline.EmbeddingModel, next.EmbeddingModel,
		baseline.EmbeddingModel != next.EmbeddingModel)
	add("judge_model", baseline.JudgeModel, next.JudgeModel, baseline.JudgeModel != next.JudgeModel)
	add("judge_prompt_version", baseline.JudgePromptVersion, next.JudgePromptVersion,
		baseline.JudgePromptVersion != next.JudgePromptVersion)
	add("judge_temperature", baseline.JudgeTemperature, next.JudgeTemperature,
		!floatPtrEqual(baseline.JudgeTemperature, next.JudgeTemperature))
	add("index_build_version", baseline.IndexBuildVersion, next.IndexBuildVersion,
		baseline.IndexBuildVersion != next.IndexBuildVersion)
	add("retriever_version", baseline.RetrieverVersion, next.RetrieverVersion,
		baseline.RetrieverVersion != next.RetrieverVersion)
	add("answerer_version", baseline.AnswererVersion, next.AnswererVersion,
		baseline.AnswererVersion != next.AnswererVersion)

	return diffs
}

func compareValues(baseline, next float64) MetricComparison {
	cmp := MetricComparison{
		Baseline: baseline,
		New:      next,
		Delta:    next - baseline,
	}
	if baseline != 0 {
		cmp.DeltaPct = floatPtr((next - baseline) / baseline * 100)
	}
	return cmp
}

func indexByTestCase(results []*TestResult) map[string]*TestResult {
	byID := make(map[string]*TestResult, len(results))
	for _, r := range results {
		if r != nil && r.TestCaseID != "" {
			byID[r.TestCaseID] = r
		}
	}
	return byID
}

// storedRecall reads a result's recall, defaulting to 0.0 when the scoring
// pass never ran. An unscored result on either side therefore never
// classifies as a 1.0 to 0.0 flip on its own.
func storedRecall(r *TestResult) float64 {
	if r.RetrievalMetrics == nil || r.RetrievalMetrics.RecallAtK == nil {
		return 0.0
	}
	return *r.RetrievalMetrics.RecallAtK
}

func judgedScore(g *GroundednessScore) *float64 {
	if g == nil {
		return nil
	}
	return floatPtr(g.Score)
}

func correctnessScore(c *CorrectnessScore) *float64 {
	if c == nil {
		return nil
	}
	return floatPtr(c.Score)
}

func evalSetHash(config *StoredConfig, metrics *MetricsDocument) string {
	if config != nil && config.EvalSetCommitHash != "" {
		return config.EvalSetCommitHash
	}
	if metrics != nil {
		return metrics.EvalSetCommitHash
	}
	return ""
}

func configField(config *StoredConfig, get func(*RunConfig) string) string {
	if config == nil {
		return ""
	}
	return get(&config.RunConfig)
}

func judgeTemperature(config *StoredConfig) *float64 {
	if config == nil {
		return nil
	}
	return config.JudgeTemperature
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
