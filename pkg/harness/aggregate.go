package harness

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
)

// AggregateMetrics is the per-run reduction persisted under
// "aggregate_metrics" in metrics.json. Pointer fields are omitted when the
// underlying metric was never computed for any result; the two abstention
// fields stay present and serialize as null when the run had no
// unanswerable cases, so a zero denominator never reads as 0.0.
type AggregateMetrics struct {
	RecallAtKAvg       *float64 `json:"recall_at_k_avg,omitempty"`
	RecallAllAtKAvg    *float64 `json:"recall_all_at_k_avg,omitempty"`
	MRRAvg             *float64 `json:"mrr_avg,omitempty"`
	PrecisionAtKAvg    *float64 `json:"precision_at_k_avg,omitempty"`
	ScopeMissRate      *float64 `json:"scope_miss_rate,omitempty"`
	AttributionHitRate *float64 `json:"attribution_hit_rate,omitempty"`

	GroundednessAvg *float64 `json:"groundedness_avg,omitempty"`
	CorrectnessAvg  *float64 `json:"correctness_avg,omitempty"`

	AbstentionAccuracy            *float64 `json:"abstention_accuracy"`
	HallucinationRateUnanswerable *float64 `json:"hallucination_rate_unanswerable"`
	UnanswerableTests             int      `json:"unanswerable_tests"`
	AnswerableTests               int      `json:"answerable_tests"`

	Cost *CostSummary `json:"cost,omitempty"`

	OperationalMetrics *OperationalMetrics `json:"operational_metrics,omitempty"`
	Latency            *LatencyStats       `json:"latency,omitempty"`
	IndexingCoverage   *IndexingCoverage   `json:"indexing_coverage,omitempty"`
}

// CostSummary totals judge spend across a run.
type CostSummary struct {
	JudgeTotalUSD    float64 `json:"judge_total_usd"`
	JudgeTotalTokens int     `json:"judge_total_tokens"`
}

// LatencyStats holds per-run latency percentiles in milliseconds.
type LatencyStats struct {
	P50Ms   float64 `json:"p50_ms"`
	P95Ms   float64 `json:"p95_ms"`
	TotalMs float64 `json:"total_ms"`
}

// OperationalMetrics summarizes run health independent of scoring quality.
type OperationalMetrics struct {
	TotalTests         int                       `json:"total_tests"`
	SuccessfulTests    int                       `json:"successful_tests"`
	ErrorTests         int                       `json:"error_tests"`
	TimeoutTests       int                       `json:"timeout_tests"`
	EmptyResponseTests int                       `json:"empty_response_tests"`
	ErrorRate          float64                   `json:"error_rate"`
	TimeoutRate        float64                   `json:"timeout_rate"`
	EmptyResponseRate  float64                   `json:"empty_response_rate"`
	CoverageByDocType  map[string]map[string]int `json:"coverage_by_doc_type,omitempty"`
}

// AggregateRun reduces a run's results into summary statistics. Results
// whose test case is missing from the eval set are skipped; results not
// yet enriched by a scoring pass are scored on the fly from the same
// inputs, so the aggregate is reproducible purely from the results file.
func AggregateRun(results []*TestResult, cases map[string]*TestCase) *AggregateMetrics {
	agg := &AggregateMetrics{}
	if len(results) == 0 {
		return agg
	}

	var (
		recalls, recallAlls, mrrs, precisions []float64
		scopeMisses, attributionHits          []float64
		groundedness, correctness             []float64
		abstentions, hallucinations           []float64
		totalTokens                           int
		totalCost                             float64
		unanswerable                          int
	)

	for _, result := range results {
		tc, ok := cases[result.TestCaseID]
		if !ok {
			continue
		}

		metrics := result.RetrievalMetrics
		if metrics == nil {
			metrics = ComputeRetrievalMetrics(result, tc)
		}

		if metrics.RecallAtK != nil {
			recalls = append(recalls, *metrics.RecallAtK)
		}
		if metrics.RecallAllAtK != nil {
			recallAlls = append(recallAlls, *metrics.RecallAllAtK)
		}
		if metrics.MRR != nil {
			mrrs = append(mrrs, *metrics.MRR)
		}
		if metrics.PrecisionAtK != nil {
			precisions = append(precisions, *metrics.PrecisionAtK)
		}
		if metrics.ScopeMiss != nil {
			scopeMisses = append(scopeMisses, boolScore(*metrics.ScopeMiss))
		}
		// Unanswerable cases store attribution_hit=false; they are
		// excluded from the rate rather than dragging it down.
		if metrics.AttributionHit != nil && tc.IsAnswerable() {
			attributionHits = append(attributionHits, boolScore(*metrics.AttributionHit))
		}

		if result.Groundedness != nil {
			groundedness = append(groundedness, result.Groundedness.Score)
		}
		if result.Correctness != nil {
			correctness = append(correctness, result.Correctness.Score)
		}
		if result.Cost != nil {
			totalTokens += result.Cost.JudgeTokens
			totalCost += result.Cost.JudgeCostUSD
		}

		if !tc.IsAnswerable() {
			unanswerable++
			abstention := result.Abstention
			if abstention == nil {
				abstention = ScoreAbstention(result, tc)
			}
			if abstention != nil {
				abstentions = append(abstentions, boolScore(abstention.Abstained))
				hallucinations = append(hallucinations, boolScore(abstention.Hallucinated))
			}
		}
	}

	agg.RecallAtKAvg = meanPtr(recalls)
	agg.RecallAllAtKAvg = meanPtr(recallAlls)
	agg.MRRAvg = meanPtr(mrrs)
	agg.PrecisionAtKAvg = meanPtr(precisions)
	agg.ScopeMissRate = meanPtr(scopeMisses)
	agg.AttributionHitRate = meanPtr(attributionHits)
	agg.GroundednessAvg = meanPtr(groundedness)
	agg.CorrectnessAvg = meanPtr(correctness)
	agg.AbstentionAccuracy = meanPtr(abstentions)
	agg.HallucinationRateUnanswerable = meanPtr(hallucinations)
	agg.UnanswerableTests = unanswerable
	agg.AnswerableTests = len(results) - unanswerable

	if totalTokens > 0 || totalCost > 0 {
		agg.Cost = &CostSummary{JudgeTotalUSD: totalCost, JudgeTotalTokens: totalTokens}
	}

	return agg
}

// ComputeLatencyStats reduces per-call latencies to nearest-rank
// percentiles using sorted[n/2] and sorted[int(n*0.95)]. Historical runs
// were summarized with exactly this indexing, so it is kept over an
// interpolated percentile.
func ComputeLatencyStats(latencies []float64) *LatencyStats {
	if len(latencies) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)

	total := 0.0
	for _, l := range latencies {
		total += l
	}

	p95 := int(float64(len(sorted)) * 0.95)
	if p95 >= len(sorted) {
		p95 = len(sorted) - 1
	}

	return &LatencyStats{
		P50Ms:   sorted[len(sorted)/2],
		P95Ms:   sorted[p95],
		TotalMs: total,
	}
}

// AggregateOperational summarizes run health. results and errs are
// parallel slices from the runner: a failed call leaves a nil result and
// a non-nil error at the same index.
func AggregateOperational(results []*TestResult, errs []error) *OperationalMetrics {
	total := len(results)
	metrics := &OperationalMetrics{TotalTests: total}

	for i, result := range results {
		if i < len(errs) && errs[i] != nil {
			metrics.ErrorTests++
			if isTimeout(errs[i]) {
				metrics.TimeoutTests++
			}
			continue
		}
		if result == nil {
			continue
		}
		if result.Answer != "" {
			metrics.SuccessfulTests++
		} else if result.Abstention == nil || !result.Abstention.Abstained {
			// No answer and no abstention is a silent failure mode worth
			// tracking separately from hard errors.
			metrics.EmptyResponseTests++
		}
	}

	if total > 0 {
		metrics.ErrorRate = float64(metrics.ErrorTests) / float64(total)
		metrics.TimeoutRate = float64(metrics.TimeoutTests) / float64(total)
		metrics.EmptyResponseRate = float64(metrics.EmptyResponseTests) / float64(total)
	}

	metrics.CoverageByDocType = coverageByDocType(results)
	return metrics
}

// AggregateIndexingCoverage sums the per-result coverage snapshots. Counts
// are summed; token stats are averaged (min of mins, max of maxes, mean of
// means). Returns nil when no result carried coverage.
func AggregateIndexingCoverage(results []*TestResult) *IndexingCoverage {
	var snapshots []*IndexingCoverage
	for _, r := range results {
		if r != nil && r.IndexingCoverage != nil {
			snapshots = append(snapshots, r.IndexingCoverage)
		}
	}
	if len(snapshots) == 0 {
		return nil
	}

	agg := &IndexingCoverage{
		ChunksSkippedReasons: map[string]int{},
		ChunkerVersion:       snapshots[0].ChunkerVersion,
		IndexVersion:         snapshots[0].IndexVersion,
	}
	for _, c := range snapshots {
		agg.DocsProcessed += c.DocsProcessed
		agg.DocsWith0Chunks += c.DocsWith0Chunks
		agg.ChunksAttempted += c.ChunksAttempted
		agg.ChunksEmbedded += c.ChunksEmbedded
		agg.ChunksSkipped += c.ChunksSkipped
		for reason, count := range c.ChunksSkippedReasons {
			agg.ChunksSkippedReasons[reason] += count
		}
	}

	stats := aggregateTokenStats(snapshots)
	if stats != nil {
		agg.ChunkTokenStats = stats
	}
	return agg
}

func aggregateTokenStats(snapshots []*IndexingCoverage) map[string]float64 {
	for _, c := range snapshots {
		if len(c.ChunkTokenStats) == 0 {
			return nil
		}
	}

	out := map[string]float64{}
	for i, c := range snapshots {
		s := c.ChunkTokenStats
		if i == 0 {
			out["min"] = s["min"]
			out["max"] = s["max"]
		} else {
			if s["min"] < out["min"] {
				out["min"] = s["min"]
			}
			if s["max"] > out["max"] {
				out["max"] = s["max"]
			}
		}
		out["mean"] += s["mean"]
		out["p95"] += s["p95"]
	}
	n := float64(len(snapshots))
	out["mean"] /= n
	out["p95"] /= n
	return out
}

func coverageByDocType(results []*TestResult) map[string]map[string]int {
	coverage := map[string]map[string]int{}
	for _, result := range results {
		if result == nil || result.IndexingCoverage == nil {
			continue
		}
		for _, chunk := range result.RetrievedChunks {
			if chunk.RelPath == "" {
				continue
			}
			docType := "unknown"
			if ext := filepath.Ext(chunk.RelPath); ext != "" {
				docType = ext[1:]
			}
			if coverage[docType] == nil {
				coverage[docType] = map[string]int{
					"processed":      0,
					"with_0_chunks":  0,
					"chunks_skipped": 0,
				}
			}
			coverage[docType]["processed"]++
		}
	}
	if len(coverage) == 0 {
		return nil
	}
	return coverage
}

// meanPtr returns the arithmetic mean, or nil for an empty slice so the
// aggregate serializes as null/omitted instead of 0.0.
func meanPtr(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return floatPtr(sum / float64(len(values)))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func boolScore(v bool) float64 {
	if v {
		return 1.0
	}
	return 0.0
}
