package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunnerOptions configures one evaluation run.
type RunnerOptions struct {
	EvalSetPath string
	OutputDir   string
	APIURL      string
	Timeout     time.Duration

	K          int
	FolderMode string

	// Limit, when positive, caps the number of test cases executed.
	Limit int

	// StoreFullText keeps full chunk text in results.jsonl instead of the
	// truncated preview.
	StoreFullText bool

	LLMModel           string
	EmbeddingModel     string
	JudgeModel         string
	JudgePromptVersion string
	JudgeTemperature   *float64
	RerankWeights      map[string]float64
	IndexBuildVersion  string
	RetrieverVersion   string
	AnswererVersion    string
}

// RunSummary reports where a run's artifacts landed and how it went.
type RunSummary struct {
	RunID       string
	RunDir      string
	TotalTests  int
	Operational *OperationalMetrics
	Latency     *LatencyStats
}

// Runner executes the eval set against the QA service and persists one
// result per test case. Test cases run sequentially in eval-set order;
// results stream to disk as they arrive, so an interrupted run keeps
// everything completed so far.
type Runner struct {
	client *Client
	opts   RunnerOptions
}

// NewRunner builds a runner from options.
func NewRunner(opts RunnerOptions) *Runner {
	return &Runner{
		client: NewClient(opts.APIURL, opts.Timeout),
		opts:   opts,
	}
}

// Run executes the full evaluation run and writes results.jsonl,
// config.json, and metrics.json under a fresh run directory.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	cases, err := LoadEvalSet(r.opts.EvalSetPath)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("eval set %s contains no usable test cases", r.opts.EvalSetPath)
	}
	if r.opts.Limit > 0 && len(cases) > r.opts.Limit {
		cases = cases[:r.opts.Limit]
	}

	evalSetHash, err := HashEvalSet(r.opts.EvalSetPath)
	if err != nil {
		return nil, err
	}

	config := r.buildConfig(evalSetHash)
	runID := NewRunID(time.Now())
	store, err := OpenRunStore(r.opts.OutputDir, runID)
	if err != nil {
		return nil, err
	}
	if err := store.WriteConfig(&StoredConfig{RunConfig: *config, EvalSetCommitHash: evalSetHash}); err != nil {
		return nil, err
	}

	slog.Info("starting evaluation run",
		"run_id", runID,
		"test_cases", len(cases),
		"k", config.TopK(),
		"folder_mode", config.EffectiveFolderMode(),
		"api_url", r.opts.APIURL)

	results := make([]*TestResult, 0, len(cases))
	errs := make([]error, 0, len(cases))
	latencies := make([]float64, 0, len(cases))

	for i, tc := range cases {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run interrupted after %d of %d cases: %w", i, len(cases), err)
		}

		result, callErr, latencyMs := r.runCase(ctx, tc, config)
		latencies = append(latencies, latencyMs)
		results = append(results, result)
		errs = append(errs, callErr)

		if callErr != nil {
			slog.Warn("test case failed", "id", tc.ID, "index", i+1, "total", len(cases), "error", callErr)
			continue
		}

		slog.Info("test case complete", "id", tc.ID, "index", i+1, "total", len(cases),
			"latency_ms", int(latencyMs))
		if err := store.AppendResult(result, r.opts.StoreFullText); err != nil {
			return nil, err
		}
	}

	valid := make([]*TestResult, 0, len(results))
	for _, res := range results {
		if res != nil {
			valid = append(valid, res)
		}
	}

	agg := &AggregateMetrics{
		OperationalMetrics: AggregateOperational(results, errs),
		Latency:            ComputeLatencyStats(latencies),
		IndexingCoverage:   AggregateIndexingCoverage(valid),
	}
	if err := store.WriteMetrics(agg, ConfigHash(config), evalSetHash); err != nil {
		return nil, err
	}

	slog.Info("evaluation run complete",
		"run_id", runID,
		"successful", agg.OperationalMetrics.SuccessfulTests,
		"errors", agg.OperationalMetrics.ErrorTests,
		"latency_p50_ms", int(agg.Latency.P50Ms),
		"latency_p95_ms", int(agg.Latency.P95Ms))

	return &RunSummary{
		RunID:       runID,
		RunDir:      store.Dir(),
		TotalTests:  len(cases),
		Operational: agg.OperationalMetrics,
		Latency:     agg.Latency,
	}, nil
}

func (r *Runner) runCase(ctx context.Context, tc *TestCase, config *RunConfig) (*TestResult, error, float64) {
	req := &AskRequest{
		Question: tc.Question,
		Vaults:   tc.Vaults,
		Folders:  tc.Folders,
		K:        config.TopK(),
	}

	start := time.Now()
	resp, err := r.client.Ask(ctx, req)
	elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		return nil, err, elapsedMs
	}

	result := &TestResult{
		TestCaseID:    tc.ID,
		Question:      tc.Question,
		Answer:        resp.Answer,
		References:    resp.References,
		Abstained:     boolPtr(resp.Abstained),
		AbstainReason: resp.AbstainReason,
		Config:        config,
	}

	if resp.Debug != nil {
		result.RetrievedChunks = resp.Debug.RetrievedChunks
		if resp.Debug.FolderSelection != nil {
			result.Debug = &DebugPayload{FolderSelection: resp.Debug.FolderSelection}
		}
	}
	result.IndexingCoverage = resp.IndexingCoverage
	if resp.Latency != nil {
		result.Latency = resp.Latency
	} else {
		result.Latency = &LatencyBreakdown{TotalMs: elapsedMs}
	}

	// A self-reported abstention is recorded immediately; whether it was
	// the right call is settled by the abstention scoring pass against
	// the test case's answerable flag.
	if resp.Abstained {
		result.Abstention = &AbstentionResult{Abstained: true, Hallucinated: false}
	}

	return result, nil, elapsedMs
}

func (r *Runner) buildConfig(evalSetHash string) *RunConfig {
	config := &RunConfig{
		K:                  r.opts.K,
		RerankWeights:      r.opts.RerankWeights,
		FolderMode:         r.opts.FolderMode,
		LLMModel:           r.opts.LLMModel,
		EmbeddingModel:     r.opts.EmbeddingModel,
		JudgeModel:         r.opts.JudgeModel,
		JudgePromptVersion: r.opts.JudgePromptVersion,
		JudgeTemperature:   r.opts.JudgeTemperature,
		DatasetVersion:     evalSetHash,
		IndexBuildVersion:  r.opts.IndexBuildVersion,
		RetrieverVersion:   r.opts.RetrieverVersion,
		AnswererVersion:    r.opts.AnswererVersion,
	}
	if config.K <= 0 {
		config.K = defaultK
	}
	if config.FolderMode == "" {
		config.FolderMode = FolderModeOff
	}
	return config
}
