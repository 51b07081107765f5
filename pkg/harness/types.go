// Package harness implements the offline evaluation core for the vault QA
// service: anchor-based gold-support matching, per-test retrieval metrics,
// abstention scoring, run aggregation, and run-to-run comparison.
//
// The scoring core is pure and synchronous. All I/O lives in the dataset
// loader, the run store, the API client, and the runner.
package harness

// GoldSupport anchors evidence to a document location independent of how
// that location was later chunked. RelPath identifies the file exactly;
// HeadingPath is the raw heading breadcrumb as authored; Snippets, when
// present, are literal fragments at least one of which must appear in a
// matching chunk.
type GoldSupport struct {
	RelPath     string   `json:"rel_path"`
	HeadingPath string   `json:"heading_path"`
	Snippets    []string `json:"snippets,omitempty"`
}

// TestCase is one hand-labeled ground-truth entry from the eval set.
type TestCase struct {
	ID           string        `json:"id"`
	Question     string        `json:"question"`
	Vaults       []string      `json:"vaults,omitempty"`
	Folders      []string      `json:"folders,omitempty"`
	Answerable   *bool         `json:"answerable,omitempty"`
	GoldSupports []GoldSupport `json:"gold_supports,omitempty"`
	// RequiredSupportGroups holds groups of indices into GoldSupports.
	// Groups are OR'd, supports within a group are AND'd. Multi-hop only.
	RequiredSupportGroups [][]int `json:"required_support_groups,omitempty"`
	Category              string  `json:"category,omitempty"`
}

// IsAnswerable reports the answerable flag, defaulting to true when the
// field was absent from the record.
func (tc *TestCase) IsAnswerable() bool {
	if tc.Answerable == nil {
		return true
	}
	return *tc.Answerable
}

// CategoryMultiHop marks test cases whose Recall-all@K is computed from
// required support groups.
const CategoryMultiHop = "multi_hop"

// RetrievedChunk is one ranked retrieval hit captured from the QA API's
// debug payload. Rank is 1-based.
type RetrievedChunk struct {
	ChunkID      string   `json:"chunk_id"`
	RelPath      string   `json:"rel_path"`
	HeadingPath  string   `json:"heading_path"`
	Rank         int      `json:"rank"`
	ScoreVector  float64  `json:"score_vector"`
	ScoreLexical *float64 `json:"score_lexical,omitempty"`
	ScoreFinal   float64  `json:"score_final"`
	Text         string   `json:"text"`
	TokenCount   *int     `json:"token_count,omitempty"`
}

// Reference is one cited evidence entry in an answer. References carry no
// chunk text, only location metadata.
type Reference struct {
	Vault       string `json:"vault,omitempty"`
	RelPath     string `json:"rel_path"`
	HeadingPath string `json:"heading_path"`
	ChunkIndex  int    `json:"chunk_index,omitempty"`
}

// RunConfig is the configuration snapshot persisted with every run. Within
// one run, every TestResult references the same RunConfig.
type RunConfig struct {
	K                  int                `json:"k"`
	RerankWeights      map[string]float64 `json:"rerank_weights"`
	FolderMode         string             `json:"folder_mode"`
	LLMModel           string             `json:"llm_model,omitempty"`
	EmbeddingModel     string             `json:"embedding_model,omitempty"`
	JudgeModel         string             `json:"judge_model,omitempty"`
	JudgePromptVersion string             `json:"judge_prompt_version,omitempty"`
	JudgeTemperature   *float64           `json:"judge_temperature,omitempty"`
	DatasetVersion     string             `json:"dataset_version,omitempty"`
	IndexBuildVersion  string             `json:"index_build_version,omitempty"`
	RetrieverVersion   string             `json:"retriever_version,omitempty"`
	AnswererVersion    string             `json:"answerer_version,omitempty"`
}

// Folder selection modes.
const (
	FolderModeOff        = "off"
	FolderModeOn         = "on"
	FolderModeOnFallback = "on_with_fallback"
)

// defaultK is assumed for configs captured before K was recorded.
const defaultK = 5

// TopK returns K, defaulting to 5 for configs captured before K was
// recorded.
func (c *RunConfig) TopK() int {
	if c == nil || c.K <= 0 {
		return defaultK
	}
	return c.K
}

// EffectiveFolderMode returns the folder mode, defaulting to "off" for
// older results whose embedded config predates the field.
func (c *RunConfig) EffectiveFolderMode() string {
	if c == nil || c.FolderMode == "" {
		return FolderModeOff
	}
	return c.FolderMode
}

// RetrievalMetrics holds the per-test retrieval scores. Pointer fields
// distinguish "not computed" from a zero score; absent fields are omitted
// from the persisted record.
type RetrievalMetrics struct {
	RecallAtK      *float64 `json:"recall_at_k,omitempty"`
	RecallAllAtK   *float64 `json:"recall_all_at_k,omitempty"`
	MRR            *float64 `json:"mrr,omitempty"`
	PrecisionAtK   *float64 `json:"precision_at_k,omitempty"`
	ScopeMiss      *bool    `json:"scope_miss,omitempty"`
	AttributionHit *bool    `json:"attribution_hit,omitempty"`
}

// GroundednessScore is the judge's groundedness verdict for one answer.
type GroundednessScore struct {
	Score             float64  `json:"score"`
	Reasoning         string   `json:"reasoning"`
	UnsupportedClaims []string `json:"unsupported_claims"`
	SupportedClaims   []string `json:"supported_claims"`
}

// CorrectnessScore is the judge's correctness verdict for one answer.
type CorrectnessScore struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// AbstentionResult records whether the system abstained on an unanswerable
// question, and the derived hallucination flag.
type AbstentionResult struct {
	Abstained    bool `json:"abstained"`
	Hallucinated bool `json:"hallucinated"`
}

// JudgeInput preserves the exact payload a judge saw, for reproducibility.
type JudgeInput struct {
	Question               string   `json:"question"`
	Answer                 string   `json:"answer"`
	ContextChunkIDs        []string `json:"context_chunk_ids"`
	ContextChunksTruncated []string `json:"context_chunks_truncated"`
}

// CostTracking accumulates judge token and dollar estimates per test.
type CostTracking struct {
	JudgeTokens  int     `json:"judge_tokens"`
	JudgeCostUSD float64 `json:"judge_cost_usd"`
}

// LatencyBreakdown is the per-phase timing reported by the QA API, in
// milliseconds. TotalMs is always present; phase timings are optional.
type LatencyBreakdown struct {
	TotalMs           float64  `json:"total_ms"`
	FolderSelectionMs *float64 `json:"folder_selection_ms,omitempty"`
	RetrievalMs       *float64 `json:"retrieval_ms,omitempty"`
	GenerationMs      *float64 `json:"generation_ms,omitempty"`
	JudgeMs           *float64 `json:"judge_ms,omitempty"`
}

// IndexingCoverage is the QA service's index-build coverage snapshot.
type IndexingCoverage struct {
	DocsProcessed        int                `json:"docs_processed"`
	DocsWith0Chunks      int                `json:"docs_with_0_chunks"`
	ChunksAttempted      int                `json:"chunks_attempted"`
	ChunksEmbedded       int                `json:"chunks_embedded"`
	ChunksSkipped        int                `json:"chunks_skipped"`
	ChunksSkippedReasons map[string]int     `json:"chunks_skipped_reasons,omitempty"`
	ChunkTokenStats      map[string]float64 `json:"chunk_token_stats,omitempty"`
	ChunkerVersion       string             `json:"chunker_version,omitempty"`
	IndexVersion         string             `json:"index_version,omitempty"`
}

// FolderSelection is the folder-routing debug info from the QA API.
type FolderSelection struct {
	SelectedFolders  []string `json:"selected_folders"`
	AvailableFolders []string `json:"available_folders,omitempty"`
}

// DebugPayload mirrors the QA API's debug block on a result record.
type DebugPayload struct {
	FolderSelection *FolderSelection `json:"folder_selection,omitempty"`
}

// TestResult is one captured response to one TestCase. Created once per
// run, then enriched in place by the scoring passes; enrichment is
// idempotent, so re-running a pass rewrites identical values.
type TestResult struct {
	TestCaseID       string             `json:"test_case_id"`
	Question         string             `json:"question"`
	Answer           string             `json:"answer"`
	References       []Reference        `json:"references"`
	Abstained        *bool              `json:"abstained,omitempty"`
	AbstainReason    string             `json:"abstain_reason,omitempty"`
	RetrievedChunks  []RetrievedChunk   `json:"retrieved_chunks"`
	Config           *RunConfig         `json:"config"`
	IndexingCoverage *IndexingCoverage  `json:"indexing_coverage,omitempty"`
	Latency          *LatencyBreakdown  `json:"latency,omitempty"`
	RetrievalMetrics *RetrievalMetrics  `json:"retrieval_metrics,omitempty"`
	Groundedness     *GroundednessScore `json:"groundedness,omitempty"`
	Correctness      *CorrectnessScore  `json:"correctness,omitempty"`
	Abstention       *AbstentionResult  `json:"abstention,omitempty"`
	JudgeInput       *JudgeInput        `json:"judge_input,omitempty"`
	Cost             *CostTracking      `json:"cost,omitempty"`
	Debug            *DebugPayload      `json:"debug,omitempty"`
}

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }
