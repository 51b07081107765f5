// Package judge scores answer quality with an LLM: a groundedness judge
// checks claims against the retrieved context, a correctness judge checks
// the answer against the question. Verdicts are cached by content hash so
// re-judging a run only pays for inputs that actually changed.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/time/rate"

	"github.com/blib/vaulteval/pkg/harness"
)

// judgeMaxTokens caps a verdict response.
const judgeMaxTokens = 2000

// estimatedCharsPerToken backs the rough token estimate when the backend
// reports no usage.
const estimatedCharsPerToken = 4

// Judge runs both judges over results.
type Judge struct {
	client        ChatClient
	promptVersion string
	cache         *Cache
	limiter       *rate.Limiter
}

// New builds a judge. cache may be nil to disable memoization. rps caps
// outbound judge calls per second; zero or negative means unlimited.
func New(client ChatClient, promptVersion string, cache *Cache, rps float64) *Judge {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Judge{
		client:        client,
		promptVersion: promptVersion,
		cache:         cache,
		limiter:       limiter,
	}
}

// Summary totals one judging pass.
type Summary struct {
	Judged      int
	Skipped     int
	Failed      int
	TotalTokens int
	TotalCost   float64
}

// Groundedness judges whether the answer's claims are supported by the
// retrieved context. Served from cache when the same input was judged
// before.
func (j *Judge) Groundedness(ctx context.Context, answer string, chunks []harness.RetrievedChunk, cacheKey string) (*harness.GroundednessScore, *harness.CostTracking, error) {
	if entry, ok := j.cached(cacheKey); ok {
		var score harness.GroundednessScore
		if err := json.Unmarshal(entry.Result, &score); err == nil {
			return &score, &harness.CostTracking{JudgeTokens: entry.Tokens, JudgeCostUSD: entry.CostUSD}, nil
		}
	}

	prompt := groundednessPrompt(answer, chunks)
	response, err := j.chat(ctx, prompt)
	if err != nil {
		return nil, nil, fmt.Errorf("groundedness judge: %w", err)
	}

	var verdict struct {
		Score             float64  `json:"score"`
		Reasoning         string   `json:"reasoning"`
		UnsupportedClaims []string `json:"unsupported_claims"`
		SupportedClaims   []string `json:"supported_claims"`
	}
	if err := extractJSON(response, &verdict); err != nil {
		return nil, nil, fmt.Errorf("groundedness judge: %w", err)
	}
	if err := validateScore(verdict.Score); err != nil {
		return nil, nil, fmt.Errorf("groundedness judge: %w", err)
	}

	score := &harness.GroundednessScore{
		Score:             verdict.Score,
		Reasoning:         verdict.Reasoning,
		UnsupportedClaims: emptyIfNil(verdict.UnsupportedClaims),
		SupportedClaims:   emptyIfNil(verdict.SupportedClaims),
	}
	cost := &harness.CostTracking{
		JudgeTokens: len(prompt)/estimatedCharsPerToken + len(response)/estimatedCharsPerToken,
	}

	j.store(cacheKey, "groundedness", score, cost)
	return score, cost, nil
}

// Correctness judges whether the answer addresses the question.
func (j *Judge) Correctness(ctx context.Context, question, answer string, chunks []harness.RetrievedChunk, cacheKey string) (*harness.CorrectnessScore, *harness.CostTracking, error) {
	if entry, ok := j.cached(cacheKey); ok {
		var score harness.CorrectnessScore
		if err := json.Unmarshal(entry.Result, &score); err == nil {
			return &score, &harness.CostTracking{JudgeTokens: entry.Tokens, JudgeCostUSD: entry.CostUSD}, nil
		}
	}

	prompt := correctnessPrompt(question, answer, chunks)
	response, err := j.chat(ctx, prompt)
	if err != nil {
		return nil, nil, fmt.Errorf("correctness judge: %w", err)
	}

	var verdict struct {
		Score     float64 `json:"score"`
		Reasoning string  `json:"reasoning"`
	}
	if err := extractJSON(response, &verdict); err != nil {
		return nil, nil, fmt.Errorf("correctness judge: %w", err)
	}
	if err := validateScore(verdict.Score); err != nil {
		return nil, nil, fmt.Errorf("correctness judge: %w", err)
	}

	score := &harness.CorrectnessScore{Score: verdict.Score, Reasoning: verdict.Reasoning}
	cost := &harness.CostTracking{
		JudgeTokens: len(prompt)/estimatedCharsPerToken + len(response)/estimatedCharsPerToken,
	}

	j.store(cacheKey, "correctness", score, cost)
	return score, cost, nil
}

// EnrichResults judges every result in a run and rewrites results.jsonl
// with the verdicts attached. Results with no answer or no retrieved
// context are skipped; a judge failure on one record leaves that record
// unscored and continues with the rest.
func (j *Judge) EnrichResults(ctx context.Context, store *harness.RunStore) (*Summary, error) {
	results, err := store.LoadResults()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("run %s has no results to judge", store.RunID())
	}

	summary := &Summary{}
	for i, result := range results {
		if result.Answer == "" {
			slog.Info("skipping result without answer",
				"test_case_id", result.TestCaseID, "index", i+1, "total", len(results))
			summary.Skipped++
			continue
		}
		if len(result.RetrievedChunks) == 0 {
			slog.Info("skipping result without retrieved context",
				"test_case_id", result.TestCaseID, "index", i+1, "total", len(results))
			summary.Skipped++
			continue
		}

		contextHash := ContextHash(result.RetrievedChunks)
		groundednessKey := CacheKey(result.Question, result.Answer, contextHash,
			j.client.Model(), j.promptVersion, "groundedness")
		correctnessKey := CacheKey(result.Question, result.Answer, contextHash,
			j.client.Model(), j.promptVersion, "correctness")

		groundedness, gCost, err := j.Groundedness(ctx, result.Answer, result.RetrievedChunks, groundednessKey)
		if err != nil {
			slog.Warn("judge failed, result left unscored",
				"test_case_id", result.TestCaseID, "error", err)
			summary.Failed++
			continue
		}
		correctness, cCost, err := j.Correctness(ctx, result.Question, result.Answer, result.RetrievedChunks, correctnessKey)
		if err != nil {
			slog.Warn("judge failed, result left unscored",
				"test_case_id", result.TestCaseID, "error", err)
			summary.Failed++
			continue
		}

		result.Groundedness = groundedness
		result.Correctness = correctness
		result.JudgeInput = buildJudgeInput(result)
		result.Cost = &harness.CostTracking{
			JudgeTokens:  gCost.JudgeTokens + cCost.JudgeTokens,
			JudgeCostUSD: gCost.JudgeCostUSD + cCost.JudgeCostUSD,
		}

		summary.Judged++
		summary.TotalTokens += result.Cost.JudgeTokens
		summary.TotalCost += result.Cost.JudgeCostUSD

		slog.Info("result judged",
			"test_case_id", result.TestCaseID, "index", i+1, "total", len(results),
			"groundedness", groundedness.Score, "correctness", correctness.Score)
	}

	if err := store.RewriteResults(results); err != nil {
		return nil, err
	}
	return summary, nil
}

// Ping verifies the judge backend is reachable and answering.
func Ping(ctx context.Context, client ChatClient) error {
	_, err := client.Chat(ctx, "You are a connectivity check.", "Reply with the word OK.", 16)
	if err != nil {
		return fmt.Errorf("judge %s unreachable: %w", client.Model(), err)
	}
	return nil
}

func (j *Judge) chat(ctx context.Context, prompt string) (string, error) {
	if j.limiter != nil {
		if err := j.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return j.client.Chat(ctx, systemPrompt, prompt, judgeMaxTokens)
}

func (j *Judge) cached(key string) (*CacheEntry, bool) {
	if j.cache == nil || key == "" {
		return nil, false
	}
	entry, err := j.cache.Get(key)
	if err != nil {
		slog.Warn("judge cache read failed", "error", err)
		return nil, false
	}
	return entry, entry != nil
}

func (j *Judge) store(key, judgeType string, result any, cost *harness.CostTracking) {
	if j.cache == nil || key == "" {
		return
	}
	if err := j.cache.Put(key, judgeType, result, cost.JudgeTokens, cost.JudgeCostUSD); err != nil {
		slog.Warn("judge cache write failed", "error", err)
	}
}

var (
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareJSONRe   = regexp.MustCompile(`(?s)\{.*\}`)
)

// extractJSON pulls a JSON object out of a judge response. Models wrap
// verdicts in markdown fences or prose despite the prompt; a fenced block
// is tried first, then the widest brace span, then the raw response.
func extractJSON(response string, v any) error {
	if m := fencedJSONRe.FindStringSubmatch(response); m != nil {
		if err := json.Unmarshal([]byte(m[1]), v); err == nil {
			return nil
		}
	}
	if m := bareJSONRe.FindString(response); m != "" {
		if err := json.Unmarshal([]byte(m), v); err == nil {
			return nil
		}
	}
	if err := json.Unmarshal([]byte(response), v); err == nil {
		return nil
	}
	return fmt.Errorf("no JSON object in response: %s", truncateForError(response))
}

// validateScore rejects out-of-range scores outright. Clamping would
// silently alter what the model said.
func validateScore(score float64) error {
	if score < 0.0 || score > 5.0 {
		return fmt.Errorf("invalid score %g (must be 0-5)", score)
	}
	return nil
}

func buildJudgeInput(result *harness.TestResult) *harness.JudgeInput {
	input := &harness.JudgeInput{
		Question:               result.Question,
		Answer:                 result.Answer,
		ContextChunkIDs:        make([]string, len(result.RetrievedChunks)),
		ContextChunksTruncated: make([]string, len(result.RetrievedChunks)),
	}
	for i, chunk := range result.RetrievedChunks {
		input.ContextChunkIDs[i] = chunk.ChunkID
		text := chunk.Text
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		input.ContextChunksTruncated[i] = text
	}
	return input
}

func truncateForError(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 500 {
		return s[:500] + "..."
	}
	return s
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
