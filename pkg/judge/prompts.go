package judge

import (
	"fmt"
	"strings"

	"github.com/blib/vaulteval/pkg/harness"
)

// PromptVersionV1 identifies the current prompt pair. Bump on any wording
// change; runs judged under different prompt versions are not comparable.
const PromptVersionV1 = "v1.0"

const systemPrompt = "You are an expert evaluator. Return only valid JSON."

const groundednessPromptV1 = `Evaluate whether all claims in the answer are supported by the retrieved context.

Answer: %s

Retrieved Context:
%s

IMPORTANT:
- Treat anything not present in context as unsupported, even if it's "common knowledge"
- Penalize "confident tone" on unsupported claims
- Score of 5 requires citations for all major claims (citation coverage is part of groundedness)

Rate groundedness (0-5):
- 5: All claims directly supported by context AND all major claims have citations
- 4: Most claims supported with citations, minor unsupported details
- 3: Some claims supported, some unsupported, or missing citations
- 2: Major claims unsupported or missing citations
- 1: Answer contradicts context
- 0: Answer has no relation to context

Return JSON only (no other text):
{
  "score": 0-5,
  "reasoning": "...",
  "unsupported_claims": ["claim 1", "claim 2"],
  "supported_claims": ["claim 3", "claim 4"]
}`

const correctnessPromptV1 = `Evaluate whether the answer correctly addresses the question.

Question: %s

Answer: %s

Retrieved Context:
%s

Rate correctness (0-5):
- 5: Answer is fully correct and complete
- 4: Answer is mostly correct with minor issues
- 3: Answer is partially correct
- 2: Answer has significant errors
- 1: Answer is mostly incorrect
- 0: Answer is completely wrong

Return JSON only (no other text):
{
  "score": 0-5,
  "reasoning": "..."
}`

func groundednessPrompt(answer string, chunks []harness.RetrievedChunk) string {
	return fmt.Sprintf(groundednessPromptV1, answer, formatContext(chunks))
}

func correctnessPrompt(question, answer string, chunks []harness.RetrievedChunk) string {
	return fmt.Sprintf(correctnessPromptV1, question, answer, formatContext(chunks))
}

func formatContext(chunks []harness.RetrievedChunk) string {
	parts := make([]string, len(chunks))
	for i, chunk := range chunks {
		parts[i] = fmt.Sprintf("[Chunk %d]\n%s", i+1, chunk.Text)
	}
	return strings.Join(parts, "\n\n")
}
