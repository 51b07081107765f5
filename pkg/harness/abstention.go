package harness

import "strings"

// ScoreAbstention scores one result against the unanswerable contract:
// the service should have declined rather than answered. Returns nil for
// answerable cases; abstention is only defined where declining is the
// right outcome.
//
// When the service reported its own abstained flag it is trusted as-is.
// Older captures predate the flag, so an empty or whitespace-only answer
// counts as an abstention for them; any other answer to an unanswerable
// question is a hallucination.
func ScoreAbstention(result *TestResult, tc *TestCase) *AbstentionResult {
	if tc.IsAnswerable() {
		return nil
	}

	if result.Abstained != nil {
		abstained := *result.Abstained
		return &AbstentionResult{
			Abstained:    abstained,
			Hallucinated: !abstained,
		}
	}

	if strings.TrimSpace(result.Answer) == "" {
		return &AbstentionResult{Abstained: true, Hallucinated: false}
	}
	return &AbstentionResult{Abstained: false, Hallucinated: true}
}
