package harness

// Retrieval metric engine. All functions here are total over well-formed
// inputs: missing optional fields degrade to "no match" or 0.0, never an
// error. Scores are deterministic given the same result and test case, so
// a scoring pass can be re-run safely.

// RecallAtK scans the first k chunks in rank order and reports whether any
// of them matches any gold support. Returns the binary recall score and
// the 1-based rank of the first matching chunk (0 when there is none).
// The first-match rank doubles as the MRR input; it is not recomputed.
func RecallAtK(chunks []RetrievedChunk, golds []GoldSupport, k int) (float64, int) {
	for i, chunk := range topK(chunks, k) {
		for _, gold := range golds {
			if MatchesGoldSupport(chunk, gold) {
				return 1.0, i + 1
			}
		}
	}
	return 0.0, 0
}

// MRR returns the reciprocal of the first-match rank within the top k, or
// 0.0 when no chunk matches. Ranks are 1-based by construction, so the
// reciprocal is always defined on a match.
func MRR(chunks []RetrievedChunk, golds []GoldSupport, k int) float64 {
	_, rank := RecallAtK(chunks, golds, k)
	if rank == 0 {
		return 0.0
	}
	return 1.0 / float64(rank)
}

// PrecisionAtK returns the fraction of the first k chunks that match any
// gold support. Each chunk counts at most once even when it matches
// several supports. k == 0 is defined as 0.0.
func PrecisionAtK(chunks []RetrievedChunk, golds []GoldSupport, k int) float64 {
	if k == 0 {
		return 0.0
	}
	matching := 0
	for _, chunk := range topK(chunks, k) {
		for _, gold := range golds {
			if MatchesGoldSupport(chunk, gold) {
				matching++
				break
			}
		}
	}
	return float64(matching) / float64(k)
}

// RecallAllAtK computes the multi-hop recall: groups are OR'd, supports
// within a group are AND'd. A group is satisfied when every index in it
// has at least one matching chunk among the first k; an index out of range
// fails its group. Returns 1.0 as soon as any group is satisfied. With no
// groups it falls back to RecallAtK(any) rather than computing anything
// independent.
func RecallAllAtK(chunks []RetrievedChunk, golds []GoldSupport, groups [][]int, k int) float64 {
	if len(groups) == 0 {
		recall, _ := RecallAtK(chunks, golds, k)
		return recall
	}

	top := topK(chunks, k)
	for _, group := range groups {
		satisfied := true
		for _, idx := range group {
			if idx < 0 || idx >= len(golds) {
				satisfied = false
				break
			}
			if !anyChunkMatches(top, golds[idx]) {
				satisfied = false
				break
			}
		}
		if satisfied {
			return 1.0
		}
	}
	return 0.0
}

// ScopeMiss conservatively flags results where folder selection may have
// excluded all gold content. Only meaningful when folder selection was
// active; cases with no gold supports have nothing to miss. Recall here is
// taken over ALL retrieved chunks, not the run's k: the question being
// asked is "was the right content reachable at all", not "was it in the
// top-k". Zero recall is declared a miss even though it cannot be
// distinguished from a plain retrieval failure; historical runs were
// scored under this rule, so tightening it would break comparability.
func ScopeMiss(chunks []RetrievedChunk, golds []GoldSupport, folderMode string) bool {
	if folderMode != FolderModeOn && folderMode != FolderModeOnFallback {
		return false
	}
	if len(golds) == 0 {
		return false
	}
	recall, _ := RecallAtK(chunks, golds, len(chunks))
	return recall == 0.0
}

// AttributionHit reports whether any cited reference matches any gold
// support. Only computed for answerable cases; for unanswerable ones the
// stored value is false rather than absent, matching how the aggregator
// filters by answerable. References carry no text, so snippet-bearing
// supports can never match them.
func AttributionHit(refs []Reference, golds []GoldSupport, answerable bool) bool {
	if !answerable {
		return false
	}
	for _, ref := range refs {
		chunk := referenceAsChunk(ref)
		for _, gold := range golds {
			if MatchesGoldSupport(chunk, gold) {
				return true
			}
		}
	}
	return false
}

// ComputeRetrievalMetrics computes the full retrieval metric set for one
// result against its test case. K and folder mode come from the result's
// embedded config, with the documented defaults for older records.
func ComputeRetrievalMetrics(result *TestResult, tc *TestCase) *RetrievalMetrics {
	k := result.Config.TopK()
	folderMode := result.Config.EffectiveFolderMode()

	chunks := result.RetrievedChunks
	golds := tc.GoldSupports

	recall, rank := RecallAtK(chunks, golds, k)

	mrr := 0.0
	if rank > 0 {
		mrr = 1.0 / float64(rank)
	}

	metrics := &RetrievalMetrics{
		RecallAtK:      floatPtr(recall),
		MRR:            floatPtr(mrr),
		PrecisionAtK:   floatPtr(PrecisionAtK(chunks, golds, k)),
		ScopeMiss:      boolPtr(ScopeMiss(chunks, golds, folderMode)),
		AttributionHit: boolPtr(AttributionHit(result.References, golds, tc.IsAnswerable())),
	}

	if tc.Category == CategoryMultiHop && len(tc.RequiredSupportGroups) > 0 {
		metrics.RecallAllAtK = floatPtr(RecallAllAtK(chunks, golds, tc.RequiredSupportGroups, k))
	}

	return metrics
}

// topK returns the first k chunks. Chunks are stored in rank order, so
// slice position is rank; a match past position k must not count even when
// the capture is longer than the run's k.
func topK(chunks []RetrievedChunk, k int) []RetrievedChunk {
	if k <= 0 {
		return nil
	}
	if k > len(chunks) {
		k = len(chunks)
	}
	return chunks[:k]
}

func anyChunkMatches(chunks []RetrievedChunk, gold GoldSupport) bool {
	for _, chunk := range chunks {
		if MatchesGoldSupport(chunk, gold) {
			return true
		}
	}
	return false
}
