package harness

import "strings"

// NormalizeHeadingPath canonicalizes a heading breadcrumb for matching.
// Heading level markers (#, ##, ###, ...) are stripped from each segment,
// whitespace runs collapse to a single space, and any mix of whitespace
// and ">" between segments becomes the canonical " > " separator. Empty
// segments are dropped. The function is pure and idempotent; empty input
// yields the empty string.
//
// Chunks re-segmented after a chunking change may report a different
// heading depth than the one gold labels were authored against
// ("## Setup" vs "### Setup"); normalization makes those equivalent while
// preserving the hierarchy text itself.
func NormalizeHeadingPath(headingPath string) string {
	s := strings.TrimSpace(headingPath)
	if s == "" {
		return ""
	}

	segments := splitHeadingSegments(s)
	normalized := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimLeft(seg, "#")
		seg = strings.Join(strings.Fields(seg), " ")
		if seg != "" {
			normalized = append(normalized, seg)
		}
	}
	return strings.Join(normalized, " > ")
}

// splitHeadingSegments splits on ">" and treats surrounding whitespace as
// part of the separator.
func splitHeadingSegments(s string) []string {
	parts := strings.Split(s, ">")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// MatchesGoldSupport reports whether a retrieved chunk matches a gold
// support anchor. The checks short-circuit in order:
//
//  1. rel_path must be identical (case-sensitive, no normalization).
//  2. The chunk's normalized heading path must start with the gold's
//     normalized heading path. The direction is deliberate: gold is the
//     prefix, the chunk is the superstring, so a chunk at
//     "Setup > Embeddings" matches a gold anchored at "Setup" but not
//     the other way around. An empty gold heading matches any chunk.
//  3. If the gold carries snippets, at least one must appear in the chunk
//     text, case-insensitively. Snippets present but none matching fails
//     the whole match even when 1–2 passed.
func MatchesGoldSupport(chunk RetrievedChunk, gold GoldSupport) bool {
	if chunk.RelPath != gold.RelPath {
		return false
	}

	chunkHeading := NormalizeHeadingPath(chunk.HeadingPath)
	goldHeading := NormalizeHeadingPath(gold.HeadingPath)
	if !hasHeadingPrefix(chunkHeading, goldHeading) {
		return false
	}

	if len(gold.Snippets) > 0 {
		text := strings.ToLower(chunk.Text)
		for _, snippet := range gold.Snippets {
			if strings.Contains(text, strings.ToLower(snippet)) {
				return true
			}
		}
		return false
	}

	return true
}

// hasHeadingPrefix reports whether gold is a segment-wise prefix of chunk
// under the canonical " > " separator. Segment-wise keeps "Setup" from
// matching "Setups": the prefix must end at a segment boundary. An empty
// gold is a prefix of anything.
func hasHeadingPrefix(chunkHeading, goldHeading string) bool {
	if goldHeading == "" {
		return true
	}
	if chunkHeading == goldHeading {
		return true
	}
	return strings.HasPrefix(chunkHeading, goldHeading+" > ")
}

// referenceAsChunk adapts a cited reference to the matcher's chunk shape.
// References carry no text, so snippet-bearing gold supports can never
// match a reference; they degrade to rel_path + heading checks only.
func referenceAsChunk(ref Reference) RetrievedChunk {
	return RetrievedChunk{
		RelPath:     ref.RelPath,
		HeadingPath: ref.HeadingPath,
	}
}
