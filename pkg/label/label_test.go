package label

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blib/vaulteval/pkg/harness"
)

func TestBuildGoldSupports(t *testing.T) {
	chunks := []harness.RetrievedChunk{
		{RelPath: "docs/a.md", HeadingPath: "## Setup", Text: "First sentence here. Second sentence."},
		{RelPath: "docs/b.md", HeadingPath: "Usage", Text: "How to use it."},
		{RelPath: "docs/c.md", HeadingPath: "Intro", Text: "not selected"},
	}

	supports := buildGoldSupports(chunks, map[int]bool{0: true, 1: true})
	require.Len(t, supports, 2)

	assert.Equal(t, "docs/a.md", supports[0].RelPath)
	assert.Equal(t, "Setup", supports[0].HeadingPath, "headings are stored normalized")
	assert.Equal(t, []string{"First sentence here"}, supports[0].Snippets)
	assert.Equal(t, "docs/b.md", supports[1].RelPath)
}

func TestBuildGoldSupports_DedupesByAnchor(t *testing.T) {
	chunks := []harness.RetrievedChunk{
		{RelPath: "docs/a.md", HeadingPath: "## Setup", Text: "first"},
		{RelPath: "docs/a.md", HeadingPath: "### Setup", Text: "same section, later chunk"},
	}

	supports := buildGoldSupports(chunks, map[int]bool{0: true, 1: true})
	require.Len(t, supports, 1, "chunks from the same anchor collapse to one support")
	assert.Equal(t, "docs/a.md", supports[0].RelPath)
}

func TestBuildGoldSupports_DeterministicOrder(t *testing.T) {
	chunks := []harness.RetrievedChunk{
		{RelPath: "docs/z.md", HeadingPath: "Z"},
		{RelPath: "docs/a.md", HeadingPath: "A"},
	}

	first := buildGoldSupports(chunks, map[int]bool{1: true, 0: true})
	require.Len(t, first, 2)
	assert.Equal(t, "docs/z.md", first[0].RelPath, "selection order follows chunk rank")
}

func TestExtractSnippet(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"first sentence", "One sentence. Then another.", "One sentence"},
		{"no sentence break", "just a fragment", "just a fragment"},
		{"empty", "", ""},
		{"whitespace", "  \n ", ""},
		{"trims surrounding space", "  lead and trail  ", "lead and trail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractSnippet(tt.in))
		})
	}
}

func TestExtractSnippet_CapsLength(t *testing.T) {
	long := strings.Repeat("w", snippetMaxLen+50)
	got := extractSnippet(long)
	assert.Len(t, got, snippetMaxLen+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestSaveEvalSet_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eval_set.jsonl")
	answerable := false
	cases := []*harness.TestCase{
		{ID: "tc_1", Question: "labeled one", GoldSupports: []harness.GoldSupport{
			{RelPath: "docs/a.md", HeadingPath: "Setup"},
		}},
		{ID: "tc_2", Question: "unanswerable one", Answerable: &answerable},
	}

	require.NoError(t, saveEvalSet(path, cases))

	loaded, err := harness.LoadEvalSet(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "tc_1", loaded[0].ID)
	require.Len(t, loaded[0].GoldSupports, 1)
	assert.False(t, loaded[1].IsAnswerable())
}
