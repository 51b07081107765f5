package harness

import "testing"

func TestNormalizeHeadingPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"single segment", "Setup", "Setup"},
		{"strips level markers", "## Setup", "Setup"},
		{"strips deep markers", "### Setup", "Setup"},
		{"collapses internal whitespace", "Setup    Guide", "Setup Guide"},
		{"canonical separator", "Setup > Embeddings", "Setup > Embeddings"},
		{"tight separator", "Setup>Embeddings", "Setup > Embeddings"},
		{"ragged separator", "  ## Setup  >   ### Embeddings ", "Setup > Embeddings"},
		{"drops empty segments", "Setup > > Embeddings", "Setup > Embeddings"},
		{"marker only segment dropped", "## > Embeddings", "Embeddings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeHeadingPath(tt.in)
			if got != tt.want {
				t.Errorf("NormalizeHeadingPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeHeadingPath_Idempotent(t *testing.T) {
	inputs := []string{"## Setup > ### Embeddings", "Setup>Guide", "  A  >  B  "}
	for _, in := range inputs {
		once := NormalizeHeadingPath(in)
		twice := NormalizeHeadingPath(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeHeadingPath_LevelEquivalence(t *testing.T) {
	a := NormalizeHeadingPath("## Setup")
	b := NormalizeHeadingPath("### Setup")
	if a != b {
		t.Errorf("heading levels should normalize equal: %q vs %q", a, b)
	}
}

func TestMatchesGoldSupport(t *testing.T) {
	tests := []struct {
		name  string
		chunk RetrievedChunk
		gold  GoldSupport
		want  bool
	}{
		{
			"exact match",
			RetrievedChunk{RelPath: "docs/setup.md", HeadingPath: "Setup"},
			GoldSupport{RelPath: "docs/setup.md", HeadingPath: "Setup"},
			true,
		},
		{
			"rel_path mismatch",
			RetrievedChunk{RelPath: "docs/other.md", HeadingPath: "Setup"},
			GoldSupport{RelPath: "docs/setup.md", HeadingPath: "Setup"},
			false,
		},
		{
			"rel_path case sensitive",
			RetrievedChunk{RelPath: "Docs/setup.md", HeadingPath: "Setup"},
			GoldSupport{RelPath: "docs/setup.md", HeadingPath: "Setup"},
			false,
		},
		{
			"gold is prefix of chunk heading",
			RetrievedChunk{RelPath: "docs/setup.md", HeadingPath: "Setup > Embeddings"},
			GoldSupport{RelPath: "docs/setup.md", HeadingPath: "Setup"},
			true,
		},
		{
			"chunk is prefix of gold heading",
			RetrievedChunk{RelPath: "docs/setup.md", HeadingPath: "Setup"},
			GoldSupport{RelPath: "docs/setup.md", HeadingPath: "Setup > Embeddings"},
			false,
		},
		{
			"prefix respects segment boundary",
			RetrievedChunk{RelPath: "docs/setup.md", HeadingPath: "Setups > Embeddings"},
			GoldSupport{RelPath: "docs/setup.md", HeadingPath: "Setup"},
			false,
		},
		{
			"empty gold heading matches any chunk",
			RetrievedChunk{RelPath: "docs/setup.md", HeadingPath: "Anything > At All"},
			GoldSupport{RelPath: "docs/setup.md", HeadingPath: ""},
			true,
		},
		{
			"heading level markers normalized before comparison",
			RetrievedChunk{RelPath: "docs/setup.md", HeadingPath: "### Setup > #### Embeddings"},
			GoldSupport{RelPath: "docs/setup.md", HeadingPath: "## Setup"},
			true,
		},
		{
			"snippet present in text",
			RetrievedChunk{RelPath: "a.md", HeadingPath: "H", Text: "run the reindex command first"},
			GoldSupport{RelPath: "a.md", HeadingPath: "H", Snippets: []string{"reindex command"}},
			true,
		},
		{
			"snippet match is case insensitive",
			RetrievedChunk{RelPath: "a.md", HeadingPath: "H", Text: "Run The REINDEX Command first"},
			GoldSupport{RelPath: "a.md", HeadingPath: "H", Snippets: []string{"reindex command"}},
			true,
		},
		{
			"any one snippet suffices",
			RetrievedChunk{RelPath: "a.md", HeadingPath: "H", Text: "only the second fragment is here"},
			GoldSupport{RelPath: "a.md", HeadingPath: "H", Snippets: []string{"absent", "second fragment"}},
			true,
		},
		{
			"no snippet matches fails despite path and heading",
			RetrievedChunk{RelPath: "a.md", HeadingPath: "H", Text: "unrelated text"},
			GoldSupport{RelPath: "a.md", HeadingPath: "H", Snippets: []string{"reindex command"}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchesGoldSupport(tt.chunk, tt.gold)
			if got != tt.want {
				t.Errorf("MatchesGoldSupport = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReferenceAsChunk_SnippetsNeverMatch(t *testing.T) {
	ref := Reference{RelPath: "a.md", HeadingPath: "H"}
	gold := GoldSupport{RelPath: "a.md", HeadingPath: "H", Snippets: []string{"anything"}}
	if MatchesGoldSupport(referenceAsChunk(ref), gold) {
		t.Error("reference with no text must not satisfy a snippet-bearing gold")
	}
}
