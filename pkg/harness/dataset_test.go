package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEvalSet(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eval_set.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEvalSet(t *testing.T) {
	path := writeEvalSet(t, `{"id":"tc_1","question":"how do I reindex?","gold_supports":[{"rel_path":"docs/ops.md","heading_path":"Reindexing"}]}
{"id":"tc_2","question":"is there a release date?","answerable":false}
`)

	cases, err := LoadEvalSet(path)
	require.NoError(t, err)
	require.Len(t, cases, 2)

	assert.Equal(t, "tc_1", cases[0].ID)
	assert.True(t, cases[0].IsAnswerable())
	require.Len(t, cases[0].GoldSupports, 1)
	assert.Equal(t, "docs/ops.md", cases[0].GoldSupports[0].RelPath)

	assert.False(t, cases[1].IsAnswerable())
}

func TestLoadEvalSet_SkipsBadRecords(t *testing.T) {
	path := writeEvalSet(t, `{"id":"tc_1","question":"good"}
not json at all
{"id":"","question":"missing id"}
{"id":"tc_no_question"}

{"id":"tc_1","question":"duplicate id"}
{"id":"tc_2","question":"also good"}
`)

	cases, err := LoadEvalSet(path)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "tc_1", cases[0].ID)
	assert.Equal(t, "good", cases[0].Question, "first occurrence of a duplicate id wins")
	assert.Equal(t, "tc_2", cases[1].ID)
}

func TestLoadEvalSet_MissingFile(t *testing.T) {
	_, err := LoadEvalSet(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}

func TestIndexTestCases(t *testing.T) {
	cases := []*TestCase{{ID: "tc_1", Question: "a"}, {ID: "tc_2", Question: "b"}}
	byID := IndexTestCases(cases)
	require.Len(t, byID, 2)
	assert.Same(t, cases[0], byID["tc_1"])
}

func TestHashEvalSet(t *testing.T) {
	path := writeEvalSet(t, `{"id":"tc_1","question":"q"}`+"\n")

	h1, err := HashEvalSet(path)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	h2, err := HashEvalSet(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "hash is stable over identical content")

	require.NoError(t, os.WriteFile(path, []byte(`{"id":"tc_1","question":"edited"}`+"\n"), 0o644))
	h3, err := HashEvalSet(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
