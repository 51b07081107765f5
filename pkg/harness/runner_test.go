package harness

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_Run(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := AskResponse{
			Answer:     "answer to: " + req.Question,
			References: []Reference{{RelPath: "docs/a.md", HeadingPath: "Setup"}},
			Debug: &AskDebug{
				RetrievedChunks: []RetrievedChunk{
					{ChunkID: "c1", RelPath: "docs/a.md", HeadingPath: "Setup", Rank: 1, Text: "setup docs"},
				},
			},
			Latency: &LatencyBreakdown{TotalMs: 120},
		}
		if req.Question == "unanswerable one" {
			resp = AskResponse{Abstained: true, AbstainReason: "no supporting content"}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	evalSetPath := writeEvalSet(t, `{"id":"tc_1","question":"how do I set up?","gold_supports":[{"rel_path":"docs/a.md","heading_path":"Setup"}]}
{"id":"tc_2","question":"unanswerable one","answerable":false}
`)
	outputDir := t.TempDir()

	runner := NewRunner(RunnerOptions{
		EvalSetPath: evalSetPath,
		OutputDir:   outputDir,
		APIURL:      server.URL,
		Timeout:     5 * time.Second,
		K:           5,
		FolderMode:  FolderModeOff,
	})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalTests)
	assert.Equal(t, 1, summary.Operational.SuccessfulTests)
	assert.Equal(t, 0, summary.Operational.ErrorTests)

	store, err := OpenRunStore(outputDir, summary.RunID)
	require.NoError(t, err)

	results, err := store.LoadResults()
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "tc_1", results[0].TestCaseID)
	require.Len(t, results[0].RetrievedChunks, 1)
	require.NotNil(t, results[0].Config)
	assert.Equal(t, 5, results[0].Config.K)
	require.NotNil(t, results[0].Latency)
	assert.Equal(t, 120.0, results[0].Latency.TotalMs)

	require.NotNil(t, results[1].Abstained)
	assert.True(t, *results[1].Abstained)
	require.NotNil(t, results[1].Abstention)
	assert.True(t, results[1].Abstention.Abstained)

	config, err := store.LoadConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, config.EvalSetCommitHash)
	assert.Equal(t, config.EvalSetCommitHash, config.DatasetVersion)

	doc, err := store.LoadMetrics()
	require.NoError(t, err)
	require.NotNil(t, doc.AggregateMetrics)
	require.NotNil(t, doc.AggregateMetrics.OperationalMetrics)
	require.NotNil(t, doc.AggregateMetrics.Latency)
}

func TestRunner_RunLimit(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(AskResponse{Answer: "ok"})
	}))
	defer server.Close()

	evalSetPath := writeEvalSet(t, `{"id":"tc_1","question":"a"}
{"id":"tc_2","question":"b"}
{"id":"tc_3","question":"c"}
`)

	runner := NewRunner(RunnerOptions{
		EvalSetPath: evalSetPath,
		OutputDir:   t.TempDir(),
		APIURL:      server.URL,
		Timeout:     5 * time.Second,
		Limit:       2,
	})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalTests)
	assert.Equal(t, 2, calls)
}

func TestRunner_RunCancelled(t *testing.T) {
	evalSetPath := writeEvalSet(t, `{"id":"tc_1","question":"a"}`+"\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(RunnerOptions{
		EvalSetPath: evalSetPath,
		OutputDir:   t.TempDir(),
		APIURL:      "http://127.0.0.1:1",
		Timeout:     time.Second,
	})

	_, err := runner.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
}

func TestRunner_FailedCallsKeepRunAlive(t *testing.T) {
	n := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n++
		if n == 1 {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(AskResponse{Answer: "ok"})
	}))
	defer server.Close()

	evalSetPath := writeEvalSet(t, `{"id":"tc_1","question":"a"}
{"id":"tc_2","question":"b"}
`)
	outputDir := t.TempDir()

	runner := NewRunner(RunnerOptions{
		EvalSetPath: evalSetPath,
		OutputDir:   outputDir,
		APIURL:      server.URL,
		Timeout:     5 * time.Second,
	})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Operational.ErrorTests)
	assert.Equal(t, 1, summary.Operational.SuccessfulTests)

	store, err := OpenRunStore(outputDir, summary.RunID)
	require.NoError(t, err)
	results, err := store.LoadResults()
	require.NoError(t, err)
	require.Len(t, results, 1, "only the successful call persists a result")
	assert.Equal(t, "tc_2", results[0].TestCaseID)

	// The run directory holds all three artifacts.
	for _, name := range []string{"results.jsonl", "config.json", "metrics.json"} {
		_, err := os.Stat(filepath.Join(summary.RunDir, name))
		assert.NoError(t, err, name)
	}
}
