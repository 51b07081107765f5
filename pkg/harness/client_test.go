package harness

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Ask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/ask", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("debug"))

		var req AskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "how do I reindex?", req.Question)
		assert.Equal(t, 5, req.K)

		json.NewEncoder(w).Encode(AskResponse{
			Answer:     "Run the reindex command.",
			References: []Reference{{RelPath: "docs/ops.md", HeadingPath: "Reindexing"}},
			Debug: &AskDebug{
				RetrievedChunks: []RetrievedChunk{
					{ChunkID: "c1", RelPath: "docs/ops.md", HeadingPath: "Reindexing", Rank: 1},
				},
			},
			Latency: &LatencyBreakdown{TotalMs: 840},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	resp, err := client.Ask(context.Background(), &AskRequest{Question: "how do I reindex?", K: 5})
	require.NoError(t, err)

	assert.Equal(t, "Run the reindex command.", resp.Answer)
	require.NotNil(t, resp.Debug)
	require.Len(t, resp.Debug.RetrievedChunks, 1)
	assert.Equal(t, "c1", resp.Debug.RetrievedChunks[0].ChunkID)
	require.NotNil(t, resp.Latency)
	assert.Equal(t, 840.0, resp.Latency.TotalMs)
}

func TestClient_AskErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index not built", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	_, err := client.Ask(context.Background(), &AskRequest{Question: "q", K: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "index not built")
}

func TestClient_Health(t *testing.T) {
	tests := []struct {
		name    string
		status  HealthStatus
		wantErr string
	}{
		{"healthy", HealthStatus{Status: "healthy"}, ""},
		{"degraded", HealthStatus{Status: "degraded", Issues: []string{"index stale"}}, "index stale"},
		{"unhealthy", HealthStatus{Status: "unhealthy"}, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/health", r.URL.Path)
				json.NewEncoder(w).Encode(tt.status)
			}))
			defer server.Close()

			err := NewClient(server.URL, 0).Health(context.Background())
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestClient_HealthUnreachable(t *testing.T) {
	err := NewClient("http://127.0.0.1:1", 0).Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot reach QA service")
}
