package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AskRequest is the QA service's question payload. Debug mode is always
// requested via the query string; the harness cannot score a response
// without the retrieved chunks it carries.
type AskRequest struct {
	Question string   `json:"question"`
	Vaults   []string `json:"vaults,omitempty"`
	Folders  []string `json:"folders,omitempty"`
	K        int      `json:"k"`
}

// AskDebug is the debug block attached when debug mode is on.
type AskDebug struct {
	RetrievedChunks []RetrievedChunk `json:"retrieved_chunks"`
	FolderSelection *FolderSelection `json:"folder_selection,omitempty"`
}

// AskResponse is the QA service's answer payload.
type AskResponse struct {
	Answer           string            `json:"answer"`
	References       []Reference       `json:"references"`
	Abstained        bool              `json:"abstained"`
	AbstainReason    string            `json:"abstain_reason,omitempty"`
	Debug            *AskDebug         `json:"debug,omitempty"`
	IndexingCoverage *IndexingCoverage `json:"indexing_coverage,omitempty"`
	Latency          *LatencyBreakdown `json:"latency,omitempty"`
}

// HealthStatus is the QA service's health report.
type HealthStatus struct {
	Status string   `json:"status"`
	Issues []string `json:"issues,omitempty"`
}

// Client talks to the QA service. Safe for concurrent use; the underlying
// http.Client pools connections across requests.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// healthCheckTimeout caps the health probe independently of the ask
// timeout; a health check should fail fast.
const healthCheckTimeout = 10 * time.Second

// NewClient returns a client for the QA service at baseURL. timeout bounds
// each ask call end to end, including answer generation.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Ask sends one question with debug mode enabled and returns the parsed
// response.
func (c *Client) Ask(ctx context.Context, req *AskRequest) (*AskResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal ask request: %w", err)
	}

	url := c.baseURL + "/api/v1/ask?debug=true"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ask request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ask request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ask request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var askResp AskResponse
	if err := json.NewDecoder(resp.Body).Decode(&askResp); err != nil {
		return nil, fmt.Errorf("decode ask response: %w", err)
	}
	return &askResp, nil
}

// Health probes the QA service's health endpoint. Returns an error for any
// status other than "healthy", including degraded.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	url := c.baseURL + "/api/health"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cannot reach QA service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}

	var health HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if health.Status != "healthy" {
		return fmt.Errorf("QA service %s: %s", health.Status, strings.Join(health.Issues, ", "))
	}
	return nil
}
