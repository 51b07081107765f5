package harness

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"
)

// chunkTextTruncateLen caps stored chunk text unless full text is
// requested; results files stay reviewable in a pager.
const chunkTextTruncateLen = 200

// StoredConfig is the config.json shape: the run config plus the eval-set
// hash captured at run time.
type StoredConfig struct {
	RunConfig
	EvalSetCommitHash string `json:"eval_set_commit_hash,omitempty"`
}

// MetricsDocument is the metrics.json shape.
type MetricsDocument struct {
	RunID             string            `json:"run_id"`
	Timestamp         string            `json:"timestamp"`
	AggregateMetrics  *AggregateMetrics `json:"aggregate_metrics"`
	ConfigHash        string            `json:"config_hash,omitempty"`
	EvalSetCommitHash string            `json:"eval_set_commit_hash,omitempty"`
}

// RunStore persists one run's artifacts under <outputDir>/<runID>/:
// results.jsonl (streaming append during the run, load-all/rewrite-all
// during enrichment), metrics.json, and config.json.
type RunStore struct {
	runID  string
	runDir string
}

// NewRunID derives a run id from a wall-clock instant, UTC.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102_150405")
}

// OpenRunStore creates the run directory if needed and returns a store
// bound to it.
func OpenRunStore(outputDir, runID string) (*RunStore, error) {
	runDir := filepath.Join(outputDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &RunStore{runID: runID, runDir: runDir}, nil
}

func (s *RunStore) RunID() string       { return s.runID }
func (s *RunStore) Dir() string         { return s.runDir }
func (s *RunStore) ResultsPath() string { return filepath.Join(s.runDir, "results.jsonl") }
func (s *RunStore) MetricsPath() string { return filepath.Join(s.runDir, "metrics.json") }
func (s *RunStore) ConfigPath() string  { return filepath.Join(s.runDir, "config.json") }

// AppendResult appends one result to results.jsonl. Chunk text is
// truncated unless storeFullText is set; the truncation happens on a copy
// so the in-memory result keeps its full text for later scoring passes.
func (s *RunStore) AppendResult(result *TestResult, storeFullText bool) error {
	out := result
	if !storeFullText {
		out = truncateChunkText(result)
	}

	line, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", result.TestCaseID, err)
	}

	f, err := os.OpenFile(s.ResultsPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open results file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append result %s: %w", result.TestCaseID, err)
	}
	return nil
}

// LoadResults reads every result from results.jsonl. Malformed lines are
// skipped with a warning so one corrupt record does not sink the run.
func (s *RunStore) LoadResults() ([]*TestResult, error) {
	f, err := os.Open(s.ResultsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open results file: %w", err)
	}
	defer f.Close()

	var results []*TestResult
	lineNum := 0
	scanner := newLineScanner(f)
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 || isBlank(line) {
			continue
		}
		var result TestResult
		if err := json.Unmarshal(line, &result); err != nil {
			slog.Warn("skipping malformed result line", "run_id", s.runID, "line", lineNum, "error", err)
			continue
		}
		results = append(results, &result)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read results file: %w", err)
	}

	return results, nil
}

// RewriteResults replaces results.jsonl with the given records. Written to
// a temp file and renamed so an interrupted enrichment pass never leaves a
// half-written file behind.
func (s *RunStore) RewriteResults(results []*TestResult) error {
	tmp, err := os.CreateTemp(s.runDir, "results-*.jsonl.tmp")
	if err != nil {
		return fmt.Errorf("create temp results file: %w", err)
	}
	defer os.Remove(tmp.Name())

	for _, result := range results {
		line, err := json.Marshal(result)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("marshal result %s: %w", result.TestCaseID, err)
		}
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()
			return fmt.Errorf("write results: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp results file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.ResultsPath()); err != nil {
		return fmt.Errorf("replace results file: %w", err)
	}
	return nil
}

// WriteConfig writes config.json.
func (s *RunStore) WriteConfig(config *StoredConfig) error {
	return writeJSON(s.ConfigPath(), config)
}

// LoadConfig reads config.json; a missing file yields an empty config,
// matching how older runs without one are compared.
func (s *RunStore) LoadConfig() (*StoredConfig, error) {
	var config StoredConfig
	if err := readJSON(s.ConfigPath(), &config); err != nil {
		if os.IsNotExist(err) {
			return &StoredConfig{}, nil
		}
		return nil, err
	}
	return &config, nil
}

// WriteMetrics writes metrics.json with the current timestamp.
func (s *RunStore) WriteMetrics(agg *AggregateMetrics, configHash, evalSetHash string) error {
	doc := &MetricsDocument{
		RunID:             s.runID,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		AggregateMetrics:  agg,
		ConfigHash:        configHash,
		EvalSetCommitHash: evalSetHash,
	}
	return writeJSON(s.MetricsPath(), doc)
}

// LoadMetrics reads metrics.json; a missing file yields an empty document.
func (s *RunStore) LoadMetrics() (*MetricsDocument, error) {
	var doc MetricsDocument
	if err := readJSON(s.MetricsPath(), &doc); err != nil {
		if os.IsNotExist(err) {
			return &MetricsDocument{}, nil
		}
		return nil, err
	}
	return &doc, nil
}

// ConfigHash fingerprints a run config for quick comparison. Sixteen hex
// chars of sha256 over the canonical JSON encoding.
func ConfigHash(config *RunConfig) string {
	data, err := json.Marshal(config)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

func truncateChunkText(result *TestResult) *TestResult {
	out := *result
	out.RetrievedChunks = make([]RetrievedChunk, len(result.RetrievedChunks))
	for i, chunk := range result.RetrievedChunks {
		if len(chunk.Text) > chunkTextTruncateLen {
			cut := chunkTextTruncateLen
			// Back off to a rune boundary so truncation never emits
			// invalid UTF-8.
			for cut > 0 && !utf8.RuneStart(chunk.Text[cut]) {
				cut--
			}
			chunk.Text = chunk.Text[:cut] + "..."
		}
		out.RetrievedChunks[i] = chunk
	}
	return &out
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
