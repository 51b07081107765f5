// Package config loads harness settings from the environment and from
// YAML suite files. Environment variables carry deployment concerns
// (endpoints, keys, paths); a suite file pins everything that defines a
// reproducible run.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Env is the process environment configuration.
type Env struct {
	APIURL      string `env:"VAULTEVAL_API_URL" envDefault:"http://localhost:9000"`
	EvalSetPath string `env:"VAULTEVAL_EVAL_SET" envDefault:"eval/eval_set.jsonl"`
	OutputDir   string `env:"VAULTEVAL_OUTPUT_DIR" envDefault:"eval/results"`
	CachePath   string `env:"VAULTEVAL_JUDGE_CACHE" envDefault:"eval/cache/judge.db"`

	JudgeBaseURL    string `env:"VAULTEVAL_JUDGE_BASE_URL" envDefault:"http://localhost:8080"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	LogLevel  string `env:"VAULTEVAL_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"VAULTEVAL_LOG_FORMAT" envDefault:"text"`
}

// FromEnv parses the environment configuration.
func FromEnv() (*Env, error) {
	cfg := &Env{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Suite describes one evaluation run in a YAML file, so a run can be
// repeated from a reviewed artifact instead of a shell history.
type Suite struct {
	Name    string `yaml:"name"`
	EvalSet string `yaml:"eval_set"`

	K              int    `yaml:"k"`
	FolderMode     string `yaml:"folder_mode"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Limit          int    `yaml:"limit"`
	StoreFullText  bool   `yaml:"store_full_text"`

	LLMModel       string             `yaml:"llm_model"`
	EmbeddingModel string             `yaml:"embedding_model"`
	RerankWeights  map[string]float64 `yaml:"rerank_weights"`

	Judge SuiteJudge `yaml:"judge"`
}

// SuiteJudge is the judge block of a suite file.
type SuiteJudge struct {
	Model         string  `yaml:"model"`
	PromptVersion string  `yaml:"prompt_version"`
	Temperature   float64 `yaml:"temperature"`
	BaseURL       string  `yaml:"base_url"`
	RPS           float64 `yaml:"rps"`
}

// LoadSuite reads and validates a suite file, applying defaults for
// omitted fields.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}
	return ParseSuite(data)
}

// ParseSuite parses suite YAML.
func ParseSuite(data []byte) (*Suite, error) {
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parse suite: %w", err)
	}

	if suite.K <= 0 {
		suite.K = 5
	}
	if suite.FolderMode == "" {
		suite.FolderMode = "off"
	}
	if suite.TimeoutSeconds <= 0 {
		suite.TimeoutSeconds = 120
	}
	if suite.Judge.PromptVersion == "" {
		suite.Judge.PromptVersion = "v1.0"
	}

	switch suite.FolderMode {
	case "off", "on", "on_with_fallback":
	default:
		return nil, fmt.Errorf("invalid folder_mode %q (want off, on, or on_with_fallback)", suite.FolderMode)
	}

	return &suite, nil
}
