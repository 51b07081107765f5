package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blib/vaulteval/pkg/config"
	"github.com/blib/vaulteval/pkg/harness"
)

func newRunCmd() *cobra.Command {
	var (
		suitePath      string
		evalSet        string
		apiURL         string
		outputDir      string
		k              int
		folderMode     string
		timeoutSec     int
		limit          int
		storeFullText  bool
		llmModel       string
		embeddingModel string
		judgeModel     string
		judgePromptVer string
		judgeTemp      float64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the eval set against the QA service and capture results",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := harness.RunnerOptions{
				EvalSetPath:        firstNonEmpty(evalSet, envCfg.EvalSetPath),
				OutputDir:          firstNonEmpty(outputDir, envCfg.OutputDir),
				APIURL:             firstNonEmpty(apiURL, envCfg.APIURL),
				Timeout:            time.Duration(timeoutSec) * time.Second,
				K:                  k,
				FolderMode:         folderMode,
				Limit:              limit,
				StoreFullText:      storeFullText,
				LLMModel:           llmModel,
				EmbeddingModel:     embeddingModel,
				JudgeModel:         judgeModel,
				JudgePromptVersion: judgePromptVer,
			}
			if cmd.Flags().Changed("judge-temperature") || judgeModel != "" {
				opts.JudgeTemperature = &judgeTemp
			}

			if suitePath != "" {
				suite, err := config.LoadSuite(suitePath)
				if err != nil {
					return err
				}
				applySuite(&opts, suite)
			}

			summary, err := harness.NewRunner(opts).Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("\nEvaluation complete: run %s\n", summary.RunID)
			fmt.Printf("  Results: %s\n", summary.RunDir)
			fmt.Printf("  Total tests: %d\n", summary.TotalTests)
			fmt.Printf("  Successful: %d\n", summary.Operational.SuccessfulTests)
			fmt.Printf("  Errors: %d\n", summary.Operational.ErrorTests)
			fmt.Printf("  Latency p50: %.0fms  p95: %.0fms\n", summary.Latency.P50Ms, summary.Latency.P95Ms)
			return nil
		},
	}

	cmd.Flags().StringVar(&suitePath, "suite", "", "YAML suite file describing the run")
	cmd.Flags().StringVar(&evalSet, "eval-set", "", "path to eval set JSONL")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "QA service base URL")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "run output directory")
	cmd.Flags().IntVar(&k, "k", 5, "chunks to retrieve per question")
	cmd.Flags().StringVar(&folderMode, "folder-mode", "off", "folder selection mode: off, on, on_with_fallback")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 120, "per-question timeout in seconds")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap on test cases to run (0 = all)")
	cmd.Flags().BoolVar(&storeFullText, "store-full-text", false, "store full chunk text in results")
	cmd.Flags().StringVar(&llmModel, "llm-model", "", "answering model identifier for the config snapshot")
	cmd.Flags().StringVar(&embeddingModel, "embedding-model", "", "embedding model identifier for the config snapshot")
	cmd.Flags().StringVar(&judgeModel, "judge-model", "", "judge model planned for this run")
	cmd.Flags().StringVar(&judgePromptVer, "judge-prompt-version", "v1.0", "judge prompt version")
	cmd.Flags().Float64Var(&judgeTemp, "judge-temperature", 0.0, "judge temperature")

	return cmd
}

func applySuite(opts *harness.RunnerOptions, suite *config.Suite) {
	if suite.EvalSet != "" {
		opts.EvalSetPath = suite.EvalSet
	}
	opts.K = suite.K
	opts.FolderMode = suite.FolderMode
	opts.Timeout = time.Duration(suite.TimeoutSeconds) * time.Second
	opts.Limit = suite.Limit
	opts.StoreFullText = suite.StoreFullText
	if suite.LLMModel != "" {
		opts.LLMModel = suite.LLMModel
	}
	if suite.EmbeddingModel != "" {
		opts.EmbeddingModel = suite.EmbeddingModel
	}
	if len(suite.RerankWeights) > 0 {
		opts.RerankWeights = suite.RerankWeights
	}
	if suite.Judge.Model != "" {
		opts.JudgeModel = suite.Judge.Model
		opts.JudgePromptVersion = suite.Judge.PromptVersion
		temp := suite.Judge.Temperature
		opts.JudgeTemperature = &temp
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
