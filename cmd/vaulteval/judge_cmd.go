package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blib/vaulteval/pkg/harness"
	"github.com/blib/vaulteval/pkg/judge"
)

func newJudgeCmd() *cobra.Command {
	var (
		runID         string
		evalSet       string
		outputDir     string
		judgeModel    string
		judgeBaseURL  string
		judgeAPIKey   string
		judgeTemp     float64
		promptVersion string
		cachePath     string
		noCache       bool
		rps           float64
	)

	cmd := &cobra.Command{
		Use:   "judge",
		Short: "Judge answer groundedness and correctness for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cases, err := openRunForScoring(runID, outputDir, evalSet)
			if err != nil {
				return err
			}

			client, err := judge.NewChatClient(judge.Options{
				Model:       judgeModel,
				BaseURL:     firstNonEmpty(judgeBaseURL, envCfg.JudgeBaseURL),
				APIKey:      judgeAPIKey,
				Temperature: judgeTemp,
			})
			if err != nil {
				return err
			}

			var cache *judge.Cache
			if !noCache {
				cache, err = judge.OpenCache(firstNonEmpty(cachePath, envCfg.CachePath))
				if err != nil {
					return err
				}
				defer cache.Close()
			}

			summary, err := judge.New(client, promptVersion, cache, rps).
				EnrichResults(cmd.Context(), store)
			if err != nil {
				return err
			}

			fmt.Printf("\nJudged %d results (%d skipped, %d failed)\n",
				summary.Judged, summary.Skipped, summary.Failed)
			fmt.Printf("Total tokens: %d, total cost: $%.4f\n", summary.TotalTokens, summary.TotalCost)

			return printUpdatedAggregate(store, cases)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run to judge")
	cmd.Flags().StringVar(&evalSet, "eval-set", "", "path to eval set JSONL")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "run output directory")
	cmd.Flags().StringVar(&judgeModel, "judge-model", "", "judge model: local name, openai:<m>, or anthropic:<m>")
	cmd.Flags().StringVar(&judgeBaseURL, "judge-base-url", "", "base URL for a local judge")
	cmd.Flags().StringVar(&judgeAPIKey, "judge-api-key", "", "API key for cloud judges")
	cmd.Flags().Float64Var(&judgeTemp, "judge-temperature", 0.0, "judge temperature")
	cmd.Flags().StringVar(&promptVersion, "judge-prompt-version", judge.PromptVersionV1, "judge prompt version")
	cmd.Flags().StringVar(&cachePath, "cache", "", "judge cache database path")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the judge cache")
	cmd.Flags().Float64Var(&rps, "rps", 0, "judge calls per second (0 = unlimited)")
	cmd.MarkFlagRequired("run-id")
	cmd.MarkFlagRequired("judge-model")

	return cmd
}

func newHealthCmd() *cobra.Command {
	var (
		apiURL       string
		judgeModel   string
		judgeBaseURL string
		judgeAPIKey  string
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to the QA service and optionally the judge",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := harness.NewClient(firstNonEmpty(apiURL, envCfg.APIURL), 0)
			if err := client.Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("QA service: healthy")

			if judgeModel != "" {
				judgeClient, err := judge.NewChatClient(judge.Options{
					Model:   judgeModel,
					BaseURL: firstNonEmpty(judgeBaseURL, envCfg.JudgeBaseURL),
					APIKey:  judgeAPIKey,
				})
				if err != nil {
					return err
				}
				if err := judge.Ping(cmd.Context(), judgeClient); err != nil {
					return err
				}
				fmt.Printf("Judge %s: reachable\n", judgeModel)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", "", "QA service base URL")
	cmd.Flags().StringVar(&judgeModel, "judge-model", "", "judge model to ping")
	cmd.Flags().StringVar(&judgeBaseURL, "judge-base-url", "", "base URL for a local judge")
	cmd.Flags().StringVar(&judgeAPIKey, "judge-api-key", "", "API key for cloud judges")

	return cmd
}
