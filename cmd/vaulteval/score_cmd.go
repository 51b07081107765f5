package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blib/vaulteval/pkg/harness"
)

func newScoreCmd() *cobra.Command {
	var (
		runID     string
		evalSet   string
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute retrieval metrics for a run and update its results",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cases, err := openRunForScoring(runID, outputDir, evalSet)
			if err != nil {
				return err
			}

			scored, err := harness.EnrichRetrievalMetrics(store, cases)
			if err != nil {
				return err
			}
			fmt.Printf("Scored %d results with retrieval metrics\n", scored)

			return printUpdatedAggregate(store, cases)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run to score")
	cmd.Flags().StringVar(&evalSet, "eval-set", "", "path to eval set JSONL")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "run output directory")
	cmd.MarkFlagRequired("run-id")

	return cmd
}

func newAbstainCmd() *cobra.Command {
	var (
		runID     string
		evalSet   string
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "abstain",
		Short: "Score abstention behavior on unanswerable test cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cases, err := openRunForScoring(runID, outputDir, evalSet)
			if err != nil {
				return err
			}

			scored, err := harness.EnrichAbstention(store, cases)
			if err != nil {
				return err
			}
			fmt.Printf("Scored %d unanswerable results\n", scored)

			return printUpdatedAggregate(store, cases)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run to score")
	cmd.Flags().StringVar(&evalSet, "eval-set", "", "path to eval set JSONL")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "run output directory")
	cmd.MarkFlagRequired("run-id")

	return cmd
}

func newAggregateCmd() *cobra.Command {
	var (
		runID     string
		evalSet   string
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Recompute a run's aggregate metrics from its results",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cases, err := openRunForScoring(runID, outputDir, evalSet)
			if err != nil {
				return err
			}
			return printUpdatedAggregate(store, cases)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run to aggregate")
	cmd.Flags().StringVar(&evalSet, "eval-set", "", "path to eval set JSONL")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "run output directory")
	cmd.MarkFlagRequired("run-id")

	return cmd
}

func openRunForScoring(runID, outputDir, evalSet string) (*harness.RunStore, map[string]*harness.TestCase, error) {
	store, err := harness.OpenRunStore(firstNonEmpty(outputDir, envCfg.OutputDir), runID)
	if err != nil {
		return nil, nil, err
	}
	cases, err := harness.LoadEvalSet(firstNonEmpty(evalSet, envCfg.EvalSetPath))
	if err != nil {
		return nil, nil, err
	}
	return store, harness.IndexTestCases(cases), nil
}

func printUpdatedAggregate(store *harness.RunStore, cases map[string]*harness.TestCase) error {
	agg, err := harness.UpdateAggregateMetrics(store, cases)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(agg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println("\nAggregate metrics:")
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
