package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blib/vaulteval/pkg/harness"
)

func newReportCmd() *cobra.Command {
	var (
		runID      string
		baselineID string
		outputDir  string
		outPath    string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a run as a self-contained HTML report",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := firstNonEmpty(outputDir, envCfg.OutputDir)

			report, err := harness.NewRunReport(dir, runID)
			if err != nil {
				return err
			}

			if baselineID != "" {
				comparison, err := harness.CompareRuns(dir, baselineID, runID, true)
				if err != nil {
					return err
				}
				report.Comparison = comparison
			}

			out := os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create report file: %w", err)
				}
				defer f.Close()
				out = f
			}

			if err := report.WriteHTML(out); err != nil {
				return fmt.Errorf("render report: %w", err)
			}
			if outPath != "" {
				fmt.Fprintf(os.Stderr, "Report written to %s\n", outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run to report on")
	cmd.Flags().StringVar(&baselineID, "baseline", "", "baseline run to compare against")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "run output directory")
	cmd.Flags().StringVar(&outPath, "output", "", "HTML file to write (default stdout)")
	cmd.MarkFlagRequired("run-id")

	return cmd
}
