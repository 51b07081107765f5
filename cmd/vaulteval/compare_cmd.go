package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/blib/vaulteval/pkg/harness"
)

func newCompareCmd() *cobra.Command {
	var (
		outputDir        string
		ignoreInvariants bool
		asJSON           bool
	)

	cmd := &cobra.Command{
		Use:   "compare <baseline-run-id> <new-run-id>",
		Short: "Compare two runs' metrics, configs, and per-test outcomes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := firstNonEmpty(outputDir, envCfg.OutputDir)
			comparison, err := harness.CompareRuns(dir, args[0], args[1], ignoreInvariants)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(comparison)
			}

			printComparison(comparison)
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "", "run output directory")
	cmd.Flags().BoolVar(&ignoreInvariants, "ignore-invariants", false, "compare even when run invariants differ")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the comparison as JSON")

	return cmd
}

func printComparison(c *harness.Comparison) {
	fmt.Printf("Comparing %s → %s\n", c.BaselineRunID, c.NewRunID)

	for _, w := range c.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	if !c.InvariantsOK {
		fmt.Println("  invariants differ; deltas below may not be meaningful")
	}

	if len(c.Metrics) > 0 {
		fmt.Println("\nMetrics:")
		names := make([]string, 0, len(c.Metrics))
		for name := range c.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			m := c.Metrics[name]
			line := fmt.Sprintf("  %-34s %8.3f → %8.3f  (%+.3f", name, m.Baseline, m.New, m.Delta)
			if m.DeltaPct != nil {
				line += fmt.Sprintf(", %+.1f%%", *m.DeltaPct)
			}
			fmt.Println(line + ")")
		}
	}

	if len(c.ConfigDiffs) > 0 {
		fmt.Println("\nConfig changes:")
		fields := make([]string, 0, len(c.ConfigDiffs))
		for field := range c.ConfigDiffs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			d := c.ConfigDiffs[field]
			fmt.Printf("  %s: %v → %v\n", field, d.Baseline, d.New)
		}
	}

	printTestChanges("Regressions", c.Regressions)
	printTestChanges("Improvements", c.Improvements)

	if len(c.Regressions) == 0 && len(c.Improvements) == 0 {
		fmt.Println("\nNo per-test regressions or improvements.")
	}
}

func printTestChanges(label string, changes []harness.TestChange) {
	if len(changes) == 0 {
		return
	}
	fmt.Printf("\n%s (%d):\n", label, len(changes))
	for _, tc := range changes {
		fmt.Printf("  %s: %s\n", tc.TestCaseID, tc.Question)
		for _, change := range tc.Changes {
			fmt.Printf("    %s\n", change)
		}
	}
}
