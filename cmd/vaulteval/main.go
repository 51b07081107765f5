// Command vaulteval is the offline evaluation harness for the vault QA
// service: it runs an eval set against the API, scores the captured
// results, judges answer quality, and compares runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blib/vaulteval/pkg/config"
	"github.com/blib/vaulteval/pkg/logger"
)

var envCfg *config.Env

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:           "vaulteval",
		Short:         "Evaluation harness for the vault QA service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			envCfg = cfg

			level := cfg.LogLevel
			if logLevel != "" {
				level = logLevel
			}
			format := cfg.LogFormat
			if logFormat != "" {
				format = logFormat
			}
			logger.Init(logger.Options{Level: level, Format: format, Output: os.Stderr})
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newRunCmd(),
		newScoreCmd(),
		newAbstainCmd(),
		newJudgeCmd(),
		newAggregateCmd(),
		newCompareCmd(),
		newReportCmd(),
		newHealthCmd(),
		newLabelCmd(),
	)
	return root
}
