package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/blib/vaulteval/pkg/harness"
	"github.com/blib/vaulteval/pkg/label"
)

func newLabelCmd() *cobra.Command {
	var (
		evalSet string
		apiURL  string
		timeout int
		relabel bool
		addQ    string
		vaults  []string
		folders []string
	)

	cmd := &cobra.Command{
		Use:   "label",
		Short: "Interactively label gold supports for eval set questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := harness.NewClient(
				firstNonEmpty(apiURL, envCfg.APIURL),
				time.Duration(timeout)*time.Second,
			)

			labeler, err := label.New(client)
			if err != nil {
				return err
			}
			defer labeler.Close()

			path := firstNonEmpty(evalSet, envCfg.EvalSetPath)
			if addQ != "" {
				return labeler.AddCase(cmd.Context(), path, addQ, vaults, folders)
			}
			return labeler.Run(cmd.Context(), path, relabel)
		},
	}

	cmd.Flags().StringVar(&evalSet, "eval-set", "", "path to eval set JSONL")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "QA service base URL")
	cmd.Flags().IntVar(&timeout, "timeout", 120, "per-question timeout in seconds")
	cmd.Flags().BoolVar(&relabel, "relabel", false, "revisit cases that already have gold supports")
	cmd.Flags().StringVar(&addQ, "add", "", "add a new question and label it")
	cmd.Flags().StringSliceVar(&vaults, "vault", nil, "vault scope for an added question")
	cmd.Flags().StringSliceVar(&folders, "folder", nil, "folder scope for an added question")

	return cmd
}
