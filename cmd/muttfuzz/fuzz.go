package main

import (
	"github.com/spf13/cobra"

	"github.com/agroce/muttfuzz/internal/orchestrator"
)

func newFuzzCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Run the bootstrap/mutant-loop/final-fuzz cycle against a target",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)

			run, err := loadRun(cmd)
			if err != nil {
				return err
			}
			replay, _ := cmd.Flags().GetString("replay")

			orch, err := orchestrator.New(orchestratorConfig(run, replay))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := orch.Bootstrap(ctx); err != nil {
				return err
			}
			return orch.Run(ctx)
		},
	}
	addRunFlags(cmd.Flags())
	return cmd
}

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Run in mutation-score mode and print a per-function score table",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)

			run, err := loadRun(cmd)
			if err != nil {
				return err
			}
			run.ScoreMode = true
			replay, _ := cmd.Flags().GetString("replay")

			orch, err := orchestrator.New(orchestratorConfig(run, replay))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := orch.Bootstrap(ctx); err != nil {
				return err
			}
			if err := orch.Run(ctx); err != nil {
				return err
			}
			printScoreTable(orch.ScoreTable())
			return nil
		},
	}
	addRunFlags(cmd.Flags())
	return cmd
}
