package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/agroce/muttfuzz/internal/orchestrator"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <metadata-dir>",
		Short: "Apply saved .metadata files round-robin instead of generating new plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)

			run, err := loadRun(cmd)
			if err != nil {
				return err
			}
			if run.Target == "" {
				return errors.New("replay: --target is required")
			}

			orch, err := orchestrator.New(orchestratorConfig(run, args[0]))
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
