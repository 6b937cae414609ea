package main

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/agroce/muttfuzz/internal/supervisor"
)

// newPruneCmd is a thin passthrough to a user-supplied pruning command,
// invoked once per corpus entry (SUPPLEMENTED FEATURES "Corpus pruning
// wrapper"); it contains none of the hard engineering itself.
func newPruneCmd() *cobra.Command {
	var command string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "prune <corpus-dir>",
		Short: "Subset a corpus directory by re-running a harness over each entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)

			if command == "" {
				return errors.New("prune: --command is required")
			}
			entries, err := filepath.Glob(filepath.Join(args[0], "*"))
			if err != nil {
				return errors.Wrapf(err, "prune: listing corpus directory %s", args[0])
			}

			ctx := cmd.Context()
			for _, entry := range entries {
				res, err := supervisor.RunShell(ctx, command+" "+entry, timeout)
				if err != nil {
					return errors.Wrapf(err, "prune: running command against %s", entry)
				}
				if res.ExitCode != 0 {
					cmd.Printf("keep   %s (exit %d)\n", entry, res.ExitCode)
				} else {
					cmd.Printf("drop   %s\n", entry)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "harness command to run against each corpus entry")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-entry timeout")
	return cmd
}
