// Command muttfuzz drives binary-level mutation fuzzing of a compiled
// executable: mutate emits a single mutant, fuzz runs the full
// bootstrap/mutant-loop/final-fuzz cycle, replay reconstructs mutants
// from saved metadata, score computes a per-function mutation score,
// and prune shells out to a corpus-pruning command.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agroce/muttfuzz/internal/errs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		classifyAndExit(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "muttfuzz",
		Short:         "Binary-level mutation fuzzing of compiled executables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to a TOML run file")
	root.PersistentFlags().CountP("verbose", "v", "increase log verbosity (-v, -vv)")
	root.PersistentFlags().String("log-file", "", "optional rotating log file")

	root.AddCommand(newMutateCmd())
	root.AddCommand(newFuzzCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newScoreCmd())
	root.AddCommand(newPruneCmd())

	return root
}

// classifyAndExit maps known sentinel errors to a clear message and a
// non-zero exit; any other error is treated as an invariant failure,
// since spec §6 requires non-zero only when an invariant fails.
func classifyAndExit(err error) {
	switch {
	case errs.Is(err, errs.ErrEmptyJumpIndex):
		log.WithError(err).Error("target has no mutable jumps")
	case errs.Is(err, errs.ErrAllSitesUnreachable):
		log.WithError(err).Error("all sites appear unreachable")
	case errs.Is(err, errs.ErrDisassemblerMissing):
		log.WithError(err).Error("disassembler not found")
	case errs.Is(err, errs.ErrNoFunctionHeaders):
		log.WithError(err).Error("disassembler produced no function headers")
	default:
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}
