package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/agroce/muttfuzz/internal/disasm"
	"github.com/agroce/muttfuzz/internal/errs"
	"github.com/agroce/muttfuzz/internal/jumpindex"
	"github.com/agroce/muttfuzz/internal/mutation"
	"github.com/agroce/muttfuzz/internal/patch"
)

func newMutateCmd() *cobra.Command {
	var outDir string
	var seed int64

	cmd := &cobra.Command{
		Use:   "mutate",
		Short: "Emit a single mutant and its metadata without running a fuzzer",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)

			run, err := loadRun(cmd)
			if err != nil {
				return err
			}
			if run.Target == "" {
				return errors.New("mutate: --target is required")
			}

			ctx := cmd.Context()
			base, err := os.ReadFile(run.Target)
			if err != nil {
				return errors.Wrapf(err, "mutate: reading target %s", run.Target)
			}

			records, err := disasm.Run(ctx, run.Target, disasm.Options{Tool: run.DisasmTool, Timeout: 60 * time.Second})
			if err != nil {
				return err
			}
			idx := jumpindex.Build(records, filtersFrom(run))
			if len(idx.Sites) == 0 {
				return errs.ErrEmptyJumpIndex
			}

			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			rng := rand.New(rand.NewSource(seed))

			order := run.Order
			if order <= 0 {
				order = 1
			}
			offsets := make([]uint64, 0, len(idx.Sites))
			for off := range idx.Sites {
				offsets = append(offsets, off)
			}

			var plan patch.Plan
			for i := 0; i < order; i++ {
				off := offsets[rng.Intn(len(offsets))]
				site := idx.Sites[off]
				_, repl := mutation.Choose(rng, site)
				plan = append(plan, patch.Step{FunctionName: site.FunctionName, SiteOffset: off, Replacement: repl})
			}

			artifact, err := patch.Synthesize(base, idx, plan)
			if err != nil {
				return err
			}
			metadata, err := patch.WriteMetadata(plan, idx)
			if err != nil {
				return err
			}

			if outDir == "" {
				outDir = "."
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return errors.Wrapf(err, "mutate: creating output directory %s", outDir)
			}
			metaPath := outDir + "/mutant.metadata"
			exePath := outDir + "/mutant.exe"
			if err := os.WriteFile(metaPath, []byte(metadata), 0o644); err != nil {
				return errors.Wrapf(err, "mutate: writing %s", metaPath)
			}
			if err := os.WriteFile(exePath, artifact.Mutant, 0o755); err != nil {
				return errors.Wrapf(err, "mutate: writing %s", exePath)
			}
			fmt.Printf("wrote %s and %s\n", metaPath, exePath)
			return nil
		},
	}

	addRunFlags(cmd.Flags())
	cmd.Flags().StringVar(&outDir, "out", ".", "directory to write mutant.metadata/mutant.exe to")
	cmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed (0 derives one from the clock)")

	return cmd
}
