package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/agroce/muttfuzz/internal/config"
)

// addRunFlags registers the flags common to mutate/fuzz/replay/score
// onto cmd, to be layered over a loaded config.Run by overlayRunFlags
// (spec's layered config: TOML, then env, then flags).
func addRunFlags(fs *pflag.FlagSet) {
	fs.String("target", "", "path to the executable to mutate")
	fs.String("fuzz-cmd", "", "shell command that evaluates one mutant")
	fs.String("reach-cmd", "", "shell command used to gate reachability")
	fs.String("prune-cmd", "", "shell command that marks a mutant invalid")
	fs.String("initial-cmd", "", "shell command run once at bootstrap")
	fs.String("post-initial-cmd", "", "shell command run once after the initial fuzz")
	fs.String("post-mutant-cmd", "", "shell command run after each mutant is accounted for")
	fs.String("status-cmd", "", "shell command run after post-mutant-cmd")

	fs.Duration("budget", 0, "total wall-clock budget")
	fs.Duration("initial-budget", 0, "budget spent on initial-cmd before the mutant loop")
	fs.Float64("fraction-mutant", 0, "share of the remaining budget spent in the mutant loop")

	fs.Duration("mutant-timeout", 0, "timeout for one fuzzer evaluation")
	fs.Duration("reach-timeout", 0, "timeout for one reachability probe")
	fs.Duration("prune-timeout", 0, "timeout for one prune-command run")

	fs.Int("order", 0, "number of sites mutated per plan")
	fs.Bool("avoid-repeats", false, "reject previously produced (site, replacement) pairs")
	fs.Int("repeat-retries", 0, "retry budget before reusing the least-visited mutant")

	fs.StringSlice("only-functions", nil, "only mutate functions whose name contains one of these substrings")
	fs.StringSlice("avoid-functions", nil, "never mutate functions whose name contains one of these substrings")
	fs.StringSlice("only-source", nil, "only mutate sites whose source annotation contains one of these substrings")
	fs.StringSlice("avoid-source", nil, "never mutate sites whose source annotation contains one of these substrings")
	fs.Bool("mutate-stdlib", false, "allow mutating standard-library/Boost functions")
	fs.Bool("no-default-excludes", false, "disable the built-in fuzzer/sanitizer exclude list")

	fs.String("save-mutants", "", "directory to archive per-mutant metadata/binaries to")
	fs.Bool("save-binaries", false, "also archive the mutant executable, not just its metadata")
	fs.String("results-csv", "", "CSV file to append evaluated-mutant results to")
	fs.String("unreachable-cache", "", "text file persisting functions proven unreachable")

	fs.String("disasm-tool", "", "external disassembler binary name")
	fs.String("replay", "", "directory of saved .metadata files to replay instead of generating new plans (read by fuzz and score only)")
}

// overlayRunFlags applies any flags the user actually set on top of
// run, which already reflects the TOML/env layers.
func overlayRunFlags(cmd *cobra.Command, run *config.Run) {
	fs := cmd.Flags()

	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			*dst, _ = fs.GetDuration(name)
		}
	}
	f64 := func(name string, dst *float64) {
		if fs.Changed(name) {
			*dst, _ = fs.GetFloat64(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if fs.Changed(name) {
			*dst, _ = fs.GetBool(name)
		}
	}
	intv := func(name string, dst *int) {
		if fs.Changed(name) {
			*dst, _ = fs.GetInt(name)
		}
	}
	strs := func(name string, dst *[]string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetStringSlice(name)
		}
	}

	str("target", &run.Target)
	str("fuzz-cmd", &run.FuzzCmd)
	str("reach-cmd", &run.ReachCmd)
	str("prune-cmd", &run.PruneCmd)
	str("initial-cmd", &run.InitialCmd)
	str("post-initial-cmd", &run.PostInitialCmd)
	str("post-mutant-cmd", &run.PostMutantCmd)
	str("status-cmd", &run.StatusCmd)

	dur("budget", &run.Budget)
	dur("initial-budget", &run.InitialBudget)
	f64("fraction-mutant", &run.FractionMutant)

	dur("mutant-timeout", &run.MutantTimeout)
	dur("reach-timeout", &run.ReachTimeout)
	dur("prune-timeout", &run.PruneTimeout)

	intv("order", &run.Order)
	boolean("avoid-repeats", &run.AvoidRepeats)
	intv("repeat-retries", &run.RepeatRetries)

	strs("only-functions", &run.OnlyFunctions)
	strs("avoid-functions", &run.AvoidFunctions)
	strs("only-source", &run.OnlySource)
	strs("avoid-source", &run.AvoidSource)
	boolean("mutate-stdlib", &run.MutateStdlib)
	boolean("no-default-excludes", &run.NoDefaultExcludes)

	str("save-mutants", &run.SaveMutants)
	boolean("save-binaries", &run.SaveBinaries)
	str("results-csv", &run.ResultsCSV)
	str("unreachable-cache", &run.UnreachableCache)

	str("disasm-tool", &run.DisasmTool)
}

// loadRun loads the layered config (TOML, then env, then flags) for cmd.
func loadRun(cmd *cobra.Command) (config.Run, error) {
	configPath, _ := cmd.Flags().GetString("config")
	run, err := config.Load(configPath)
	if err != nil {
		return config.Run{}, err
	}
	overlayRunFlags(cmd, &run)
	return run, nil
}
