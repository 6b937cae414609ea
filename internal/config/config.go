// Package config loads the run configuration a muttfuzz subcommand
// needs: an optional TOML run file, overridden by MUTTFUZZ_-prefixed
// environment variables, in turn overridden by explicit flags (applied
// by the cobra command after Load returns). Config loading is a thin
// wrapper, not a framework (spec §1); this package only assembles the
// layered defaults, it does not validate domain semantics.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Run holds everything one mutate/fuzz/replay/score invocation needs.
type Run struct {
	// Target is the path to the executable under fuzz.
	Target string `toml:"target" envconfig:"TARGET"`

	// FuzzCmd is the shell command run to evaluate a live mutant; "@@"
	// is not special-cased here, the command owns its own corpus/target
	// plumbing (out of scope per spec §1).
	FuzzCmd string `toml:"fuzz_cmd" envconfig:"FUZZ_CMD"`
	// ReachCmd, if set, gates mutant installation on reachability.
	ReachCmd string `toml:"reach_cmd" envconfig:"REACH_CMD"`
	// PruneCmd, if set, marks mutants invalid before evaluation.
	PruneCmd string `toml:"prune_cmd" envconfig:"PRUNE_CMD"`
	// InitialCmd runs once at bootstrap against the base binary.
	InitialCmd string `toml:"initial_cmd" envconfig:"INITIAL_CMD"`
	// PostInitialCmd runs once after InitialCmd completes.
	PostInitialCmd string `toml:"post_initial_cmd" envconfig:"POST_INITIAL_CMD"`
	// PostMutantCmd runs after each mutant is accounted for.
	PostMutantCmd string `toml:"post_mutant_cmd" envconfig:"POST_MUTANT_CMD"`
	// StatusCmd runs after PostMutantCmd, also against the restored base.
	StatusCmd string `toml:"status_cmd" envconfig:"STATUS_CMD"`

	// Budget is the total wall-clock budget for the run.
	Budget time.Duration `toml:"budget" envconfig:"BUDGET"`
	// InitialBudget is spent on InitialCmd before the mutant loop starts.
	InitialBudget time.Duration `toml:"initial_budget" envconfig:"INITIAL_BUDGET"`
	// FractionMutant is the share of (budget - initial budget) spent in
	// the mutant loop; forced to 1.0 in score mode (spec §4.6).
	FractionMutant float64 `toml:"fraction_mutant" envconfig:"FRACTION_MUTANT"`

	// MutantTimeout bounds one fuzzer evaluation run.
	MutantTimeout time.Duration `toml:"mutant_timeout" envconfig:"MUTANT_TIMEOUT"`
	// ReachTimeout bounds one reachability probe run.
	ReachTimeout time.Duration `toml:"reach_timeout" envconfig:"REACH_TIMEOUT"`
	// PruneTimeout bounds one prune-command run.
	PruneTimeout time.Duration `toml:"prune_timeout" envconfig:"PRUNE_TIMEOUT"`

	// Order is the number of sites mutated per plan.
	Order int `toml:"order" envconfig:"ORDER"`
	// AvoidRepeats enables the visited-mutant dedup cache.
	AvoidRepeats bool `toml:"avoid_repeats" envconfig:"AVOID_REPEATS"`
	// RepeatRetries bounds how many times a repeated (site, replacement)
	// is rejected before the least-visited entry is reused.
	RepeatRetries int `toml:"repeat_retries" envconfig:"REPEAT_RETRIES"`

	// OnlyFunctions / AvoidFunctions / OnlySource / AvoidSource are
	// substring include/exclude lists (spec §4.2).
	OnlyFunctions  []string `toml:"only_functions" envconfig:"ONLY_FUNCTIONS"`
	AvoidFunctions []string `toml:"avoid_functions" envconfig:"AVOID_FUNCTIONS"`
	OnlySource     []string `toml:"only_source" envconfig:"ONLY_SOURCE"`
	AvoidSource    []string `toml:"avoid_source" envconfig:"AVOID_SOURCE"`
	// MutateStdlib disables the standard-library name exclusion.
	MutateStdlib bool `toml:"mutate_stdlib" envconfig:"MUTATE_STDLIB"`
	// NoDefaultExcludes disables the built-in fuzzer/sanitizer exclude list.
	NoDefaultExcludes bool `toml:"no_default_excludes" envconfig:"NO_DEFAULT_EXCLUDES"`

	// SaveMutants is the archive directory for per-mutant artifacts.
	SaveMutants string `toml:"save_mutants" envconfig:"SAVE_MUTANTS"`
	// SaveBinaries additionally archives mutant_<n>.exe, not just metadata.
	SaveBinaries bool `toml:"save_binaries" envconfig:"SAVE_BINARIES"`
	// ResultsCSV is the path results rows are appended to.
	ResultsCSV string `toml:"results_csv" envconfig:"RESULTS_CSV"`
	// UnreachableCache is the path unreachable function names persist to.
	UnreachableCache string `toml:"unreachable_cache" envconfig:"UNREACHABLE_CACHE"`

	// DisasmTool overrides the external disassembler binary name.
	DisasmTool string `toml:"disasm_tool" envconfig:"DISASM_TOOL"`

	// ScoreMode forces FractionMutant to 1.0 and skips the final fuzz; the
	// score subcommand sets it and prints the score table.
	ScoreMode bool `toml:"score_mode" envconfig:"SCORE_MODE"`
}

// Default returns a Run with the original tool's documented defaults.
func Default() Run {
	return Run{
		Budget:         1 * time.Hour,
		FractionMutant: 0.5,
		MutantTimeout:  5 * time.Second,
		ReachTimeout:   5 * time.Second,
		PruneTimeout:   5 * time.Second,
		Order:          1,
		RepeatRetries:  10,
		DisasmTool:     "objdump",
	}
}

// Load builds a Run starting from Default, overlaying tomlPath (if
// non-empty) and then MUTTFUZZ_-prefixed environment variables. The
// caller applies flag overrides afterward, since cobra/pflag own flag
// parsing and precedence.
func Load(tomlPath string) (Run, error) {
	run := Default()

	if tomlPath != "" {
		if _, err := os.Stat(tomlPath); err != nil {
			return Run{}, errors.Wrapf(err, "config: reading run file %s", tomlPath)
		}
		if _, err := toml.DecodeFile(tomlPath, &run); err != nil {
			return Run{}, errors.Wrapf(err, "config: parsing run file %s", tomlPath)
		}
	}

	if err := envconfig.Process("muttfuzz", &run); err != nil {
		return Run{}, errors.Wrap(err, "config: applying environment overrides")
	}

	if run.ScoreMode {
		run.FractionMutant = 1.0
	}

	return run, nil
}
