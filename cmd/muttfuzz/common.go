package main

import (
	"github.com/spf13/cobra"

	"github.com/agroce/muttfuzz/internal/config"
	"github.com/agroce/muttfuzz/internal/jumpindex"
	"github.com/agroce/muttfuzz/internal/logging"
	"github.com/agroce/muttfuzz/internal/orchestrator"
)

// setupLogging configures logrus per the root command's -v/--log-file
// flags; called by each subcommand's RunE before doing any work.
func setupLogging(cmd *cobra.Command) {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	logFile, _ := cmd.Flags().GetString("log-file")
	logging.Setup(logging.Options{Verbosity: verbosity, LogFile: logFile})
}

// filtersFrom converts a config.Run's filter fields into the
// jumpindex.Filters the discovery pipeline expects.
func filtersFrom(run config.Run) jumpindex.Filters {
	return jumpindex.Filters{
		OnlyMutateFunctions:    run.OnlyFunctions,
		AvoidMutatingFunctions: run.AvoidFunctions,
		OnlySource:             run.OnlySource,
		AvoidSource:            run.AvoidSource,
		MutateStandardLibraries: run.MutateStdlib,
		DisableDefaultExcludes:  run.NoDefaultExcludes,
	}
}

// orchestratorConfig builds an orchestrator.Config from a loaded
// config.Run, with replay pointed at the given directory (empty for
// non-replay subcommands).
func orchestratorConfig(run config.Run, replay string) orchestrator.Config {
	return orchestrator.Config{
		Target: run.Target,

		FuzzCmd:        run.FuzzCmd,
		ReachCmd:       run.ReachCmd,
		PruneCmd:       run.PruneCmd,
		InitialCmd:     run.InitialCmd,
		PostInitialCmd: run.PostInitialCmd,
		PostMutantCmd:  run.PostMutantCmd,
		StatusCmd:      run.StatusCmd,

		Budget:         run.Budget,
		InitialBudget:  run.InitialBudget,
		FractionMutant: run.FractionMutant,

		MutantTimeout: run.MutantTimeout,
		ReachTimeout:  run.ReachTimeout,
		PruneTimeout:  run.PruneTimeout,

		Order:         run.Order,
		AvoidRepeats:  run.AvoidRepeats,
		RepeatRetries: run.RepeatRetries,

		Filters: filtersFrom(run),

		SaveMutants:      run.SaveMutants,
		SaveBinaries:     run.SaveBinaries,
		ResultsCSV:       run.ResultsCSV,
		UnreachableCache: run.UnreachableCache,

		DisasmTool: run.DisasmTool,
		ScoreMode:  run.ScoreMode,
		Replay:     replay,
	}
}
