package main

import (
	"os"

	"github.com/olekukonko/tablewriter"
)

// printScoreTable renders the score subcommand's per-function table
// (SPEC_FULL "Mutation-score mode").
func printScoreTable(rows [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Function", "Sites", "Hits", "Kills", "Score"})
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}
