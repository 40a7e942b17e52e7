package cmd

import (
	"github.com/spf13/cobra"
)

var attachCmd = &cobra.Command{
	Use:   "attach [cell_id] [execution_id]",
	Short: "Point a code cell at an execution",
	Long: `Record that a code cell's latest run is the given execution. The pointer only
moves forward: attaching an execution older than the current one is ignored.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cell, err := newClient().Attach(args[0], args[1])
		if err != nil {
			cmd.Printf("Failed to attach: %v\n", err)
			return
		}
		if cell.Changed != nil && !*cell.Changed {
			cmd.Printf("Cell %s already points at a newer execution: %s\n", cell.CellID, cell.LatestExecutionID)
			return
		}
		cmd.Printf("Cell %s -> %s\n", cell.CellID, cell.LatestExecutionID)
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest [cell_id]",
	Short: "Show the execution a code cell last ran",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cell, err := newClient().Latest(args[0])
		if err != nil {
			cmd.Printf("Failed to fetch cell: %v\n", err)
			return
		}
		cmd.Println(cell.LatestExecutionID)
	},
}

func init() {
	rootCmd.AddCommand(attachCmd, latestCmd)
}
