package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"runtimed/pkg/api"
)

var submitCmd = &cobra.Command{
	Use:   "submit [runtime_id]",
	Short: "Submit code to a runtime",
	Long: `Queue code for execution on a runtime. Executions on one runtime run strictly
in submission order; the reported position is how many executions are ahead.

Example:
  runtimectl submit 0192f0c4-... --code 'x = 41 + 1'
  runtimectl submit 0192f0c4-... --file analysis.py --cell cell-7`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		code, _ := flags.GetString("code")
		file, _ := flags.GetString("file")
		cell, _ := flags.GetString("cell")

		if code == "" && file == "" {
			cmd.Println("Error: one of --code or --file is required")
			return
		}
		if code != "" && file != "" {
			cmd.Println("Error: --code and --file are mutually exclusive")
			return
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				cmd.Printf("Failed to read %s: %v\n", file, err)
				return
			}
			code = string(data)
		}

		result, err := newClient().Submit(args[0], api.SubmitRequest{Source: code, CellID: cell})
		if err != nil {
			cmd.Printf("Failed to submit: %v\n", err)
			return
		}

		cmd.Println("Execution submitted")
		cmd.Printf("Execution ID: %s\n", result.ExecutionID)
		cmd.Printf("Status:       %s\n", colorizeStatus(result.Status))
		cmd.Printf("Position:     %d\n", result.Position)
	},
}

var interruptCmd = &cobra.Command{
	Use:   "interrupt [execution_id]",
	Short: "Interrupt an execution",
	Long: `Cancel a queued execution, or ask the kernel to stop a running one.
Interrupting a finished execution does nothing.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := newClient().Interrupt(args[0]); err != nil {
			cmd.Printf("Failed to interrupt: %v\n", err)
			return
		}
		cmd.Printf("Interrupt sent for %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(submitCmd, interruptCmd)
	submitCmd.Flags().StringP("code", "c", "", "Code to run")
	submitCmd.Flags().StringP("file", "f", "", "Read the code from a file")
	submitCmd.Flags().String("cell", "", "Code cell the execution belongs to")
}
