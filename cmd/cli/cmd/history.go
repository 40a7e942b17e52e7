package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"runtimed/pkg/api"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past executions",
	Long: `List executions in submission order, optionally narrowed to a runtime, a code cell
or a set of statuses. Use --after with the printed cursor to fetch the next page.

Example:
  runtimectl history --runtime 0192f0c4-... --status errored
  runtimectl history --cell cell-7 -o yaml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		runtimeID, _ := flags.GetString("runtime")
		cellID, _ := flags.GetString("cell")
		statuses, _ := flags.GetStringSlice("status")
		after, _ := flags.GetString("after")
		limit, _ := flags.GetInt("limit")
		output, _ := flags.GetString("output")

		page, err := newClient().History(HistoryQuery{
			RuntimeID: runtimeID,
			CellID:    cellID,
			Statuses:  statuses,
			After:     after,
			Limit:     limit,
		})
		if err != nil {
			cmd.Printf("Error fetching history: %v\n", err)
			return
		}

		switch output {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(page); err != nil {
				cmd.Printf("Failed to encode output: %v\n", err)
			}
		case "yaml":
			if err := writeYAML(cmd.OutOrStdout(), page); err != nil {
				cmd.Printf("Failed to encode output: %v\n", err)
			}
		case "table", "":
			printHistory(cmd, page)
		default:
			cmd.Printf("Error: unknown output format %q (use table, json or yaml)\n", output)
		}
	},
}

func printHistory(cmd *cobra.Command, page *api.HistoryResponse) {
	if len(page.Executions) == 0 {
		cmd.Println("No executions found.")
		return
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "EXECUTION ID\tRUNTIME\tCELL\tSTATUS\tSUBMITTED\tREASON")
	for _, e := range page.Executions {
		reason := e.Reason
		// Truncate long reasons for the table view
		if len(reason) > 50 {
			reason = reason[:47] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.RuntimeID, e.CellID, e.Status, e.SubmittedAt.Format(time.RFC3339), reason)
	}
	w.Flush()

	if page.NextAfter != "" {
		cmd.Printf("\nMore results: --after %s\n", page.NextAfter)
	}
}

// writeYAML renders v with the same field names as the JSON API.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().String("runtime", "", "Only executions on this runtime")
	historyCmd.Flags().String("cell", "", "Only executions for this code cell")
	historyCmd.Flags().StringSlice("status", nil, "Only executions in these statuses")
	historyCmd.Flags().String("after", "", "Cursor: list executions after this id")
	historyCmd.Flags().Int("limit", 50, "Maximum number of executions to list")
	historyCmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")
}
