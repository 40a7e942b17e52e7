package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register [descriptor]",
	Short: "Register a running kernel as a runtime",
	Long: `Register a kernel with the daemon using its connection descriptor.

The descriptor is a JSON object, given inline or as @path to a file.

Example:
  runtimectl register '{"transport":"docker","container":"py-kernel"}'
  runtimectl register '{"transport":"http","url":"http://10.0.0.7:9100"}'
  runtimectl register @kernel-1234.json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		raw := args[0]
		if path, ok := strings.CutPrefix(raw, "@"); ok {
			data, err := os.ReadFile(path)
			if err != nil {
				cmd.Printf("Failed to read descriptor: %v\n", err)
				return
			}
			raw = string(data)
		}
		if !json.Valid([]byte(raw)) {
			cmd.Println("Error: descriptor must be valid JSON")
			return
		}

		result, err := newClient().RegisterRuntime(json.RawMessage(raw))
		if err != nil {
			cmd.Printf("Failed to register runtime: %v\n", err)
			return
		}

		cmd.Println("Runtime registered")
		cmd.Printf("Runtime ID: %s\n", result.RuntimeID)
		cmd.Printf("Status:     %s\n", result.Status)
	},
}

var runtimesCmd = &cobra.Command{
	Use:   "runtimes",
	Short: "List runtimes known to the daemon",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runtimes, err := newClient().ListRuntimes()
		if err != nil {
			cmd.Printf("Error fetching runtimes: %v\n", err)
			return
		}
		if len(runtimes) == 0 {
			cmd.Println("No runtimes registered.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RUNTIME ID\tTRANSPORT\tSTATUS\tQUEUED\tLAST KEEPALIVE\tREASON")
		for _, rt := range runtimes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				rt.ID, rt.Transport, rt.Status, rt.QueueDepth,
				rt.LastKeepalive.Format(time.RFC3339), rt.DeadReason)
		}
		w.Flush()
	},
}

var readyCmd = &cobra.Command{
	Use:   "ready [runtime_id]",
	Short: "Mark a starting runtime as ready",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := newClient().MarkReady(args[0])
		if err != nil {
			cmd.Printf("Failed to mark runtime ready: %v\n", err)
			return
		}
		cmd.Printf("Runtime %s is %s\n", rt.ID, rt.Status)
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown [runtime_id]",
	Short: "Shut down a runtime",
	Long: `Mark a runtime dead and close its kernel connection.

Queued executions on the runtime are interrupted and a running execution is errored.
Shutting down a runtime that is already dead does nothing.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := newClient().ShutdownRuntime(args[0]); err != nil {
			cmd.Printf("Failed to shut down runtime: %v\n", err)
			return
		}
		cmd.Printf("Runtime %s shut down\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(registerCmd, runtimesCmd, readyCmd, shutdownCmd)
}
