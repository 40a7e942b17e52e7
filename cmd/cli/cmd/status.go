package cmd

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"runtimed/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [execution_id]",
	Short: "Get status of an execution",
	Long:  `Retrieve an execution with its current state (queued, running, completed, errored, interrupted), timestamps and every transition it went through.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		execution, err := newClient().GetExecution(args[0])
		if err != nil {
			cmd.Printf("Failed to fetch execution: %v\n", err)
			return
		}
		printStatus(cmd, *execution)
	},
}

const labelWidth = 13

// field prints one dimmed label aligned to labelWidth followed by its value.
func field(cmd *cobra.Command, label, value string) {
	cmd.Printf("%s%s:%s%s%s\n", colorDim, label, colorReset, strings.Repeat(" ", labelWidth-len(label)-1), value)
}

func printStatus(cmd *cobra.Command, execution api.ExecutionResponse) {
	cmd.Printf("%s %sExecution Details%s\n", statusIcon(execution.Status), colorBold, colorReset)
	cmd.Println(strings.Repeat("─", 30))

	field(cmd, "ID", execution.ID)
	field(cmd, "Runtime", execution.RuntimeID)
	if execution.CellID != "" {
		field(cmd, "Cell", execution.CellID)
	}
	field(cmd, "Status", colorizeStatus(execution.Status))
	if execution.Reason != "" {
		field(cmd, "Reason", colorRed+execution.Reason+colorReset)
	}
	field(cmd, "Position", strconv.Itoa(execution.Position))

	field(cmd, "Submitted", formatTimeWithRelative(&execution.SubmittedAt))
	field(cmd, "Started", formatTimeWithRelative(execution.StartedAt))
	finished := formatTimeWithRelative(execution.CompletedAt)
	if execution.StartedAt != nil && execution.CompletedAt != nil {
		took := execution.CompletedAt.Sub(*execution.StartedAt)
		finished += " " + colorCyan + "(" + formatDuration(took) + ")" + colorReset
	}
	field(cmd, "Finished", finished)

	if execution.Output != "" {
		cmd.Println()
		cmd.Printf("%sOutput%s\n", colorBold, colorReset)
		for _, line := range strings.Split(strings.TrimRight(execution.Output, "\n"), "\n") {
			cmd.Println("  " + line)
		}
	}

	if len(execution.Events) == 0 {
		return
	}
	cmd.Println()
	cmd.Printf("%sTransitions%s\n", colorBold, colorReset)
	for _, ev := range execution.Events {
		from := cmp.Or(ev.From, "-")
		line := fmt.Sprintf("  %s  %s -> %s", ev.At.Format(time.RFC3339), from, ev.To)
		if ev.Reason != "" {
			line += " (" + ev.Reason + ")"
		}
		cmd.Println(line)
	}
}

// ANSI escapes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

type statusStyle struct {
	color string
	glyph string
}

var statusStyles = map[string]statusStyle{
	"queued":      {colorCyan, "◯"},
	"running":     {colorYellow, "⏳"},
	"completed":   {colorGreen, "✓"},
	"errored":     {colorRed, "✗"},
	"interrupted": {colorYellow, "■"},
}

func statusIcon(status string) string {
	st, ok := statusStyles[status]
	if !ok {
		return "•"
	}
	return st.color + st.glyph + colorReset
}

func colorizeStatus(status string) string {
	st, ok := statusStyles[status]
	if !ok {
		return status
	}
	return statusIcon(status) + " " + st.color + status + colorReset
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relativeTime(*t), colorReset)
}

// relativeTime renders the age of t in its largest whole unit.
func relativeTime(t time.Time) string {
	age := time.Since(t)
	switch {
	case age >= 24*time.Hour:
		if days := int(age / (24 * time.Hour)); days != 1 {
			return strconv.Itoa(days) + " days"
		}
		return "1 day"
	case age >= time.Hour:
		return strconv.Itoa(int(age/time.Hour)) + "h"
	case age >= time.Minute:
		return strconv.Itoa(int(age/time.Minute)) + "m"
	default:
		return strconv.Itoa(int(age/time.Second)) + "s"
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm", d/time.Hour, (d%time.Hour)/time.Minute)
	case d >= time.Minute:
		return fmt.Sprintf("%dm %ds", d/time.Minute, (d%time.Minute)/time.Second)
	case d >= time.Second:
		return strconv.FormatFloat(d.Seconds(), 'f', 1, 64) + "s"
	default:
		return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
