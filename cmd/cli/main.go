// Package main is the entry point for runtimectl.
// runtimectl is the terminal tool for driving a runtimed daemon.
package main

import (
	"os"

	"runtimed/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
