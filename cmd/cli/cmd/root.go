package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "runtimectl",
	Short: "runtimectl is a command line tool for interacting with a runtimed daemon",
	Long: `runtimectl is the command-line interface for runtimed, the execution tracking daemon.

runtimed sits between interactive clients and running kernels. Every piece of code
submitted to a runtime becomes an execution that is queued, run in submission order
and recorded with its outcome, so it can be recalled later.

Common workflows:

  Register a kernel running in a docker container:
    runtimectl register '{"transport":"docker","container":"py-kernel"}'

  Run code on it:
    runtimectl submit <runtime-id> --code 'print(1 + 1)' --cell cell-1

  Check an execution:
    runtimectl status <execution-id>

  Review what ran on a runtime:
    runtimectl history --runtime <runtime-id> -o yaml

Configuration:
  Set the daemon endpoint via flag, environment variable or config file:
    RUNTIMED_URL    daemon endpoint (default: http://localhost:12397)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".runtimectl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".runtimectl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "RUNTIMED_VARNAME"
	viper.SetEnvPrefix("RUNTIMED")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.runtimectl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:12397", "runtimed URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}

func newClient() *Client {
	return NewClient(viper.GetString("url"))
}
