// Command otworld runs the game server and its maintenance tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xiaonanln/otworld/engine/config"
)

var configFile string

func buildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "otworld",
		Short:         "otworld game server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultConfigFile, "config file path")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildGenKeyCommand())
	rootCmd.AddCommand(buildAccountCommand())
	rootCmd.AddCommand(buildStatusCommand())
	return rootCmd
}

func main() {
	if err := buildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "otworld: %s\n", err)
		os.Exit(1)
	}
}
