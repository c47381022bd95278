// relayctl is the terminal side of the relay: an interactive fact-checking
// chat client plus a few maintenance commands.
package main

import (
	"fmt"
	"os"

	"factcheck-relay/internal/config"
	"factcheck-relay/pkg/log"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "relayctl",
	Short:         "Client and tooling for the fact-check message relay",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	log.InitFile(cfg.Log.Level, cfg.Log.OutputPath)
	return cfg, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(newAskCommand(), newPushCommand(), newSweepCommand())

	err := rootCmd.Execute()
	log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
