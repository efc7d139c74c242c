package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/deusvult/pkg/deusvult/config"
)

var (
	configPaths []string
	jsonOutput  bool
)

// defaultConfigPaths reads DEUSVULT_CONFIG, a comma-separated file list.
func defaultConfigPaths() []string {
	env := os.Getenv("DEUSVULT_CONFIG")
	if env == "" {
		return nil
	}
	return strings.Split(env, ",")
}

func loadSettings() (*config.Settings, error) {
	settings, err := config.LoadSettings(configPaths...)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "deusvult",
		Short:         "Crusade game bot: replay updates and inspect traces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&configPaths, "config", defaultConfigPaths(), "config files merged in order (.yaml, .json or .toml)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	root.AddCommand(newReplayCmd())
	root.AddCommand(newTracesCmd())
	root.AddCommand(newMigrateCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
