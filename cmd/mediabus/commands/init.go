package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/mediabus/pkg/config"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a configuration file with default values and a sample in-memory
library provider.

Examples:
  # Create the default config file
  mediabus init

  # Create a config file at a custom path
  mediabus init --config /etc/mediabus/config.yaml

  # Overwrite an existing config file
  mediabus init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	var (
		configPath string
		err        error
	)
	if GetConfigFile() != "" {
		configPath = GetConfigFile()
		err = config.InitConfigToPath(configPath, forceInit)
	} else {
		configPath, err = config.InitConfig(forceInit)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Edit the configuration file to add your sources and providers")
	_, _ = fmt.Fprintln(out, "  2. Start the daemon with: mediabus serve")
	_, _ = fmt.Fprintf(out, "  3. Or specify the config explicitly: mediabus serve --config %s\n", configPath)
	return nil
}
